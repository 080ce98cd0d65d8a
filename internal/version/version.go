package version

import "runtime"

// Build information. Populated at build-time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ApplicationID is sent as the telemetry application id on Azure requests.
// Azure rejects ids longer than 24 characters.
const ApplicationID = "azure-billing-collector"

// Info returns version information
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}

// UserAgent returns the product token used for outbound HTTP calls
func UserAgent() string {
	return ApplicationID + "/" + Version
}
