package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation constants
const (
	MinRefreshInterval = 60    // Minimum refresh interval in seconds
	MinPort            = 1     // Minimum valid port number
	MaxPort            = 65535 // Maximum valid port number
	MaxAPITimeout      = 600   // Cost details reports can take minutes

	// Default values
	DefaultRefreshInterval   = 86400 // once a day
	DefaultHTTPPort          = 8080
	DefaultLogLevel          = "info"
	DefaultAPITimeout        = 300 // seconds per call, including export polling
	DefaultMaxRetries        = 3
	DefaultMinBackoffSeconds = 30
	DefaultPageSize          = 7000
	DefaultScopeConcurrency  = 1
	DefaultCurrency          = "USD"
)

// Cost metrics
const (
	CostMetricActual    = "ActualCost"
	CostMetricAmortized = "AmortizedCost"
)

// Collect modes
const (
	CollectModeExport = "export" // cost details report, CSV blobs
	CollectModeQuery  = "query"  // paged Cost Management query tables
)

// Secret types
const (
	SecretTypeManual                  = "MANUAL"
	SecretTypeUseServiceAccountSecret = "USE_SERVICE_ACCOUNT_SECRET"
)

// Collect scopes
const (
	ScopeSubscription   = "subscription_id"
	ScopeBillingAccount = "billing_account_id"
	ScopeCustomerTenant = "customer_tenant_id"
)

// Billing account agreement types
const (
	AgreementMPA = "MicrosoftPartnerAgreement"
	AgreementEA  = "EnterpriseAgreement"
	AgreementMCA = "MicrosoftCustomerAgreement"
)

// Options control how raw vendor records are collected and mapped
type Options struct {
	CostMetric              string   `yaml:"cost_metric"`
	PayAsYouGo              bool     `yaml:"pay_as_you_go"`
	ExcludeLicenseCost      bool     `yaml:"exclude_license_cost"`
	ExcludedServiceFamilies []string `yaml:"excluded_service_families"`
	IncludeCreditCost       bool     `yaml:"include_credit_cost"`
	CollectResourceID       bool     `yaml:"collect_resource_id"`
	CollectMode             string   `yaml:"collect_mode"`
	ScopeConcurrency        int      `yaml:"scope_concurrency"`
	PageSize                int      `yaml:"page_size"`
	SecretType              string   `yaml:"secret_type"`
	Currency                string   `yaml:"currency"`

	// CollectScope selects how MPA billing accounts are split into tasks
	CollectScope string `yaml:"collect_scope"`
}

// SecretData holds the service principal and billing identifiers
type SecretData struct {
	TenantID         string   `yaml:"tenant_id"`
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret"`
	SubscriptionID   string   `yaml:"subscription_id"`
	BillingAccountID string   `yaml:"billing_account_id"`
	CustomerTenants  []string `yaml:"customer_tenants"`
}

// TaskOptions describe a single collection task
type TaskOptions struct {
	CollectScope         string   `yaml:"collect_scope" json:"collect_scope"`
	Start                string   `yaml:"start" json:"start"` // YYYY-MM
	End                  string   `yaml:"end,omitempty" json:"end,omitempty"`
	SubscriptionID       string   `yaml:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	TenantID             string   `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	CustomerTenants      []string `yaml:"customer_tenants,omitempty" json:"customer_tenants,omitempty"`
	BillingTenantID      string   `yaml:"billing_tenant_id,omitempty" json:"billing_tenant_id,omitempty"`
	AccountAgreementType string   `yaml:"account_agreement_type,omitempty" json:"account_agreement_type,omitempty"`
	IncludeCreditCost    bool     `yaml:"include_credit_cost,omitempty" json:"include_credit_cost,omitempty"`
	IsBenefitJob         bool     `yaml:"is_benefit_job,omitempty" json:"is_benefit_job,omitempty"`
}

// Retry configures the page retry controller
type Retry struct {
	MaxRetries        *int `yaml:"max_retries"` // Pointer to distinguish between 0 and unset
	MinBackoffSeconds int  `yaml:"min_backoff_seconds"`
}

// Config represents the application configuration
type Config struct {
	Options         Options     `yaml:"options"`
	SecretData      SecretData  `yaml:"secret_data"`
	TaskOptions     TaskOptions `yaml:"task_options"`
	Retry           Retry       `yaml:"retry"`
	RefreshInterval int         `yaml:"refresh_interval"` // seconds
	HTTPPort        int         `yaml:"http_port"`
	LogLevel        string      `yaml:"log_level"`
	APITimeout      int         `yaml:"api_timeout"` // Azure API timeout in seconds
}

// MinBackoff returns the retry backoff floor as a duration
func (c *Config) MinBackoff() time.Duration {
	return time.Duration(c.Retry.MinBackoffSeconds) * time.Second
}

// MaxRetries returns the configured retry budget
func (c *Config) MaxRetries() int {
	if c.Retry.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.Retry.MaxRetries
}

// Timeout returns the per-call API timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}

// Load loads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	if cfg.Options.CostMetric == "" {
		cfg.Options.CostMetric = CostMetricActual
	}
	if cfg.Options.CollectMode == "" {
		cfg.Options.CollectMode = CollectModeExport
	}
	if cfg.Options.ScopeConcurrency == 0 {
		cfg.Options.ScopeConcurrency = DefaultScopeConcurrency
	}
	if cfg.Options.PageSize == 0 {
		cfg.Options.PageSize = DefaultPageSize
	}
	if cfg.Options.SecretType == "" {
		cfg.Options.SecretType = SecretTypeManual
	}
	if cfg.Options.Currency == "" {
		cfg.Options.Currency = DefaultCurrency
	}
	// Only apply default if MaxRetries is nil (not set), not if it's explicitly 0
	if cfg.Retry.MaxRetries == nil {
		retries := DefaultMaxRetries
		cfg.Retry.MaxRetries = &retries
	}
	if cfg.Retry.MinBackoffSeconds == 0 {
		cfg.Retry.MinBackoffSeconds = DefaultMinBackoffSeconds
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.APITimeout == 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	// Credentials use the names azidentity reads from the environment
	if val := os.Getenv("AZURE_TENANT_ID"); val != "" {
		cfg.SecretData.TenantID = val
	}
	if val := os.Getenv("AZURE_CLIENT_ID"); val != "" {
		cfg.SecretData.ClientID = val
	}
	if val := os.Getenv("AZURE_CLIENT_SECRET"); val != "" {
		cfg.SecretData.ClientSecret = val
	}
	if val := os.Getenv("AZURE_BILLING_ACCOUNT_ID"); val != "" {
		cfg.SecretData.BillingAccountID = val
	}

	// Comma-separated customer tenant ids
	// Example: AZURE_BILLING_CUSTOMER_TENANTS="tenant-a,tenant-b"
	if val := os.Getenv("AZURE_BILLING_CUSTOMER_TENANTS"); val != "" {
		var tenants []string
		for _, t := range strings.Split(val, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tenants = append(tenants, t)
			}
		}
		if len(tenants) > 0 {
			cfg.SecretData.CustomerTenants = tenants
		}
	}

	if val := os.Getenv("AZURE_BILLING_COST_METRIC"); val != "" {
		cfg.Options.CostMetric = val
	}

	if val := os.Getenv("AZURE_BILLING_START"); val != "" {
		cfg.TaskOptions.Start = val
	}

	if val := os.Getenv("AZURE_BILLING_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"AZURE_BILLING_HTTP_PORT", &cfg.HTTPPort},
		{"AZURE_BILLING_REFRESH_INTERVAL", &cfg.RefreshInterval},
		{"AZURE_BILLING_API_TIMEOUT", &cfg.APITimeout},
		{"AZURE_BILLING_SCOPE_CONCURRENCY", &cfg.Options.ScopeConcurrency},
	}
	for _, env := range ints {
		val := os.Getenv(env.name)
		if val == "" {
			continue
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: must be an integer, got %q", env.name, val)
		}
		*env.dst = i
	}

	if val := os.Getenv("AZURE_BILLING_MAX_RETRIES"); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid AZURE_BILLING_MAX_RETRIES: must be an integer, got %q", val)
		}
		cfg.Retry.MaxRetries = &i
	}

	return nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Options.CostMetric {
	case CostMetricActual, CostMetricAmortized:
	default:
		return fmt.Errorf("cost_metric must be %s or %s, got %q",
			CostMetricActual, CostMetricAmortized, cfg.Options.CostMetric)
	}

	switch cfg.Options.CollectMode {
	case CollectModeExport, CollectModeQuery:
	default:
		return fmt.Errorf("collect_mode must be %s or %s, got %q",
			CollectModeExport, CollectModeQuery, cfg.Options.CollectMode)
	}

	if cfg.Options.ScopeConcurrency < 1 {
		return fmt.Errorf("scope_concurrency must be at least 1, got %d", cfg.Options.ScopeConcurrency)
	}

	if cfg.Options.PageSize < 1 {
		return fmt.Errorf("page_size must be positive, got %d", cfg.Options.PageSize)
	}

	if cfg.Retry.MaxRetries != nil && *cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", *cfg.Retry.MaxRetries)
	}

	if cfg.Retry.MinBackoffSeconds < 0 {
		return fmt.Errorf("min_backoff_seconds cannot be negative, got %d", cfg.Retry.MinBackoffSeconds)
	}

	if cfg.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("refresh_interval must be at least %d seconds", MinRefreshInterval)
	}

	if cfg.HTTPPort < MinPort || cfg.HTTPPort > MaxPort {
		return fmt.Errorf("http_port must be between %d and %d", MinPort, MaxPort)
	}

	if cfg.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be positive, got %d", cfg.APITimeout)
	}

	if cfg.APITimeout > MaxAPITimeout {
		return fmt.Errorf("api_timeout should not exceed %d seconds, got %d", MaxAPITimeout, cfg.APITimeout)
	}

	// Task options are validated by the scope resolver so that
	// planned tasks and configured tasks fail the same way.
	return nil
}
