package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/fetch"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/pipeline"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/retry"
	"github.com/zgpcy/azure-billing-collector/internal/version"
)

// Azure API constants
const (
	// CostManagementAPIVersion is used for queries and cost details reports
	CostManagementAPIVersion = "2023-11-01"

	// BillingAPIVersion is used for billing accounts and customers
	BillingAPIVersion = "2024-04-01"

	// ConsumptionAPIVersion is used for EA balances
	ConsumptionAPIVersion = "2023-05-01"

	// DefaultPricesURL is the public retail price list
	DefaultPricesURL = "https://prices.azure.com/api/retail/prices"

	moduleName = "azure-billing-collector"
)

// Options tune a Session. The zero value targets the public cloud.
type Options struct {
	// Endpoint overrides the Azure Resource Manager endpoint
	Endpoint string

	// PricesURL overrides the retail price list endpoint
	PricesURL string

	// Timeout bounds every single HTTP request, 0 for none
	Timeout time.Duration

	// Retry re-issues failed billing and price lookups. Nil uses the
	// configuration defaults.
	Retry *retry.Controller

	// Transport replaces the HTTP client, for tests
	Transport policy.Transporter

	Logger *logger.Logger
}

// Session talks to the Azure billing APIs on behalf of one service principal.
// Billing and price lookups retry through its controller. Cost calls issue
// exactly one request and leave retries to the caller.
type Session struct {
	secret    config.SecretData
	cred      azcore.TokenCredential
	client    *arm.Client
	public    runtime.Pipeline
	audience  string
	pricesURL string
	retry     *retry.Controller
	logger    *logger.Logger
}

// Verify that Session implements pipeline.Vendor
var _ pipeline.Vendor = (*Session)(nil)

// NewSession validates the secret and builds an authenticated session
func NewSession(secret config.SecretData, opts Options) (*Session, error) {
	if err := CheckSecret(secret); err != nil {
		return nil, err
	}

	cred, err := azidentity.NewClientSecretCredential(secret.TenantID, secret.ClientID, secret.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: clientOptions(opts)})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return newSession(secret, cred, opts)
}

func newSession(secret config.SecretData, cred azcore.TokenCredential, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}

	armOpts := &arm.ClientOptions{
		ClientOptions:         clientOptions(opts),
		DisableRPRegistration: true,
	}
	client, err := arm.NewClient(moduleName, moduleVersion(), cred, armOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager client: %w", err)
	}

	publicOpts := clientOptions(opts)
	pricesURL := opts.PricesURL
	if pricesURL == "" {
		pricesURL = DefaultPricesURL
	}
	ctrl := opts.Retry
	if ctrl == nil {
		ctrl = retry.New(config.DefaultMaxRetries, retry.DefaultMinBackoff, log)
	}

	return &Session{
		secret:    secret,
		cred:      cred,
		client:    client,
		public:    runtime.NewPipeline(moduleName, moduleVersion(), runtime.PipelineOptions{}, &publicOpts),
		audience:  armOpts.Cloud.Services[cloud.ResourceManager].Audience,
		pricesURL: pricesURL,
		retry:     ctrl,
		logger:    log,
	}, nil
}

// CheckSecret reports the first missing secret key
func CheckSecret(secret config.SecretData) error {
	switch {
	case secret.BillingAccountID == "" && secret.SubscriptionID == "":
		return provider.RequiredParameter("secret_data.billing_account_id or secret_data.subscription_id")
	case secret.TenantID == "":
		return provider.RequiredParameter("secret_data.tenant_id")
	case secret.ClientID == "":
		return provider.RequiredParameter("secret_data.client_id")
	case secret.ClientSecret == "":
		return provider.RequiredParameter("secret_data.client_secret")
	}
	return nil
}

// clientOptions disables SDK retries and tags requests with the application id
func clientOptions(opts Options) policy.ClientOptions {
	public := cloud.AzurePublic.Services[cloud.ResourceManager]
	endpoint := public.Endpoint
	if opts.Endpoint != "" {
		endpoint = strings.TrimSuffix(opts.Endpoint, "/")
	}

	return policy.ClientOptions{
		Cloud: cloud.Configuration{
			ActiveDirectoryAuthorityHost: cloud.AzurePublic.ActiveDirectoryAuthorityHost,
			Services: map[cloud.ServiceName]cloud.ServiceConfiguration{
				cloud.ResourceManager: {Endpoint: endpoint, Audience: public.Audience},
			},
		},
		Retry: policy.RetryOptions{
			MaxRetries: -1,
			TryTimeout: opts.Timeout,
		},
		Telemetry: policy.TelemetryOptions{ApplicationID: version.ApplicationID},
		Transport: opts.Transport,
	}
}

// moduleVersion returns the build version in the semver form azcore requires
func moduleVersion() string {
	v := version.Version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if strings.Count(v, ".") < 2 {
		return "v0.0.0-dev"
	}
	return v
}

// Verify fetches a management token to prove the credential works
func (s *Session) Verify(ctx context.Context) error {
	_, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{s.audience + "/.default"},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", provider.ErrInvalidToken, err)
	}
	return nil
}

// resourceURL joins an ARM path to the endpoint and sets the api-version
func (s *Session) resourceURL(path, apiVersion string) string {
	return runtime.JoinPaths(s.client.Endpoint(), path) + "?api-version=" + apiVersion
}

// send issues req on pl and buffers the response
func send(pl runtime.Pipeline, req *policy.Request) (*fetch.Response, error) {
	resp, err := pl.Do(req)
	if err != nil {
		return nil, err
	}
	return toResponse(resp)
}

func toResponse(resp *http.Response) (*fetch.Response, error) {
	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &fetch.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// getJSON issues a GET on pl through the retry controller and decodes a 200
// body into out. Statuses listed in empty end the call without a body and
// are returned as is.
func (s *Session) getJSON(ctx context.Context, pl runtime.Pipeline, url string, out any, empty ...int) (int, error) {
	status := 0
	resp, err := s.retry.Do(ctx, func(ctx context.Context) (*fetch.Response, error) {
		req, err := runtime.NewRequest(ctx, http.MethodGet, url)
		if err != nil {
			return nil, err
		}
		req.Raw().Header.Set("Accept", "application/json")

		resp, err := send(pl, req)
		if err != nil {
			return nil, err
		}
		status = resp.StatusCode
		if slices.Contains(empty, resp.StatusCode) {
			return &fetch.Response{StatusCode: http.StatusNoContent, Header: resp.Header}, nil
		}
		return resp, nil
	})
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, nil
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return status, fmt.Errorf("%w: failed to decode %s: %w", provider.ErrCollectorCallFailed, url, err)
		}
	}
	return status, nil
}
