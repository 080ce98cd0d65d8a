package pipeline

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/zgpcy/azure-billing-collector/internal/fetch"
	"github.com/zgpcy/azure-billing-collector/internal/pricecache"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
)

// BillingAccount is the subset of billing account properties the pipeline needs
type BillingAccount struct {
	ID            string
	DisplayName   string
	AgreementType string
}

// ExportParams describe one cost details report request
type ExportParams struct {
	Metric string // ActualCost or AmortizedCost
	Start  time.Time
	End    time.Time
}

// Blob is one CSV file produced by a cost details report
type Blob struct {
	Link      string
	ByteCount int64 // 0 when unknown
}

// Balance is the credit position of an EA billing period
type Balance struct {
	Utilized float64
	Currency string
}

// Vendor is everything the pipeline needs from the billing vendor.
// Calls returning a *fetch.Response issue exactly one request and leave
// retries to the pipeline. The other calls retry on their own.
type Vendor interface {
	pricecache.Source

	// ListCustomers lists the customer tenants of the billing account
	ListCustomers(ctx context.Context) ([]provider.Account, error)

	// BillingAccount describes the configured billing account
	BillingAccount(ctx context.Context) (BillingAccount, error)

	// StartBulkExport requests a cost details report. The response is 202
	// with a Location to poll, 200 with the manifest, or 204 without data.
	StartBulkExport(ctx context.Context, scope string, params ExportParams) (*fetch.Response, error)

	// PollBulkExport reads the state of a requested report at its Location
	PollBulkExport(ctx context.Context, location string) (*fetch.Response, error)

	// FetchBlobChunk downloads length bytes at offset; length 0 means the whole blob
	FetchBlobChunk(ctx context.Context, link string, offset, length int64) (*fetch.Response, error)

	// QueryPage runs a cost query, or follows nextLink when it is set
	QueryPage(ctx context.Context, scope, nextLink string, def armcostmanagement.QueryDefinition) (*fetch.Response, error)

	// CreditBalance returns the EA balance for a YYYYMM period, nil when there is none
	CreditBalance(ctx context.Context, billingPeriod string) (*Balance, error)
}
