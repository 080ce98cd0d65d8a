package provider

import "context"

// ProviderType represents a cloud billing vendor
type ProviderType string

// Supported vendors
const (
	ProviderAzure ProviderType = "azure"
)

// Cost metric names used in CostRecord.Data
const (
	DataActualCost    = "Actual Cost"
	DataAmortizedCost = "Amortized Cost"
	DataSavedCost     = "Saved Cost"
	DataPayAsYouGo    = "PayAsYouGo"
)

// CostRecord is the canonical, vendor-neutral cost record emitted by the pipeline
type CostRecord struct {
	Cost          float64 `json:"cost"`
	UsageQuantity float64 `json:"usage_quantity"`
	UsageType     string  `json:"usage_type,omitempty"`
	UsageUnit     string  `json:"usage_unit,omitempty"`
	Provider      string  `json:"provider"`
	RegionCode    string  `json:"region_code,omitempty"`
	Product       string  `json:"product,omitempty"`

	Tags       map[string]string `json:"tags"`
	BilledDate string            `json:"billed_date"` // YYYY-MM-DD

	// Metric breakdown (Actual Cost, Amortized Cost, Saved Cost, PayAsYouGo)
	Data map[string]float64 `json:"data,omitempty"`

	// Sparse side-channel: only populated keys are present
	AdditionalInfo map[string]string `json:"additional_info,omitempty"`
}

// Account is a linked account discovered from a billing account (customer tenant)
type Account struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

// PageHandler receives one page of canonical records at a time.
// An empty page marks the end of a successful collection.
type PageHandler func(records []CostRecord) error

// Collector produces a canonical record stream
type Collector interface {
	Collect(ctx context.Context, emit PageHandler) error
}
