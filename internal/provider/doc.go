// Package provider defines the vendor-neutral cost record and the error taxonomy.
//
// Every stage of a collection (scope resolution, fetching, reconciliation,
// field mapping) converges on CostRecord, the canonical unit consumed by the
// downstream cost-analytics platform:
//
//	type CostRecord struct {
//		Cost           float64
//		UsageQuantity  float64
//		Provider       string
//		BilledDate     string             // YYYY-MM-DD
//		Data           map[string]float64 // Actual Cost, Amortized Cost, Saved Cost, PayAsYouGo
//		AdditionalInfo map[string]string  // sparse vendor side-channel
//		...
//	}
//
// Records are streamed page by page through a PageHandler. A collection that
// finishes without error emits one final empty page so callers can tell a
// complete stream from an aborted one.
//
// Errors are sentinel values wrapped with context, so callers check them
// with errors.Is:
//
//	if errors.Is(err, provider.ErrCollectionFailed) {
//		// retries exhausted or the vendor rejected the request
//	}
package provider
