package mapper

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/pricecache"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/reconcile"
)

// DefaultExcludedServiceFamilies are license service families dropped when
// license cost exclusion is enabled
var DefaultExcludedServiceFamilies = []string{
	"Office 365 Global",
	"Microsoft 365",
	"Dynamics 365",
	"Power Platform",
}

// Options control field mapping
type Options struct {
	CostMetric              string
	PayAsYouGo              bool
	ExcludeLicenseCost      bool
	ExcludedServiceFamilies []string
	CollectResourceID       bool
	BillingTenantID         string
	Currency                string
}

// OptionsFromConfig builds mapping options from the configuration and task
func OptionsFromConfig(opts config.Options, task config.TaskOptions) Options {
	families := opts.ExcludedServiceFamilies
	if len(families) == 0 {
		families = DefaultExcludedServiceFamilies
	}
	return Options{
		CostMetric:              opts.CostMetric,
		PayAsYouGo:              opts.PayAsYouGo,
		ExcludeLicenseCost:      opts.ExcludeLicenseCost,
		ExcludedServiceFamilies: families,
		CollectResourceID:       opts.CollectResourceID,
		BillingTenantID:         task.BillingTenantID,
		Currency:                opts.Currency,
	}
}

// Mapper converts raw vendor records into canonical cost records
type Mapper struct {
	opts     Options
	prices   *pricecache.Cache
	logger   *logger.Logger
	excluded map[string]struct{}
}

// New creates a Mapper. prices may be nil when no saved cost is needed.
func New(opts Options, prices *pricecache.Cache, log *logger.Logger) *Mapper {
	if log == nil {
		log = logger.Discard()
	}
	if opts.Currency == "" {
		opts.Currency = config.DefaultCurrency
	}
	return &Mapper{
		opts:   opts,
		prices: prices,
		logger: log,
		excluded: lo.SliceToMap(opts.ExcludedServiceFamilies, func(f string) (string, struct{}) {
			return f, struct{}{}
		}),
	}
}

func (m *Mapper) amortized() bool {
	return m.opts.CostMetric == config.CostMetricAmortized
}

// MapPage maps every record of a page. A mapping error on any record aborts
// the whole page; dropped records are simply skipped.
func (m *Mapper) MapPage(ctx context.Context, records []reconcile.Record, fallback time.Time, tenantID string) ([]provider.CostRecord, error) {
	out := make([]provider.CostRecord, 0, len(records))
	for i, raw := range records {
		rec, ok, err := m.Map(ctx, raw, fallback, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to map record %d: %w", i, err)
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Map converts one raw record. ok is false when the record is dropped:
// no derivable billed date, or an exclusion rule matched.
func (m *Mapper) Map(ctx context.Context, raw reconcile.Record, fallback time.Time, tenantID string) (provider.CostRecord, bool, error) {
	r := record(raw)

	billed, err := BilledDate(dateValue(r), fallback)
	if err != nil {
		m.logger.Warn("Dropping record without billed date", "error", err)
		return provider.CostRecord{}, false, nil
	}

	if m.excludedRecord(r) {
		return provider.CostRecord{}, false, nil
	}

	quantity, err := r.firstNum("quantity", "usagequantity")
	if err != nil {
		return provider.CostRecord{}, false, err
	}

	billingCost, err := r.firstNum("costinbillingcurrency", "cost", "pretaxcost")
	if err != nil {
		return provider.CostRecord{}, false, err
	}

	payg, err := paygCost(r, quantity)
	if err != nil {
		return provider.CostRecord{}, false, err
	}

	env := ruleEnv{tenantID: tenantID, opts: m.opts}

	cost := billingCost
	data := map[string]float64{provider.DataPayAsYouGo: payg}

	switch {
	case m.opts.PayAsYouGo:
		cost = payg
		data[provider.DataActualCost] = billingCost

	case m.amortized():
		data[provider.DataAmortizedCost] = billingCost
		if r.str("reservationname") != "" || r.str("benefitname") != "" {
			data[provider.DataActualCost] = 0
		} else {
			data[provider.DataActualCost] = billingCost
		}

		if isCommitment(r) {
			unit := m.unitPrice(ctx, r)
			env.paygUnitPrice = &unit
			rate, err := exchangeRate(r)
			if err != nil {
				return provider.CostRecord{}, false, err
			}
			data[provider.DataSavedCost] = SavedCost(unit, quantity, rate, billingCost)
		}

	default:
		data[provider.DataActualCost] = billingCost
	}

	tags, err := ParseTags(r["tags"])
	if err != nil {
		m.logger.Debug("Ignoring malformed tags", "error", err)
	}

	return provider.CostRecord{
		Cost:           cost,
		UsageQuantity:  quantity,
		UsageType:      r.first("metername", "meter"),
		UsageUnit:      r.str("unitofmeasure"),
		Provider:       string(provider.ProviderAzure),
		RegionCode:     NormalizeRegion(r.str("resourcelocation")),
		Product:        product(r),
		Tags:           tags,
		BilledDate:     billed,
		Data:           data,
		AdditionalInfo: additionalInfo(r, env),
	}, true, nil
}

// excludedRecord applies the drop predicates
func (m *Mapper) excludedRecord(r record) bool {
	if r.str("customername") != "" && r.str("customertenantid") == "" {
		return true
	}
	if m.opts.ExcludeLicenseCost {
		if _, ok := m.excluded[r.str("servicefamily")]; ok {
			return true
		}
	}
	return false
}

func (m *Mapper) unitPrice(ctx context.Context, r record) float64 {
	if m.prices == nil {
		return 0
	}
	currency := r.str("billingcurrency")
	if currency == "" {
		currency = m.opts.Currency
	}
	return m.prices.UnitPrice(ctx, r.str("meterid"), r.str("productid"), currency)
}

func dateValue(r record) any {
	if r.has("date") {
		return r["date"]
	}
	return r["usagedate"]
}

// exchangeRate returns the pricing-to-billing rate, 1 when absent or zero
func exchangeRate(r record) (float64, error) {
	rate, err := r.num("exchangeratepricingtobilling")
	if err != nil {
		return 0, err
	}
	if rate == 0 {
		return 1, nil
	}
	return rate, nil
}

// paygCost prefers the vendor pay-as-you-go cost, then derives it from the
// pay-as-you-go unit price
func paygCost(r record, quantity float64) (float64, error) {
	if r.has("paygcostinbillingcurrency") {
		return r.num("paygcostinbillingcurrency")
	}
	if !r.has("paygprice") {
		return 0, nil
	}
	price, err := r.num("paygprice")
	if err != nil {
		return 0, err
	}
	rate, err := exchangeRate(r)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(quantity)).
		Mul(decimal.NewFromFloat(rate)).
		InexactFloat64(), nil
}

// SavedCost is the retail cost of the usage minus what was billed. A zero
// retail price yields zero rather than a negative saving.
func SavedCost(unitPrice, quantity, rate, billed float64) float64 {
	retail := decimal.NewFromFloat(unitPrice).
		Mul(decimal.NewFromFloat(quantity)).
		Mul(decimal.NewFromFloat(rate))
	if retail.IsZero() {
		return 0
	}
	return retail.Sub(decimal.NewFromFloat(billed)).InexactFloat64()
}
