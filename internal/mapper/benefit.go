package mapper

import (
	"time"

	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/reconcile"
)

// CreditServiceFamily marks synthetic credit records
const CreditServiceFamily = "Microsoft.Consumption/balances"

// benefitInfo maps benefit query columns to additional_info keys
var benefitInfo = []struct {
	name  string
	field string
}{
	{"Tenant Id", "customertenantid"},
	{"Customer Name", "customername"},
	{"Pricing Model", "pricingmodel"},
	{"Frequency", "billingfrequency"},
	{"Benefit Id", "benefitid"},
	{"Benefit Name", "benefitname"},
	{"Reservation Id", "reservationid"},
	{"Reservation Name", "reservationname"},
	{"Charge Type", "chargetype"},
}

// MapBenefit maps one row of the benefit (reservation and savings plan)
// query. The charge is reported as Actual Cost only; cost stays 0 so the
// amortized stream is not double counted.
func (m *Mapper) MapBenefit(raw reconcile.Record, fallback time.Time) (provider.CostRecord, bool, error) {
	r := record(raw)

	billed, err := BilledDate(dateValue(r), fallback)
	if err != nil {
		m.logger.Warn("Dropping benefit record without billed date", "error", err)
		return provider.CostRecord{}, false, nil
	}

	quantity, err := r.firstNum("usagequantity", "quantity")
	if err != nil {
		return provider.CostRecord{}, false, err
	}
	actual, err := r.firstNum("cost", "costinbillingcurrency", "pretaxcost")
	if err != nil {
		return provider.CostRecord{}, false, err
	}

	info := make(map[string]string, len(benefitInfo))
	for _, b := range benefitInfo {
		if v := r.str(b.field); v != "" {
			info[b.name] = v
		}
	}

	return provider.CostRecord{
		Cost:           0,
		UsageQuantity:  quantity,
		Provider:       string(provider.ProviderAzure),
		Product:        r.str("metercategory"),
		Tags:           map[string]string{},
		BilledDate:     billed,
		Data:           map[string]float64{provider.DataActualCost: actual},
		AdditionalInfo: info,
	}, true, nil
}

// CreditRecord builds the synthetic record for utilized Azure credit in a
// billing period
func CreditRecord(utilized float64, periodStart time.Time, billingTenantID string) provider.CostRecord {
	info := map[string]string{"Service Family": CreditServiceFamily}
	if billingTenantID != "" {
		info["Billing Tenant Id"] = billingTenantID
	}
	return provider.CostRecord{
		Cost:           -utilized,
		Provider:       string(provider.ProviderAzure),
		Product:        "Credit",
		Tags:           map[string]string{},
		BilledDate:     periodStart.Format(time.DateOnly),
		AdditionalInfo: info,
	}
}
