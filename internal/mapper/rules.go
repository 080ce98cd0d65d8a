package mapper

import (
	"strconv"
	"strings"
)

// Pricing models and charge types that change how a record is mapped
const (
	pricingReservation = "Reservation"
	pricingSavingsPlan = "SavingsPlan"
	pricingOnDemand    = "OnDemand"

	chargePurchase = "Purchase"
	chargeRefund   = "Refund"
)

// Usage Type Details values for network transfer records
const (
	TransferIn  = "Transfer In"
	TransferOut = "Transfer Out"
	TransferEtc = "Transfer Etc"
)

// ruleEnv carries the per-record context the rules may consult
type ruleEnv struct {
	tenantID      string
	opts          Options
	paygUnitPrice *float64
}

// infoRule sets additional_info[name] when value returns a non-empty string
type infoRule struct {
	name  string
	value func(r record, env ruleEnv) string
}

// field returns the first non-empty of the given vendor fields
func field(keys ...string) func(record, ruleEnv) string {
	return func(r record, _ ruleEnv) string {
		return r.first(keys...)
	}
}

// infoRules is applied in order; later rules never read earlier results.
var infoRules = []infoRule{
	{"Tenant Id", func(r record, env ruleEnv) string {
		if t := r.str("customertenantid"); t != "" {
			return t
		}
		return env.tenantID
	}},
	{"Subscription Id", func(r record, _ ruleEnv) string {
		if s := r.str("subscriptionid"); s != "" {
			return s
		}
		return "Shared"
	}},
	{"Instance Type", func(r record, _ ruleEnv) string {
		if r.str("metercategory") != "Virtual Machines" {
			return ""
		}
		return r.first("metername", "meter")
	}},
	{"Resource Group", field("resourcegroupname", "resourcegroup")},
	{"Subscription Name", field("subscriptionname")},
	{"Pricing Model", field("pricingmodel")},
	{"Reservation Name", field("reservationname")},
	{"Reservation Id", field("reservationid")},
	{"Benefit Name", field("benefitname")},
	{"Benefit Id", field("benefitid")},
	{"Meter SubCategory", field("metersubcategory")},
	{"Meter Id", field("meterid")},
	{"Department Name", func(r record, _ ruleEnv) string {
		if r.str("customername") != "" {
			return ""
		}
		return r.first("invoicesectionname", "departmentname")
	}},
	{"Enrollment Account Name", field("accountname", "enrollmentaccountname")},
	{"Charge Type", field("chargetype")},
	{"Resource Id", func(r record, env ruleEnv) string {
		if !env.opts.CollectResourceID {
			return ""
		}
		return r.str("resourceid")
	}},
	{"Resource Name", func(r record, env ruleEnv) string {
		if !env.opts.CollectResourceID {
			return ""
		}
		id := r.str("resourceid")
		if id == "" {
			return ""
		}
		return id[strings.LastIndex(id, "/")+1:]
	}},
	{"Product Name", field("productname")},
	{"Product Id", field("productid")},
	{"Customer Name", field("customername")},
	{"Service Family", field("servicefamily")},
	{"Meter Name", field("metername", "meter")},
	{"Term", func(r record, _ ruleEnv) string {
		return normalizeTerm(r.str("term"))
	}},
	{"Frequency", field("billingfrequency")},
	{"Exchange Rate", field("exchangeratepricingtobilling")},
	{"PayG Unit Price", func(_ record, env ruleEnv) string {
		if env.paygUnitPrice == nil {
			return ""
		}
		return strconv.FormatFloat(*env.paygUnitPrice, 'f', -1, 64)
	}},
	{"Billing Tenant Id", func(_ record, env ruleEnv) string {
		return env.opts.BillingTenantID
	}},
	{"Usage Type Details", func(r record, _ ruleEnv) string {
		return transferDirection(r)
	}},
}

// additionalInfo applies infoRules to r
func additionalInfo(r record, env ruleEnv) map[string]string {
	info := make(map[string]string, len(infoRules))
	for _, rule := range infoRules {
		if v := rule.value(r, env); v != "" {
			info[rule.name] = v
		}
	}
	return info
}

// normalizeTerm converts reservation terms to months
func normalizeTerm(term string) string {
	switch strings.ToLower(strings.TrimSpace(term)) {
	case "1year":
		return "12"
	case "3years":
		return "36"
	default:
		return term
	}
}

// transferDirection classifies network transfer records. The vendor's
// DataTransferDirection wins; otherwise the meter name decides.
func transferDirection(r record) string {
	if extra := jsonObject(r["additionalinfo"]); extra != nil {
		if dir, ok := extra["DataTransferDirection"].(string); ok && dir != "" {
			switch dir {
			case "DataTrIn":
				return TransferIn
			case "DataTrOut":
				return TransferOut
			default:
				return TransferEtc
			}
		}
	}

	category := r.str("metercategory")
	meter := r.first("metername", "meter")

	switch {
	case category == "Bandwidth":
		return directionFromMeter(meter)
	case category == "Azure Front Door Service":
		switch meter {
		case "Standard Data Transfer In":
			return TransferIn
		case "Standard Data Transfer Out":
			return TransferOut
		default:
			return TransferEtc
		}
	case strings.Contains(meter, "Data Transfer"):
		return directionFromMeter(meter)
	default:
		return ""
	}
}

func directionFromMeter(meter string) string {
	switch {
	case strings.Contains(meter, "Data Transfer In"):
		return TransferIn
	case strings.Contains(meter, "Data Transfer Out"):
		return TransferOut
	default:
		return TransferEtc
	}
}

// product picks the canonical product name for a record
func product(r record) string {
	charge := r.str("chargetype")
	pricing := r.str("pricingmodel")

	if (charge == chargePurchase || charge == chargeRefund) && pricing == pricingOnDemand {
		return r.str("productname")
	}

	category := r.str("metercategory")
	if category == "" && pricing == pricingReservation {
		if benefit := r.str("benefitname"); benefit != "" {
			return productFromBenefitName(benefit)
		}
	}
	return category
}

// productFromBenefitName derives a product from a reservation's benefit name
func productFromBenefitName(name string) string {
	upper := strings.ToUpper(name)
	switch {
	case strings.Contains(upper, "VM"):
		return "Reserved VM Instances"
	case strings.Contains(upper, "REDIS"):
		return "Reserved Redis Cache"
	case strings.Contains(upper, "DISK"):
		return "Reserved Disk"
	case strings.Contains(upper, "BLOB"):
		return "Reserved Blob Storage Capacity"
	case strings.Contains(upper, "FILE"):
		return "Reserved File Capacity"
	}
	if prefix, _, found := strings.Cut(name, "_"); found {
		return "Reserved " + prefix
	}
	return "Reserved " + name
}

// isCommitment reports reservation and savings plan records
func isCommitment(r record) bool {
	switch r.str("pricingmodel") {
	case pricingReservation, pricingSavingsPlan:
		return true
	default:
		return false
	}
}
