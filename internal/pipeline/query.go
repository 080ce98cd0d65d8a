package pipeline

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/samber/lo"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/scope"
)

// Dimensions grouped by the cost query
var costGrouping = []string{
	"ResourceGroup",
	"ResourceType",
	"ResourceId",
	"ResourceLocation",
	"SubscriptionId",
	"SubscriptionName",
	"MeterCategory",
	"MeterSubCategory",
	"Meter",
	"UnitOfMeasure",
	"PricingModel",
	"ChargeType",
	"ReservationName",
	"BenefitName",
}

// Dimensions grouped by the benefit query, then per agreement type
var (
	benefitGrouping = []string{
		"PricingModel",
		"ChargeType",
		"BenefitId",
		"BenefitName",
		"ReservationId",
		"ReservationName",
		"MeterCategory",
		"BillingFrequency",
	}
	benefitGroupingMPA = []string{"CustomerTenantId", "CustomerName"}
	benefitGroupingEA  = []string{"DepartmentName", "EnrollmentAccountName"}
	benefitGroupingMCA = []string{"InvoiceSectionName"}
)

func exportType(metric string) armcostmanagement.ExportType {
	if metric == config.CostMetricAmortized {
		return armcostmanagement.ExportTypeAmortizedCost
	}
	return armcostmanagement.ExportTypeActualCost
}

func dimensions(names []string) []*armcostmanagement.QueryGrouping {
	return lo.Map(names, func(name string, _ int) *armcostmanagement.QueryGrouping {
		return &armcostmanagement.QueryGrouping{
			Type: to.Ptr(armcostmanagement.QueryColumnTypeDimension),
			Name: to.Ptr(name),
		}
	})
}

func baseDefinition(metric string, w scope.Window) armcostmanagement.QueryDefinition {
	return armcostmanagement.QueryDefinition{
		Type:      to.Ptr(exportType(metric)),
		Timeframe: to.Ptr(armcostmanagement.TimeframeTypeCustom),
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: to.Ptr(w.Start),
			To:   to.Ptr(w.End),
		},
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: to.Ptr(armcostmanagement.GranularityTypeDaily),
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost": {
					Name:     to.Ptr("Cost"),
					Function: to.Ptr(armcostmanagement.FunctionTypeSum),
				},
				"UsageQuantity": {
					Name:     to.Ptr("UsageQuantity"),
					Function: to.Ptr(armcostmanagement.FunctionTypeSum),
				},
			},
		},
	}
}

// costQuery builds the daily cost query for a window
func costQuery(metric string, w scope.Window) armcostmanagement.QueryDefinition {
	def := baseDefinition(metric, w)
	def.Dataset.Grouping = dimensions(costGrouping)
	return def
}

// benefitQuery builds the reservation and savings plan usage query
func benefitQuery(agreementType string, w scope.Window) armcostmanagement.QueryDefinition {
	def := baseDefinition(config.CostMetricActual, w)

	grouping := append([]string{}, benefitGrouping...)
	switch agreementType {
	case config.AgreementMPA:
		grouping = append(grouping, benefitGroupingMPA...)
	case config.AgreementEA:
		grouping = append(grouping, benefitGroupingEA...)
	default:
		grouping = append(grouping, benefitGroupingMCA...)
	}
	def.Dataset.Grouping = dimensions(grouping)

	def.Dataset.Filter = &armcostmanagement.QueryFilter{
		Dimensions: &armcostmanagement.QueryComparisonExpression{
			Name:     to.Ptr("PricingModel"),
			Operator: to.Ptr(armcostmanagement.QueryOperatorTypeIn),
			Values:   to.SliceOfPtrs("Reservation", "SavingsPlan"),
		},
	}
	return def
}
