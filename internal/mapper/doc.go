// Package mapper converts raw Azure cost rows into provider.CostRecord.
//
// Mapping runs in a fixed order: billed date, exclusion rules, cost per
// metric, plain fields, saved cost, additional info, tags. The additional
// info keys come from a declarative rule table so each rule can be read and
// tested on its own.
//
// The active cost metric decides the primary cost field:
//
//	ActualCost     cost = billed cost, data: Actual Cost, PayAsYouGo
//	AmortizedCost  cost = amortized cost, data: Amortized Cost, Actual Cost, Saved Cost, PayAsYouGo
//	pay_as_you_go  cost = pay-as-you-go cost, data: PayAsYouGo, Actual Cost
//
// A record without a derivable billed date is dropped and logged. Any other
// mapping failure aborts the page it belongs to.
package mapper
