// Package jobs plans collection tasks for a billing data source.
//
// Planner.Tasks turns the configured secret type and the billing account's
// agreement type into a list of task options, each collected independently
// by the pipeline:
//
//   - USE_SERVICE_ACCOUNT_SECRET: one subscription task
//   - MANUAL, Microsoft Partner Agreement: the billing account split by month
//     range, or the customer tenants split into groups, at most MaxTasks tasks
//   - MANUAL, other agreements: one billing account task
//
// An AmortizedCost data source also gets a benefit task that reports the
// reservation and savings plan purchases behind the amortized stream.
//
// Planner.LinkedAccounts lists the customer tenants of an MPA billing account.
package jobs
