// Package reconcile turns the two raw result shapes returned by Azure into
// a single Record form: column/row tables from Cost Management queries and
// CSV files produced by cost details reports.
package reconcile
