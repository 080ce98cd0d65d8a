// Package pricecache memoizes Azure retail (pay-as-you-go) unit prices for
// the lifetime of a single collection run.
package pricecache
