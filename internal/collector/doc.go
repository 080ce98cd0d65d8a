// Package collector implements a Prometheus collector over billing collection runs.
//
// CostCollector runs a provider.Collector (normally a pipeline bound to a
// task) in the background at the configured refresh interval, aggregates
// the emitted records and exposes them as metrics. It implements the
// prometheus.Collector interface.
//
// The collector exposes the following metrics:
//   - azure_billing_cost: cost by provider, product, region and billed date
//   - up: health of the last run (1 = success, 0 = failure)
//   - azure_billing_collector_run_duration_seconds: duration of the last run
//   - azure_billing_collector_run_errors_total: failed runs since startup
//   - azure_billing_collector_retries_total: retried vendor calls since startup
//   - azure_billing_collector_last_run_timestamp_seconds: Unix time of the last run
//   - azure_billing_collector_records_count: records in the last complete run
//   - azure_billing_collector_build_info: build version labels
//
// A run that fails keeps the previous aggregate so dashboards do not drop to
// zero on a transient vendor outage; up reports the failure.
//
// Example usage:
//
//	ctrl := retry.New(cfg.MaxRetries(), cfg.MinBackoff(), log)
//	p := pipeline.New(session, cfg, ctrl, log)
//	c := collector.NewCostCollector(p.Task(cfg.TaskOptions), cfg, log)
//	ctrl.OnRetry = c.ObserveRetry
//
//	prometheus.MustRegister(c)
//	c.StartBackgroundRefresh(ctx)
package collector
