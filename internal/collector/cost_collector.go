package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zgpcy/azure-billing-collector/internal/clock"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/version"
)

// MaxSeries limits memory usage by capping the number of aggregated cost series
const MaxSeries = 100000

// costKey is one exported azure_billing_cost series
type costKey struct {
	Provider   string
	Product    string
	Region     string
	BilledDate string
}

// CostCollector runs a collection on a refresh interval and implements
// prometheus.Collector over the aggregated result
type CostCollector struct {
	source provider.Collector
	cfg    *config.Config
	logger *logger.Logger
	clock  clock.Clock

	// Metrics
	costMetric        *prometheus.Desc
	upMetric          *prometheus.Desc
	runDuration       *prometheus.Desc
	runErrorsTotal    *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	lastRunTimeMetric *prometheus.Desc
	recordCountMetric *prometheus.Desc
	buildInfo         *prometheus.GaugeVec

	// State
	mu              sync.RWMutex
	costs           map[costKey]float64
	records         int
	lastError       error
	lastRun         time.Time
	lastRunDuration time.Duration
	refreshStarted  atomic.Bool
	isReady         bool
}

// NewCostCollector creates a new CostCollector over source
func NewCostCollector(source provider.Collector, cfg *config.Config, log *logger.Logger) *CostCollector {
	runErrorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azure_billing_collector_run_errors_total",
			Help: "Total number of failed collection runs since startup",
		},
		[]string{"provider"},
	)

	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azure_billing_collector_retries_total",
			Help: "Total number of vendor calls retried after a throttled or failed attempt",
		},
		[]string{"provider"},
	)

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "azure_billing_collector_build_info",
			Help: "Build version information",
		},
		[]string{"version", "git_commit", "build_date", "go_version"},
	)

	versionInfo := version.Info()
	buildInfo.With(prometheus.Labels{
		"version":    versionInfo["version"],
		"git_commit": versionInfo["git_commit"],
		"build_date": versionInfo["build_date"],
		"go_version": versionInfo["go_version"],
	}).Set(1)

	if log == nil {
		log = logger.Discard()
	}

	return &CostCollector{
		source: source,
		cfg:    cfg,
		logger: log,
		clock:  clock.RealClock{},
		costMetric: prometheus.NewDesc(
			"azure_billing_cost",
			"Cost of the last complete collection by product, region and billed date, in the billing currency.",
			[]string{"provider", "product", "region", "billed_date"},
			nil,
		),
		upMetric: prometheus.NewDesc(
			"up",
			"Was the last collection run successful (1 = success, 0 = failure)",
			[]string{"provider"},
			nil,
		),
		runDuration: prometheus.NewDesc(
			"azure_billing_collector_run_duration_seconds",
			"Duration of the last collection run in seconds",
			[]string{"provider"},
			nil,
		),
		runErrorsTotal: runErrorsTotal,
		retriesTotal:   retriesTotal,
		lastRunTimeMetric: prometheus.NewDesc(
			"azure_billing_collector_last_run_timestamp_seconds",
			"Unix timestamp of the last collection run",
			[]string{"provider"},
			nil,
		),
		recordCountMetric: prometheus.NewDesc(
			"azure_billing_collector_records_count",
			"Number of cost records in the last complete collection",
			[]string{"provider"},
			nil,
		),
		buildInfo: buildInfo,
		costs:     map[costKey]float64{},
	}
}

// Describe implements prometheus.Collector
func (c *CostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.costMetric
	ch <- c.upMetric
	ch <- c.runDuration
	c.runErrorsTotal.Describe(ch)
	c.retriesTotal.Describe(ch)
	ch <- c.lastRunTimeMetric
	ch <- c.recordCountMetric
	c.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *CostCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	providerName := string(provider.ProviderAzure)

	for key, cost := range c.costs {
		ch <- prometheus.MustNewConstMetric(
			c.costMetric,
			prometheus.GaugeValue,
			cost,
			key.Provider,
			key.Product,
			key.Region,
			key.BilledDate,
		)
	}

	upValue := 0.0
	if c.lastError == nil && c.isReady {
		upValue = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.upMetric, prometheus.GaugeValue, upValue, providerName)

	ch <- prometheus.MustNewConstMetric(
		c.runDuration,
		prometheus.GaugeValue,
		c.lastRunDuration.Seconds(),
		providerName,
	)

	c.runErrorsTotal.Collect(ch)
	c.retriesTotal.Collect(ch)

	if !c.lastRun.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			c.lastRunTimeMetric,
			prometheus.GaugeValue,
			float64(c.lastRun.Unix()),
			providerName,
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.recordCountMetric,
		prometheus.GaugeValue,
		float64(c.records),
		providerName,
	)

	c.buildInfo.Collect(ch)
}

// ObserveRetry counts a retried vendor call. It matches the retry
// controller's OnRetry hook.
func (c *CostCollector) ObserveRetry(int, time.Duration) {
	c.retriesTotal.With(prometheus.Labels{"provider": string(provider.ProviderAzure)}).Inc()
}

// StartBackgroundRefresh runs one collection, then one per refresh interval
// until ctx is done. Uses an atomic flag to prevent multiple refresh goroutines.
func (c *CostCollector) StartBackgroundRefresh(ctx context.Context) {
	if !c.refreshStarted.CompareAndSwap(false, true) {
		c.logger.Warn("Background refresh already started, skipping")
		return
	}

	c.Refresh(ctx)

	ticker := time.NewTicker(time.Duration(c.cfg.RefreshInterval) * time.Second)
	go func() {
		defer ticker.Stop()
		defer c.refreshStarted.Store(false)
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping background refresh")
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}()
}

// Refresh runs one collection and swaps in its aggregate. A failed run keeps
// the previous aggregate and marks the collector unhealthy.
func (c *CostCollector) Refresh(ctx context.Context) {
	providerName := string(provider.ProviderAzure)
	c.logger.Info("Refreshing cost data", "provider", providerName)
	start := time.Now()

	costs := map[costKey]float64{}
	records := 0
	truncated := false
	err := c.source.Collect(ctx, func(page []provider.CostRecord) error {
		for _, r := range page {
			records++
			key := costKey{
				Provider:   r.Provider,
				Product:    r.Product,
				Region:     r.RegionCode,
				BilledDate: r.BilledDate,
			}
			if _, ok := costs[key]; !ok && len(costs) >= MaxSeries {
				truncated = true
				continue
			}
			costs[key] += r.Cost
		}
		return nil
	})
	duration := time.Since(start)

	if truncated {
		c.logger.Warn("Cost series exceeding limit were dropped to prevent memory issues",
			"limit", MaxSeries)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRun = c.clock.Now()
	c.lastRunDuration = duration
	c.lastError = err

	if err != nil {
		c.runErrorsTotal.With(prometheus.Labels{"provider": providerName}).Inc()
		c.logger.Error("Failed to refresh cost data", "provider", providerName, "error", err)
		return
	}

	c.costs = costs
	c.records = records
	c.isReady = true
	c.logger.Info("Successfully refreshed cost records",
		"provider", providerName,
		"record_count", records,
		"series", len(costs),
		"duration_seconds", duration.Seconds())
}

// IsReady returns true once a collection has completed successfully
func (c *CostCollector) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isReady
}

// LastError returns the error of the last run, nil if it succeeded
func (c *CostCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// LastRunTime returns the time of the last run attempt
func (c *CostCollector) LastRunTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRun
}

// RecordCount returns the number of records in the last complete collection
func (c *CostCollector) RecordCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records
}
