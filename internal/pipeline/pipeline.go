package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zgpcy/azure-billing-collector/internal/clock"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/fetch"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/mapper"
	"github.com/zgpcy/azure-billing-collector/internal/pricecache"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/reconcile"
	"github.com/zgpcy/azure-billing-collector/internal/retry"
	"github.com/zgpcy/azure-billing-collector/internal/scope"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultChunkSize is the byte range requested per blob download call
	DefaultChunkSize int64 = 32 << 20

	// DefaultPollFrequency is the wait between cost details report polls
	// when the service sends no Retry-After
	DefaultPollFrequency = 10 * time.Second
)

// Pipeline collects one task at a time and streams canonical records
type Pipeline struct {
	vendor    Vendor
	retry     *retry.Controller
	options   config.Options
	secret    config.SecretData
	logger    *logger.Logger
	clock     clock.Clock
	chunkSize int64
	tempDir   string
	pollEvery time.Duration
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithClock replaces the wall clock, for tests
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithChunkSize sets the blob download range size
func WithChunkSize(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithPollFrequency sets the default wait between report polls
func WithPollFrequency(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.pollEvery = d
		}
	}
}

// WithTempDir sets where downloaded blobs are staged
func WithTempDir(dir string) Option {
	return func(p *Pipeline) { p.tempDir = dir }
}

// New creates a Pipeline for the given vendor and configuration
func New(vendor Vendor, cfg *config.Config, ctrl *retry.Controller, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	if ctrl == nil {
		ctrl = retry.New(cfg.MaxRetries(), cfg.MinBackoff(), log)
	}
	p := &Pipeline{
		vendor:    vendor,
		retry:     ctrl,
		options:   cfg.Options,
		secret:    cfg.SecretData,
		logger:    log,
		clock:     clock.RealClock{},
		chunkSize: DefaultChunkSize,
		pollEvery: DefaultPollFrequency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Task binds a task to the pipeline as a provider.Collector
func (p *Pipeline) Task(task config.TaskOptions) provider.Collector {
	return boundTask{pipeline: p, task: task}
}

type boundTask struct {
	pipeline *Pipeline
	task     config.TaskOptions
}

func (b boundTask) Collect(ctx context.Context, emit provider.PageHandler) error {
	return b.pipeline.Collect(ctx, b.task, emit)
}

// run holds the state owned by a single Collect call
type run struct {
	*Pipeline
	task   config.TaskOptions
	log    *logger.Logger
	mapper *mapper.Mapper

	mu      sync.Mutex
	emit    provider.PageHandler
	records int
}

// send serializes emission across scopes. Empty pages are not forwarded
// so the caller only ever sees one empty page: the final sentinel.
func (r *run) send(records []provider.CostRecord) error {
	if len(records) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records += len(records)
	return r.emit(records)
}

// Collect resolves the task into scopes and monthly windows, fetches every
// page, maps it and hands it to emit. On success a final empty page is emitted.
func (p *Pipeline) Collect(ctx context.Context, task config.TaskOptions, emit provider.PageHandler) error {
	runID := uuid.NewString()
	log := p.logger.WithFields("run_id", runID, "collect_scope", task.CollectScope)
	started := time.Now()

	plan, err := scope.Resolve(task, p.secret, p.clock.Now())
	if err != nil {
		return err
	}

	prices := pricecache.New(p.vendor, log)
	r := &run{
		Pipeline: p,
		task:     task,
		log:      log,
		mapper:   mapper.New(mapper.OptionsFromConfig(p.options, task), prices, log),
		emit:     emit,
	}

	log.Info("Starting collection",
		"scopes", len(plan.Scopes),
		"windows", len(plan.Windows),
		"cost_metric", p.options.CostMetric,
		"collect_mode", p.options.CollectMode,
		"benefit", task.IsBenefitJob)

	for _, w := range plan.Windows {
		windowStarted := time.Now()
		if err := r.collectWindow(ctx, w, plan.Scopes); err != nil {
			log.Error("Collection failed",
				"window", w.String(),
				"records", r.records,
				"error", err)
			return err
		}
		log.Info("Window collected",
			"window", w.String(),
			"elapsed", time.Since(windowStarted).String())
	}

	if err := emit([]provider.CostRecord{}); err != nil {
		return err
	}

	log.Info("Collection complete",
		"records", r.records,
		"retail_prices", prices.Len(),
		"elapsed", time.Since(started).String())
	return nil
}

func (r *run) collectWindow(ctx context.Context, w scope.Window, scopes []scope.Scope) error {
	limit := r.options.ScopeConcurrency
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, s := range scopes {
		g.Go(func() error {
			return r.collectScope(gctx, w, s, i)
		})
	}
	return g.Wait()
}

func (r *run) collectScope(ctx context.Context, w scope.Window, s scope.Scope, idx int) error {
	log := r.log.WithFields("scope", s.Path, "tenant_id", s.TenantID, "window", w.String())
	started := time.Now()
	log.Info("Collecting scope", "index", idx+1)

	var err error
	switch {
	case r.task.IsBenefitJob:
		err = r.collectBenefit(ctx, w, s)
	case r.options.CollectMode == config.CollectModeQuery:
		err = r.collectQuery(ctx, w, s)
	default:
		err = r.collectExport(ctx, w, s, log)
	}
	if err != nil {
		return fmt.Errorf("scope %s: %w", s.Path, err)
	}

	if r.includeCredit() {
		if err := r.collectCredit(ctx, w); err != nil {
			return fmt.Errorf("scope %s: %w", s.Path, err)
		}
	}

	log.Info("Scope collected", "elapsed", time.Since(started).String())
	return nil
}

// includeCredit reports whether EA credit records are added per scope
func (r *run) includeCredit() bool {
	if r.task.IsBenefitJob {
		return false
	}
	if !r.task.IncludeCreditCost && !r.options.IncludeCreditCost {
		return false
	}
	return r.task.AccountAgreementType == config.AgreementEA
}

func (r *run) collectCredit(ctx context.Context, w scope.Window) error {
	balance, err := r.vendor.CreditBalance(ctx, w.BillingPeriod())
	if err != nil {
		return fmt.Errorf("%w: credit balance %s: %w", provider.ErrCollectorCallFailed, w.BillingPeriod(), err)
	}
	if balance == nil {
		return nil
	}
	return r.send([]provider.CostRecord{
		mapper.CreditRecord(balance.Utilized, w.Start, r.task.BillingTenantID),
	})
}

// collectQuery pages through the Cost Management query API
func (r *run) collectQuery(ctx context.Context, w scope.Window, s scope.Scope) error {
	def := costQuery(r.options.CostMetric, w)
	return r.queryPages(ctx, s, func(nextLink string) fetch.Func {
		return func(ctx context.Context) (*fetch.Response, error) {
			return r.vendor.QueryPage(ctx, s.Path, nextLink, def)
		}
	}, func(records []reconcile.Record) ([]provider.CostRecord, error) {
		return r.mapper.MapPage(ctx, records, w.End, s.TenantID)
	})
}

// collectBenefit pages through the reservation and savings plan usage query
func (r *run) collectBenefit(ctx context.Context, w scope.Window, s scope.Scope) error {
	def := benefitQuery(r.task.AccountAgreementType, w)
	return r.queryPages(ctx, s, func(nextLink string) fetch.Func {
		return func(ctx context.Context) (*fetch.Response, error) {
			return r.vendor.QueryPage(ctx, s.Path, nextLink, def)
		}
	}, func(records []reconcile.Record) ([]provider.CostRecord, error) {
		out := make([]provider.CostRecord, 0, len(records))
		for i, raw := range records {
			rec, ok, err := r.mapper.MapBenefit(raw, w.End)
			if err != nil {
				return nil, fmt.Errorf("failed to map benefit record %d: %w", i, err)
			}
			if ok {
				out = append(out, rec)
			}
		}
		return out, nil
	})
}

func (r *run) queryPages(
	ctx context.Context,
	s scope.Scope,
	request func(nextLink string) fetch.Func,
	mapPage func([]reconcile.Record) ([]provider.CostRecord, error),
) error {
	nextLink := ""
	for page := 1; ; page++ {
		resp, err := r.retry.Do(ctx, request(nextLink))
		if err != nil {
			return fmt.Errorf("query page %d: %w", page, err)
		}

		table, err := reconcile.DecodeTable(resp.Body)
		if err != nil {
			return fmt.Errorf("query page %d: %w", page, err)
		}

		records, err := mapPage(table.Records)
		if err != nil {
			return fmt.Errorf("query page %d: %w", page, err)
		}
		if err := r.send(records); err != nil {
			return err
		}

		if table.NextLink == "" || table.NextLink == nextLink {
			return nil
		}
		nextLink = table.NextLink
	}
}
