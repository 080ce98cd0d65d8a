package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/zgpcy/azure-billing-collector/internal/clock"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/pipeline"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/scope"
)

// Planning constants
const (
	// MaxTasks bounds how many tasks an MPA account is split into
	MaxTasks = 5

	// DefaultLookbackMonths is how far back a first synchronization starts
	DefaultLookbackMonths = 9

	// ResyncOverlap is subtracted from the last synchronization time
	ResyncOverlap = 7 * 24 * time.Hour
)

// Task is one unit of collection work
type Task struct {
	TaskOptions config.TaskOptions `json:"task_options"`
}

// Changed marks a period whose previously collected data is replaced
type Changed struct {
	Start  string            `json:"start"`
	Filter map[string]string `json:"filter,omitempty"`
}

// Plan is the result of task planning
type Plan struct {
	Tasks          []Task             `json:"tasks"`
	Changed        []Changed          `json:"changed"`
	SyncedAccounts []provider.Account `json:"synced_accounts"`
}

// Billing is the part of the vendor the planner needs
type Billing interface {
	BillingAccount(ctx context.Context) (pipeline.BillingAccount, error)
	ListCustomers(ctx context.Context) ([]provider.Account, error)
}

// Planner splits a data source into collection tasks
type Planner struct {
	billing Billing
	options config.Options
	secret  config.SecretData
	logger  *logger.Logger
	clock   clock.Clock
}

// New creates a Planner
func New(billing Billing, cfg *config.Config, log *logger.Logger, c clock.Clock) *Planner {
	if log == nil {
		log = logger.Discard()
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Planner{
		billing: billing,
		options: cfg.Options,
		secret:  cfg.SecretData,
		logger:  log,
		clock:   c,
	}
}

// Tasks plans the collection starting at start (YYYY-MM). When start is
// empty the plan resumes from lastSynced, or looks back DefaultLookbackMonths.
// linked are the accounts already known to the caller.
func (p *Planner) Tasks(ctx context.Context, start string, lastSynced time.Time, linked []provider.Account) (Plan, error) {
	startMonth, err := p.startMonth(start, lastSynced)
	if err != nil {
		return Plan{}, err
	}

	secretType := p.options.SecretType
	if secretType == "" {
		secretType = config.SecretTypeManual
	}

	switch secretType {
	case config.SecretTypeManual:
		return p.manualTasks(ctx, startMonth, linked)
	case config.SecretTypeUseServiceAccountSecret:
		return Plan{
			Tasks: []Task{{TaskOptions: config.TaskOptions{
				CollectScope:    config.ScopeSubscription,
				Start:           startMonth,
				SubscriptionID:  p.secret.SubscriptionID,
				BillingTenantID: p.secret.TenantID,
			}}},
			Changed:        []Changed{{Start: startMonth}},
			SyncedAccounts: []provider.Account{},
		}, nil
	default:
		return Plan{}, fmt.Errorf("%w: %s", provider.ErrInvalidSecretType, secretType)
	}
}

func (p *Planner) manualTasks(ctx context.Context, startMonth string, linked []provider.Account) (Plan, error) {
	account, err := p.billing.BillingAccount(ctx)
	if err != nil {
		return Plan{}, err
	}
	agreement := account.AgreementType

	plan := Plan{
		Changed:        []Changed{{Start: startMonth}},
		SyncedAccounts: []provider.Account{},
	}

	switch {
	case agreement == config.AgreementMPA && p.options.CollectScope == config.ScopeBillingAccount:
		ranges, err := p.monthRanges(startMonth)
		if err != nil {
			return Plan{}, err
		}
		for _, r := range ranges {
			plan.Tasks = append(plan.Tasks, Task{TaskOptions: config.TaskOptions{
				CollectScope:         config.ScopeBillingAccount,
				Start:                r[0],
				End:                  r[1],
				AccountAgreementType: agreement,
				BillingTenantID:      p.secret.TenantID,
			}})
		}
		if len(linked) > 0 {
			plan.SyncedAccounts = linked
		}

	case agreement == config.AgreementMPA:
		tenants, err := p.customerTenants(ctx)
		if err != nil {
			return Plan{}, err
		}
		for _, group := range splitEvenly(tenants) {
			plan.Tasks = append(plan.Tasks, Task{TaskOptions: config.TaskOptions{
				CollectScope:         config.ScopeCustomerTenant,
				Start:                startMonth,
				CustomerTenants:      group,
				AccountAgreementType: agreement,
				BillingTenantID:      p.secret.TenantID,
			}})
			if len(linked) > 0 {
				for _, tenant := range group {
					plan.SyncedAccounts = append(plan.SyncedAccounts, provider.Account{AccountID: tenant})
				}
			}
		}

	default:
		plan.Tasks = []Task{{TaskOptions: config.TaskOptions{
			CollectScope:         config.ScopeBillingAccount,
			Start:                startMonth,
			AccountAgreementType: agreement,
			BillingTenantID:      p.secret.TenantID,
			IncludeCreditCost:    p.options.IncludeCreditCost,
		}}}
	}

	if p.options.CostMetric == config.CostMetricAmortized {
		plan.Tasks = append(plan.Tasks, Task{TaskOptions: config.TaskOptions{
			CollectScope:         config.ScopeBillingAccount,
			Start:                startMonth,
			AccountAgreementType: agreement,
			BillingTenantID:      p.secret.TenantID,
			IsBenefitJob:         true,
		}})
	}

	p.logger.Info("Planned tasks",
		"agreement_type", agreement,
		"start", startMonth,
		"tasks", len(plan.Tasks))
	return plan, nil
}

// LinkedAccounts lists the customer tenants of an MPA billing account,
// narrowed to the configured customer tenants when set. Other agreement
// types have no linked accounts.
func (p *Planner) LinkedAccounts(ctx context.Context) ([]provider.Account, error) {
	account, err := p.billing.BillingAccount(ctx)
	if err != nil {
		return nil, err
	}
	if account.AgreementType != config.AgreementMPA {
		return []provider.Account{}, nil
	}

	customers, err := p.billing.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	if len(p.secret.CustomerTenants) == 0 {
		return customers, nil
	}

	wanted := lo.SliceToMap(p.secret.CustomerTenants, func(id string) (string, struct{}) {
		return id, struct{}{}
	})
	return lo.Filter(customers, func(a provider.Account, _ int) bool {
		_, ok := wanted[a.AccountID]
		return ok
	}), nil
}

func (p *Planner) customerTenants(ctx context.Context) ([]string, error) {
	tenants := p.secret.CustomerTenants
	if len(tenants) == 0 {
		customers, err := p.billing.ListCustomers(ctx)
		if err != nil {
			return nil, err
		}
		tenants = lo.Map(customers, func(a provider.Account, _ int) string { return a.AccountID })
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("%w: billing account %s", provider.ErrEmptyCustomerTenants, p.secret.BillingAccountID)
	}
	return tenants, nil
}

// startMonth picks the first month to collect
func (p *Planner) startMonth(start string, lastSynced time.Time) (string, error) {
	if start != "" {
		t, err := time.Parse(scope.MonthLayout, start)
		if err != nil {
			return "", provider.InvalidParameter("start", "YYYY-MM")
		}
		return t.Format(scope.MonthLayout), nil
	}
	if !lastSynced.IsZero() {
		return scope.FirstOfMonth(lastSynced.UTC().Add(-ResyncOverlap)).Format(scope.MonthLayout), nil
	}
	return scope.FirstOfMonth(p.clock.Now()).AddDate(0, -DefaultLookbackMonths, 0).Format(scope.MonthLayout), nil
}

// monthRanges splits [start, now] into at most MaxTasks [first, last] month ranges
func (p *Planner) monthRanges(start string) ([][2]string, error) {
	first, err := time.Parse(scope.MonthLayout, start)
	if err != nil {
		return nil, provider.InvalidParameter("start", "YYYY-MM")
	}
	last := scope.FirstOfMonth(p.clock.Now())

	var months []string
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		months = append(months, m.Format(scope.MonthLayout))
	}
	if len(months) == 0 {
		months = []string{start}
	}

	return lo.Map(splitEvenly(months), func(group []string, _ int) [2]string {
		return [2]string{group[0], group[len(group)-1]}
	}), nil
}

// splitEvenly divides items into at most MaxTasks consecutive groups
func splitEvenly[T any](items []T) [][]T {
	if len(items) == 0 {
		return nil
	}
	size := (len(items) + MaxTasks - 1) / MaxTasks
	return lo.Chunk(items, size)
}
