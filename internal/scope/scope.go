package scope

import (
	"fmt"
	"time"

	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
)

// MonthLayout is the task option format for start and end months
const MonthLayout = "2006-01"

// DefaultTenantID attributes records when no tenant is known
const DefaultTenantID = "EA Agreement"

// Path templates per collect scope
const (
	subscriptionPath   = "/subscriptions/%s"
	billingAccountPath = "/providers/Microsoft.Billing/billingAccounts/%s"
	customerPath       = "/providers/Microsoft.Billing/billingAccounts/%s/customers/%s"
)

// Window is one calendar month of a collection, clipped to now
type Window struct {
	Start time.Time
	End   time.Time
}

// BillingPeriod returns the YYYYMM period name of the window
func (w Window) BillingPeriod() string {
	return w.Start.Format("200601")
}

func (w Window) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

// Scope is one billing scope fetched per window
type Scope struct {
	Kind     string
	Path     string
	TenantID string
}

// Plan is the resolved fan-out of a task
type Plan struct {
	Scopes  []Scope
	Windows []Window
}

// Resolve validates task options and expands them into scopes and monthly windows
func Resolve(task config.TaskOptions, secret config.SecretData, now time.Time) (Plan, error) {
	if task.CollectScope == "" {
		return Plan{}, provider.RequiredParameter("task_options.collect_scope")
	}
	if task.Start == "" {
		return Plan{}, provider.RequiredParameter("task_options.start")
	}

	start, err := time.Parse(MonthLayout, task.Start)
	if err != nil {
		return Plan{}, provider.InvalidParameter("task_options.start", "YYYY-MM")
	}

	end := now
	if task.End != "" {
		endMonth, err := time.Parse(MonthLayout, task.End)
		if err != nil {
			return Plan{}, provider.InvalidParameter("task_options.end", "YYYY-MM")
		}
		if endMonth.Before(start) {
			return Plan{}, provider.InvalidParameter("task_options.end", "a month not before task_options.start")
		}
		if last := lastDayOfMonth(endMonth); last.Before(end) {
			end = last
		}
	}

	scopes, err := resolveScopes(task, secret)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		Scopes:  scopes,
		Windows: MonthlyWindows(start, end),
	}, nil
}

func resolveScopes(task config.TaskOptions, secret config.SecretData) ([]Scope, error) {
	switch task.CollectScope {
	case config.ScopeSubscription:
		if task.SubscriptionID == "" {
			return nil, provider.RequiredParameter("task_options.subscription_id")
		}
		path, _ := ScopePath(task.CollectScope, task.SubscriptionID, "")
		return []Scope{{Kind: task.CollectScope, Path: path, TenantID: tenantFor(task)}}, nil

	case config.ScopeBillingAccount:
		if secret.BillingAccountID == "" {
			return nil, provider.RequiredParameter("secret_data.billing_account_id")
		}
		path, _ := ScopePath(task.CollectScope, secret.BillingAccountID, "")
		return []Scope{{Kind: task.CollectScope, Path: path, TenantID: tenantFor(task)}}, nil

	case config.ScopeCustomerTenant:
		if secret.BillingAccountID == "" {
			return nil, provider.RequiredParameter("secret_data.billing_account_id")
		}
		// An explicit tenant narrows the fan-out to that customer
		tenants := task.CustomerTenants
		if task.TenantID != "" {
			tenants = []string{task.TenantID}
		}
		if len(tenants) == 0 {
			return nil, fmt.Errorf("%w: task_options.customer_tenants", provider.ErrEmptyCustomerTenants)
		}
		scopes := make([]Scope, 0, len(tenants))
		for _, tenant := range tenants {
			path, _ := ScopePath(task.CollectScope, secret.BillingAccountID, tenant)
			scopes = append(scopes, Scope{Kind: task.CollectScope, Path: path, TenantID: tenant})
		}
		return scopes, nil

	default:
		return nil, provider.InvalidParameter("task_options.collect_scope",
			config.ScopeSubscription+", "+config.ScopeBillingAccount+" or "+config.ScopeCustomerTenant)
	}
}

// tenantFor attributes a non-customer scope
func tenantFor(task config.TaskOptions) string {
	switch {
	case task.TenantID != "":
		return task.TenantID
	case task.BillingTenantID != "":
		return task.BillingTenantID
	default:
		return DefaultTenantID
	}
}

// ScopePath renders the ARM scope for a collect scope kind. id is the
// subscription or billing account id; customer is used for customer scopes.
func ScopePath(kind, id, customer string) (string, error) {
	switch kind {
	case config.ScopeSubscription:
		return fmt.Sprintf(subscriptionPath, id), nil
	case config.ScopeBillingAccount:
		return fmt.Sprintf(billingAccountPath, id), nil
	case config.ScopeCustomerTenant:
		return fmt.Sprintf(customerPath, id, customer), nil
	default:
		return "", provider.InvalidParameter("collect_scope", "a known scope kind")
	}
}

// MonthlyWindows splits [first day of start's month, end] into calendar
// months. The last window ends at end. A start after end yields no windows.
func MonthlyWindows(start, end time.Time) []Window {
	loc := start.Location()
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, loc)

	var windows []Window
	for !cursor.After(end) {
		last := lastDayOfMonth(cursor)
		if last.After(end) {
			last = end
		}
		windows = append(windows, Window{Start: cursor, End: last})
		cursor = cursor.AddDate(0, 1, 0)
	}
	return windows
}

// lastDayOfMonth returns midnight of the last day of t's month
func lastDayOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location())
}

// FirstOfMonth returns midnight of the first day of t's month
func FirstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
