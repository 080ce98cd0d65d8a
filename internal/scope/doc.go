// Package scope resolves a collection task into the billing scopes to query
// and the calendar-month windows to query them for.
//
// Scope paths follow the Azure Resource Manager layout:
//
//	/subscriptions/{subscription_id}
//	/providers/Microsoft.Billing/billingAccounts/{billing_account_id}
//	/providers/Microsoft.Billing/billingAccounts/{billing_account_id}/customers/{customer_tenant_id}
package scope
