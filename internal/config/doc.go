// Package config provides configuration management for the Azure billing collector.
//
// Configuration is loaded from a YAML file, defaults are applied, then
// environment variables override individual fields and the result is
// validated.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. YAML configuration file
//  3. Default values (lowest priority)
//
// Supported environment variables:
//   - AZURE_TENANT_ID, AZURE_CLIENT_ID, AZURE_CLIENT_SECRET: service principal
//   - AZURE_BILLING_ACCOUNT_ID: billing account for billing_account_id tasks
//   - AZURE_BILLING_CUSTOMER_TENANTS: comma-separated customer tenant ids
//   - AZURE_BILLING_COST_METRIC: ActualCost or AmortizedCost
//   - AZURE_BILLING_START: first month to collect (YYYY-MM)
//   - AZURE_BILLING_REFRESH_INTERVAL: refresh interval in seconds (minimum: 60)
//   - AZURE_BILLING_HTTP_PORT: HTTP server port (1-65535)
//   - AZURE_BILLING_API_TIMEOUT: per-call timeout in seconds
//   - AZURE_BILLING_SCOPE_CONCURRENCY: scopes collected in parallel
//   - AZURE_BILLING_MAX_RETRIES: retries after the first attempt
//   - AZURE_BILLING_LOG_LEVEL: debug, info, warn, error
//
// Example configuration file (config.yaml):
//
//	options:
//	  cost_metric: AmortizedCost
//	  collect_mode: export
//	  exclude_license_cost: true
//	secret_data:
//	  tenant_id: "00000000-0000-0000-0000-000000000000"
//	  client_id: "11111111-1111-1111-1111-111111111111"
//	  client_secret: "..."
//	task_options:
//	  collect_scope: subscription_id
//	  subscription_id: "22222222-2222-2222-2222-222222222222"
//	  start: "2024-01"
//	retry:
//	  max_retries: 3
//	  min_backoff_seconds: 30
//	refresh_interval: 86400
//	http_port: 8080
package config
