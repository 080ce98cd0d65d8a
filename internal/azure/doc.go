// Package azure implements the billing vendor on top of the Azure REST APIs.
//
// A Session authenticates a service principal with a client secret and
// talks to Cost Management (queries and cost details reports), Billing
// (accounts and customers), Consumption (EA balances) and the public retail
// price list. The SDK retry policy is disabled. Cost queries, report
// requests and blob reads issue a single request and return the raw
// response for the caller's retry controller. Billing and price lookups
// decode their results and retry through the controller in Options.
//
// Example usage:
//
//	ctrl := retry.New(cfg.MaxRetries(), cfg.MinBackoff(), log)
//	session, err := azure.NewSession(cfg.SecretData, azure.Options{
//		Timeout: cfg.Timeout(),
//		Retry:   ctrl,
//		Logger:  log,
//	})
//	if err != nil {
//		return err
//	}
//	if err := session.Verify(ctx); err != nil {
//		return err
//	}
//
//	p := pipeline.New(session, cfg, ctrl, log)
//	err = p.Collect(ctx, cfg.TaskOptions, emit)
package azure
