// Package pipeline orchestrates one collection task end to end.
//
// A task is resolved into billing scopes and calendar-month windows. For
// every window, each scope is collected either through a cost details report
// (CSV blobs, the default) or through paged Cost Management queries. Every
// vendor call goes through the retry controller, every page through the
// reconciler and the mapper, and every mapped page is handed to the caller.
//
// Windows run in order. Scopes inside a window run sequentially unless
// scope_concurrency allows a bounded pool; pages of one scope always keep
// their order. When collection finishes without error the caller receives
// one final empty page.
//
//	p := pipeline.New(session, cfg, ctrl, log)
//	err := p.Collect(ctx, cfg.TaskOptions, func(records []provider.CostRecord) error {
//		if len(records) == 0 {
//			return nil // end of stream
//		}
//		return enc.Encode(records)
//	})
package pipeline
