// Package retry implements the bounded retry loop around a single page fetch.
//
// The wait between attempts is driven by the vendor: the longest integer
// value of any response header whose name contains "retry" is honoured, with
// a configurable floor and one second of padding on top. Fatal responses
// (bad request, auth failures, not found) stop immediately.
//
// Example:
//
//	ctrl := retry.New(3, 30*time.Second, log)
//	resp, err := ctrl.Do(ctx, func(ctx context.Context) (*fetch.Response, error) {
//		return vendor.QueryPage(ctx, scope, nextLink, def)
//	})
//	if errors.Is(err, provider.ErrCollectionFailed) {
//		// give up on the task
//	}
package retry
