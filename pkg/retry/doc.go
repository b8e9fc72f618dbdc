// Package retry provides backoff and retry logic for transient failures in
// calls to Apify and Supabase storage.
//
// Only typed network, rate-limit and server errors are retried by default.
// Configuration, auth and not-found errors fail on the first attempt.
//
//	items, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
//		return c.get(ctx, path)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.DefaultExponentialBackoff(),
//		Logger:      log,
//	})
package retry
