// Package resilience provides retry, rate-limiting, and timeout primitives
// for the sync toolkit's background network operations.
//
// The preferences sync loop, the push-invalidation reconnect loop, and the
// session monitor all talk to a backend that is allowed to be absent or
// flaky; these helpers keep those loops polite about it.
//
//	retry := resilience.NewRetry(resilience.RetryConfig{
//	    MaxAttempts:  5,
//	    InitialDelay: time.Second,
//	    MaxDelay:     30 * time.Second,
//	})
//
//	err := retry.Execute(ctx, func(ctx context.Context) error {
//	    return client.UpdatePreferences(ctx, doc)
//	})
package resilience
