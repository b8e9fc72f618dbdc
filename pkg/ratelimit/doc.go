// Package ratelimit provides sliding window rate limiting.
//
// SlidingWindow tracks request timestamps inside a moving window. Keyed holds
// one window per caller key and is what the image proxy uses to cap each
// client IP (100 requests per 15 minutes by default):
//
//	limiter := ratelimit.NewKeyed(100, 15*time.Minute)
//	if ok, retryAfter := limiter.Allow(clientIP); !ok {
//	    // reject with 429, Retry-After: retryAfter
//	}
//
// Outbound pacing of Apify calls uses golang.org/x/time/rate instead.
package ratelimit
