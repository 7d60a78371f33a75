// Package ratelimiter throttles requests with a token bucket.
//
// A bucket holds up to Capacity tokens and regains RefillRate tokens every
// RefillInterval. A request that finds too few tokens is denied without
// consuming any, so a client hammering a closed bucket does not push its own
// recovery further out.
//
// Two stores are provided. MemoryStore keeps buckets in process and suits a
// single replica and tests. RedisStore runs the same algorithm in a Lua script
// so all API replicas share one bucket per key.
//
//	limiter, err := ratelimiter.NewBucket(ratelimiter.NewRedisStore(client), cfg)
//	if err != nil {
//		return err
//	}
//	r.With(ratelimiter.Middleware(limiter, keyFunc)).Post("/subscriptions/payment", h)
package ratelimiter
