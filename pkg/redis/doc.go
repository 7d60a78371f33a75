// Package redis connects go-redis clients from environment configuration.
//
// The billing service uses Redis for the shared rate limiter buckets, so
// every API replica throttles payment attempts against the same counters.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Connect retries the initial ping with a linearly growing delay; Healthcheck
// plugs the client into the readiness probe.
package redis
