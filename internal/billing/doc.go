// Package billing implements the order and subscription lifecycle of the
// subscription service.
//
// Two entry points share one engine:
//
//   - Service serves user requests: buy a plan, confirm a payment, cancel
//     auto-renewal, refund the unused part of the current cycle.
//   - Reconciler runs from the scheduler: it polls the payment processor for
//     in-flight orders and refunds, renews expiring subscriptions, expires
//     lapsed ones and starts prepaid cycles.
//
// Allowed status changes are declared as transition tables (see status.go).
// Every write is a compare-and-set on the status the engine read, so
// overlapping sweeps and request handlers cannot apply the same change twice;
// the loser sees ErrStaleState and treats it as done.
//
// Storage, the payment processor and the role service are reached through the
// Store, Gateway and Capabilities interfaces. In-memory implementations for
// tests live in the billingtest subpackage.
package billing
