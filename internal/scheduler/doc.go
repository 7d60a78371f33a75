// Package scheduler is the periodic trigger of the reconciliation sweeps. It
// calls the scheduler endpoints of a running billing API on fixed cadences:
//
//	orders          POST /scheduler/orders/processing/check
//	refunds         POST /scheduler/refunds/processing/check
//	subscriptions   POST /scheduler/subscriptions/expired/disable
//	                POST /scheduler/subscriptions/preactive/enable
//	                POST /scheduler/subscriptions/automatic/renew
//
// A job that fails waits exponentially longer before the next run, capped at
// Config.MaxBackoff, and returns to its normal cadence after a success. Jobs
// never overlap with themselves; the API tolerates overlap between jobs.
package scheduler
