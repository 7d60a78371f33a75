package scheduler

import (
	"net/http"
	"time"
)

// Job is a named list of calls made in order on every run. A failing call
// ends the run.
type Job struct {
	Name     string
	Interval time.Duration
	Calls    []Call
}

type Call struct {
	Method string
	Path   string // relative to Config.BaseURL
}

// DefaultJobs are the three sweep cadences. Subscriptions disable expired
// cycles before enabling the next ones so role revokes precede grants.
func DefaultJobs(cfg Config) []Job {
	return []Job{
		{
			Name:     "orders",
			Interval: cfg.OrdersInterval,
			Calls:    []Call{{http.MethodPost, "/scheduler/orders/processing/check"}},
		},
		{
			Name:     "refunds",
			Interval: cfg.RefundsInterval,
			Calls:    []Call{{http.MethodPost, "/scheduler/refunds/processing/check"}},
		},
		{
			Name:     "subscriptions",
			Interval: cfg.SubscriptionsInterval,
			Calls: []Call{
				{http.MethodPost, "/scheduler/subscriptions/expired/disable"},
				{http.MethodPost, "/scheduler/subscriptions/preactive/enable"},
				{http.MethodPost, "/scheduler/subscriptions/automatic/renew"},
			},
		},
	}
}
