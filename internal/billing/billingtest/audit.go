package billingtest

import (
	"context"
	"sync"

	"github.com/dmitrymomot/billing/pkg/audit"
)

// AuditLog keeps audit events in memory in the order they were stored.
type AuditLog struct {
	mu     sync.Mutex
	events []audit.Event
}

var _ audit.Storage = (*AuditLog)(nil)

// NewAuditLog returns an empty event log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Store(_ context.Context, e audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	return nil
}

// ListByResource returns the events recorded against one resource, oldest first.
func (a *AuditLog) ListByResource(_ context.Context, resource, resourceID string) ([]audit.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Event
	for _, e := range a.events {
		if e.Resource == resource && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Actions returns the actions recorded against resourceID, oldest first.
func (a *AuditLog) Actions(resourceID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.events {
		if e.ResourceID == resourceID {
			out = append(out, e.Action)
		}
	}
	return out
}

// Find returns the first event with action recorded against resourceID.
func (a *AuditLog) Find(action, resourceID string) (audit.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.Action == action && e.ResourceID == resourceID {
			return e, true
		}
	}
	return audit.Event{}, false
}
