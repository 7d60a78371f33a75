package billingtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/internal/billing"
)

// Roles records grants and revokes as a set of roles per user.
type Roles struct {
	mu      sync.Mutex
	roles   map[uuid.UUID]map[string]bool
	grants  int
	revokes int
	err     error
}

var _ billing.Capabilities = (*Roles)(nil)

// NewRoles returns a role service with no grants.
func NewRoles() *Roles {
	return &Roles{roles: make(map[uuid.UUID]map[string]bool)}
}

// Fail makes subsequent calls return err. A nil err restores normal behavior.
func (r *Roles) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Roles) Grant(_ context.Context, userID uuid.UUID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants++
	if r.err != nil {
		return r.err
	}
	if r.roles[userID] == nil {
		r.roles[userID] = make(map[string]bool)
	}
	r.roles[userID][role] = true
	return nil
}

func (r *Roles) Revoke(_ context.Context, userID uuid.UUID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokes++
	if r.err != nil {
		return r.err
	}
	delete(r.roles[userID], role)
	return nil
}

// Has reports whether userID currently holds role.
func (r *Roles) Has(userID uuid.UUID, role string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[userID][role]
}

// Counts returns the number of grant and revoke calls, failed ones included.
func (r *Roles) Counts() (grants, revokes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grants, r.revokes
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceDays moves the clock forward by n calendar days.
func (c *Clock) AdvanceDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.AddDate(0, 0, n)
}
