package billingtest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billing/internal/billing"
)

type txKey struct{}

type orderRow struct {
	seq   int
	order billing.Order
}

type subRow struct {
	seq int
	sub billing.UserSubscription
}

type methodRow struct {
	seq    int
	method billing.PaymentMethod
}

// MemoryStore is an in-memory billing.Store enforcing the same uniqueness rules
// as the Postgres schema. Transactions are serialized and rolled back by
// restoring a snapshot.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int
	now     func() time.Time
	plans   map[uuid.UUID]billing.Plan
	methods map[uuid.UUID]methodRow
	orders  map[uuid.UUID]orderRow
	subs    map[uuid.UUID]subRow
}

var _ billing.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		plans:   make(map[uuid.UUID]billing.Plan),
		methods: make(map[uuid.UUID]methodRow),
		orders:  make(map[uuid.UUID]orderRow),
		subs:    make(map[uuid.UUID]subRow),
	}
}

// SetClock replaces the time source used for created_at and updated_at.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// lock takes the store lock unless ctx already runs inside InTx, which holds it.
func (s *MemoryStore) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) nextSeq() int {
	s.seq++
	return s.seq
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plans, methods := maps.Clone(s.plans), maps.Clone(s.methods)
	orders, subs := maps.Clone(s.orders), maps.Clone(s.subs)

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.plans, s.methods, s.orders, s.subs = plans, methods, orders, subs
		return err
	}
	return nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, id uuid.UUID) (*billing.Plan, error) {
	defer s.lock(ctx)()
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: plan %s", billing.ErrNotFound, id)
	}
	return &p, nil
}

func (s *MemoryStore) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	defer s.lock(ctx)()
	out := slices.Collect(maps.Values(s.plans))
	slices.SortFunc(out, func(a, b billing.Plan) int {
		if c := a.Price.Cmp(b.Price); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SavePlan(ctx context.Context, p *billing.Plan) error {
	defer s.lock(ctx)()
	for id, existing := range s.plans {
		if existing.Title == p.Title && existing.Period == p.Period && existing.Tier == p.Tier {
			p.ID = id
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = s.now()
			s.plans[id] = *p
			return nil
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.plans[p.ID] = *p
	return nil
}

func (s *MemoryStore) CreatePaymentMethod(ctx context.Context, m *billing.PaymentMethod) error {
	defer s.lock(ctx)()
	if _, ok := s.methods[m.ID]; ok {
		return fmt.Errorf("%w: payment method %s exists", billing.ErrConflict, m.ID)
	}
	s.methods[m.ID] = methodRow{seq: s.nextSeq(), method: *m}
	return nil
}

func (s *MemoryStore) LastPaymentMethod(ctx context.Context, userID uuid.UUID) (*billing.PaymentMethod, error) {
	defer s.lock(ctx)()
	var last *methodRow
	for _, row := range s.methods {
		if row.method.UserID != userID {
			continue
		}
		if last == nil || row.seq > last.seq {
			r := row
			last = &r
		}
	}
	if last == nil {
		return nil, fmt.Errorf("%w: no payment method for user %s", billing.ErrNotFound, userID)
	}
	m := last.method
	return &m, nil
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *billing.Order) error {
	defer s.lock(ctx)()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s exists", billing.ErrConflict, o.ID)
	}
	if err := s.checkOrder(*o); err != nil {
		return err
	}
	s.orders[o.ID] = orderRow{seq: s.nextSeq(), order: cloneOrder(*o)}
	return nil
}

// checkOrder mirrors the unique indexes on orders.
func (s *MemoryStore) checkOrder(o billing.Order) error {
	for id, row := range s.orders {
		if id == o.ID {
			continue
		}
		other := row.order
		if o.ExternalID != "" && other.ExternalID == o.ExternalID {
			return fmt.Errorf("%w: external id %q taken", billing.ErrConflict, o.ExternalID)
		}
		if isOpenPurchase(o) && isOpenPurchase(other) && other.UserID == o.UserID {
			return fmt.Errorf("%w: user %s has an open order", billing.ErrConflict, o.UserID)
		}
		if o.ParentID != nil && other.ParentID != nil && *o.ParentID == *other.ParentID &&
			o.Refund == other.Refund && o.Status != billing.OrderError && other.Status != billing.OrderError {
			return fmt.Errorf("%w: parent %s already has a child order", billing.ErrConflict, *o.ParentID)
		}
	}
	return nil
}

// isOpenPurchase covers first purchases and renewals alike.
func isOpenPurchase(o billing.Order) bool {
	return !o.Refund && (o.Status == billing.OrderCreated || o.Status == billing.OrderProgress)
}

func (s *MemoryStore) GetOrder(ctx context.Context, id uuid.UUID) (*billing.Order, error) {
	defer s.lock(ctx)()
	row, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", billing.ErrNotFound, id)
	}
	o := s.hydrateOrder(row.order)
	return &o, nil
}

func (s *MemoryStore) GetOrderByExternalID(ctx context.Context, externalID string) (*billing.Order, error) {
	defer s.lock(ctx)()
	for _, row := range s.orders {
		if externalID != "" && row.order.ExternalID == externalID {
			o := s.hydrateOrder(row.order)
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: order with external id %q", billing.ErrNotFound, externalID)
}

func (s *MemoryStore) ListOrders(ctx context.Context, f billing.OrderFilter) ([]billing.Order, error) {
	defer s.lock(ctx)()
	rows := slices.Collect(maps.Values(s.orders))
	slices.SortFunc(rows, func(a, b orderRow) int {
		if f.NewestFirst {
			return b.seq - a.seq
		}
		return a.seq - b.seq
	})

	var out []billing.Order
	for _, row := range rows {
		if !matchOrder(f, row.order) {
			continue
		}
		out = append(out, s.hydrateOrder(row.order))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matchOrder(f billing.OrderFilter, o billing.Order) bool {
	switch {
	case f.UserID != nil && o.UserID != *f.UserID,
		f.PlanID != nil && o.Plan.ID != *f.PlanID,
		f.ParentID != nil && (o.ParentID == nil || *o.ParentID != *f.ParentID),
		f.Refund != nil && o.Refund != *f.Refund,
		len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status),
		f.ExternalID != "" && o.ExternalID != f.ExternalID,
		f.CreatedBefore != nil && !o.CreatedAt.Before(*f.CreatedBefore):
		return false
	}
	return true
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, id uuid.UUID, expected billing.OrderStatus, patch billing.OrderPatch) error {
	defer s.lock(ctx)()
	row, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", billing.ErrNotFound, id)
	}
	if row.order.Status != expected {
		return fmt.Errorf("%w: order %s is %s, expected %s", billing.ErrStaleState, id, row.order.Status, expected)
	}

	o := row.order
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.ExternalID != nil {
		o.ExternalID = *patch.ExternalID
	}
	if patch.PollAttempts != nil {
		o.PollAttempts = *patch.PollAttempts
	}
	if patch.FailureReason != nil {
		o.FailureReason = *patch.FailureReason
	}
	o.UpdatedAt = s.now()

	if err := s.checkOrder(o); err != nil {
		return err
	}
	row.order = o
	s.orders[id] = row
	return nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *billing.UserSubscription) error {
	defer s.lock(ctx)()
	if _, ok := s.subs[sub.ID]; ok {
		return fmt.Errorf("%w: subscription %s exists", billing.ErrConflict, sub.ID)
	}
	if err := s.checkSubscription(*sub); err != nil {
		return err
	}
	s.subs[sub.ID] = subRow{seq: s.nextSeq(), sub: *sub}
	return nil
}

// checkSubscription mirrors the unique indexes on user_subscriptions.
func (s *MemoryStore) checkSubscription(sub billing.UserSubscription) error {
	for id, row := range s.subs {
		if id == sub.ID || row.sub.UserID != sub.UserID {
			continue
		}
		if sub.Status.Entitled() && row.sub.Status.Entitled() {
			return fmt.Errorf("%w: user %s already holds a subscription", billing.ErrConflict, sub.UserID)
		}
		if sub.Status == billing.SubscriptionPreactive && row.sub.Status == billing.SubscriptionPreactive {
			return fmt.Errorf("%w: user %s already has a prepaid cycle", billing.ErrConflict, sub.UserID)
		}
	}
	return nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context, f billing.SubscriptionFilter) ([]billing.UserSubscription, error) {
	defer s.lock(ctx)()
	return s.listSubscriptions(f), nil
}

func (s *MemoryStore) listSubscriptions(f billing.SubscriptionFilter) []billing.UserSubscription {
	rows := slices.Collect(maps.Values(s.subs))
	slices.SortFunc(rows, func(a, b subRow) int {
		if c := a.sub.StartDate.Compare(b.sub.StartDate); c != 0 {
			return c
		}
		return a.seq - b.seq
	})

	var out []billing.UserSubscription
	for _, row := range rows {
		sub := s.hydrateSubscription(row.sub)
		if matchSubscription(f, sub) {
			out = append(out, sub)
		}
	}
	return out
}

func matchSubscription(f billing.SubscriptionFilter, s billing.UserSubscription) bool {
	switch {
	case f.UserID != nil && s.UserID != *f.UserID,
		f.PlanID != nil && s.Plan.ID != *f.PlanID,
		f.OrderID != nil && s.OrderID != *f.OrderID,
		len(f.Statuses) > 0 && !slices.Contains(f.Statuses, s.Status),
		f.Automatic != nil && s.Plan.Automatic != *f.Automatic,
		f.EndDate != nil && !s.EndDate.Equal(*f.EndDate),
		f.EndDateOnOrBefore != nil && s.EndDate.After(*f.EndDateOnOrBefore),
		f.StartDateOnOrBefore != nil && s.StartDate.After(*f.StartDateOnOrBefore):
		return false
	}
	return true
}

func (s *MemoryStore) UpdateSubscription(ctx context.Context, id uuid.UUID, expected []billing.SubscriptionStatus, patch billing.SubscriptionPatch) error {
	defer s.lock(ctx)()
	row, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("%w: subscription %s", billing.ErrNotFound, id)
	}
	if !slices.Contains(expected, row.sub.Status) {
		return fmt.Errorf("%w: subscription %s is %s", billing.ErrStaleState, id, row.sub.Status)
	}

	sub := row.sub
	if patch.Status != nil {
		sub.Status = *patch.Status
	}
	if patch.RefundRequestedAt != nil {
		sub.RefundRequestedAt = patch.RefundRequestedAt
	}
	if patch.RefundConfirmedAt != nil {
		sub.RefundConfirmedAt = patch.RefundConfirmedAt
	}
	sub.UpdatedAt = s.now()

	if err := s.checkSubscription(sub); err != nil {
		return err
	}
	row.sub = sub
	s.subs[id] = row
	return nil
}

func (s *MemoryStore) TransitionSubscriptions(ctx context.Context, f billing.SubscriptionFilter, to billing.SubscriptionStatus) ([]billing.UserSubscription, error) {
	defer s.lock(ctx)()
	matched := s.listSubscriptions(f)
	for _, sub := range matched {
		row := s.subs[sub.ID]
		row.sub.Status = to
		row.sub.UpdatedAt = s.now()
		s.subs[sub.ID] = row
	}
	// Returned rows keep their previous status so callers can report the change.
	return matched, nil
}

func (s *MemoryStore) hydrateOrder(o billing.Order) billing.Order {
	o = cloneOrder(o)
	if p, ok := s.plans[o.Plan.ID]; ok {
		o.Plan = p
	}
	return o
}

func (s *MemoryStore) hydrateSubscription(sub billing.UserSubscription) billing.UserSubscription {
	if p, ok := s.plans[sub.Plan.ID]; ok {
		sub.Plan = p
	}
	return sub
}

func cloneOrder(o billing.Order) billing.Order {
	if o.PaymentMethod != nil {
		m := *o.PaymentMethod
		o.PaymentMethod = &m
	}
	if o.ParentID != nil {
		id := *o.ParentID
		o.ParentID = &id
	}
	return o
}
