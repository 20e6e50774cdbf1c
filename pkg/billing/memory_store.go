package billing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is an in-memory Store for tests and local development.
type memoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Subscription
	bySub map[string]uuid.UUID
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		byID:  make(map[uuid.UUID]*Subscription),
		bySub: make(map[string]uuid.UUID),
	}
}

func (m *memoryStore) GetByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySub[providerSubID]
	if !ok || providerSubID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(m.byID[id]), nil
}

func (m *memoryStore) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.byID {
		if sub.AccountID == accountID {
			out = append(out, cloneSubscription(sub))
		}
	}
	slices.SortFunc(out, func(a, b *Subscription) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (m *memoryStore) Save(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneSubscription(sub)
	if prev, ok := m.byID[sub.ID]; ok && prev.SubscriptionID != "" && prev.SubscriptionID != sub.SubscriptionID {
		delete(m.bySub, prev.SubscriptionID)
	}
	m.byID[sub.ID] = stored
	if sub.SubscriptionID != "" {
		m.bySub[sub.SubscriptionID] = sub.ID
	}
	return nil
}

// cloneSubscription deep-copies a record so callers cannot mutate stored state.
func cloneSubscription(s *Subscription) *Subscription {
	out := *s
	out.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	out.CancelAt = cloneTime(s.CancelAt)
	out.CanceledAt = cloneTime(s.CanceledAt)
	out.StartedAt = cloneTime(s.StartedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
