package store

import (
	"context"
	"sync"
	"time"

	"github.com/gasramp-hq/gasramp/pkg/models"
)

// entry pairs a record with the mutex serializing its transitions
type entry struct {
	mu     sync.Mutex
	intent *models.PaymentIntent
}

// MemoryStore is an in-process Store implementation. Records are retained
// until shutdown; deployments that need durability across restarts use
// PostgresStore instead.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory intent store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*entry),
	}
}

func (s *MemoryStore) Create(_ context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.intents[intent.ID]; ok {
		existing.mu.Lock()
		defer existing.mu.Unlock()
		return existing.intent.Clone(), ErrDuplicateIntent
	}

	record := intent.Clone()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.intents[intent.ID] = &entry{intent: record}
	return record.Clone(), nil
}

func (s *MemoryStore) Transition(_ context.Context, id string, event models.Event) (*models.PaymentIntent, bool, error) {
	s.mu.RLock()
	e, ok := s.intents[id]
	s.mu.RUnlock()

	if !ok {
		return nil, false, ErrUnknownIntent
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	applied, err := models.Apply(e.intent, event)
	if err != nil {
		return nil, false, err
	}
	return e.intent.Clone(), applied, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.PaymentIntent, error) {
	s.mu.RLock()
	e, ok := s.intents[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrUnknownIntent
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intent.Clone(), nil
}

func (s *MemoryStore) Unsettled(_ context.Context) ([]*models.PaymentIntent, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.intents))
	for _, e := range s.intents {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var records []*models.PaymentIntent
	for _, e := range entries {
		e.mu.Lock()
		if e.intent.State == models.StateConfirmed || e.intent.State == models.StateDisbursing {
			records = append(records, e.intent.Clone())
		}
		e.mu.Unlock()
	}
	return records, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
