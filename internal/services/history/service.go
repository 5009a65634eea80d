package history

import (
	"fmt"
	"time"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/state"
)

// DefaultCapacity is the number of recently opened inventories kept.
const DefaultCapacity = 3

// Service keeps the recently opened inventories for the dashboard.
type Service struct {
	store    state.Store
	logger   *events.Logger
	capacity int
	now      func() time.Time
}

// NewService creates a history service. A capacity below one falls back to
// DefaultCapacity.
func NewService(store state.Store, capacity int, logger *events.Logger) *Service {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Service{
		store:    store,
		logger:   logger.WithField("service", "history"),
		capacity: capacity,
		now:      time.Now,
	}
}

// SetClock replaces time.Now. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Record moves inv to the head with a fresh access time.
func (s *Service) Record(inv models.Inventory) error {
	var evicted []models.HistoryEntry
	err := s.mutate(func(d *Deque[models.HistoryEntry]) bool {
		d.RemoveFunc(func(e models.HistoryEntry) bool { return e.ID == inv.ID })
		evicted = d.PushFront(models.HistoryEntry{Inventory: inv, AccessedAt: s.now()})
		return true
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", inv.ID, err)
	}

	for _, e := range evicted {
		s.logger.WithField("inventory_id", e.ID).Debug("Evicted from history")
	}
	return nil
}

// Remove drops an inventory from the history.
func (s *Service) Remove(id string) error {
	err := s.mutate(func(d *Deque[models.HistoryEntry]) bool {
		return d.RemoveFunc(func(e models.HistoryEntry) bool { return e.ID == id }) > 0
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

// List returns entries, most recent first.
func (s *Service) List() ([]models.HistoryEntry, error) {
	d, err := s.load()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return d.Items(), nil
}

// Clear empties the history.
func (s *Service) Clear() error {
	unlock, err := s.store.Lock(state.KeyInventoryHistory)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	defer unlock()

	if err := s.store.Delete(state.KeyInventoryHistory); err != nil {
		return fmt.Errorf("clear: %w", &models.StorageError{Op: "delete", Key: state.KeyInventoryHistory, Err: err})
	}
	return nil
}

func (s *Service) mutate(fn func(*Deque[models.HistoryEntry]) bool) error {
	unlock, err := s.store.Lock(state.KeyInventoryHistory)
	if err != nil {
		return err
	}
	defer unlock()

	d, err := s.load()
	if err != nil {
		return err
	}

	if !fn(d) {
		return nil
	}
	return state.SaveJSON(s.store, state.KeyInventoryHistory, d.Items())
}

// load rebuilds the deque from storage. A stored list longer than the
// capacity is truncated from the tail.
func (s *Service) load() (*Deque[models.HistoryEntry], error) {
	var entries []models.HistoryEntry
	if _, err := state.LoadJSON(s.store, state.KeyInventoryHistory, &entries); err != nil {
		return nil, err
	}

	d := NewDeque[models.HistoryEntry](s.capacity)
	for i := len(entries) - 1; i >= 0; i-- {
		d.PushFront(entries[i])
	}
	return d, nil
}
