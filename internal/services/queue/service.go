package queue

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/state"
)

// Resolver looks up catalog snapshots to embed into queued drafts.
type Resolver interface {
	LookupBook(id string) (models.Book, bool)
	LookupEstablishment(id string) (models.Establishment, bool)
}

// Option is a functional option for Service.
type Option func(*Service)

// WithIDGenerator replaces the temporary id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// Service owns the offline inventory queue. Every public operation is one
// locked read-modify-write of the persisted list.
type Service struct {
	store    state.Store
	resolver Resolver
	logger   *events.Logger
	newID    func() string
}

// NewService creates a queue service.
func NewService(store state.Store, resolver Resolver, logger *events.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		logger:   logger.WithField("service", "queue"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue stores a new draft and returns it.
func (s *Service) Enqueue(establishmentID string, lines []models.LineItem) (*models.PendingInventory, error) {
	if err := validateDraft(establishmentID, lines); err != nil {
		return nil, err
	}

	entry := models.PendingInventory{
		TemporaryID:     s.newID(),
		EstablishmentID: establishmentID,
		Establishment:   s.resolveEstablishment(establishmentID),
		Books:           s.resolveLines(lines),
		Status:          models.StatusUnprocessed,
		Errors:          []models.ValidationError{},
	}
	entry.TotalQuantity = models.TotalQuantity(entry.Books)

	err := s.mutate(func(list []models.PendingInventory) ([]models.PendingInventory, error) {
		for _, existing := range list {
			if existing.TemporaryID == entry.TemporaryID {
				return nil, fmt.Errorf("temporary id %s already queued", entry.TemporaryID)
			}
		}
		return append(list, entry), nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"temporary_id":     entry.TemporaryID,
		"establishment_id": establishmentID,
		"total_quantity":   entry.TotalQuantity,
	}).Info("Queued inventory")

	out := entry.Clone()
	return &out, nil
}

// Update replaces the establishment and lines of a queued draft and clears
// its validation errors.
func (s *Service) Update(temporaryID, establishmentID string, lines []models.LineItem) (*models.PendingInventory, error) {
	if err := validateDraft(establishmentID, lines); err != nil {
		return nil, err
	}

	var updated models.PendingInventory
	err := s.mutate(func(list []models.PendingInventory) ([]models.PendingInventory, error) {
		i := indexOf(list, temporaryID)
		if i < 0 {
			return nil, &models.NotFoundError{Kind: "pending inventory", ID: temporaryID}
		}

		entry := list[i].Clone()
		if entry.EstablishmentID != establishmentID {
			entry.EstablishmentID = establishmentID
			entry.Establishment = s.resolveEstablishment(establishmentID)
		}
		entry.Books = s.resolveLines(lines)
		entry.TotalQuantity = models.TotalQuantity(entry.Books)
		entry.Errors = []models.ValidationError{}

		list[i] = entry
		updated = entry
		return list, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", temporaryID, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"temporary_id":   temporaryID,
		"total_quantity": updated.TotalQuantity,
	}).Info("Updated queued inventory")

	out := updated.Clone()
	return &out, nil
}

// Remove deletes a draft. Removing an unknown id is a no-op.
func (s *Service) Remove(temporaryID string) error {
	removed := false
	err := s.mutate(func(list []models.PendingInventory) ([]models.PendingInventory, error) {
		i := indexOf(list, temporaryID)
		if i < 0 {
			return nil, nil
		}
		removed = true
		return append(list[:i], list[i+1:]...), nil
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", temporaryID, err)
	}

	if removed {
		s.logger.WithField("temporary_id", temporaryID).Debug("Removed queued inventory")
	}
	return nil
}

// ApplySyncError replaces the validation errors of a draft.
func (s *Service) ApplySyncError(temporaryID string, errs []models.ValidationError) error {
	clean := make([]models.ValidationError, 0, len(errs))
	for _, e := range errs {
		if e.ID == "" || !e.Kind.Valid() {
			continue
		}
		clean = append(clean, e)
	}

	err := s.mutate(func(list []models.PendingInventory) ([]models.PendingInventory, error) {
		i := indexOf(list, temporaryID)
		if i < 0 {
			return nil, &models.NotFoundError{Kind: "pending inventory", ID: temporaryID}
		}
		list[i].Errors = clean
		return list, nil
	})
	if err != nil {
		return fmt.Errorf("apply sync error %s: %w", temporaryID, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"temporary_id": temporaryID,
		"errors":       len(clean),
	}).Info("Attached validation errors")
	return nil
}

// List returns all drafts, oldest first.
func (s *Service) List() ([]models.PendingInventory, error) {
	var list []models.PendingInventory
	if _, err := state.LoadJSON(s.store, state.KeyOfflineInventories, &list); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return normalize(list), nil
}

// Eligible returns the drafts that carry no validation errors.
func (s *Service) Eligible() ([]models.PendingInventory, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}

	out := make([]models.PendingInventory, 0, len(list))
	for _, entry := range list {
		if !entry.HasErrors() {
			out = append(out, entry)
		}
	}
	return out, nil
}

// AwaitingFix counts drafts held back by validation errors.
func (s *Service) AwaitingFix() (int, error) {
	list, err := s.List()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, entry := range list {
		if entry.HasErrors() {
			n++
		}
	}
	return n, nil
}

// Get returns one draft.
func (s *Service) Get(temporaryID string) (*models.PendingInventory, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}

	i := indexOf(list, temporaryID)
	if i < 0 {
		return nil, &models.NotFoundError{Kind: "pending inventory", ID: temporaryID}
	}
	return &list[i], nil
}

// Len returns the number of queued drafts.
func (s *Service) Len() (int, error) {
	list, err := s.List()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Clear drops every draft.
func (s *Service) Clear() error {
	unlock, err := s.store.Lock(state.KeyOfflineInventories)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	defer unlock()

	if err := s.store.Delete(state.KeyOfflineInventories); err != nil {
		return fmt.Errorf("clear: %w", &models.StorageError{Op: "delete", Key: state.KeyOfflineInventories, Err: err})
	}

	s.logger.Info("Cleared offline queue")
	return nil
}

// mutate runs fn against the persisted list under the key lock. A nil list
// from fn means nothing changed and skips the write.
func (s *Service) mutate(fn func([]models.PendingInventory) ([]models.PendingInventory, error)) error {
	unlock, err := s.store.Lock(state.KeyOfflineInventories)
	if err != nil {
		return err
	}
	defer unlock()

	var list []models.PendingInventory
	if _, err := state.LoadJSON(s.store, state.KeyOfflineInventories, &list); err != nil {
		return err
	}

	next, err := fn(normalize(list))
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	return state.SaveJSON(s.store, state.KeyOfflineInventories, next)
}

func (s *Service) resolveEstablishment(id string) models.Establishment {
	if s.resolver != nil {
		if est, ok := s.resolver.LookupEstablishment(id); ok {
			return est
		}
	}
	s.logger.WithField("establishment_id", id).Warn("Establishment not in catalog, storing id only")
	return models.Establishment{ID: id}
}

func (s *Service) resolveLines(lines []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, len(lines))
	for i, line := range lines {
		out[i] = line
		if line.Book.ID == line.BookID {
			continue
		}
		out[i].Book = models.Book{ID: line.BookID}
		if s.resolver != nil {
			if book, ok := s.resolver.LookupBook(line.BookID); ok {
				out[i].Book = book
			}
		}
	}
	return out
}

func validateDraft(establishmentID string, lines []models.LineItem) error {
	if strings.TrimSpace(establishmentID) == "" {
		return fmt.Errorf("%w: establishment is required", models.ErrInvalidInventory)
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one book is required", models.ErrInvalidInventory)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.BookID) == "" {
			return fmt.Errorf("%w: book id is required", models.ErrInvalidInventory)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for book %s must be positive", models.ErrInvalidInventory, line.BookID)
		}
	}
	return nil
}

func indexOf(list []models.PendingInventory, temporaryID string) int {
	for i := range list {
		if list[i].TemporaryID == temporaryID {
			return i
		}
	}
	return -1
}

// normalize returns a non-nil list whose entries all carry non-nil errors.
func normalize(list []models.PendingInventory) []models.PendingInventory {
	if list == nil {
		return []models.PendingInventory{}
	}
	for i := range list {
		if list[i].Errors == nil {
			list[i].Errors = []models.ValidationError{}
		}
	}
	return list
}
