package inventories

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/transport"
)

const inventoriesPath = "/inventories"

// Queue accepts drafts that cannot be sent right now.
type Queue interface {
	Enqueue(establishmentID string, lines []models.LineItem) (*models.PendingInventory, error)
}

// History tracks recently opened inventories.
type History interface {
	Record(inv models.Inventory) error
	Remove(id string) error
}

// Connectivity reports whether the device is online.
type Connectivity interface {
	Online() bool
}

// Service talks to the remote inventory API and routes drafts to the
// offline queue when the device cannot reach it.
type Service struct {
	transport    transport.Transport
	queue        Queue
	history      History
	connectivity Connectivity
	logger       *events.Logger
}

// NewService creates an inventory service.
func NewService(
	transport transport.Transport,
	queue Queue,
	history History,
	connectivity Connectivity,
	logger *events.Logger,
) *Service {
	return &Service{
		transport:    transport,
		queue:        queue,
		history:      history,
		connectivity: connectivity,
		logger:       logger.WithField("service", "inventories"),
	}
}

// Draft is an inventory being saved.
type Draft struct {
	EstablishmentID string
	Lines           []models.LineItem
}

// SaveResult tells where a saved draft ended up.
type SaveResult struct {
	// Inventory is set when the server created the inventory.
	Inventory *models.Inventory
	// Pending is set when the draft was queued for a later sync.
	Pending *models.PendingInventory
}

// Queued reports whether the draft went to the offline queue.
func (r *SaveResult) Queued() bool {
	return r.Pending != nil
}

// Save creates the inventory online when connected and queues it
// otherwise. An online attempt that fails in transport is queued too.
func (s *Service) Save(ctx context.Context, draft Draft) (*SaveResult, error) {
	if s.connectivity == nil || s.connectivity.Online() {
		inv, err := s.Create(ctx, draft.EstablishmentID, draft.Lines)
		if err == nil {
			return &SaveResult{Inventory: inv}, nil
		}
		if !models.IsTransportFailure(err) {
			return nil, err
		}
		s.logger.WithError(err).Warn("Online create failed, queueing inventory")
	}

	pending, err := s.queue.Enqueue(draft.EstablishmentID, draft.Lines)
	if err != nil {
		return nil, err
	}
	return &SaveResult{Pending: pending}, nil
}

// Create posts a new inventory.
func (s *Service) Create(ctx context.Context, establishmentID string, lines []models.LineItem) (*models.Inventory, error) {
	var inv models.Inventory
	if err := s.transport.PostJSON(ctx, inventoriesPath, input(establishmentID, lines), &inv); err != nil {
		return nil, fmt.Errorf("create inventory: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"inventory_id":     inv.ID,
		"establishment_id": establishmentID,
	}).Info("Created inventory")
	return &inv, nil
}

// Edit replaces the establishment and lines of a remote inventory.
func (s *Service) Edit(ctx context.Context, id, establishmentID string, lines []models.LineItem) (*models.Inventory, error) {
	var inv models.Inventory
	if err := s.transport.PutJSON(ctx, inventoriesPath+"/"+url.PathEscape(id), input(establishmentID, lines), &inv); err != nil {
		return nil, fmt.Errorf("edit inventory %s: %w", id, err)
	}
	if inv.ID == "" {
		inv.ID = id
	}

	s.logger.WithField("inventory_id", id).Info("Updated inventory")
	return &inv, nil
}

// GetPage fetches one page of an inventory's lines.
func (s *Service) GetPage(ctx context.Context, id string, page int) (*models.InventoryDetail, error) {
	var q url.Values
	if page > 0 {
		q = url.Values{"page": {strconv.Itoa(page)}}
	}

	var detail models.InventoryDetail
	if err := s.transport.GetJSON(ctx, inventoriesPath+"/"+url.PathEscape(id), q, &detail); err != nil {
		return nil, fmt.Errorf("get inventory %s: %w", id, err)
	}
	return &detail, nil
}

// Get fetches one inventory with every page of its lines and records it in
// the history.
func (s *Service) Get(ctx context.Context, id string) (*models.InventoryDetail, error) {
	detail, err := s.GetPage(ctx, id, 1)
	if err != nil {
		return nil, err
	}

	for page := 2; page <= detail.LastPage; page++ {
		next, err := s.GetPage(ctx, id, page)
		if err != nil {
			return nil, err
		}
		if len(next.Books) == 0 {
			break
		}
		detail.Books = append(detail.Books, next.Books...)
	}
	detail.Page = 1
	detail.LastPage = 1

	if s.history != nil {
		if err := s.history.Record(detail.Inventory); err != nil {
			s.logger.WithError(err).Warn("Failed to record inventory in history")
		}
	}
	return detail, nil
}

// ListOptions filters GET /inventories.
type ListOptions struct {
	Page            int
	EstablishmentID string
	Search          string
}

// List fetches one page of inventories.
func (s *Service) List(ctx context.Context, opts ListOptions) (*models.InventoryPage, error) {
	query := url.Values{}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.EstablishmentID != "" {
		query.Set("establishmentId", opts.EstablishmentID)
	}
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}

	var page models.InventoryPage
	if err := s.transport.GetJSON(ctx, inventoriesPath, query, &page); err != nil {
		return nil, fmt.Errorf("list inventories: %w", err)
	}
	return &page, nil
}

// Process marks an inventory as processed.
func (s *Service) Process(ctx context.Context, id string) error {
	if err := s.transport.PostJSON(ctx, inventoriesPath+"/process/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("process inventory %s: %w", id, err)
	}

	s.logger.WithField("inventory_id", id).Info("Processed inventory")
	return nil
}

// Delete removes an inventory remotely and from the history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.transport.Delete(ctx, inventoriesPath+"/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("delete inventory %s: %w", id, err)
	}

	if s.history != nil {
		if err := s.history.Remove(id); err != nil {
			return fmt.Errorf("delete inventory %s: %w", id, err)
		}
	}

	s.logger.WithField("inventory_id", id).Info("Deleted inventory")
	return nil
}

func input(establishmentID string, lines []models.LineItem) models.InventoryInput {
	books := make([]models.SyncBook, 0, len(lines))
	for _, line := range lines {
		books = append(books, models.SyncBook{BookID: line.BookID, Quantity: line.Quantity})
	}
	return models.InventoryInput{
		EstablishmentID: establishmentID,
		TotalQuantity:   models.TotalQuantity(lines),
		InventoryBooks:  books,
	}
}
