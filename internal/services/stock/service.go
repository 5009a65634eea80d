package stock

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/transport"
)

const stocksPath = "/stocks"

// Service reads establishment stock levels.
type Service struct {
	transport transport.Transport
	logger    *events.Logger
}

// NewService creates a stock service.
func NewService(transport transport.Transport, logger *events.Logger) *Service {
	return &Service{
		transport: transport,
		logger:    logger.WithField("service", "stock"),
	}
}

// ListOptions filters GET /stocks.
type ListOptions struct {
	Page            int
	EstablishmentID string
	Search          string
}

// List fetches one page of stock items.
func (s *Service) List(ctx context.Context, opts ListOptions) (*models.StockPage, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.EstablishmentID != "" {
		q.Set("establishmentId", opts.EstablishmentID)
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}

	var page models.StockPage
	if err := s.transport.GetJSON(ctx, stocksPath, q, &page); err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"establishment_id": opts.EstablishmentID,
		"page":             page.Page,
		"items":            len(page.Data),
	}).Debug("Listed stock")
	return &page, nil
}
