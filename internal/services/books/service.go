package books

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/transport"
)

const booksPath = "/books"

// Catalog is the local book snapshot used while offline.
type Catalog interface {
	SearchBooks(query string) []models.Book
}

// Connectivity reports whether the device is online.
type Connectivity interface {
	Online() bool
}

// Service browses the remote book listing.
type Service struct {
	transport    transport.Transport
	catalog      Catalog
	connectivity Connectivity
	logger       *events.Logger
}

// NewService creates a book browsing service. catalog and connectivity may
// be nil, in which case every call goes to the API.
func NewService(transport transport.Transport, catalog Catalog, connectivity Connectivity, logger *events.Logger) *Service {
	return &Service{
		transport:    transport,
		catalog:      catalog,
		connectivity: connectivity,
		logger:       logger.WithField("service", "books"),
	}
}

// ListOptions filters GET /books.
type ListOptions struct {
	Page   int
	Sort   models.BookSort
	Search string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Sort != "" {
		q.Set("sort", string(o.Sort))
	}
	if o.Search != "" {
		q.Set("search", o.Search)
	}
	return q
}

// List fetches one page of books. Offline, or when the request fails in
// transport, it answers from the local catalog as a single cached page.
func (s *Service) List(ctx context.Context, opts ListOptions) (*models.BookPage, error) {
	if s.offline() {
		return s.cachedPage(opts), nil
	}

	var page models.BookPage
	err := s.transport.GetJSON(ctx, booksPath, opts.query(), &page)
	if err == nil {
		return &page, nil
	}
	if s.catalog == nil || !models.IsTransportFailure(err) {
		return nil, fmt.Errorf("list books: %w", err)
	}

	s.logger.WithError(err).Warn("Book listing unreachable, using local catalog")
	return s.cachedPage(opts), nil
}

// Get fetches one book. It needs a connection.
func (s *Service) Get(ctx context.Context, id string) (*models.Book, error) {
	if s.connectivity != nil && !s.connectivity.Online() {
		return nil, models.ErrOffline
	}

	var book models.Book
	if err := s.transport.GetJSON(ctx, booksPath+"/"+url.PathEscape(id), nil, &book); err != nil {
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return &book, nil
}

func (s *Service) offline() bool {
	return s.catalog != nil && s.connectivity != nil && !s.connectivity.Online()
}

func (s *Service) cachedPage(opts ListOptions) *models.BookPage {
	books := s.catalog.SearchBooks(opts.Search)
	SortBooks(books, opts.Sort)
	return &models.BookPage{
		Books:    books,
		Total:    len(books),
		Page:     1,
		LastPage: 1,
		Cached:   true,
	}
}

// SortBooks orders books in place the way the API orders GET /books.
// An empty order leaves them untouched.
func SortBooks(books []models.Book, order models.BookSort) {
	fold := cases.Fold()
	title := func(i int) string { return fold.String(books[i].Title) }

	var less func(i, j int) bool
	switch order {
	case models.SortTitleAsc:
		less = func(i, j int) bool { return strings.Compare(title(i), title(j)) < 0 }
	case models.SortTitleDesc:
		less = func(i, j int) bool { return strings.Compare(title(i), title(j)) > 0 }
	case models.SortPriceAsc:
		less = func(i, j int) bool { return books[i].Price < books[j].Price }
	case models.SortPriceDesc:
		less = func(i, j int) bool { return books[i].Price > books[j].Price }
	case models.SortLatest:
		less = func(i, j int) bool { return books[i].ReleaseYear > books[j].ReleaseYear }
	case models.SortOldest:
		less = func(i, j int) bool { return books[i].ReleaseYear < books[j].ReleaseYear }
	default:
		return
	}
	sort.SliceStable(books, less)
}
