package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/state"
	"github.com/TheMichaelB/booktu/internal/transport"
)

// DefaultTTL is how long a snapshot counts as fresh.
const DefaultTTL = time.Hour

// Remote catalog endpoints.
const (
	booksPath          = "/books/all"
	establishmentsPath = "/establishments/all"
)

// Snapshot is an immutable copy of the remote catalog.
type Snapshot struct {
	Books          []models.Book
	Establishments []models.Establishment
	RefreshedAt    time.Time
}

// Stale reports whether the snapshot has outlived ttl. A snapshot that was
// never refreshed is always stale.
func (s *Snapshot) Stale(now time.Time, ttl time.Duration) bool {
	if s.RefreshedAt.IsZero() {
		return true
	}
	return !now.Before(s.RefreshedAt.Add(ttl))
}

// Option is a functional option for Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// Cache serves catalog lookups from a local snapshot. Readers always see
// either the old or the new snapshot, never a mix of the two lists.
type Cache struct {
	transport transport.Transport
	store     state.Store
	logger    *events.Logger
	ttl       time.Duration
	now       func() time.Time

	current atomic.Pointer[Snapshot]

	// refreshMu serializes fetches so concurrent callers share one request.
	refreshMu sync.Mutex
}

// NewCache creates a catalog cache with an empty snapshot.
func NewCache(transport transport.Transport, store state.Store, logger *events.Logger, opts ...Option) *Cache {
	c := &Cache{
		transport: transport,
		store:     store,
		logger:    logger.WithField("service", "catalog"),
		ttl:       DefaultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&Snapshot{})
	return c
}

// Load reads the persisted snapshot into memory.
func (c *Cache) Load() error {
	var (
		books          []models.Book
		establishments []models.Establishment
		refreshedAt    time.Time
	)

	if _, err := state.LoadJSON(c.store, state.KeyBooks, &books); err != nil {
		return fmt.Errorf("load books: %w", err)
	}
	if _, err := state.LoadJSON(c.store, state.KeyEstablishments, &establishments); err != nil {
		return fmt.Errorf("load establishments: %w", err)
	}
	if _, err := state.LoadJSON(c.store, state.KeyRefreshedAt, &refreshedAt); err != nil {
		return fmt.Errorf("load refresh timestamp: %w", err)
	}

	c.current.Store(&Snapshot{
		Books:          books,
		Establishments: establishments,
		RefreshedAt:    refreshedAt,
	})

	c.logger.WithFields(map[string]interface{}{
		"books":          len(books),
		"establishments": len(establishments),
		"refreshed_at":   refreshedAt,
	}).Debug("Loaded catalog snapshot")

	return nil
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// RefreshIfStale fetches the catalog when the snapshot has expired. Fetch
// failures are logged and the previous snapshot stays in place.
func (c *Cache) RefreshIfStale(ctx context.Context) *Snapshot {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap := c.current.Load()
	if !snap.Stale(c.now(), c.ttl) {
		return snap
	}

	if err := c.refreshLocked(ctx); err != nil {
		c.logger.WithError(err).Warn("Catalog refresh failed, serving cached snapshot")
	}
	return c.current.Load()
}

// Refresh fetches the catalog regardless of TTL.
func (c *Cache) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	return c.refreshLocked(ctx)
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	c.logger.Debug("Fetching catalog")

	var (
		books          []models.Book
		establishments []models.Establishment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.transport.GetJSON(gctx, booksPath, nil, &books); err != nil {
			return fmt.Errorf("fetch books: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.transport.GetJSON(gctx, establishmentsPath, nil, &establishments); err != nil {
			return fmt.Errorf("fetch establishments: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	snap := &Snapshot{
		Books:          books,
		Establishments: establishments,
		RefreshedAt:    c.now(),
	}

	if err := c.persist(snap); err != nil {
		return err
	}
	c.current.Store(snap)

	c.logger.WithFields(map[string]interface{}{
		"books":          len(books),
		"establishments": len(establishments),
	}).Info("Catalog refreshed")

	return nil
}

// persist writes all three keys as one update.
func (c *Cache) persist(snap *Snapshot) error {
	values := make(map[string][]byte, 3)
	for key, v := range map[string]interface{}{
		state.KeyBooks:          snap.Books,
		state.KeyEstablishments: snap.Establishments,
		state.KeyRefreshedAt:    snap.RefreshedAt,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return &models.StorageError{Op: "encode", Key: key, Err: err}
		}
		values[key] = data
	}

	if err := c.store.SetMany(values); err != nil {
		return &models.StorageError{Op: "write", Key: state.KeyBooks, Err: err}
	}
	return nil
}

// LookupBook finds a book in the current snapshot.
func (c *Cache) LookupBook(id string) (models.Book, bool) {
	for _, book := range c.current.Load().Books {
		if book.ID == id {
			return book, true
		}
	}
	return models.Book{}, false
}

// LookupEstablishment finds an establishment in the current snapshot.
func (c *Cache) LookupEstablishment(id string) (models.Establishment, bool) {
	for _, est := range c.current.Load().Establishments {
		if est.ID == id {
			return est, true
		}
	}
	return models.Establishment{}, false
}

// SearchBooks returns cached books whose title contains query, ignoring
// case. An empty query returns every cached book.
func (c *Cache) SearchBooks(query string) []models.Book {
	books := c.current.Load().Books

	query = strings.TrimSpace(query)
	if query == "" {
		return append([]models.Book(nil), books...)
	}

	fold := cases.Fold()
	needle := fold.String(query)

	var out []models.Book
	for _, book := range books {
		if strings.Contains(fold.String(book.Title), needle) {
			out = append(out, book)
		}
	}
	return out
}

// SelectOption pairs a display label with an establishment id.
type SelectOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ListSelectableEstablishments builds selector options from cached
// establishments whose name contains query. The establishment currentID,
// when non-empty, is always part of the result so an edit never loses its
// selection; it is labelled by its id if the cache no longer knows it.
func (c *Cache) ListSelectableEstablishments(query, currentID string) []SelectOption {
	establishments := c.current.Load().Establishments

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(query))

	var (
		out          []SelectOption
		foundCurrent bool
		current      *models.Establishment
	)
	for i := range establishments {
		est := &establishments[i]
		if est.ID == currentID {
			current = est
		}
		if needle != "" && !strings.Contains(fold.String(est.Name), needle) {
			continue
		}
		if est.ID == currentID {
			foundCurrent = true
		}
		out = append(out, SelectOption{Label: est.Name, Value: est.ID})
	}

	if currentID == "" || foundCurrent {
		return out
	}

	pinned := SelectOption{Label: currentID, Value: currentID}
	if current != nil {
		pinned.Label = current.Name
	}
	return append([]SelectOption{pinned}, out...)
}
