package client

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TheMichaelB/booktu/internal/config"
	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/services/auth"
	"github.com/TheMichaelB/booktu/internal/services/books"
	"github.com/TheMichaelB/booktu/internal/services/catalog"
	"github.com/TheMichaelB/booktu/internal/services/connectivity"
	"github.com/TheMichaelB/booktu/internal/services/history"
	"github.com/TheMichaelB/booktu/internal/services/inventories"
	"github.com/TheMichaelB/booktu/internal/services/queue"
	"github.com/TheMichaelB/booktu/internal/services/stock"
	"github.com/TheMichaelB/booktu/internal/services/sync"
	"github.com/TheMichaelB/booktu/internal/state"
	"github.com/TheMichaelB/booktu/internal/transport"
)

// Client provides the high-level API for Booktu operations.
type Client struct {
	Auth         *auth.Service
	Catalog      *catalog.Cache
	Books        *books.Service
	Stock        *stock.Service
	Queue        *queue.Service
	History      *history.Service
	Connectivity *connectivity.Monitor
	Sync         *sync.Service
	Inventories  *inventories.Service
	Metrics      *prometheus.Registry

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
	store     state.Store
}

// New creates a client backed by the configured storage and the HTTP API.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	store, err := OpenStore(cfg, cfg.Storage.Backend, logger)
	if err != nil {
		return nil, err
	}

	probeURL := cfg.Connectivity.ProbeURL
	if probeURL == "" {
		probeURL = cfg.API.BaseURL
	}
	probe := connectivity.NewHTTPProbe(probeURL, cfg.Connectivity.ProbeTimeout)

	return NewWithDeps(cfg, transport.NewTransport(&cfg.API, logger), store, probe, logger), nil
}

// NewWithDeps wires a client around the given transport, store and probe.
func NewWithDeps(
	cfg *config.Config,
	transportClient transport.Transport,
	store state.Store,
	probe connectivity.Probe,
	logger *events.Logger,
) *Client {
	registry := prometheus.NewRegistry()

	authService := auth.NewService(transportClient, store, logger)
	authService.SetCredentials(&cfg.Auth)

	cache := catalog.NewCache(transportClient, store, logger, catalog.WithTTL(cfg.Catalog.TTL))
	queueService := queue.NewService(store, cache, logger)
	historyService := history.NewService(store, cfg.Sync.HistoryCapacity, logger)
	monitor := connectivity.NewMonitor(probe, cfg.Connectivity.ProbeInterval, logger)

	syncService := sync.NewService(
		transportClient,
		queueService,
		&sync.SyncConfig{MaxConcurrent: cfg.Sync.MaxConcurrent},
		sync.NewMetrics(registry),
		logger,
	)

	inventoryService := inventories.NewService(transportClient, queueService, historyService, monitor, logger)

	return &Client{
		Auth:         authService,
		Catalog:      cache,
		Books:        books.NewService(transportClient, cache, monitor, logger),
		Stock:        stock.NewService(transportClient, logger),
		Queue:        queueService,
		History:      historyService,
		Connectivity: monitor,
		Sync:         syncService,
		Inventories:  inventoryService,
		Metrics:      registry,
		config:       cfg,
		logger:       logger.WithField("component", "client"),
		transport:    transportClient,
		store:        store,
	}
}

// Start loads local state, determines connectivity, refreshes a stale
// catalog and runs the cold-start sync when enabled. The returned result is
// nil when no pass ran.
func (c *Client) Start(ctx context.Context) (*sync.Result, error) {
	if err := c.Catalog.Load(); err != nil {
		c.logger.WithError(err).Warn("Failed to load catalog snapshot, starting empty")
	}

	if _, err := c.Auth.Token(); err != nil {
		c.logger.WithError(err).Debug("No stored session")
	}

	online := c.Connectivity.Check(ctx)
	if !online {
		return nil, nil
	}

	c.Catalog.RefreshIfStale(ctx)

	if !c.config.Sync.AutoSync {
		return nil, nil
	}
	return c.Sync.Startup(ctx, online)
}

// Watch runs the connectivity monitor and the reconnect sync trigger until
// ctx is done. The trigger subscribes before the monitor's first check.
func (c *Client) Watch(ctx context.Context, onResult sync.ResultHandler) {
	transitions, unsubscribe := c.Connectivity.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Connectivity.Run(ctx)
	}()

	c.Sync.WatchTransitions(ctx, transitions, onResult)
	<-done
}

// Close releases the transport and the store.
func (c *Client) Close() error {
	if err := c.transport.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close transport")
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// OpenStore opens the state store for backend under the configured data
// directory.
func OpenStore(cfg *config.Config, backend string, logger *events.Logger) (state.Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	path := cfg.StatePathFor(backend)

	switch backend {
	case "sqlite":
		store, err := state.NewSQLiteStore(path, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "json", "":
		store, err := state.NewJSONStore(path, logger)
		if err != nil {
			return nil, fmt.Errorf("open json store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// MigrateState copies every key from the from backend into the to backend.
func MigrateState(cfg *config.Config, from, to string, logger *events.Logger) error {
	if from == to {
		return fmt.Errorf("source and target backend are both %q", from)
	}
	source, err := OpenStore(cfg, from, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := OpenStore(cfg, to, logger)
	if err != nil {
		return err
	}
	defer target.Close()

	if err := source.Migrate(target); err != nil {
		return fmt.Errorf("migrate %s to %s: %w", from, to, err)
	}
	return nil
}
