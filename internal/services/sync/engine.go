package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/transport"
)

const syncPath = "/inventories/sync"

const (
	passCompleted = "completed"
	passSkipped   = "skipped"
	passFailed    = "failed"
)

// Queue is the part of the offline queue a sync pass needs.
type Queue interface {
	Eligible() ([]models.PendingInventory, error)
	Remove(temporaryID string) error
	ApplySyncError(temporaryID string, errs []models.ValidationError) error
}

// Outcome is the result of reconciling one pending inventory.
type Outcome string

const (
	// OutcomeCreated means the server created the inventory.
	OutcomeCreated Outcome = "created"
	// OutcomeRejected means the server named invalid references.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means the result is unknown and the entry is retried later.
	OutcomeFailed Outcome = "failed"
)

// ItemResult describes one reconciled entry.
type ItemResult struct {
	TemporaryID string
	Outcome     Outcome
	Errors      []models.ValidationError
	Message     string

	// Err is the transport failure for OutcomeFailed, or a local storage
	// failure while applying the outcome.
	Err error
}

// Result aggregates a sync pass.
type Result struct {
	SucceededCount  int
	NeedsFixCount   int
	HardFailedCount int
	Items           []ItemResult
	StartTime       time.Time
	Duration        time.Duration
}

// Event represents a sync event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Item      *ItemResult
	Result    *Result
	Error     error
}

// EventType defines sync event types.
type EventType string

const (
	EventStarted      EventType = "started"
	EventItemCreated  EventType = "item_created"
	EventItemRejected EventType = "item_rejected"
	EventItemFailed   EventType = "item_failed"
	EventCompleted    EventType = "completed"
	EventSkipped      EventType = "skipped"
)

// SyncConfig contains sync configuration.
type SyncConfig struct {
	// MaxConcurrent caps in-flight sync requests. Zero dispatches every
	// eligible entry at once.
	MaxConcurrent int
}

// Engine runs sync passes over the offline queue.
type Engine struct {
	transport transport.Transport
	queue     Queue
	metrics   *Metrics
	logger    *events.Logger

	maxConcurrent int

	events chan Event

	mu      sync.Mutex
	syncing bool
}

// NewEngine creates a sync engine. metrics may be nil.
func NewEngine(
	transport transport.Transport,
	queue Queue,
	config *SyncConfig,
	metrics *Metrics,
	logger *events.Logger,
) *Engine {
	maxConcurrent := config.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = -1
	}

	return &Engine{
		transport:     transport,
		queue:         queue,
		metrics:       metrics,
		logger:        logger.WithField("component", "sync_engine"),
		maxConcurrent: maxConcurrent,
		events:        make(chan Event, 100),
	}
}

// Events returns the event channel. Events are dropped when nobody reads.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Syncing reports whether a pass is in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Sync reconciles every eligible pending inventory. It returns
// models.ErrSyncInProgress without doing anything when another pass is
// running. Once dispatched, requests are not cancelled by ctx; they end on
// their own or on the transport timeout.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		e.logger.Debug("Sync already in progress, dropping trigger")
		e.metrics.observePass(passSkipped, 0, 0)
		e.emitEvent(Event{Type: EventSkipped, Timestamp: time.Now(), Error: models.ErrSyncInProgress})
		return nil, models.ErrSyncInProgress
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	result := &Result{StartTime: time.Now()}

	eligible, err := e.queue.Eligible()
	if err != nil {
		e.metrics.observePass(passFailed, 0, 0)
		return nil, fmt.Errorf("load queue: %w", err)
	}

	e.logger.WithField("eligible", len(eligible)).Info("Starting sync")
	e.emitEvent(Event{Type: EventStarted, Timestamp: time.Now(), Result: result})

	items := make([]ItemResult, len(eligible))

	// Every item settles; the group never short-circuits.
	reqCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(e.maxConcurrent)
	for i := range eligible {
		entry := eligible[i]
		g.Go(func() error {
			items[i] = e.reconcile(reqCtx, entry)
			return nil
		})
	}
	_ = g.Wait()

	for i := range items {
		switch items[i].Outcome {
		case OutcomeCreated:
			result.SucceededCount++
		case OutcomeRejected:
			result.NeedsFixCount++
		default:
			result.HardFailedCount++
		}
	}
	result.Items = items
	result.Duration = time.Since(result.StartTime)

	e.metrics.observePass(passCompleted, len(eligible), result.Duration)

	e.logger.WithFields(map[string]interface{}{
		"succeeded":   result.SucceededCount,
		"needs_fix":   result.NeedsFixCount,
		"hard_failed": result.HardFailedCount,
		"duration":    result.Duration,
	}).Info("Sync complete")

	e.emitEvent(Event{Type: EventCompleted, Timestamp: time.Now(), Result: result})

	return result, nil
}

// reconcile submits one entry and applies the outcome to the queue.
func (e *Engine) reconcile(ctx context.Context, entry models.PendingInventory) ItemResult {
	logger := e.logger.WithField("temporary_id", entry.TemporaryID)
	ctx = events.WithInventoryID(events.WithLogger(ctx, logger), entry.TemporaryID)

	item := e.submit(ctx, entry)

	switch item.Outcome {
	case OutcomeCreated:
		if err := e.queue.Remove(entry.TemporaryID); err != nil {
			logger.WithError(err).Error("Inventory created but could not be removed from queue")
			item.Err = err
		}
		logger.Info("Inventory created")
		e.emitEvent(Event{Type: EventItemCreated, Timestamp: time.Now(), Item: &item})

	case OutcomeRejected:
		err := e.queue.ApplySyncError(entry.TemporaryID, item.Errors)
		switch {
		case errors.Is(err, models.ErrNotFound):
			logger.Debug("Rejected inventory left the queue during sync")
		case err != nil:
			logger.WithError(err).Error("Failed to attach validation errors")
			item.Err = err
		}
		logger.WithField("errors", len(item.Errors)).Warn("Inventory rejected")
		e.emitEvent(Event{Type: EventItemRejected, Timestamp: time.Now(), Item: &item})

	default:
		logger.WithError(item.Err).Warn("Inventory sync failed, will retry")
		e.emitEvent(Event{Type: EventItemFailed, Timestamp: time.Now(), Item: &item, Error: item.Err})
	}

	e.metrics.observeItem(item.Outcome)
	return item
}

// submit classifies the server reply without touching the queue.
func (e *Engine) submit(ctx context.Context, entry models.PendingInventory) ItemResult {
	item := ItemResult{TemporaryID: entry.TemporaryID}

	var resp models.SyncResponse
	// A repeated POST could create the inventory twice.
	err := e.transport.PostJSON(transport.WithoutRetry(ctx), syncPath, entry.SyncRequest(), &resp)
	if err != nil {
		// Validation rejections may arrive as a 4xx carrying the sync document.
		var apiErr *models.APIError
		if !errors.As(err, &apiErr) || apiErr.IsServerError() || !decodeSyncBody(apiErr.Body, &resp) {
			item.Outcome = OutcomeFailed
			item.Err = err
			return item
		}
	}

	item.Message = resp.Message

	if resp.WasCreated {
		item.Outcome = OutcomeCreated
		return item
	}

	if verrs := resp.ValidationErrors(); len(verrs) > 0 {
		item.Outcome = OutcomeRejected
		item.Errors = verrs
		return item
	}

	item.Outcome = OutcomeFailed
	item.Err = err
	if item.Err == nil {
		item.Err = fmt.Errorf("inventory not created: %s", resp.Message)
	}
	return item
}

func decodeSyncBody(body []byte, resp *models.SyncResponse) bool {
	if len(body) == 0 {
		return false
	}
	return json.Unmarshal(body, resp) == nil
}

func (e *Engine) emitEvent(event Event) {
	select {
	case e.events <- event:
	default:
		e.logger.Debug("Event channel full, dropping event")
	}
}
