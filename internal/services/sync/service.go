package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/connectivity"
	"github.com/TheMichaelB/booktu/internal/transport"
)

// Monitor is the connectivity state the triggers react to.
type Monitor interface {
	Online() bool
	Subscribe() (<-chan connectivity.Transition, func())
}

// ResultHandler receives the outcome of passes started by a trigger.
type ResultHandler func(*Result, error)

// Service starts sync passes from the three triggers: cold start, a
// reconnect, and an explicit request. All of them share the engine's
// single-pass guard.
type Service struct {
	engine *Engine
	queue  Queue
	logger *events.Logger
}

// NewService creates a sync service.
func NewService(
	transport transport.Transport,
	queue Queue,
	config *SyncConfig,
	metrics *Metrics,
	logger *events.Logger,
) *Service {
	return &Service{
		engine: NewEngine(transport, queue, config, metrics, logger),
		queue:  queue,
		logger: logger.WithField("service", "sync"),
	}
}

// Run performs an explicitly requested pass.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	return s.engine.Sync(ctx)
}

// Startup runs a pass on cold start when online with entries eligible for
// sync. It returns a nil result when there was nothing to do.
func (s *Service) Startup(ctx context.Context, online bool) (*Result, error) {
	if !online {
		s.logger.Debug("Offline at startup, skipping sync")
		return nil, nil
	}

	pending, err := s.eligible()
	if err != nil {
		return nil, err
	}
	if pending == 0 {
		return nil, nil
	}

	s.logger.WithField("pending", pending).Info("Syncing queued inventories at startup")
	return s.engine.Sync(ctx)
}

// Watch subscribes to monitor and starts a pass on every offline-to-online
// transition while entries are eligible for sync, until ctx is done.
func (s *Service) Watch(ctx context.Context, monitor Monitor, onResult ResultHandler) {
	transitions, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	s.WatchTransitions(ctx, transitions, onResult)
}

// WatchTransitions reacts to an already open subscription. Passes run in
// the background so a transition arriving mid-pass is dropped by the guard
// instead of waiting. It returns after in-flight passes settle.
func (s *Service) WatchTransitions(ctx context.Context, transitions <-chan connectivity.Transition, onResult ResultHandler) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			if !t.Connected {
				continue
			}

			pending, err := s.eligible()
			if err != nil {
				s.logger.WithError(err).Error("Failed to read queue on reconnect")
				continue
			}
			if pending == 0 {
				continue
			}

			if s.engine.Syncing() {
				s.logger.Debug("Reconnected during a running sync, trigger dropped")
				continue
			}

			s.logger.WithField("pending", pending).Info("Back online, syncing queued inventories")

			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := s.engine.Sync(ctx)
				if errors.Is(err, models.ErrSyncInProgress) {
					return
				}
				if onResult != nil {
					onResult(result, err)
				}
			}()
		}
	}
}

// eligible counts entries a pass would submit. Entries awaiting a fix are
// not counted.
func (s *Service) eligible() (int, error) {
	list, err := s.queue.Eligible()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}

// Syncing reports whether a pass is in flight.
func (s *Service) Syncing() bool {
	return s.engine.Syncing()
}
