package sync_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/booktu/internal/config"
	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/connectivity"
	"github.com/TheMichaelB/booktu/internal/services/queue"
	"github.com/TheMichaelB/booktu/internal/services/sync"
	"github.com/TheMichaelB/booktu/internal/state"
	"github.com/TheMichaelB/booktu/internal/transport"
)

type fixture struct {
	transport *transport.MockTransport
	store     *state.MockStore
	queue     *queue.Service
	service   *sync.Service
	metrics   *sync.Metrics
	registry  *prometheus.Registry
}

func setup(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	f := &fixture{
		transport: transport.NewMockTransport(),
		store:     state.NewMockStore(),
		registry:  prometheus.NewRegistry(),
	}
	f.queue = queue.NewService(f.store, nil, logger)
	f.metrics = sync.NewMetrics(f.registry)
	f.service = sync.NewService(f.transport, f.queue, &sync.SyncConfig{MaxConcurrent: maxConcurrent}, f.metrics, logger)
	return f
}

// serverRejecting answers the sync endpoint, rejecting drafts whose
// establishment is in deleted.
func serverRejecting(deleted ...string) transport.MockHandler {
	gone := make(map[string]bool)
	for _, id := range deleted {
		gone[id] = true
	}

	return func(req transport.Request) (interface{}, error) {
		body := req.Payload.(models.SyncRequest)
		if gone[body.EstablishmentID] {
			return models.SyncResponse{
				WasCreated: false,
				Errors:     []models.SyncErrorDetail{{ID: body.EstablishmentID, Type: models.ReferenceEstablishment}},
				Message:    "invalid references",
			}, nil
		}
		return models.SyncResponse{WasCreated: true, Errors: []models.SyncErrorDetail{}, Message: "created"}, nil
	}
}

func (f *fixture) enqueue(t *testing.T, establishmentID string, quantities ...int) string {
	t.Helper()

	var lines []models.LineItem
	for i, q := range quantities {
		lines = append(lines, models.LineItem{BookID: "book-" + string(rune('a'+i)), Quantity: q})
	}
	entry, err := f.queue.Enqueue(establishmentID, lines)
	require.NoError(t, err)
	return entry.TemporaryID
}

func TestSyncRemovesCreatedEntries(t *testing.T) {
	f := setup(t, 4)
	f.transport.Handle(http.MethodPost, "/inventories/sync", serverRejecting())

	f.enqueue(t, "store-1", 2, 3)

	result, err := f.service.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.SucceededCount)
	assert.Zero(t, result.NeedsFixCount)
	assert.Zero(t, result.HardFailedCount)

	list, err := f.queue.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	reqs := f.transport.RequestsTo(http.MethodPost, "/inventories/sync")
	require.Len(t, reqs, 1)
	body := reqs[0].Payload.(models.SyncRequest)
	assert.Equal(t, "store-1", body.EstablishmentID)
	assert.Equal(t, 5, body.TotalQuantity)
	assert.Len(t, body.InventoryBooks, 2)
}

func TestSyncAttachesValidationErrors(t *testing.T) {
	f := setup(t, 4)
	f.transport.Handle(http.MethodPost, "/inventories/sync", serverRejecting("store-gone"))

	id := f.enqueue(t, "store-gone", 1)

	result, err := f.service.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.NeedsFixCount)
	require.Len(t, result.Items, 1)
	assert.Equal(t, sync.OutcomeRejected, result.Items[0].Outcome)

	entry, err := f.queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []models.ValidationError{{ID: "store-gone", Kind: models.ReferenceEstablishment}}, entry.Errors)

	// Entries with known errors are not retried automatically.
	result, err = f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Len(t, f.transport.RequestsTo(http.MethodPost, "/inventories/sync"), 1)
}

func TestSyncRejectionAsClientError(t *testing.T) {
	f := setup(t, 4)
	f.transport.AddError(http.MethodPost, "/inventories/sync", &models.APIError{
		StatusCode: http.StatusBadRequest,
		Message:    "invalid references",
		Body:       []byte(`{"wasCreated":false,"errors":[{"id":"book-a","type":"book"},{"id":"","type":"book"}],"message":"invalid references"}`),
	})

	id := f.enqueue(t, "store-1", 1)

	result, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.NeedsFixCount)

	entry, err := f.queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []models.ValidationError{{ID: "book-a", Kind: models.ReferenceBook}}, entry.Errors)
}

func TestSyncTransportFailureLeavesEntryUntouched(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network", &models.TransportError{Op: "POST /inventories/sync", Err: errors.New("connection reset")}},
		{"server error", &models.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"}},
		{"timeout", context.DeadlineExceeded},
		{"client error without detail", &models.APIError{StatusCode: http.StatusBadRequest, Body: []byte(`{"message":"bad"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, 4)
			f.transport.AddError(http.MethodPost, "/inventories/sync", tt.err)

			id := f.enqueue(t, "store-1", 1)
			before, ok := f.store.Raw(state.KeyOfflineInventories)
			require.True(t, ok)

			result, err := f.service.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, 1, result.HardFailedCount)
			require.Len(t, result.Items, 1)
			assert.Equal(t, sync.OutcomeFailed, result.Items[0].Outcome)
			assert.Error(t, result.Items[0].Err)

			after, ok := f.store.Raw(state.KeyOfflineInventories)
			require.True(t, ok)
			assert.Equal(t, before, after)

			entry, err := f.queue.Get(id)
			require.NoError(t, err)
			assert.Empty(t, entry.Errors)
		})
	}
}

func TestSyncPostIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	client := transport.NewTransport(&config.APIConfig{
		BaseURL:    server.URL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, logger)

	q := queue.NewService(state.NewMockStore(), nil, logger)
	_, err := q.Enqueue("store-1", []models.LineItem{{BookID: "book-1", Quantity: 1}})
	require.NoError(t, err)

	service := sync.NewService(client, q, &sync.SyncConfig{MaxConcurrent: 1}, nil, logger)
	result, err := service.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.HardFailedCount)
	assert.Equal(t, int32(1), hits.Load())

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncNotCreatedWithoutDetailIsHardFailure(t *testing.T) {
	f := setup(t, 4)
	f.transport.AddResponse(http.MethodPost, "/inventories/sync", models.SyncResponse{WasCreated: false, Message: "try later"})

	f.enqueue(t, "store-1", 1)

	result, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.HardFailedCount)
	assert.Contains(t, result.Items[0].Err.Error(), "try later")
}

func TestSyncMixedOutcomes(t *testing.T) {
	f := setup(t, 4)
	f.transport.Handle(http.MethodPost, "/inventories/sync", serverRejecting("store-gone"))

	f.enqueue(t, "store-1", 1)
	f.enqueue(t, "store-2", 2)
	bad := f.enqueue(t, "store-gone", 3)

	result, err := f.service.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.SucceededCount)
	assert.Equal(t, 1, result.NeedsFixCount)
	assert.Zero(t, result.HardFailedCount)
	assert.Len(t, result.Items, 3)

	list, err := f.queue.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, bad, list[0].TemporaryID)
	assert.Equal(t, []models.ValidationError{{ID: "store-gone", Kind: models.ReferenceEstablishment}}, list[0].Errors)
}

func TestSyncDispatchesConcurrently(t *testing.T) {
	f := setup(t, 8)

	var inFlight, peak int32
	f.transport.Handle(http.MethodPost, "/inventories/sync", func(transport.Request) (interface{}, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return models.SyncResponse{WasCreated: true}, nil
	})

	for i := 0; i < 4; i++ {
		f.enqueue(t, "store-1", 1)
	}

	result, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.SucceededCount)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestSyncConcurrencyLimit(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		wantMax int32
		wantMin int32
	}{
		{"bounded", 2, 2, 1},
		{"serial", 1, 1, 1},
		{"unbounded", 0, 6, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, tt.limit)

			var inFlight, peak int32
			f.transport.Handle(http.MethodPost, "/inventories/sync", func(transport.Request) (interface{}, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return models.SyncResponse{WasCreated: true}, nil
			})

			for i := 0; i < 6; i++ {
				f.enqueue(t, "store-1", 1)
			}

			result, err := f.service.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 6, result.SucceededCount)
			assert.LessOrEqual(t, atomic.LoadInt32(&peak), tt.wantMax)
			assert.GreaterOrEqual(t, atomic.LoadInt32(&peak), tt.wantMin)
		})
	}
}

func TestSyncOneFailureDoesNotStopOthers(t *testing.T) {
	f := setup(t, 1)

	calls := 0
	f.transport.Handle(http.MethodPost, "/inventories/sync", func(transport.Request) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, &models.TransportError{Op: "POST", Err: errors.New("reset")}
		}
		return models.SyncResponse{WasCreated: true}, nil
	})

	for i := 0; i < 3; i++ {
		f.enqueue(t, "store-1", 1)
	}

	result, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.SucceededCount)
	assert.Equal(t, 1, result.HardFailedCount)

	n, err := f.queue.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncReentrancyGuard(t *testing.T) {
	f := setup(t, 4)
	f.transport.Delay = 100 * time.Millisecond
	f.transport.AddResponse(http.MethodPost, "/inventories/sync", models.SyncResponse{WasCreated: true})

	f.enqueue(t, "store-1", 1)

	var (
		wg      gosync.WaitGroup
		results = make(chan error, 2)
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.service.Run(context.Background())
		results <- err
	}()

	require.Eventually(t, f.service.Syncing, time.Second, time.Millisecond)

	_, err := f.service.Run(context.Background())
	assert.ErrorIs(t, err, models.ErrSyncInProgress)

	wg.Wait()
	assert.NoError(t, <-results)
	assert.Len(t, f.transport.RequestsTo(http.MethodPost, "/inventories/sync"), 1)

	// A later pass finds nothing left and is safe to repeat.
	result, err := f.service.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestSyncNotCancelledMidFlight(t *testing.T) {
	f := setup(t, 4)
	f.transport.Delay = 50 * time.Millisecond
	f.transport.AddResponse(http.MethodPost, "/inventories/sync", models.SyncResponse{WasCreated: true})

	f.enqueue(t, "store-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := f.service.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededCount)
}

func TestSyncQueueReadFailure(t *testing.T) {
	f := setup(t, 4)
	f.store.GetError = errors.New("io error")

	_, err := f.service.Run(context.Background())
	var storageErr *models.StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.False(t, f.service.Syncing())
}

func TestStartup(t *testing.T) {
	f := setup(t, 4)
	f.transport.AddResponse(http.MethodPost, "/inventories/sync", models.SyncResponse{WasCreated: true})

	result, err := f.service.Startup(context.Background(), true)
	require.NoError(t, err)
	assert.Nil(t, result, "empty queue")

	f.enqueue(t, "store-1", 1)

	result, err = f.service.Startup(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, result, "offline")

	result, err = f.service.Startup(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.SucceededCount)
}

func TestStartupSkipsEntriesAwaitingFix(t *testing.T) {
	f := setup(t, 4)
	id := f.enqueue(t, "store-gone", 1)
	require.NoError(t, f.queue.ApplySyncError(id, []models.ValidationError{{ID: "store-gone", Kind: models.ReferenceEstablishment}}))

	result, err := f.service.Startup(context.Background(), true)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.False(t, f.service.Syncing())
}

func newMonitor(t *testing.T) *connectivity.Monitor {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	return connectivity.NewMonitor(connectivity.ProbeFunc(func(context.Context) bool { return false }), time.Hour, logger)
}

func TestWatchSyncsOncePerReconnect(t *testing.T) {
	f := setup(t, 4)
	f.transport.Delay = 150 * time.Millisecond
	f.transport.AddResponse(http.MethodPost, "/inventories/sync", models.SyncResponse{WasCreated: true})

	f.enqueue(t, "store-1", 1)
	f.enqueue(t, "store-2", 1)

	monitor := newMonitor(t)
	monitor.Report(false)

	results := make(chan *sync.Result, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.service.Watch(ctx, monitor, func(r *sync.Result, err error) {
			assert.NoError(t, err)
			results <- r
		})
	}()

	// Wait for the subscription to exist before reporting.
	time.Sleep(20 * time.Millisecond)

	monitor.Report(true)
	require.Eventually(t, f.service.Syncing, time.Second, time.Millisecond)

	// Flapping while the pass runs must not start another.
	monitor.Report(false)
	monitor.Report(true)

	select {
	case r := <-results:
		assert.Equal(t, 2, r.SucceededCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sync result")
	}

	// Back online with an empty queue: nothing to do.
	monitor.Report(false)
	monitor.Report(true)
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	assert.Len(t, f.transport.RequestsTo(http.MethodPost, "/inventories/sync"), 2)
	assert.Empty(t, results)
}

func TestWatchIgnoresReconnectWithEmptyQueue(t *testing.T) {
	f := setup(t, 4)

	monitor := newMonitor(t)
	monitor.Report(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.service.Watch(ctx, monitor, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	monitor.Report(true)
	time.Sleep(20 * time.Millisecond)

	cancel()
	<-done
	assert.Empty(t, f.transport.Requests)
}

func TestWatchIgnoresReconnectWithOnlyEntriesAwaitingFix(t *testing.T) {
	f := setup(t, 4)
	id := f.enqueue(t, "store-gone", 1)
	require.NoError(t, f.queue.ApplySyncError(id, []models.ValidationError{{ID: "store-gone", Kind: models.ReferenceEstablishment}}))

	monitor := newMonitor(t)
	monitor.Report(false)
	transitions, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	var passes atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.service.WatchTransitions(ctx, transitions, func(*sync.Result, error) {
			passes.Add(1)
		})
	}()

	monitor.Report(true)
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, passes.Load())
	assert.Empty(t, f.transport.Requests)
}

func TestWatchTransitionsSeesEdgesBeforeItStarts(t *testing.T) {
	f := setup(t, 4)
	f.transport.AddResponse(http.MethodPost, "/inventories/sync", models.SyncResponse{WasCreated: true})
	f.enqueue(t, "store-1", 1)

	monitor := newMonitor(t)
	monitor.Report(false)
	transitions, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	// The edge lands before anything reads the subscription.
	monitor.Report(true)

	results := make(chan *sync.Result, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.service.WatchTransitions(ctx, transitions, func(r *sync.Result, err error) {
			assert.NoError(t, err)
			results <- r
		})
	}()

	select {
	case r := <-results:
		assert.Equal(t, 1, r.SucceededCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sync result")
	}

	cancel()
	<-done
}

func TestSyncEvents(t *testing.T) {
	f := setup(t, 4)
	f.transport.Handle(http.MethodPost, "/inventories/sync", serverRejecting("store-gone"))

	f.enqueue(t, "store-1", 1)
	f.enqueue(t, "store-gone", 1)

	_, err := f.service.Run(context.Background())
	require.NoError(t, err)

	counts := make(map[sync.EventType]int)
	timeout := time.After(time.Second)
	for counts[sync.EventCompleted] == 0 {
		select {
		case ev := <-f.service.Events():
			counts[ev.Type]++
		case <-timeout:
			t.Fatal("timeout waiting for events")
		}
	}

	assert.Equal(t, 1, counts[sync.EventStarted])
	assert.Equal(t, 1, counts[sync.EventItemCreated])
	assert.Equal(t, 1, counts[sync.EventItemRejected])
}

func TestSyncMetrics(t *testing.T) {
	f := setup(t, 4)
	f.transport.Handle(http.MethodPost, "/inventories/sync", serverRejecting("store-gone"))

	f.enqueue(t, "store-1", 1)
	f.enqueue(t, "store-gone", 1)

	_, err := f.service.Run(context.Background())
	require.NoError(t, err)

	expected := `
# HELP booktu_sync_items_total Pending inventories reconciled, by outcome.
# TYPE booktu_sync_items_total counter
booktu_sync_items_total{outcome="created"} 1
booktu_sync_items_total{outcome="rejected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, bytes.NewBufferString(expected), "booktu_sync_items_total"))

	count, err := testutil.GatherAndCount(f.registry, "booktu_sync_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
