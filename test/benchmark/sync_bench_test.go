package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/queue"
	"github.com/TheMichaelB/booktu/internal/services/sync"
	"github.com/TheMichaelB/booktu/internal/state"
	"github.com/TheMichaelB/booktu/internal/transport"
)

const syncPath = "/inventories/sync"

func createdResponse(transport.Request) (interface{}, error) {
	return models.SyncResponse{WasCreated: true, Errors: []models.SyncErrorDetail{}}, nil
}

func fillQueue(b *testing.B, q *queue.Service, n int) {
	b.Helper()
	lines := []models.LineItem{{BookID: "book-1", Quantity: 3}}
	for i := 0; i < n; i++ {
		if _, err := q.Enqueue("store-1", lines); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSyncPass(b *testing.B) {
	for _, pending := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("pending-%d", pending), func(b *testing.B) {
			mock := transport.NewMockTransport()
			mock.Handle("POST", syncPath, createdResponse)

			q := queue.NewService(state.NewMockStore(), nil, quietLogger())
			engine := sync.NewService(mock, q, &sync.SyncConfig{MaxConcurrent: 8}, nil, quietLogger())
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				fillQueue(b, q, pending)
				b.StartTimer()

				result, err := engine.Run(ctx)
				if err != nil {
					b.Fatal(err)
				}
				if result.SucceededCount != pending {
					b.Fatalf("expected %d created, got %d", pending, result.SucceededCount)
				}
			}
		})
	}
}

// BenchmarkSyncConcurrency shows how the in-flight limit hides server
// latency.
func BenchmarkSyncConcurrency(b *testing.B) {
	const pending = 32

	for _, limit := range []int{1, 4, 8, 32} {
		b.Run(fmt.Sprintf("max-%d", limit), func(b *testing.B) {
			mock := transport.NewMockTransport()
			mock.Handle("POST", syncPath, createdResponse)
			mock.Delay = 2 * time.Millisecond

			q := queue.NewService(state.NewMockStore(), nil, quietLogger())
			engine := sync.NewService(mock, q, &sync.SyncConfig{MaxConcurrent: limit}, nil, quietLogger())
			ctx := context.Background()

			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				fillQueue(b, q, pending)
				b.StartTimer()

				if _, err := engine.Run(ctx); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
