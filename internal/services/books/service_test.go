package books_test

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/booktu/internal/events"
	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/books"
	"github.com/TheMichaelB/booktu/internal/transport"
)

type staticConnectivity bool

func (c staticConnectivity) Online() bool { return bool(c) }

type staticCatalog []models.Book

func (c staticCatalog) SearchBooks(query string) []models.Book {
	var out []models.Book
	for _, b := range c {
		if query == "" || b.Title == query {
			out = append(out, b)
		}
	}
	return out
}

var cached = staticCatalog{
	{ID: "book-1", Title: "Dom Casmurro", Price: 30, ReleaseYear: 1899},
	{ID: "book-2", Title: "O Cortiço", Price: 25, ReleaseYear: 1890},
	{ID: "book-3", Title: "Iracema", Price: 40, ReleaseYear: 1865},
}

func newService(t *testing.T, online bool) (*books.Service, *transport.MockTransport) {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	mock := transport.NewMockTransport()
	return books.NewService(mock, cached, staticConnectivity(online), logger), mock
}

func TestListOnline(t *testing.T) {
	svc, mock := newService(t, true)
	mock.AddResponse(http.MethodGet, "/books", models.BookPage{
		Books:    []models.Book{{ID: "book-9", Title: "Senhora"}},
		Total:    21,
		Page:     3,
		LastPage: 3,
	})

	page, err := svc.List(context.Background(), books.ListOptions{Page: 3, Sort: models.SortPriceDesc, Search: "sen"})
	require.NoError(t, err)
	assert.False(t, page.Cached)
	assert.Equal(t, 21, page.Total)
	require.Len(t, page.Books, 1)
	assert.Equal(t, "book-9", page.Books[0].ID)

	reqs := mock.RequestsTo(http.MethodGet, "/books")
	require.Len(t, reqs, 1)
	assert.Equal(t, "3", reqs[0].Query.Get("page"))
	assert.Equal(t, "price-desc", reqs[0].Query.Get("sort"))
	assert.Equal(t, "sen", reqs[0].Query.Get("search"))
}

func TestListOfflineUsesCatalog(t *testing.T) {
	svc, mock := newService(t, false)

	page, err := svc.List(context.Background(), books.ListOptions{Sort: models.SortOldest})
	require.NoError(t, err)

	assert.True(t, page.Cached)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.LastPage)
	require.Len(t, page.Books, 3)
	assert.Equal(t, "book-3", page.Books[0].ID)
	assert.Equal(t, "book-1", page.Books[2].ID)
	assert.Empty(t, mock.Requests)
}

func TestListFallsBackOnTransportFailure(t *testing.T) {
	svc, mock := newService(t, true)
	mock.AddError(http.MethodGet, "/books", &models.TransportError{Op: "GET /books", Err: context.DeadlineExceeded})

	page, err := svc.List(context.Background(), books.ListOptions{Search: "Iracema"})
	require.NoError(t, err)
	assert.True(t, page.Cached)
	require.Len(t, page.Books, 1)
	assert.Equal(t, "book-3", page.Books[0].ID)
}

func TestListRejectionIsReturned(t *testing.T) {
	svc, mock := newService(t, true)
	mock.AddError(http.MethodGet, "/books", &models.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid JWT token"})

	_, err := svc.List(context.Background(), books.ListOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list books")
}

func TestGet(t *testing.T) {
	svc, mock := newService(t, true)
	mock.AddResponse(http.MethodGet, "/books/book-1", models.Book{ID: "book-1", Title: "Dom Casmurro", Description: "Bentinho e Capitu"})

	book, err := svc.Get(context.Background(), "book-1")
	require.NoError(t, err)
	assert.Equal(t, "Bentinho e Capitu", book.Description)
}

func TestGetOffline(t *testing.T) {
	svc, mock := newService(t, false)

	_, err := svc.Get(context.Background(), "book-1")
	assert.ErrorIs(t, err, models.ErrOffline)
	assert.Empty(t, mock.Requests)
}

func TestSortBooks(t *testing.T) {
	tests := []struct {
		order models.BookSort
		want  []string
	}{
		{models.SortTitleAsc, []string{"book-1", "book-3", "book-2"}},
		{models.SortTitleDesc, []string{"book-2", "book-3", "book-1"}},
		{models.SortPriceAsc, []string{"book-2", "book-1", "book-3"}},
		{models.SortPriceDesc, []string{"book-3", "book-1", "book-2"}},
		{models.SortLatest, []string{"book-1", "book-2", "book-3"}},
		{models.SortOldest, []string{"book-3", "book-2", "book-1"}},
		{"", []string{"book-1", "book-2", "book-3"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			list := append([]models.Book(nil), cached...)
			books.SortBooks(list, tt.order)

			var ids []string
			for _, b := range list {
				ids = append(ids, b.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
