package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TheMichaelB/booktu/internal/models"
	"github.com/TheMichaelB/booktu/internal/services/books"
)

// Default credentials accepted by FakeAPI.
const (
	TestLogin    = "clerk"
	TestPassword = "secret"
	TestToken    = "test-token-12345"
)

// DefaultPageSize is the page length of every paged FakeAPI listing.
const DefaultPageSize = 10

// FakeAPI is an in-memory stand-in for the remote inventory API.
type FakeAPI struct {
	*httptest.Server

	// PageSize overrides DefaultPageSize when positive. Set it before the
	// first request.
	PageSize int

	mu             sync.Mutex
	books          map[string]models.Book
	establishments map[string]models.Establishment
	inventories    map[string]*models.InventoryDetail
	stock          map[string]models.StockItem
	nextID         int

	syncCalls    int
	catalogCalls int
	failSync     int
	failStatus   int
}

// NewFakeAPI starts a fake API seeded with the default catalog.
func NewFakeAPI() *FakeAPI {
	api := &FakeAPI{
		books:          make(map[string]models.Book),
		establishments: make(map[string]models.Establishment),
		inventories:    make(map[string]*models.InventoryDetail),
		stock:          make(map[string]models.StockItem),
	}
	for _, b := range Books() {
		api.books[b.ID] = b
	}
	for _, e := range Establishments() {
		api.establishments[e.ID] = e
	}

	api.Server = httptest.NewServer(api.routes())
	return api
}

func (a *FakeAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Head("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/auth/session", a.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(a.requireToken)

		r.Get("/books/all", a.handleBooks)
		r.Get("/books", a.handleListBooks)
		r.Get("/books/{id}", a.handleGetBook)
		r.Get("/establishments/all", a.handleEstablishments)
		r.Get("/stocks", a.handleListStock)

		r.Route("/inventories", func(r chi.Router) {
			r.Get("/", a.handleListInventories)
			r.Post("/", a.handleCreateInventory)
			r.Post("/sync", a.handleSync)
			r.Post("/process/{id}", a.handleProcess)
			r.Get("/{id}", a.handleGetInventory)
			r.Put("/{id}", a.handleEditInventory)
			r.Delete("/{id}", a.handleDeleteInventory)
		})
	})

	return r
}

// DeleteEstablishment removes an establishment so later references to it
// are rejected.
func (a *FakeAPI) DeleteEstablishment(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.establishments, id)
}

// DeleteBook removes a book.
func (a *FakeAPI) DeleteBook(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.books, id)
}

// SetStock records quantity copies of a book at an establishment.
func (a *FakeAPI) SetStock(establishmentID, bookID string, quantity int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stockID := "stock-" + establishmentID
	id := stockID + "-" + bookID
	a.stock[id] = models.StockItem{
		ID:       id,
		Book:     a.books[bookID],
		BookID:   bookID,
		StockID:  stockID,
		Quantity: quantity,
		Stock: models.Stock{
			ID:              stockID,
			EstablishmentID: establishmentID,
			Establishment:   a.establishments[establishmentID],
		},
	}
}

// FailSync makes the next n sync requests answer with status.
func (a *FakeAPI) FailSync(n, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failSync = n
	a.failStatus = status
}

// SyncCalls returns how many sync requests were received.
func (a *FakeAPI) SyncCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.syncCalls
}

// CatalogCalls returns how many book catalog requests were received.
func (a *FakeAPI) CatalogCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.catalogCalls
}

// Inventories returns the created inventories ordered by id.
func (a *FakeAPI) Inventories() []models.InventoryDetail {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]models.InventoryDetail, 0, len(a.inventories))
	for _, inv := range a.inventories {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

func (a *FakeAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+TestToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid JWT token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *FakeAPI) handleSession(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}
	if req.Login != TestLogin || req.Password != TestPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Incorrect login/password combination"})
		return
	}
	writeJSON(w, http.StatusOK, models.SessionResponse{Token: TestToken})
}

func (a *FakeAPI) handleBooks(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.catalogCalls++
	books := make([]models.Book, 0, len(a.books))
	for _, b := range a.books {
		books = append(books, b)
	}
	a.mu.Unlock()

	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	writeJSON(w, http.StatusOK, books)
}

func (a *FakeAPI) handleEstablishments(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	list := make([]models.Establishment, 0, len(a.establishments))
	for _, e := range a.establishments {
		list = append(list, e)
	}
	a.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	writeJSON(w, http.StatusOK, list)
}

// handleSync answers like the real endpoint: invalid references come back
// as a 400 carrying the sync document.
func (a *FakeAPI) handleSync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	a.mu.Lock()
	a.syncCalls++
	if a.failSync > 0 {
		a.failSync--
		status := a.failStatus
		a.mu.Unlock()
		writeJSON(w, status, map[string]string{"message": "unavailable"})
		return
	}

	errs := a.invalidReferences(req.EstablishmentID, req.InventoryBooks)
	if len(errs) > 0 {
		a.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, models.SyncResponse{
			WasCreated: false,
			Errors:     errs,
			Message:    "Some references are no longer valid",
		})
		return
	}

	a.createLocked(req.EstablishmentID, req.InventoryBooks)
	a.mu.Unlock()

	writeJSON(w, http.StatusOK, models.SyncResponse{
		WasCreated: true,
		Errors:     []models.SyncErrorDetail{},
		Message:    "Inventory created",
	})
}

func (a *FakeAPI) handleCreateInventory(w http.ResponseWriter, r *http.Request) {
	var req models.InventoryInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if errs := a.invalidReferences(req.EstablishmentID, req.InventoryBooks); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid references"})
		return
	}
	inv := a.createLocked(req.EstablishmentID, req.InventoryBooks)
	writeJSON(w, http.StatusOK, inv.Inventory)
}

func (a *FakeAPI) handleEditInventory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.InventoryInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	inv, ok := a.inventories[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Inventory not found"})
		return
	}
	inv.EstablishmentID = req.EstablishmentID
	inv.Establishment = a.establishments[req.EstablishmentID]
	inv.Books = a.linesLocked(id, req.InventoryBooks)
	inv.TotalQuantity = req.TotalQuantity
	writeJSON(w, http.StatusOK, inv.Inventory)
}

func (a *FakeAPI) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	inv, ok := a.inventories[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Inventory not found"})
		return
	}

	page, start, end, lastPage := a.paginate(r, len(inv.Books))
	detail := *inv
	detail.Books = append([]models.InventoryBook{}, inv.Books[start:end]...)
	detail.Total = len(inv.Books)
	detail.Page = page
	detail.LastPage = lastPage
	writeJSON(w, http.StatusOK, detail)
}

func (a *FakeAPI) handleListInventories(w http.ResponseWriter, r *http.Request) {
	establishmentID := r.URL.Query().Get("establishmentId")
	search := r.URL.Query().Get("search")

	var matched []models.Inventory
	for _, inv := range a.Inventories() {
		if establishmentID != "" && inv.EstablishmentID != establishmentID {
			continue
		}
		if search != "" && !strings.Contains(strconv.Itoa(inv.Identifier), search) {
			continue
		}
		matched = append(matched, inv.Inventory)
	}

	page, start, end, lastPage := a.paginate(r, len(matched))
	writeJSON(w, http.StatusOK, models.InventoryPage{
		Data:     append([]models.Inventory{}, matched[start:end]...),
		Total:    len(matched),
		Page:     page,
		LastPage: lastPage,
	})
}

func (a *FakeAPI) handleListBooks(w http.ResponseWriter, r *http.Request) {
	order, err := models.ParseBookSort(r.URL.Query().Get("sort"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	search := strings.ToLower(r.URL.Query().Get("search"))

	a.mu.Lock()
	matched := make([]models.Book, 0, len(a.books))
	for _, b := range a.books {
		if search != "" && !strings.Contains(strings.ToLower(b.Title), search) {
			continue
		}
		matched = append(matched, b)
	}
	a.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	books.SortBooks(matched, order)

	page, start, end, lastPage := a.paginate(r, len(matched))
	writeJSON(w, http.StatusOK, models.BookPage{
		Books:    append([]models.Book{}, matched[start:end]...),
		Total:    len(matched),
		Page:     page,
		LastPage: lastPage,
	})
}

func (a *FakeAPI) handleGetBook(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	book, ok := a.books[chi.URLParam(r, "id")]
	a.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Book not found"})
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (a *FakeAPI) handleListStock(w http.ResponseWriter, r *http.Request) {
	establishmentID := r.URL.Query().Get("establishmentId")
	search := strings.ToLower(r.URL.Query().Get("search"))

	a.mu.Lock()
	var matched []models.StockItem
	for _, item := range a.stock {
		if establishmentID != "" && item.Stock.EstablishmentID != establishmentID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Book.Title), search) {
			continue
		}
		matched = append(matched, item)
	}
	a.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page, start, end, lastPage := a.paginate(r, len(matched))
	writeJSON(w, http.StatusOK, models.StockPage{
		Data:     append([]models.StockItem{}, matched[start:end]...),
		Total:    len(matched),
		Page:     page,
		LastPage: lastPage,
	})
}

// paginate reads ?page and returns the bounds of that page within n items.
func (a *FakeAPI) paginate(r *http.Request, n int) (page, start, end, lastPage int) {
	perPage := a.PageSize
	if perPage <= 0 {
		perPage = DefaultPageSize
	}

	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	lastPage = (n + perPage - 1) / perPage
	if lastPage == 0 {
		lastPage = 1
	}

	start = (page - 1) * perPage
	if start > n {
		start = n
	}
	end = start + perPage
	if end > n {
		end = n
	}
	return page, start, end, lastPage
}

func (a *FakeAPI) handleProcess(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	inv, ok := a.inventories[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Inventory not found"})
		return
	}
	inv.Status = models.StatusProcessed
	w.WriteHeader(http.StatusNoContent)
}

func (a *FakeAPI) handleDeleteInventory(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := chi.URLParam(r, "id")
	if _, ok := a.inventories[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Inventory not found"})
		return
	}
	delete(a.inventories, id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *FakeAPI) invalidReferences(establishmentID string, lines []models.SyncBook) []models.SyncErrorDetail {
	var errs []models.SyncErrorDetail
	if _, ok := a.establishments[establishmentID]; !ok {
		errs = append(errs, models.SyncErrorDetail{ID: establishmentID, Type: models.ReferenceEstablishment})
	}
	for _, line := range lines {
		if _, ok := a.books[line.BookID]; !ok {
			errs = append(errs, models.SyncErrorDetail{ID: line.BookID, Type: models.ReferenceBook})
		}
	}
	return errs
}

func (a *FakeAPI) createLocked(establishmentID string, lines []models.SyncBook) *models.InventoryDetail {
	a.nextID++
	id := fmt.Sprintf("inv-%d", a.nextID)

	total := 0
	for _, line := range lines {
		total += line.Quantity
	}

	inv := &models.InventoryDetail{
		Inventory: models.Inventory{
			ID:              id,
			Identifier:      a.nextID,
			TotalQuantity:   total,
			EstablishmentID: establishmentID,
			Establishment:   a.establishments[establishmentID],
			Status:          models.StatusUnprocessed,
		},
		Books: a.linesLocked(id, lines),
	}
	a.inventories[id] = inv
	return inv
}

func (a *FakeAPI) linesLocked(inventoryID string, lines []models.SyncBook) []models.InventoryBook {
	out := make([]models.InventoryBook, 0, len(lines))
	for i, line := range lines {
		out = append(out, models.InventoryBook{
			ID:          fmt.Sprintf("%s-line-%d", inventoryID, i+1),
			InventoryID: inventoryID,
			BookID:      line.BookID,
			Book:        a.books[line.BookID],
			Quantity:    line.Quantity,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
