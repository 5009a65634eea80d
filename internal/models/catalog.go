package models

import "fmt"

// BookSort orders GET /books.
type BookSort string

// Sort orders accepted by the book listing.
const (
	SortTitleAsc  BookSort = "asc"
	SortTitleDesc BookSort = "desc"
	SortPriceAsc  BookSort = "price-asc"
	SortPriceDesc BookSort = "price-desc"
	SortLatest    BookSort = "latest"
	SortOldest    BookSort = "oldest"
)

// BookSorts lists every accepted order.
var BookSorts = []BookSort{SortTitleAsc, SortTitleDesc, SortPriceAsc, SortPriceDesc, SortLatest, SortOldest}

// ParseBookSort accepts an empty string as "no order".
func ParseBookSort(s string) (BookSort, error) {
	if s == "" {
		return "", nil
	}
	for _, v := range BookSorts {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown book sort %q", s)
}

// BookPage is one page of GET /books.
type BookPage struct {
	Books    []Book `json:"books"`
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	LastPage int    `json:"lastPage"`

	// Cached marks a page built from the local catalog while offline.
	Cached bool `json:"-"`
}

// Stock is an establishment's stock record.
type Stock struct {
	ID              string        `json:"id"`
	EstablishmentID string        `json:"establishment_id"`
	Establishment   Establishment `json:"establishment"`
}

// StockItem is the quantity of one book held in a stock.
type StockItem struct {
	ID       string `json:"id"`
	Book     Book   `json:"book"`
	Stock    Stock  `json:"stock"`
	StockID  string `json:"stock_id"`
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

// StockPage is one page of GET /stocks.
type StockPage struct {
	Data     []StockItem `json:"data"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	LastPage int         `json:"lastPage"`
}
