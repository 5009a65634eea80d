package models

// Book is an immutable catalog record.
type Book struct {
	ID          string     `json:"id"`
	Identifier  string     `json:"identifier"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Price       float64    `json:"price"`
	ReleaseYear int        `json:"release_year"`
	Description string     `json:"description,omitempty"`
	Categories  []Category `json:"categories"`
}

// Category groups books.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Establishment is a bookstore location.
type Establishment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CNPJ        string `json:"cnpj"`
	State       string `json:"state"`
	City        string `json:"city"`
	District    string `json:"district"`
	CEP         string `json:"cep"`
	Description string `json:"description,omitempty"`
}

// InventoryStatus is the processing state of an inventory.
type InventoryStatus string

const (
	StatusUnprocessed InventoryStatus = "unprocessed"
	StatusProcessed   InventoryStatus = "processed"
)

// ReferenceKind names the entity a validation error points at.
type ReferenceKind string

const (
	ReferenceBook          ReferenceKind = "book"
	ReferenceEstablishment ReferenceKind = "establishment"
)

// Valid reports whether k is a known reference kind.
func (k ReferenceKind) Valid() bool {
	return k == ReferenceBook || k == ReferenceEstablishment
}

// ValidationError marks a stale or deleted reference inside a pending inventory.
type ValidationError struct {
	ID   string        `json:"id"`
	Kind ReferenceKind `json:"kind"`
}

// LineItem is one counted book inside an inventory draft. The book is
// embedded by value so offline display never depends on the catalog.
type LineItem struct {
	BookID   string `json:"book_id"`
	Book     Book   `json:"book"`
	Quantity int    `json:"quantity"`
}

// PendingInventory is an inventory draft waiting for remote confirmation.
type PendingInventory struct {
	TemporaryID     string            `json:"temporary_id"`
	EstablishmentID string            `json:"establishment_id"`
	Establishment   Establishment     `json:"establishment"`
	TotalQuantity   int               `json:"total_quantity"`
	Books           []LineItem        `json:"books"`
	Status          InventoryStatus   `json:"status"`
	Errors          []ValidationError `json:"errors"`
}

// HasErrors reports whether the entry needs a user edit before retrying.
func (p *PendingInventory) HasErrors() bool {
	return len(p.Errors) > 0
}

// Clone returns a deep copy.
func (p *PendingInventory) Clone() PendingInventory {
	c := *p
	c.Books = make([]LineItem, len(p.Books))
	copy(c.Books, p.Books)
	c.Errors = make([]ValidationError, len(p.Errors))
	copy(c.Errors, p.Errors)
	return c
}

// SyncRequest builds the reconciliation payload for this entry.
func (p *PendingInventory) SyncRequest() SyncRequest {
	books := make([]SyncBook, 0, len(p.Books))
	for _, line := range p.Books {
		books = append(books, SyncBook{BookID: line.BookID, Quantity: line.Quantity})
	}
	return SyncRequest{
		EstablishmentID: p.EstablishmentID,
		TotalQuantity:   p.TotalQuantity,
		InventoryBooks:  books,
	}
}

// TotalQuantity sums line quantities.
func TotalQuantity(lines []LineItem) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}

// Inventory is a server-side inventory.
type Inventory struct {
	ID              string          `json:"id"`
	Identifier      int             `json:"identifier"`
	TotalQuantity   int             `json:"total_quantity"`
	EstablishmentID string          `json:"establishment_id"`
	Establishment   Establishment   `json:"establishment"`
	Status          InventoryStatus `json:"status"`
}

// InventoryBook is a line of a server-side inventory.
type InventoryBook struct {
	ID          string `json:"id"`
	InventoryID string `json:"inventory_id"`
	BookID      string `json:"book_id"`
	Book        Book   `json:"book"`
	Quantity    int    `json:"quantity"`
}

// InventoryDetail is the GET /inventories/:id payload. Lines are paged;
// Page and LastPage describe the slice held in Books.
type InventoryDetail struct {
	Inventory
	Books    []InventoryBook `json:"books"`
	Total    int             `json:"total,omitempty"`
	Page     int             `json:"page,omitempty"`
	LastPage int             `json:"lastPage,omitempty"`
}

// InventoryPage is one page of GET /inventories.
type InventoryPage struct {
	Data     []Inventory `json:"data"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	LastPage int         `json:"lastPage"`
}

// InventoryInput is the body of POST /inventories and PUT /inventories/:id.
type InventoryInput struct {
	EstablishmentID string     `json:"establishment_id"`
	TotalQuantity   int        `json:"total_quantity,omitempty"`
	InventoryBooks  []SyncBook `json:"inventoryBooks"`
}
