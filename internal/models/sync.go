package models

// SyncBook is one line of a reconciliation request.
type SyncBook struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

// SyncRequest is the body of POST /inventories/sync.
type SyncRequest struct {
	EstablishmentID string     `json:"establishment_id"`
	TotalQuantity   int        `json:"total_quantity"`
	InventoryBooks  []SyncBook `json:"inventoryBooks"`
}

// SyncErrorDetail is one invalid reference reported by the server.
type SyncErrorDetail struct {
	ID   string        `json:"id"`
	Type ReferenceKind `json:"type"`
}

// SyncResponse is the reply of POST /inventories/sync.
type SyncResponse struct {
	WasCreated bool              `json:"wasCreated"`
	Errors     []SyncErrorDetail `json:"errors"`
	Message    string            `json:"message"`
}

// ValidationErrors keeps only well-formed details, dropping entries with
// an empty id or unknown type.
func (r *SyncResponse) ValidationErrors() []ValidationError {
	out := make([]ValidationError, 0, len(r.Errors))
	for _, detail := range r.Errors {
		if detail.ID == "" || !detail.Type.Valid() {
			continue
		}
		out = append(out, ValidationError{ID: detail.ID, Kind: detail.Type})
	}
	return out
}
