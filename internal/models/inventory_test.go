package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/booktu/internal/models"
)

func TestTotalQuantity(t *testing.T) {
	assert.Equal(t, 0, models.TotalQuantity(nil))
	assert.Equal(t, 7, models.TotalQuantity([]models.LineItem{
		{BookID: "b1", Quantity: 3},
		{BookID: "b2", Quantity: 4},
	}))
}

func TestPendingInventory_SyncRequest(t *testing.T) {
	p := models.PendingInventory{
		TemporaryID:     "tmp-1",
		EstablishmentID: "store-1",
		TotalQuantity:   5,
		Books: []models.LineItem{
			{BookID: "b1", Book: models.Book{ID: "b1", Title: "Dom Casmurro"}, Quantity: 2},
			{BookID: "b2", Book: models.Book{ID: "b2", Title: "Iracema"}, Quantity: 3},
		},
	}

	data, err := json.Marshal(p.SyncRequest())
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"establishment_id": "store-1",
		"total_quantity": 5,
		"inventoryBooks": [
			{"book_id": "b1", "quantity": 2},
			{"book_id": "b2", "quantity": 3}
		]
	}`, string(data))
}

func TestPendingInventory_Clone(t *testing.T) {
	p := models.PendingInventory{
		TemporaryID: "tmp-1",
		Books:       []models.LineItem{{BookID: "b1", Quantity: 1}},
		Errors:      []models.ValidationError{{ID: "b1", Kind: models.ReferenceBook}},
	}

	c := p.Clone()
	c.Books[0].Quantity = 99
	c.Errors[0].ID = "changed"

	assert.Equal(t, 1, p.Books[0].Quantity)
	assert.Equal(t, "b1", p.Errors[0].ID)
	assert.True(t, p.HasErrors())
}

func TestSyncResponse_ValidationErrors(t *testing.T) {
	var resp models.SyncResponse
	err := json.Unmarshal([]byte(`{
		"wasCreated": false,
		"message": "invalid references",
		"errors": [
			{"id": "store-2", "type": "establishment"},
			{"id": "", "type": "book"},
			{"id": "b9", "type": "publisher"},
			{"id": "b3", "type": "book"}
		]
	}`), &resp)
	require.NoError(t, err)

	assert.Equal(t, []models.ValidationError{
		{ID: "store-2", Kind: models.ReferenceEstablishment},
		{ID: "b3", Kind: models.ReferenceBook},
	}, resp.ValidationErrors())
}
