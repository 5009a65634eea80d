package models

import "time"

// HistoryEntry is an inventory the user recently opened.
type HistoryEntry struct {
	Inventory
	AccessedAt time.Time `json:"date"`
}
