package models

import "time"

// ChangeEvent is the kind of row change carried by a change notification.
type ChangeEvent string

const (
	ChangeInsert ChangeEvent = "insert"
	ChangeUpdate ChangeEvent = "update"
	ChangeDelete ChangeEvent = "delete"
	ChangeAny    ChangeEvent = "*"
)

const TableUserProducts = "user_products"

// Change is a row-level change notification. An empty UserID means the change
// may concern any user (for example after a feed reconnect).
type Change struct {
	Table  string      `json:"table"`
	Event  ChangeEvent `json:"event"`
	UserID string      `json:"user_id,omitempty"`
	RowID  string      `json:"id,omitempty"`
	At     time.Time   `json:"at"`
}

// ChangeFilter selects the notifications a subscriber receives.
type ChangeFilter struct {
	Table  string
	Event  ChangeEvent
	UserID string
}

func (f ChangeFilter) Matches(c Change) bool {
	if f.Table != "" && c.Table != f.Table {
		return false
	}
	if f.Event != "" && f.Event != ChangeAny && c.Event != f.Event {
		return false
	}
	if f.UserID != "" && c.UserID != "" && c.UserID != f.UserID {
		return false
	}
	return true
}
