// Package models provides data model definitions for Faida Offline Core.
package models

import (
	"encoding/json"
	"time"
)

// OperationKind identifies the business action a queued operation carries.
type OperationKind string

const (
	KindSale          OperationKind = "sale"
	KindStockPurchase OperationKind = "stockPurchase"
	KindCashOutflow   OperationKind = "cashOutflow"
)

// Valid reports whether the kind is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case KindSale, KindStockPurchase, KindCashOutflow:
		return true
	}
	return false
}

// OperationStatus represents the lifecycle state of a queued operation.
type OperationStatus string

const (
	StatusPending OperationStatus = "pending"
	StatusSynced  OperationStatus = "synced"
	StatusFailed  OperationStatus = "failed"
)

// Terminal reports whether the status is an end state for an attempt.
func (s OperationStatus) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// QueuedOperation represents a business action captured locally while the
// server was not usable, pending resubmission.
type QueuedOperation struct {
	ID        int64           `db:"id" json:"id"`
	LocalID   string          `db:"local_id" json:"local_id"`
	Kind      OperationKind   `db:"kind" json:"kind"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	Status    OperationStatus `db:"status" json:"status"`
	LastError string          `db:"last_error" json:"last_error,omitempty"`
	QueuedAt  int64           `db:"queued_at" json:"queued_at"`
	UpdatedAt int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueuedOperation.
func (QueuedOperation) TableName() string {
	return "queued_operations"
}

// QueuedAtTime returns the QueuedAt as time.Time.
func (o *QueuedOperation) QueuedAtTime() time.Time {
	return time.Unix(o.QueuedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (o *QueuedOperation) UpdatedAtTime() time.Time {
	return time.Unix(o.UpdatedAt, 0)
}

// CachedResponse is a locally stored copy of a server response, used by
// the gateway to serve pages and assets when the server is not usable.
type CachedResponse struct {
	URL        string `db:"url" json:"url"`
	StatusCode int    `db:"status_code" json:"status_code"`
	Headers    string `db:"headers" json:"headers"` // JSON-encoded map
	Body       []byte `db:"body" json:"body"`
	StoredAt   int64  `db:"stored_at" json:"stored_at"`
}

// TableName returns the table name for CachedResponse.
func (CachedResponse) TableName() string {
	return "cached_responses"
}

// StoredAtTime returns the StoredAt as time.Time.
func (c *CachedResponse) StoredAtTime() time.Time {
	return time.Unix(c.StoredAt, 0)
}
