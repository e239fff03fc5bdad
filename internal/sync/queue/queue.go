// Package queue provides the durable local queue for offline operations.
// Operations enqueued here survive process restarts; the sync engine drains
// them once the server becomes usable again.
package queue

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/faidahq/faida-offline/internal/db"
	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/logging"
	"github.com/faidahq/faida-offline/internal/models"
	"github.com/faidahq/faida-offline/internal/uuid"
)

// Queue is a durable operation queue backed by SQLite. All status
// transitions go through its methods; rows are never mutated elsewhere so
// terminal-state invariants hold under concurrent drains.
type Queue struct {
	db *db.DB
}

// New creates a Queue over an opened database.
func New(database *db.DB) *Queue {
	return &Queue{db: database}
}

// Enqueue persists a new operation with status pending and returns it.
// localID is the idempotency token included in every submission attempt;
// when empty a fresh UUID v4 is assigned. A duplicate localID does not
// create a second record and reports ErrDuplicate.
func (q *Queue) Enqueue(kind models.OperationKind, payload json.RawMessage, localID string) (*models.QueuedOperation, error) {
	if !kind.Valid() {
		return nil, apperrors.New(apperrors.ErrUnknownKind, "unknown operation kind: "+string(kind))
	}
	if !json.Valid(payload) {
		return nil, apperrors.New(apperrors.ErrInvalid, "payload is not valid JSON")
	}
	if localID == "" {
		localID = uuid.New()
	} else if !uuid.IsValid(localID) {
		return nil, apperrors.New(apperrors.ErrInvalid, "local id is not a valid UUID v4: "+localID)
	}

	now := time.Now().Unix()

	res, err := q.db.Exec(
		`INSERT INTO queued_operations (local_id, kind, payload, status, queued_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		localID, string(kind), string(payload), string(models.StatusPending), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Wrap(apperrors.ErrDuplicate, "operation already queued with local id "+localID, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to persist queued operation", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read assigned id", err)
	}

	logging.Info("operation enqueued", logging.Fields{
		"id":       id,
		"local_id": localID,
		"kind":     kind,
	})

	return &models.QueuedOperation{
		ID:        id,
		LocalID:   localID,
		Kind:      kind,
		Payload:   payload,
		Status:    models.StatusPending,
		QueuedAt:  now,
		UpdatedAt: now,
	}, nil
}

// Get returns the operation with the given storage id.
func (q *Queue) Get(id int64) (*models.QueuedOperation, error) {
	row := q.db.QueryRow(
		`SELECT id, local_id, kind, payload, status, last_error, queued_at, updated_at
		 FROM queued_operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "no queued operation with that id")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read queued operation", err)
	}
	return op, nil
}

// ListPending returns all operations still awaiting submission, in
// insertion order.
func (q *Queue) ListPending() ([]*models.QueuedOperation, error) {
	return q.listByStatus(models.StatusPending)
}

// ListFailed returns all terminally failed operations, in insertion order.
func (q *Queue) ListFailed() ([]*models.QueuedOperation, error) {
	return q.listByStatus(models.StatusFailed)
}

func (q *Queue) listByStatus(status models.OperationStatus) ([]*models.QueuedOperation, error) {
	rows, err := q.db.Query(
		`SELECT id, local_id, kind, payload, status, last_error, queued_at, updated_at
		 FROM queued_operations WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list queued operations", err)
	}
	defer rows.Close()

	var ops []*models.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan queued operation", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate queued operations", err)
	}
	return ops, nil
}

// MarkSynced transitions a pending operation to synced. Calling it on an
// already-terminal record is a no-op, not an error, so a superseded drain
// racing a fresh one cannot corrupt state.
func (q *Queue) MarkSynced(id int64) error {
	return q.markTerminal(id, models.StatusSynced, "")
}

// MarkFailed transitions a pending operation to failed, recording the
// reason. Idempotent like MarkSynced.
func (q *Queue) MarkFailed(id int64, reason string) error {
	return q.markTerminal(id, models.StatusFailed, reason)
}

func (q *Queue) markTerminal(id int64, status models.OperationStatus, reason string) error {
	res, err := q.db.Exec(
		`UPDATE queued_operations SET status = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), reason, time.Now().Unix(), id, string(models.StatusPending))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to update operation status", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to read affected rows", err)
	}
	if affected == 0 {
		// Either already terminal (fine) or unknown id.
		var exists int
		if err := q.db.QueryRow("SELECT COUNT(*) FROM queued_operations WHERE id = ?", id).Scan(&exists); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to check operation existence", err)
		}
		if exists == 0 {
			return apperrors.New(apperrors.ErrNotFound, "no queued operation with that id")
		}
		return nil
	}

	logging.Debug("operation status updated", logging.Fields{"id": id, "status": status})
	return nil
}

// Count returns the number of operations with the given status.
func (q *Queue) Count(status models.OperationStatus) (int, error) {
	var n int
	err := q.db.QueryRow("SELECT COUNT(*) FROM queued_operations WHERE status = ?", string(status)).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count queued operations", err)
	}
	return n, nil
}

// RetryFailed resets all failed operations to pending so the next drain
// resubmits them. Retry is an explicit user action; the engine never
// re-queues failed operations on its own.
func (q *Queue) RetryFailed() (int, error) {
	res, err := q.db.Exec(
		`UPDATE queued_operations SET status = ?, last_error = '', updated_at = ?
		 WHERE status = ?`,
		string(models.StatusPending), time.Now().Unix(), string(models.StatusFailed))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to reset failed operations", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to read affected rows", err)
	}
	if affected > 0 {
		logging.Info("failed operations reset for retry", logging.Fields{"count": affected})
	}
	return int(affected), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row rowScanner) (*models.QueuedOperation, error) {
	var op models.QueuedOperation
	var kind, status, payload string
	if err := row.Scan(&op.ID, &op.LocalID, &kind, &payload, &status, &op.LastError, &op.QueuedAt, &op.UpdatedAt); err != nil {
		return nil, err
	}
	op.Kind = models.OperationKind(kind)
	op.Status = models.OperationStatus(status)
	op.Payload = json.RawMessage(payload)
	return &op, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
