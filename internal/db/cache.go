package db

import (
	"database/sql"
	"time"

	"github.com/faidahq/faida-offline/internal/models"
)

// CacheRepository provides read/write access to cached server responses.
// The gateway populates it opportunistically on successful fetches and
// reads from it when the server is unreachable or rejecting.
type CacheRepository struct {
	db *DB
}

// NewCacheRepository creates a new CacheRepository instance.
func NewCacheRepository(database *DB) *CacheRepository {
	return &CacheRepository{db: database}
}

// Put stores (or replaces) the cached copy of a response for a URL.
func (r *CacheRepository) Put(entry *models.CachedResponse) error {
	entry.StoredAt = time.Now().Unix()
	_, err := r.db.Exec(
		`INSERT INTO cached_responses (url, status_code, headers, body, stored_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			status_code = excluded.status_code,
			headers = excluded.headers,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		entry.URL, entry.StatusCode, entry.Headers, entry.Body, entry.StoredAt)
	return err
}

// Get returns the cached response for a URL, or (nil, nil) when absent.
func (r *CacheRepository) Get(url string) (*models.CachedResponse, error) {
	var entry models.CachedResponse
	err := r.db.QueryRow(
		`SELECT url, status_code, headers, body, stored_at
		 FROM cached_responses WHERE url = ?`, url).
		Scan(&entry.URL, &entry.StatusCode, &entry.Headers, &entry.Body, &entry.StoredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete removes the cached response for a URL. Missing entries are not
// an error.
func (r *CacheRepository) Delete(url string) error {
	_, err := r.db.Exec("DELETE FROM cached_responses WHERE url = ?", url)
	return err
}

// Count returns the number of cached responses.
func (r *CacheRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM cached_responses").Scan(&n)
	return n, err
}
