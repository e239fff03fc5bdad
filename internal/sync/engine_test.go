package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faidahq/faida-offline/internal/config"
	"github.com/faidahq/faida-offline/internal/connectivity"
	"github.com/faidahq/faida-offline/internal/db"
	"github.com/faidahq/faida-offline/internal/models"
	"github.com/faidahq/faida-offline/internal/status"
	"github.com/faidahq/faida-offline/internal/sync/queue"
)

var testEndpoints = config.EndpointsConfig{
	Sales:          "/api/v1/sales",
	StockPurchases: "/api/v1/stock-purchases",
	CashOutflows:   "/api/v1/cash-outflows",
}

func newTestEngine(t *testing.T, serverURL string) (*Engine, *queue.Queue, *status.Surface) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())

	q := queue.New(database)

	base, err := url.Parse(serverURL)
	require.NoError(t, err)

	client := NewClient(connectivity.NewHTTPClient(2*time.Second), base, testEndpoints, connectivity.NewClassifier("/auth/login"))
	surface := status.NewSurface(time.Minute)
	return NewEngine(q, client, surface), q, surface
}

func enqueueSales(t *testing.T, q *queue.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(models.KindSale, json.RawMessage(`{
			"client_choice": "new",
			"new_client_name": "Client inconnu",
			"sale_items": [{"network": "airtel", "quantity": 2}],
			"cash_paid": "100"
		}`), "")
		require.NoError(t, err)
	}
}

func TestDrainCompleteness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"created"}`))
	}))
	defer srv.Close()

	engine, q, _ := newTestEngine(t, srv.URL)
	enqueueSales(t, q, 4)

	result, err := engine.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Submitted)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, 0, result.Failed)

	pending, err := q.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	synced, err := q.Count(models.StatusSynced)
	require.NoError(t, err)
	assert.Equal(t, 4, synced)
}

func TestDrainPartialFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every third submission bounces with a hard failure.
		if calls.Add(1)%3 == 0 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Stock insuffisant"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	engine, q, surface := newTestEngine(t, srv.URL)
	enqueueSales(t, q, 6)

	result, err := engine.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 4, result.Synced)

	failed, err := q.Count(models.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 2, failed)

	synced, err := q.Count(models.StatusSynced)
	require.NoError(t, err)
	assert.Equal(t, 4, synced)

	// Terminal failures must surface as a persistent error notice.
	assert.Equal(t, status.PhaseError, surface.Current().Phase)
	assert.Equal(t, 2, surface.Current().Failed)
}

func TestDrainConflictTreatedAsSynced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server already applied this local_id on a prior attempt.
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"already applied"}`))
	}))
	defer srv.Close()

	engine, q, _ := newTestEngine(t, srv.URL)
	enqueueSales(t, q, 1)

	result, err := engine.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Failed)

	pending, _ := q.ListPending()
	assert.Empty(t, pending)
}

func TestDrainUnreachableLeavesPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	engine, q, surface := newTestEngine(t, srv.URL)
	enqueueSales(t, q, 3)

	result, err := engine.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.LeftPending)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, result.Failed)

	pending, _ := q.ListPending()
	assert.Len(t, pending, 3)

	// Nothing synced: no success notice, the surface stays offline.
	snap := surface.Current()
	assert.Equal(t, status.PhaseOffline, snap.Phase)
	assert.Equal(t, 3, snap.Pending)
}

// TestDrainAuthRedirectLeavesPending covers the rejected-session case: the
// endpoint 302s the POST to the login page, which answers 200. That 200 is
// the login page, not an applied operation, so nothing may be marked synced.
func TestDrainAuthRedirectLeavesPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<h1>Connexion</h1>"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/login?next="+r.URL.Path, http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	engine, q, _ := newTestEngine(t, srv.URL)
	enqueueSales(t, q, 2)

	result, err := engine.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, result.LeftPending)

	pending, err := q.ListPending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	synced, err := q.Count(models.StatusSynced)
	require.NoError(t, err)
	assert.Equal(t, 0, synced)
}

func TestDrainSubmitsLocalID(t *testing.T) {
	var gotLocalID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if v, ok := body["local_id"].(string); ok {
			gotLocalID.Store(v)
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "FaidaOfflineCore", r.Header.Get("X-Requested-With"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	engine, q, _ := newTestEngine(t, srv.URL)

	op, err := q.Enqueue(models.KindSale, json.RawMessage(`{
		"client_choice": "new",
		"sale_items": [{"network": "orange", "quantity": 1}],
		"cash_paid": "0"
	}`), "")
	require.NoError(t, err)

	_, err = engine.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, op.LocalID, gotLocalID.Load())
}

func TestDrainRoutesByKind(t *testing.T) {
	paths := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	engine, q, _ := newTestEngine(t, srv.URL)

	_, err := q.Enqueue(models.KindStockPurchase, json.RawMessage(`{
		"network": "vodacom", "amount_purchased": 50,
		"buying_price_choice": "26", "intended_selling_price_choice": "30"
	}`), "")
	require.NoError(t, err)
	_, err = q.Enqueue(models.KindCashOutflow, json.RawMessage(`{
		"amount": "2000", "category": "SALARY"
	}`), "")
	require.NoError(t, err)

	_, err = engine.Drain(context.Background())
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[<-paths] = true
	}
	assert.True(t, seen["/api/v1/stock-purchases"])
	assert.True(t, seen["/api/v1/cash-outflows"])
}

// TestOfflineSaleRoundTrip walks the headline scenario: a sale with two
// line items captured offline, persisted pending, then synced on
// reconnect when the endpoint answers 201.
func TestOfflineSaleRoundTrip(t *testing.T) {
	var accepting atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !accepting.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"created","sale_id":42}`))
	}))
	defer srv.Close()

	engine, q, _ := newTestEngine(t, srv.URL)

	op, err := q.Enqueue(models.KindSale, json.RawMessage(`{
		"client_choice": "new",
		"new_client_name": "Mama Benz",
		"sale_items": [
			{"network": "airtel", "quantity": 10},
			{"network": "orange", "quantity": 4}
		],
		"cash_paid": "500"
	}`), "")
	require.NoError(t, err)

	stored, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	accepting.Store(true)

	_, err = engine.Drain(context.Background())
	require.NoError(t, err)

	final, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, final.Status)

	pending, err := q.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDrainRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	engine, q, _ := newTestEngine(t, srv.URL)
	enqueueSales(t, q, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Drain(context.Background())
	}()

	// Wait until the first drain is holding the slot.
	require.Eventually(t, engine.Draining, time.Second, 5*time.Millisecond)

	_, err := engine.Drain(context.Background())
	assert.Error(t, err)

	close(release)
	<-done
}
