// Package gateway intercepts page, asset and API traffic bound for the
// Faida server and applies per-route offline policy. It plays the role a
// service worker plays in the browser: cache-first for static assets,
// network-only for API calls, network-first with cached fallback for
// pages.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/faidahq/faida-offline/internal/connectivity"
	"github.com/faidahq/faida-offline/internal/db"
	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/forms"
	"github.com/faidahq/faida-offline/internal/logging"
	"github.com/faidahq/faida-offline/internal/models"
)

// offlinePage is served when a page is requested, the server is
// unreachable and no cached copy exists.
const offlinePage = `<!DOCTYPE html>
<html lang="fr">
<head><meta charset="utf-8"><title>Faida — Hors ligne</title></head>
<body>
<h1>Vous êtes hors ligne</h1>
<p>Cette page n'est pas disponible hors connexion. Vos opérations en
attente seront synchronisées dès le retour du réseau.</p>
</body>
</html>`

// Gateway is an http.Handler proxying requests to the upstream server
// with offline fallback policy per route class.
type Gateway struct {
	upstream       *url.URL
	client         *http.Client
	cache          *db.CacheRepository
	classifier     *connectivity.Classifier
	monitor        *connectivity.Monitor
	staticPrefixes []string
	apiPrefix      string

	interceptor *forms.Interceptor
	formKinds   map[string]models.OperationKind // form path -> kind
}

// New creates a Gateway. client must not follow redirects on its own;
// the gateway needs the 3xx and its Location to make the fallback
// decision (see connectivity.NewNoRedirectClient).
func New(upstream *url.URL, client *http.Client, cache *db.CacheRepository, classifier *connectivity.Classifier, monitor *connectivity.Monitor, staticPrefixes []string, apiPrefix string) *Gateway {
	return &Gateway{
		upstream:       upstream,
		client:         client,
		cache:          cache,
		classifier:     classifier,
		monitor:        monitor,
		staticPrefixes: staticPrefixes,
		apiPrefix:      apiPrefix,
	}
}

// SetFormInterception enables offline form-submit capture: a POST to one
// of the mapped form paths is validated and enqueued locally instead of
// forwarded whenever the server is not usable.
func (g *Gateway) SetFormInterception(interceptor *forms.Interceptor, formKinds map[string]models.OperationKind) {
	g.interceptor = interceptor
	g.formKinds = formKinds
}

// ServeHTTP dispatches a request to the policy for its route class.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isCrossOrigin(r) {
		g.serveCrossOrigin(w, r)
		return
	}
	if g.isStatic(r.URL.Path) {
		g.serveStatic(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, g.apiPrefix) {
		g.serveAPI(w, r)
		return
	}
	if r.Method == http.MethodPost && g.interceptor != nil {
		if kind, ok := g.formKinds[r.URL.Path]; ok && g.interceptor.ShouldIntercept() {
			g.serveFormIntercept(w, r, kind)
			return
		}
	}
	g.servePage(w, r)
}

// serveFormIntercept captures an offline form submission: the JSON body
// is validated locally and enqueued. Validation failures come back as
// 422 with an inline message and nothing is enqueued; enqueue failures
// are hard 500s so data loss is never silent.
func (g *Gateway) serveFormIntercept(w http.ResponseWriter, r *http.Request, kind models.OperationKind) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "corps de requête illisible")
		return
	}

	var op *models.QueuedOperation
	switch kind {
	case models.KindSale:
		var p models.SalePayload
		if err := json.Unmarshal(body, &p); err != nil {
			writeJSONError(w, http.StatusBadRequest, "JSON invalide")
			return
		}
		op, err = g.interceptor.SubmitSale(&p)
	case models.KindStockPurchase:
		var p models.StockPurchasePayload
		if err := json.Unmarshal(body, &p); err != nil {
			writeJSONError(w, http.StatusBadRequest, "JSON invalide")
			return
		}
		op, err = g.interceptor.SubmitStockPurchase(&p)
	case models.KindCashOutflow:
		var p models.CashOutflowPayload
		if err := json.Unmarshal(body, &p); err != nil {
			writeJSONError(w, http.StatusBadRequest, "JSON invalide")
			return
		}
		op, err = g.interceptor.SubmitCashOutflow(&p)
	default:
		writeJSONError(w, http.StatusBadRequest, "type d'opération inconnu")
		return
	}

	if err != nil {
		if apperrors.Is(err, apperrors.ErrValidation) {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		logging.Error("offline form capture failed", err, logging.Fields{"kind": kind})
		writeJSONError(w, http.StatusInternalServerError, "échec de l'enregistrement hors ligne")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"queued":   true,
		"id":       op.ID,
		"local_id": op.LocalID,
		"kind":     op.Kind,
	})
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (g *Gateway) isCrossOrigin(r *http.Request) bool {
	return r.URL.IsAbs() && r.URL.Host != g.upstream.Host
}

func (g *Gateway) isStatic(path string) bool {
	for _, prefix := range g.staticPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// serveStatic is cache-first: serve the cached copy when present,
// otherwise fetch and opportunistically populate the cache. Network
// errors degrade to an empty response rather than propagating.
func (g *Gateway) serveStatic(w http.ResponseWriter, r *http.Request) {
	key := g.cacheKey(r)

	if entry, err := g.cache.Get(key); err == nil && entry != nil {
		writeCached(w, entry)
		return
	}

	resp, err := g.forward(r)
	if err != nil {
		g.monitor.Report(connectivity.StateUnreachable)
		w.WriteHeader(http.StatusOK)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if resp.StatusCode == http.StatusOK {
		g.storeCached(key, resp, body)
	}
	writeResponse(w, resp, body)
}

// serveAPI is always network, never cached: sync submissions must either
// succeed or fail explicitly, and failure is the sync engine's concern.
func (g *Gateway) serveAPI(w http.ResponseWriter, r *http.Request) {
	resp, err := g.forward(r)
	if err != nil {
		g.monitor.Report(connectivity.StateUnreachable)
		http.Error(w, `{"error":"server unreachable"}`, http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, `{"error":"read failed"}`, http.StatusBadGateway)
		return
	}
	writeResponse(w, resp, body)
}

// servePage is network-first with a two-tier fallback. A redirect to the
// auth page does not mean the user must log in again: when a cached copy
// of the same page exists it is served instead, preserving the perceived
// session. Only with no fallback does the redirect pass through.
func (g *Gateway) servePage(w http.ResponseWriter, r *http.Request) {
	key := g.cacheKey(r)

	resp, err := g.forward(r)
	state := g.classifier.Classify(resp, err)
	g.monitor.Report(state)

	switch state {
	case connectivity.StateUnreachable:
		if entry, cerr := g.cache.Get(key); cerr == nil && entry != nil {
			logging.Debug("serving cached page while unreachable", logging.Fields{"url": key})
			writeCached(w, entry)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, offlinePage)
		return

	case connectivity.StateRejected:
		defer resp.Body.Close()
		if entry, cerr := g.cache.Get(key); cerr == nil && entry != nil {
			logging.Info("auth redirect suppressed, serving cached page", logging.Fields{"url": key})
			writeCached(w, entry)
			return
		}
		// No fallback: let the redirect through so the user can log in.
		body, _ := io.ReadAll(resp.Body)
		writeResponse(w, resp, body)
		return
	}

	defer resp.Body.Close()
	body, rerr := io.ReadAll(resp.Body)
	if rerr != nil {
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}
	if resp.StatusCode == http.StatusOK && r.Method == http.MethodGet {
		g.storeCached(key, resp, body)
	}
	writeResponse(w, resp, body)
}

// serveCrossOrigin never caches and swallows failures into an empty
// response so third-party outages cannot break the page.
func (g *Gateway) serveCrossOrigin(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := g.client.Do(req)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeResponse(w, resp, body)
}

// forward rebuilds the incoming request against the upstream origin.
func (g *Gateway) forward(r *http.Request) (*http.Response, error) {
	target := *g.upstream
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeaders(req.Header, r.Header)
	return g.client.Do(req)
}

func (g *Gateway) cacheKey(r *http.Request) string {
	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	return key
}

func (g *Gateway) storeCached(key string, resp *http.Response, body []byte) {
	headers := map[string]string{}
	for _, h := range []string{"Content-Type", "Cache-Control", "ETag"} {
		if v := resp.Header.Get(h); v != "" {
			headers[h] = v
		}
	}
	encoded, _ := json.Marshal(headers)

	entry := &models.CachedResponse{
		URL:        key,
		StatusCode: resp.StatusCode,
		Headers:    string(encoded),
		Body:       body,
	}
	if err := g.cache.Put(entry); err != nil {
		logging.Error("failed to cache response", err, logging.Fields{"url": key})
	}
}

func writeCached(w http.ResponseWriter, entry *models.CachedResponse) {
	var headers map[string]string
	if err := json.Unmarshal([]byte(entry.Headers), &headers); err == nil {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
	}
	w.Header().Set("X-Faida-Cache", "hit")
	w.WriteHeader(entry.StatusCode)
	w.Write(entry.Body)
}

func writeResponse(w http.ResponseWriter, resp *http.Response, body []byte) {
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
