// Package sync resubmits queued operations to the Faida server once it
// becomes usable again.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/faidahq/faida-offline/internal/config"
	"github.com/faidahq/faida-offline/internal/connectivity"
	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/models"
)

// SubmitResult classifies one submission attempt.
type SubmitResult int

const (
	// ResultSynced means the server accepted the operation, either fresh
	// (200/201) or as an already-applied duplicate (409).
	ResultSynced SubmitResult = iota
	// ResultFailed means the server rejected the operation for good
	// (any other status); the operation will not be retried automatically.
	ResultFailed
	// ResultUnreachable means the request never completed; the operation
	// stays pending for the next drain.
	ResultUnreachable
	// ResultRejected means the submission bounced off the login redirect:
	// the server answered but never saw the operation. It stays pending,
	// like ResultUnreachable; the server is unusable, the payload is fine.
	ResultRejected
)

// Client submits queued operations to their endpoints.
type Client struct {
	http       *http.Client
	baseURL    *url.URL
	endpoints  config.EndpointsConfig
	classifier *connectivity.Classifier
}

// NewClient creates a submit Client. httpClient should carry the session
// cookie jar so submissions ride the user's session; it follows redirects,
// so the classifier is what tells an applied submission apart from one
// that landed on the login page with a 200.
func NewClient(httpClient *http.Client, baseURL *url.URL, endpoints config.EndpointsConfig, classifier *connectivity.Classifier) *Client {
	return &Client{
		http:       httpClient,
		baseURL:    baseURL,
		endpoints:  endpoints,
		classifier: classifier,
	}
}

// Submit posts one operation to the endpoint for its kind. The localId
// idempotency token is injected into the body on every attempt so the
// server can recognize a retried duplicate. The returned detail string
// is empty unless the result is ResultFailed.
func (c *Client) Submit(ctx context.Context, op *models.QueuedOperation) (SubmitResult, string, error) {
	path, ok := c.endpoints.PathFor(op.Kind)
	if !ok {
		return ResultFailed, "", apperrors.New(apperrors.ErrUnknownKind, "no endpoint for kind "+string(op.Kind))
	}

	body, err := injectLocalID(op.Payload, op.LocalID)
	if err != nil {
		return ResultFailed, "", apperrors.Wrap(apperrors.ErrPayloadDecode, "failed to prepare submission body", err)
	}

	target := *c.baseURL
	target.Path = path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return ResultFailed, "", apperrors.Wrap(apperrors.ErrInternal, "failed to build submission request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	// Identifies the request as a programmatic submission, not a browser
	// navigation.
	req.Header.Set("X-Requested-With", "FaidaOfflineCore")

	resp, err := c.http.Do(req)
	if err != nil {
		return ResultUnreachable, "", nil
	}
	defer resp.Body.Close()

	// A rejected session redirects the POST to the login page, which
	// answers 200. That 200 is the login page, not an applied operation.
	if c.classifier.IsAuthRedirect(resp) {
		return ResultRejected, "", nil
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return ResultSynced, "", nil
	case resp.StatusCode == http.StatusConflict:
		// Already applied on a previous attempt; the idempotency token
		// did its job.
		return ResultSynced, "", nil
	default:
		detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if msg := readErrorMessage(resp.Body); msg != "" {
			detail += ": " + msg
		}
		return ResultFailed, detail, nil
	}
}

// injectLocalID adds the local_id field to the stored payload.
func injectLocalID(payload json.RawMessage, localID string) ([]byte, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["local_id"] = localID
	return json.Marshal(fields)
}

// readErrorMessage extracts the server's error field when the body is a
// JSON error document.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var doc struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc.Error
}
