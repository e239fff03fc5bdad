// Package connectivity classifies server reachability for the offline core.
//
// Raw online/offline signals are not enough: when the server's backing
// store is down the application silently redirects every request to the
// login page while the transport is perfectly healthy. Trusting that
// redirect would log users out spuriously, so every network attempt is
// resolved into one of three explicit outcomes instead.
package connectivity

import (
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// State is the classified outcome of a network attempt.
type State int

const (
	// StateUnreachable means the request itself failed at the transport
	// level (DNS failure, connection refused, timeout).
	StateUnreachable State = iota
	// StateRejected means a response arrived but was redirected to the
	// auth path: the server is up, the session is not usable.
	StateRejected
	// StateReachable means a response arrived without an auth redirect.
	StateReachable
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnreachable:
		return "unreachable"
	case StateRejected:
		return "rejected"
	case StateReachable:
		return "reachable"
	}
	return "unknown"
}

// Classifier resolves HTTP attempt results against the known auth path.
type Classifier struct {
	authPathPrefix string
}

// NewClassifier creates a Classifier recognizing redirects whose final
// URL path starts with authPathPrefix (e.g. "/auth/login").
func NewClassifier(authPathPrefix string) *Classifier {
	return &Classifier{authPathPrefix: authPathPrefix}
}

// Classify maps a completed (or failed) HTTP attempt to a State.
// resp may be nil only when err is non-nil.
func (c *Classifier) Classify(resp *http.Response, err error) State {
	if err != nil {
		return StateUnreachable
	}
	if c.IsAuthRedirect(resp) {
		return StateRejected
	}
	return StateReachable
}

// IsAuthRedirect reports whether the response landed on the auth page,
// either via a followed redirect chain or an explicit 3xx Location.
// The final URL is compared against the auth path pattern; status code
// alone is not trusted because the redirect may already be followed.
func (c *Classifier) IsAuthRedirect(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.Request != nil && resp.Request.URL != nil &&
		strings.HasPrefix(resp.Request.URL.Path, c.authPathPrefix) {
		// resp.Request is the final request after redirects.
		// A direct load of the auth page itself is a legitimate
		// navigation, not a rejection; callers exclude that case by
		// never probing the auth path.
		return resp.Request.Response != nil
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		return strings.HasPrefix(loc, c.authPathPrefix) ||
			strings.Contains(loc, c.authPathPrefix)
	}
	return false
}

// NewHTTPClient builds an HTTP client that follows redirects but keeps
// redirect metadata observable: after Do returns, resp.Request points at
// the final hop and resp.Request.Response links back through the chain.
// Cookies persist across requests so the server session survives.
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		Transport: &http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// NewNoRedirectClient builds an HTTP client that never follows redirects,
// so a 3xx with its Location header is returned as-is. The gateway uses
// this for page requests where the redirect decision itself is the signal.
func NewNoRedirectClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
