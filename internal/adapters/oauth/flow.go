// Package oauth implements the interactive browser-based authorization flow
// for tool servers that require it. A loopback HTTP listener on an
// OS-assigned port receives the provider's redirect, and the acquired token
// is written back to the server's configuration.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/ports"
)

// FlowTimeout is how long the flow waits for the user to complete
// authorization in the browser.
const FlowTimeout = 5 * time.Minute

// The listener serves nothing but the redirect, so the callback lives at its
// root rather than under a dedicated path.
const callbackPath = "/"

const successPage = `<!DOCTYPE html>
<html><head><title>Authorization complete</title></head>
<body><p>Authorization complete. You can close this tab and return to the terminal.</p></body></html>`

const failurePage = `<!DOCTYPE html>
<html><head><title>Authorization failed</title></head>
<body><p>Authorization failed: %s. You can close this tab.</p></body></html>`

// Flow runs one interactive authorization for one tool server. A Flow is
// single-use: Run may be called once.
type Flow struct {
	authorizeURL string
	opener       ports.URLOpener
	store        ports.ConfigStore
	timeout      time.Duration

	mu   sync.Mutex
	done bool
}

// NewFlow builds a flow for the given provider authorization endpoint.
func NewFlow(authorizeURL string, opener ports.URLOpener, store ports.ConfigStore) *Flow {
	return &Flow{
		authorizeURL: authorizeURL,
		opener:       opener,
		store:        store,
		timeout:      FlowTimeout,
	}
}

type callbackResult struct {
	token string
	err   error
}

// Run starts the loopback listener, opens the provider's authorization page
// and blocks until the redirect arrives, the timeout elapses, or ctx is
// cancelled. On success the token is persisted for serverID and returned.
func (f *Flow) Run(ctx context.Context, serverID string) (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("%w: failed to open loopback listener: %v", domain.ErrAuthFailed, err)
	}
	defer listener.Close()

	state, err := newStateToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthFailed, err)
	}

	redirectURI := fmt.Sprintf("http://%s%s", listener.Addr().String(), callbackPath)

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		f.handleCallback(w, r, state, resultCh)
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Debug("oauth callback server stopped", "error", err)
		}
	}()
	defer server.Close()

	authURL, err := f.buildAuthorizeURL(state, redirectURI)
	if err != nil {
		return "", err
	}

	slog.Info("starting authorization flow", "server_id", serverID, "redirect_uri", redirectURI)
	if err := f.opener.OpenURL(authURL); err != nil {
		return "", fmt.Errorf("%w: failed to open browser: %v", domain.ErrAuthFailed, err)
	}

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", domain.ErrOAuthTimeout, ctx.Err())
	case <-time.After(f.timeout):
		return "", fmt.Errorf("%w: no callback within %s", domain.ErrOAuthTimeout, f.timeout)
	case res := <-resultCh:
		if res.err != nil {
			return "", res.err
		}
		if f.store != nil {
			if err := f.store.SaveOAuthToken(serverID, res.token); err != nil {
				return "", fmt.Errorf("%w: failed to persist token: %v", domain.ErrAuthFailed, err)
			}
		}
		slog.Info("authorization complete", "server_id", serverID)
		return res.token, nil
	}
}

// handleCallback processes the provider redirect. Only the first callback
// counts; later ones get a page but change nothing.
func (f *Flow) handleCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	f.mu.Lock()
	already := f.done
	if !already {
		f.done = true
	}
	f.mu.Unlock()

	if already {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, successPage)
		return
	}

	if errCode := q.Get("error"); errCode != "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, failurePage, errCode)
		resultCh <- callbackResult{err: fmt.Errorf("%w: provider returned %q", domain.ErrAuthFailed, errCode)}
		return
	}

	if got := q.Get("state"); got != state {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, failurePage, "state mismatch")
		resultCh <- callbackResult{err: fmt.Errorf("%w: state mismatch", domain.ErrOAuthMalformedCallback)}
		return
	}

	token := q.Get("access_token")
	if token == "" {
		token = q.Get("code")
	}
	if token == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, failurePage, "missing token")
		resultCh <- callbackResult{err: fmt.Errorf("%w: callback carried neither access_token nor error", domain.ErrOAuthMalformedCallback)}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, successPage)
	resultCh <- callbackResult{token: token}
}

func (f *Flow) buildAuthorizeURL(state, redirectURI string) (string, error) {
	u, err := url.Parse(f.authorizeURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid authorization URL: %v", domain.ErrAuthFailed, err)
	}
	q := u.Query()
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "token")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newStateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
