package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
)

// captureOpener records the authorization URL instead of launching a browser.
type captureOpener struct {
	mu  sync.Mutex
	url string
}

func (o *captureOpener) OpenURL(u string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.url = u
	return nil
}

func (o *captureOpener) wait(t *testing.T) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		u := o.url
		o.mu.Unlock()
		if u != "" {
			return u
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("authorization URL was never opened")
	return ""
}

type memStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (s *memStore) ToolServers() []models.ToolServerConfig { return nil }

func (s *memStore) SaveOAuthToken(serverID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	s.tokens[serverID] = token
	return nil
}

// redirectParams extracts state and redirect_uri from the opened URL.
func redirectParams(t *testing.T, authURL string) (state, redirectURI string) {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("opened URL is not valid: %v", err)
	}
	q := u.Query()
	if q.Get("state") == "" || q.Get("redirect_uri") == "" {
		t.Fatalf("authorization URL missing state or redirect_uri: %s", authURL)
	}
	return q.Get("state"), q.Get("redirect_uri")
}

func callbackGet(t *testing.T, redirectURI string, params url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(redirectURI + "?" + params.Encode())
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}

func TestFlowSuccess(t *testing.T) {
	opener := &captureOpener{}
	store := &memStore{}
	flow := NewFlow("https://auth.example.com/authorize", opener, store)

	type result struct {
		token string
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		token, err := flow.Run(context.Background(), "srv1")
		resultCh <- result{token, err}
	}()

	state, redirectURI := redirectParams(t, opener.wait(t))

	resp, body := callbackGet(t, redirectURI, url.Values{
		"state":        {state},
		"access_token": {"tok-abc"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("callback status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "Authorization complete") {
		t.Errorf("callback page = %q, want completion message", body)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Run() failed: %v", res.err)
		}
		if res.token != "tok-abc" {
			t.Errorf("token = %q, want tok-abc", res.token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after callback")
	}

	if got := store.tokens["srv1"]; got != "tok-abc" {
		t.Errorf("persisted token = %q, want tok-abc", got)
	}
}

func TestFlowProviderDenied(t *testing.T) {
	opener := &captureOpener{}
	flow := NewFlow("https://auth.example.com/authorize", opener, &memStore{})

	errCh := make(chan error, 1)
	go func() {
		_, err := flow.Run(context.Background(), "srv1")
		errCh <- err
	}()

	state, redirectURI := redirectParams(t, opener.wait(t))
	_, body := callbackGet(t, redirectURI, url.Values{
		"state": {state},
		"error": {"access_denied"},
	})
	if !strings.Contains(body, "access_denied") {
		t.Errorf("failure page = %q, should name the provider error", body)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrAuthFailed) {
			t.Errorf("Run() error = %v, want ErrAuthFailed", err)
		}
		if err == nil || !strings.Contains(err.Error(), "access_denied") {
			t.Errorf("Run() error = %v, should carry the provider code", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after denial callback")
	}
}

func TestFlowMalformedCallback(t *testing.T) {
	tests := []struct {
		name   string
		params func(state string) url.Values
	}{
		{"missing token and error", func(state string) url.Values {
			return url.Values{"state": {state}}
		}},
		{"state mismatch", func(state string) url.Values {
			return url.Values{"state": {"wrong"}, "access_token": {"tok"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &captureOpener{}
			flow := NewFlow("https://auth.example.com/authorize", opener, &memStore{})

			errCh := make(chan error, 1)
			go func() {
				_, err := flow.Run(context.Background(), "srv1")
				errCh <- err
			}()

			state, redirectURI := redirectParams(t, opener.wait(t))
			resp, _ := callbackGet(t, redirectURI, tt.params(state))
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("callback status = %d, want 400", resp.StatusCode)
			}

			select {
			case err := <-errCh:
				if !errors.Is(err, domain.ErrOAuthMalformedCallback) {
					t.Errorf("Run() error = %v, want ErrOAuthMalformedCallback", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Run() did not return after malformed callback")
			}
		})
	}
}

// Two callbacks can land before the flow tears the listener down; only the
// first may complete it. The handler is driven directly here so the second
// request cannot race the listener shutdown that follows completion.
func TestFlowSecondCallbackIgnored(t *testing.T) {
	flow := NewFlow("https://auth.example.com/authorize", &captureOpener{}, &memStore{})

	resultCh := make(chan callbackResult, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flow.handleCallback(w, r, "state-1", resultCh)
	}))
	defer srv.Close()

	resp, _ := callbackGet(t, srv.URL, url.Values{"state": {"state-1"}, "access_token": {"first"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first callback status = %d, want 200", resp.StatusCode)
	}
	select {
	case res := <-resultCh:
		if res.err != nil || res.token != "first" {
			t.Fatalf("first callback result = %+v, want token first", res)
		}
	default:
		t.Fatal("first callback did not complete the flow")
	}

	resp, body := callbackGet(t, srv.URL, url.Values{"state": {"state-1"}, "access_token": {"second"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second callback status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(body, "Authorization complete") {
		t.Errorf("second callback page = %q, want the static completion page", body)
	}
	select {
	case res := <-resultCh:
		t.Errorf("second callback produced a result: %+v", res)
	default:
	}
}

func TestFlowTimeout(t *testing.T) {
	opener := &captureOpener{}
	flow := NewFlow("https://auth.example.com/authorize", opener, &memStore{})
	flow.timeout = 50 * time.Millisecond

	_, err := flow.Run(context.Background(), "srv1")
	if !errors.Is(err, domain.ErrOAuthTimeout) {
		t.Errorf("Run() error = %v, want ErrOAuthTimeout", err)
	}
}

func TestFlowContextCancelled(t *testing.T) {
	opener := &captureOpener{}
	flow := NewFlow("https://auth.example.com/authorize", opener, &memStore{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := flow.Run(ctx, "srv1")
		errCh <- err
	}()

	opener.wait(t)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, domain.ErrOAuthTimeout) {
			t.Errorf("Run() error = %v, want ErrOAuthTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}
