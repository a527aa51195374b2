package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/herrald/beacon/internal/domain"
)

// SessionHeader carries the server-assigned session identifier on every
// request after initialize.
const SessionHeader = "X-Session-ID"

// HTTPTransport reaches a tool server over plain HTTP: one POST per protocol
// message, the JSON-RPC response in the reply body. Custom headers from the
// auth resolver are merged into every request and notification.
type HTTPTransport struct {
	baseURL   string
	headers   map[string]string
	client    *http.Client
	receiveCh chan Message
	closeCh   chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	connected bool
	sessionID string
}

// AllowedURLHosts is a list of explicitly allowed hosts for tool server
// connections. If non-empty, only these hosts are permitted. If empty, URL
// validation relies on blocking private/internal addresses.
var AllowedURLHosts []string

// isPrivateIP checks if an IP address is private, loopback, or otherwise internal
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	if ip.IsPrivate() {
		return true
	}

	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip.IsUnspecified() {
		return true
	}

	if ip.IsMulticast() {
		return true
	}

	// IPv4-mapped IPv6 addresses that wrap private IPs
	if ip4 := ip.To4(); ip4 != nil && len(ip) == net.IPv6len {
		return isPrivateIP(ip4)
	}

	return false
}

// validateURL validates that a URL is safe for server-side requests.
// It prevents SSRF by blocking requests to internal/private networks.
func validateURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", parsedURL.Scheme)
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	if len(AllowedURLHosts) > 0 {
		for _, allowedHost := range AllowedURLHosts {
			if strings.EqualFold(hostname, allowedHost) {
				return nil
			}
		}
		return fmt.Errorf("hostname %q is not in the allowed hosts list", hostname)
	}

	lowerHostname := strings.ToLower(hostname)
	internalHostnames := []string{
		"localhost",
		"localhost.localdomain",
		"local",
		"internal",
		"metadata",
		"metadata.google.internal",
		"instance-data",
		"169.254.169.254",
		"metadata.azure.com",
		"kubernetes",
		"kubernetes.default",
		"kubernetes.default.svc",
		"kubernetes.default.svc.cluster.local",
	}

	for _, internal := range internalHostnames {
		if lowerHostname == internal || strings.HasSuffix(lowerHostname, "."+internal) {
			return fmt.Errorf("hostname %q is not allowed: internal/metadata hostname", hostname)
		}
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable hostnames are rejected rather than trusted
		return fmt.Errorf("cannot resolve hostname %q: %w", hostname, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("hostname %q resolves to private/internal IP address %s", hostname, ip.String())
		}
	}

	return nil
}

// NewHTTPTransport creates an HTTP transport. headers are merged into every
// outgoing request; they come from the auth resolver.
func NewHTTPTransport(baseURL string, headers map[string]string) (*HTTPTransport, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")

	if err := validateURL(baseURL); err != nil {
		return nil, fmt.Errorf("%w: URL validation failed: %v", domain.ErrConnectFailed, err)
	}

	return &HTTPTransport{
		baseURL: baseURL,
		headers: headers,
		// No client-wide timeout: each request is bounded by its own context,
		// so a long tool-call budget is not cut short here.
		client:    &http.Client{},
		receiveCh: make(chan Message, 10),
		closeCh:   make(chan struct{}),
		connected: true,
	}, nil
}

// Send POSTs one message. For requests, the JSON-RPC response arrives in the
// reply body and is forwarded to the receive channel; notifications get an
// empty or 202 reply which is dropped.
func (t *HTTPTransport) Send(ctx context.Context, message any) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return fmt.Errorf("%w: transport closed", domain.ErrConnectFailed)
	}
	sessionID := t.sessionID
	t.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: server returned %s", domain.ErrAuthFailed, resp.Status)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("%w: server error: %s", domain.ErrProtocolError, resp.Status)
		}
		return fmt.Errorf("%w: server error: %s - %s", domain.ErrProtocolError, resp.Status, string(body))
	}

	// The initialize reply assigns the session used by all subsequent calls
	if sid := resp.Header.Get(SessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %v", domain.ErrProtocolError, err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	select {
	case t.receiveCh <- Message{Data: body}:
	case <-t.closeCh:
	}

	return nil
}

// Receive returns a channel for receiving messages
func (t *HTTPTransport) Receive() <-chan Message {
	return t.receiveCh
}

// Close closes the transport
func (t *HTTPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeCh)

		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()

		// receiveCh is left open: an in-flight Send may still be selecting
		// on it. Readers exit via closeCh.
	})
	return nil
}

// IsConnected returns true if the transport is connected
func (t *HTTPTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SessionID returns the server-assigned session identifier, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}
