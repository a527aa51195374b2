package builtin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	fetchTimeout    = 30 * time.Second
	maxResponseSize = 10 * 1024 * 1024
	maxRedirects    = 5
	fetchUserAgent  = "Mozilla/5.0 (compatible; Beacon/1.0)"
)

// AllowedFetchHosts bypasses the private-network guard for the listed hosts.
var AllowedFetchHosts []string

// validateFetchURL rejects URLs that would let a model-driven fetch reach
// internal or metadata networks.
func validateFetchURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	for _, allowed := range AllowedFetchHosts {
		if hostname == strings.ToLower(allowed) {
			return nil
		}
	}

	blocked := []string{
		"localhost", "localhost.localdomain", "local", "internal",
		"metadata", "metadata.google.internal", "instance-data",
		"kubernetes", "kubernetes.default",
	}
	for _, b := range blocked {
		if hostname == b || strings.HasSuffix(hostname, "."+b) {
			return fmt.Errorf("hostname %q is not allowed", hostname)
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if isInternalIP(ip) {
			return fmt.Errorf("IP %q points to an internal network", hostname)
		}
		return nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("cannot resolve %q: %w", hostname, err)
	}
	for _, ip := range ips {
		if isInternalIP(ip) {
			return fmt.Errorf("hostname %q resolves to an internal address", hostname)
		}
	}
	return nil
}

func isInternalIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}

// fetchHTML downloads a page with the standard guards and returns its body
// and the URL it ended up at after redirects.
func fetchHTML(ctx context.Context, rawURL string) (string, string, error) {
	if err := validateFetchURL(rawURL); err != nil {
		return "", "", err
	}

	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return validateFetchURL(req.URL.String())
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}

	return string(body), resp.Request.URL.String(), nil
}
