// Package voicesample downloads reference voice recordings from
// caller-supplied URLs without letting them reach internal addresses.
package voicesample

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const (
	defaultMaxBytes = 10 * 1024 * 1024
	defaultTimeout  = 30 * time.Second
)

// Shared address space and other ranges netip does not classify
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

var errBlockedAddress = errors.New("address is not publicly routable")

// Config holds fetcher settings
type Config struct {
	// AllowedHosts lists trusted host names. An entry starting with "."
	// also matches its subdomains and "*" matches any public host. Empty
	// rejects every URL.
	AllowedHosts []string
	MaxBytes     int64
	Timeout      time.Duration
}

// Fetcher downloads WAV reference samples over HTTPS
type Fetcher struct {
	allowed  []string
	maxBytes int64
	client   *http.Client
	logger   *zap.Logger
}

// NewFetcher creates a fetcher whose dialer refuses non-public addresses
func NewFetcher(config Config, logger *zap.Logger) *Fetcher {
	maxBytes := config.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	allowed := make([]string, 0, len(config.AllowedHosts))
	for _, h := range config.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed = append(allowed, h)
		}
	}
	if len(allowed) == 0 {
		logger.Info("No voice sample host allow-list configured, reference voice URLs are rejected")
	}

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			return checkDialAddress(address)
		},
	}
	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	f := &Fetcher{allowed: allowed, maxBytes: maxBytes, logger: logger}
	f.client = &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many redirects")
			}
			_, err := f.Validate(req.URL.String())
			return err
		},
	}
	return f
}

// Validate checks the URL without touching the network
func (f *Fetcher) Validate(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, entities.NewValidationError("reference voice URL is malformed")
	}
	if u.Scheme != "https" {
		return nil, entities.NewValidationError("reference voice URL must use https")
	}
	if u.User != nil {
		return nil, entities.NewValidationError("reference voice URL must not carry credentials")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, entities.NewValidationError("reference voice URL has no host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, entities.NewValidationError("reference voice host is not allowed")
	}
	if addr, err := netip.ParseAddr(host); err == nil && !publicAddr(addr) {
		return nil, entities.NewValidationError("reference voice host is not allowed")
	}
	if !f.hostAllowed(host) {
		return nil, entities.NewValidationError("reference voice host is not allowed")
	}
	return u, nil
}

func (f *Fetcher) hostAllowed(host string) bool {
	for _, a := range f.allowed {
		if a == "*" {
			return true
		}
		if strings.HasPrefix(a, ".") {
			if host == a[1:] || strings.HasSuffix(host, a) {
				return true
			}
			continue
		}
		if host == a {
			return true
		}
	}
	return false
}

// Fetch downloads and validates a reference sample
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := f.Validate(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		var validation *entities.ValidationError
		if errors.As(err, &validation) {
			return nil, validation
		}
		if errors.Is(err, errBlockedAddress) {
			return nil, entities.NewValidationError("reference voice host is not allowed")
		}
		return nil, fmt.Errorf("failed to fetch reference voice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reference voice fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read reference voice: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, entities.NewValidationError("reference voice exceeds %d bytes", f.maxBytes)
	}
	if _, err := wavfile.Parse(data); err != nil {
		return nil, entities.NewValidationError("reference voice is not a wav file")
	}

	f.logger.Debug("Fetched reference voice", zap.String("host", u.Hostname()), zap.Int("size", len(data)))
	return data, nil
}

// checkDialAddress runs after DNS resolution, so it sees the address
// actually being connected
func checkDialAddress(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return err
	}
	if !publicAddr(addr) {
		return fmt.Errorf("dial %s: %w", address, errBlockedAddress)
	}
	return nil
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}
