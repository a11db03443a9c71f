package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// maxResponseSize bounds how much of the provider response is read.
	maxResponseSize = 64 << 10

	defaultTimeout = 10 * time.Second
)

// providerResponse is the JSON body returned by the task provider's
// verification endpoint.
type providerResponse struct {
	Valid   bool   `json:"valid"`
	Expires int64  `json:"expires"` // unix seconds
	IP      string `json:"ip,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TokenVerifier confirms one-time completion tokens against the task
// provider's API.
type TokenVerifier struct {
	endpoint         string
	client           *http.Client
	logger           *slog.Logger
	rejectIPMismatch bool
}

var _ Strategy = (*TokenVerifier)(nil)

// TokenOption configures a TokenVerifier.
type TokenOption func(*TokenVerifier)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) TokenOption {
	return func(v *TokenVerifier) {
		v.client = c
	}
}

// WithLogger sets the structured logger for mismatch and failure events.
func WithLogger(logger *slog.Logger) TokenOption {
	return func(v *TokenVerifier) {
		v.logger = logger
	}
}

// WithIPMismatchRejection makes an IP mismatch a hard failure. The default
// is log-only, which tolerates users behind proxies or VPNs.
func WithIPMismatchRejection(reject bool) TokenOption {
	return func(v *TokenVerifier) {
		v.rejectIPMismatch = reject
	}
}

// NewTokenVerifier creates a verifier against the given provider endpoint.
func NewTokenVerifier(endpoint string, opts ...TokenOption) *TokenVerifier {
	v := &TokenVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the attempt's token with the provider. The token must be
// marked valid and unexpired. An IP mismatch between the token's origin and
// the caller is logged, and rejected only when mismatch rejection is on.
func (v *TokenVerifier) Verify(ctx context.Context, a Attempt) error {
	if a.Token == "" {
		return ErrInvalidToken
	}

	reqURL, err := url.Parse(v.endpoint)
	if err != nil {
		return fmt.Errorf("%w: bad endpoint: %v", ErrAPIUnavailable, err)
	}
	q := reqURL.Query()
	q.Set("token", a.Token)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Gatekey-Verifier/1.0")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: provider returned %d", ErrAPIUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: provider returned %d", ErrInvalidToken, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}

	var pr providerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if !pr.Valid {
		if pr.Error == "expired" {
			return ErrTokenExpired
		}
		return ErrInvalidToken
	}
	if pr.Expires > 0 && time.Now().Unix() >= pr.Expires {
		return ErrTokenExpired
	}

	if pr.IP != "" && a.CallerIP != "" && pr.IP != a.CallerIP {
		if v.logger != nil {
			v.logger.Warn("token IP does not match caller",
				"token_ip", pr.IP, "caller_ip", a.CallerIP)
		}
		if v.rejectIPMismatch {
			return ErrIPMismatch
		}
	}

	return nil
}
