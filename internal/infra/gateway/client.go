// Package gateway implements the payment provider adapters behind
// domain.Gateway. Each adapter owns its wire format, amount convention and
// success predicate; all of them share the throttled HTTP client below.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/negotiate-network/negotiate/internal/domain"
	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 1 << 20

// currency is the only settlement currency the platform charges in.
const currency = "usd"

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures every adapter built by NewDefaultRegistry.
type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Sandbox           bool

	// Base URLs override the production or sandbox defaults.
	AuthorizeNetURL string
	USAePayURL      string
	StripeURL       string
	TilledURL       string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
	}
}

func (c Config) baseURL(p domain.Provider) string {
	switch p {
	case domain.ProviderAuthorizeNet:
		if c.AuthorizeNetURL != "" {
			return c.AuthorizeNetURL
		}
		if c.Sandbox {
			return "https://apitest.authorize.net/xml/v1/request.api"
		}
		return "https://api.authorize.net/xml/v1/request.api"
	case domain.ProviderUSAePay:
		if c.USAePayURL != "" {
			return c.USAePayURL
		}
		if c.Sandbox {
			return "https://sandbox.usaepay.com/api/v2"
		}
		return "https://secure.usaepay.com/api/v2"
	case domain.ProviderStripe:
		if c.StripeURL != "" {
			return c.StripeURL
		}
		return "https://api.stripe.com"
	case domain.ProviderTilled:
		if c.TilledURL != "" {
			return c.TilledURL
		}
		if c.Sandbox {
			return "https://sandbox-api.tilled.com"
		}
		return "https://api.tilled.com"
	}
	return ""
}

// ─── Shared Client ──────────────────────────────────────────────────────────

type client struct {
	provider domain.Provider
	http     *http.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

func newClient(provider domain.Provider, cfg Config, log *zap.Logger) *client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &client{
		provider: provider,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
		log:      log.Named("gateway." + string(provider)),
	}
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

// post sends body to url. A non-nil error means the request produced no
// provider answer at all.
func (c *client) post(ctx context.Context, url, contentType string, body []byte, header http.Header) (response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.GatewayLatency.WithLabelValues(string(c.provider)).Observe(time.Since(start).Seconds())
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	return response{status: resp.StatusCode, body: raw}, nil
}

// transportFailure logs and counts a request that never produced a
// structured provider answer.
func (c *client) transportFailure(req domain.ChargeRequest, raw string, cause error) domain.ChargeResult {
	observability.GatewayTransportErrors.WithLabelValues(string(c.provider)).Inc()
	fields := []zap.Field{
		zap.String("charge_id", req.Idempotency.ChargeID),
		zap.Int("attempt", req.Idempotency.Attempt),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
		if raw == "" {
			raw = cause.Error()
		}
	}
	c.log.Warn("gateway transport failure", fields...)
	return domain.TransportFailure(raw)
}

// reference is the human-readable attempt reference sent to providers.
func reference(id domain.IdempotencyContext) string {
	return fmt.Sprintf("charge %s attempt %d", id.ChargeID, id.Attempt)
}

func requireCredentials(p domain.Provider, creds domain.MerchantCredentials, keys ...string) error {
	for _, k := range keys {
		if creds.Get(k) == "" {
			return fmt.Errorf("%s: missing %s: %w", p, k, domain.ErrInvalidCredentials)
		}
	}
	return nil
}

// codeString renders a provider status code that may arrive as a JSON
// string or number.
func codeString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	default:
		return fmt.Sprint(c)
	}
}
