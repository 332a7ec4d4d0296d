package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// Tilled confirms payment intents on a connected merchant account. Amounts
// are sent in cents.
type Tilled struct {
	c   *client
	url string
}

// NewTilled creates the adapter.
func NewTilled(cfg Config, log *zap.Logger) *Tilled {
	return &Tilled{
		c:   newClient(domain.ProviderTilled, cfg, log),
		url: strings.TrimRight(cfg.baseURL(domain.ProviderTilled), "/") + "/v1/payment-intents",
	}
}

// Provider implements domain.Gateway.
func (t *Tilled) Provider() domain.Provider { return domain.ProviderTilled }

type tilledRequest struct {
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	PaymentMethodID    string            `json:"payment_method_id"`
	Confirm            bool              `json:"confirm"`
	Metadata           map[string]string `json:"metadata"`
}

type tilledResponse struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
	StatusCode any    `json:"statusCode"`
	Message    any    `json:"message"`
	Error      string `json:"error"`
}

// Charge implements domain.Gateway.
func (t *Tilled) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := requireCredentials(domain.ProviderTilled, req.Credentials, "secret_key", "account_id"); err != nil {
		return domain.ChargeResult{}, err
	}

	methodType := "card"
	if req.Method == domain.MethodACH {
		methodType = "ach_debit"
	}
	body, err := json.Marshal(tilledRequest{
		Amount:             req.AmountMinorUnits,
		Currency:           currency,
		PaymentMethodTypes: []string{methodType},
		PaymentMethodID:    req.PaymentMethodToken,
		Confirm:            true,
		Metadata: map[string]string{
			"charge_id": req.Idempotency.ChargeID,
			"attempt":   strconv.Itoa(req.Idempotency.Attempt),
		},
	})
	if err != nil {
		return domain.ChargeResult{}, err
	}

	header := http.Header{}
	header.Set("tilled-api-key", req.Credentials.Get("secret_key"))
	header.Set("tilled-account", req.Credentials.Get("account_id"))

	resp, err := t.c.post(ctx, t.url, "application/json", body, header)
	if err != nil {
		return t.c.transportFailure(req, "", err), nil
	}

	var parsed tilledResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil || (parsed.Status == "" && parsed.StatusCode == nil) {
		return t.c.transportFailure(req, string(resp.body), err), nil
	}

	out := domain.ChargeResult{ProviderTransactionID: parsed.ID, RawResponse: string(resp.body)}
	if resp.ok() && (parsed.Status == "succeeded" || parsed.Status == "processing") {
		out.Success = true
		return out, nil
	}
	switch {
	case parsed.LastPaymentError != nil:
		out.ProviderStatusCode = parsed.LastPaymentError.Code
		out.ErrorDetail = parsed.LastPaymentError.Message
	case parsed.StatusCode != nil:
		out.ProviderStatusCode = codeString(parsed.StatusCode)
		out.ErrorDetail = messageString(parsed.Message, parsed.Error)
	default:
		out.ProviderStatusCode = parsed.Status
		out.ErrorDetail = "payment intent " + parsed.Status
	}
	return out, nil
}

// messageString flattens Tilled's message, which is a string or a list of
// validation strings.
func messageString(v any, fallback string) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			parts = append(parts, codeString(p))
		}
		return strings.Join(parts, "; ")
	}
	return fallback
}
