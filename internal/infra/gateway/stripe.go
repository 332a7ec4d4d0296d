package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// Stripe confirms off-session PaymentIntents against a saved customer and
// payment method. Amounts are sent in cents.
type Stripe struct {
	c   *client
	url string
}

// NewStripe creates the adapter.
func NewStripe(cfg Config, log *zap.Logger) *Stripe {
	return &Stripe{
		c:   newClient(domain.ProviderStripe, cfg, log),
		url: strings.TrimRight(cfg.baseURL(domain.ProviderStripe), "/") + "/v1/payment_intents",
	}
}

// Provider implements domain.Gateway.
func (s *Stripe) Provider() domain.Provider { return domain.ProviderStripe }

type stripeResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Type          string `json:"type"`
		Code          string `json:"code"`
		DeclineCode   string `json:"decline_code"`
		Message       string `json:"message"`
		PaymentIntent *struct {
			ID string `json:"id"`
		} `json:"payment_intent"`
	} `json:"error"`
}

// Charge implements domain.Gateway.
func (s *Stripe) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := requireCredentials(domain.ProviderStripe, req.Credentials, "secret_key"); err != nil {
		return domain.ChargeResult{}, err
	}

	methodType := "card"
	if req.Method == domain.MethodACH {
		methodType = "us_bank_account"
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinorUnits, 10))
	form.Set("currency", currency)
	form.Set("confirm", "true")
	form.Set("off_session", "true")
	form.Set("payment_method", req.PaymentMethodToken)
	form.Set("payment_method_types[]", methodType)
	if req.CustomerToken != "" {
		form.Set("customer", req.CustomerToken)
	}
	form.Set("description", reference(req.Idempotency))
	form.Set("metadata[charge_id]", req.Idempotency.ChargeID)
	form.Set("metadata[attempt]", strconv.Itoa(req.Idempotency.Attempt))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.Credentials.Get("secret_key"))

	resp, err := s.c.post(ctx, s.url, "application/x-www-form-urlencoded", []byte(form.Encode()), header)
	if err != nil {
		return s.c.transportFailure(req, "", err), nil
	}

	var parsed stripeResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil || (parsed.Status == "" && parsed.Error == nil) {
		return s.c.transportFailure(req, string(resp.body), err), nil
	}

	out := domain.ChargeResult{ProviderTransactionID: parsed.ID, RawResponse: string(resp.body)}
	if resp.ok() && (parsed.Status == "succeeded" || parsed.Status == "processing") {
		out.Success = true
		return out, nil
	}
	if e := parsed.Error; e != nil {
		out.ProviderStatusCode = e.DeclineCode
		if out.ProviderStatusCode == "" {
			out.ProviderStatusCode = e.Code
		}
		if out.ProviderStatusCode == "" {
			out.ProviderStatusCode = e.Type
		}
		out.ErrorDetail = e.Message
		if out.ProviderTransactionID == "" && e.PaymentIntent != nil {
			out.ProviderTransactionID = e.PaymentIntent.ID
		}
		return out, nil
	}
	out.ProviderStatusCode = parsed.Status
	out.ErrorDetail = "payment intent " + parsed.Status
	return out, nil
}
