package gateway

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// USAePay charges saved payment keys through the USAePay REST v2 API.
// Amounts are sent as decimal dollar strings.
type USAePay struct {
	c    *client
	url  string
	seed func() string
}

// NewUSAePay creates the adapter.
func NewUSAePay(cfg Config, log *zap.Logger) *USAePay {
	return &USAePay{
		c:    newClient(domain.ProviderUSAePay, cfg, log),
		url:  strings.TrimRight(cfg.baseURL(domain.ProviderUSAePay), "/") + "/transactions",
		seed: randomSeed,
	}
}

// Provider implements domain.Gateway.
func (u *USAePay) Provider() domain.Provider { return domain.ProviderUSAePay }

type usaepayRequest struct {
	Command     string `json:"command"`
	Amount      string `json:"amount"`
	PaymentKey  string `json:"payment_key"`
	CustKey     string `json:"custkey,omitempty"`
	Description string `json:"description"`
}

type usaepayResponse struct {
	Key        string `json:"key"`
	RefNum     string `json:"refnum"`
	ResultCode string `json:"result_code"`
	Result     string `json:"result"`
	Error      string `json:"error"`
	ErrorCode  any    `json:"error_code"`
	LegacyCode any    `json:"errorcode"`
}

// Charge implements domain.Gateway.
func (u *USAePay) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := requireCredentials(domain.ProviderUSAePay, req.Credentials, "api_key", "api_pin"); err != nil {
		return domain.ChargeResult{}, err
	}

	command := "cc:sale"
	if req.Method == domain.MethodACH {
		command = "check:sale"
	}
	body, err := json.Marshal(usaepayRequest{
		Command:     command,
		Amount:      domain.MajorUnits(req.AmountMinorUnits),
		PaymentKey:  req.PaymentMethodToken,
		CustKey:     req.CustomerToken,
		Description: reference(req.Idempotency),
	})
	if err != nil {
		return domain.ChargeResult{}, err
	}

	header := http.Header{}
	header.Set("Authorization", "Basic "+usaepayAuth(req.Credentials.Get("api_key"), req.Credentials.Get("api_pin"), u.seed()))

	resp, err := u.c.post(ctx, u.url, "application/json", body, header)
	if err != nil {
		return u.c.transportFailure(req, "", err), nil
	}

	var parsed usaepayResponse
	if err := json.Unmarshal(resp.body, &parsed); err != nil || (parsed.ResultCode == "" && parsed.Error == "") {
		return u.c.transportFailure(req, string(resp.body), err), nil
	}

	out := domain.ChargeResult{
		ProviderTransactionID: parsed.RefNum,
		RawResponse:           string(resp.body),
	}
	if out.ProviderTransactionID == "" {
		out.ProviderTransactionID = parsed.Key
	}
	if parsed.ResultCode == "A" {
		out.Success = true
		return out, nil
	}
	out.ProviderStatusCode = codeString(parsed.ErrorCode)
	if out.ProviderStatusCode == "" {
		out.ProviderStatusCode = codeString(parsed.LegacyCode)
	}
	if out.ProviderStatusCode == "" {
		out.ProviderStatusCode = parsed.ResultCode
	}
	out.ErrorDetail = parsed.Error
	if out.ErrorDetail == "" {
		out.ErrorDetail = parsed.Result
	}
	return out, nil
}

// usaepayAuth builds the basic-auth token "apikey:s2/seed/sha256(apikey+seed+pin)".
func usaepayAuth(apiKey, pin, seed string) string {
	sum := sha256.Sum256([]byte(apiKey + seed + pin))
	hash := "s2/" + seed + "/" + hex.EncodeToString(sum[:])
	return base64.StdEncoding.EncodeToString([]byte(apiKey + ":" + hash))
}

func randomSeed() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
