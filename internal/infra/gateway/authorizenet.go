package gateway

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
)

// utf8BOM prefixes every Authorize.Net JSON response.
var utf8BOM = []byte("\xef\xbb\xbf")

// AuthorizeNet charges stored customer payment profiles through the
// Authorize.Net JSON API. Amounts are sent as decimal dollar strings.
type AuthorizeNet struct {
	c   *client
	url string
}

// NewAuthorizeNet creates the adapter.
func NewAuthorizeNet(cfg Config, log *zap.Logger) *AuthorizeNet {
	return &AuthorizeNet{
		c:   newClient(domain.ProviderAuthorizeNet, cfg, log),
		url: cfg.baseURL(domain.ProviderAuthorizeNet),
	}
}

// Provider implements domain.Gateway.
func (a *AuthorizeNet) Provider() domain.Provider { return domain.ProviderAuthorizeNet }

type anetRequest struct {
	CreateTransactionRequest anetCreate `json:"createTransactionRequest"`
}

type anetCreate struct {
	MerchantAuthentication anetAuth        `json:"merchantAuthentication"`
	TransactionRequest     anetTransaction `json:"transactionRequest"`
}

type anetAuth struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type anetTransaction struct {
	TransactionType string      `json:"transactionType"`
	Amount          string      `json:"amount"`
	Profile         anetProfile `json:"profile"`
	Order           anetOrder   `json:"order"`
}

type anetProfile struct {
	CustomerProfileID string             `json:"customerProfileId"`
	PaymentProfile    anetPaymentProfile `json:"paymentProfile"`
}

type anetPaymentProfile struct {
	PaymentProfileID string `json:"paymentProfileId"`
}

type anetOrder struct {
	Description string `json:"description"`
}

type anetResponse struct {
	TransactionResponse *struct {
		ResponseCode string `json:"responseCode"`
		TransID      string `json:"transId"`
		Errors       []struct {
			ErrorCode string `json:"errorCode"`
			ErrorText string `json:"errorText"`
		} `json:"errors"`
	} `json:"transactionResponse"`
	Messages *struct {
		ResultCode string `json:"resultCode"`
		Message    []struct {
			Code string `json:"code"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"messages"`
}

// Charge implements domain.Gateway.
func (a *AuthorizeNet) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := requireCredentials(domain.ProviderAuthorizeNet, req.Credentials, "login_id", "transaction_key"); err != nil {
		return domain.ChargeResult{}, err
	}

	body, err := json.Marshal(anetRequest{CreateTransactionRequest: anetCreate{
		MerchantAuthentication: anetAuth{
			Name:           req.Credentials.Get("login_id"),
			TransactionKey: req.Credentials.Get("transaction_key"),
		},
		TransactionRequest: anetTransaction{
			TransactionType: "authCaptureTransaction",
			Amount:          domain.MajorUnits(req.AmountMinorUnits),
			Profile: anetProfile{
				CustomerProfileID: req.CustomerToken,
				PaymentProfile:    anetPaymentProfile{PaymentProfileID: req.PaymentMethodToken},
			},
			Order: anetOrder{Description: reference(req.Idempotency)},
		},
	}})
	if err != nil {
		return domain.ChargeResult{}, err
	}

	resp, err := a.c.post(ctx, a.url, "application/json", body, nil)
	if err != nil {
		return a.c.transportFailure(req, "", err), nil
	}
	raw := bytes.TrimPrefix(resp.body, utf8BOM)

	var parsed anetResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Messages == nil {
		return a.c.transportFailure(req, string(raw), err), nil
	}
	return parsed.result(string(raw)), nil
}

func (r anetResponse) result(raw string) domain.ChargeResult {
	out := domain.ChargeResult{RawResponse: raw}
	tr := r.TransactionResponse
	if tr != nil {
		out.ProviderTransactionID = tr.TransID
	}
	if r.Messages.ResultCode == "Ok" && tr != nil && tr.ResponseCode == "1" {
		out.Success = true
		return out
	}

	switch {
	case tr != nil && len(tr.Errors) > 0:
		out.ProviderStatusCode = tr.Errors[0].ErrorCode
		out.ErrorDetail = tr.Errors[0].ErrorText
	case len(r.Messages.Message) > 0:
		out.ProviderStatusCode = r.Messages.Message[0].Code
		out.ErrorDetail = r.Messages.Message[0].Text
	default:
		out.ErrorDetail = "declined"
	}
	if out.ProviderStatusCode == "" && tr != nil {
		out.ProviderStatusCode = tr.ResponseCode
	}
	return out
}
