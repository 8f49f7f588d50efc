package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// Paystack collects payments through the Paystack transaction API.
// Amounts are in kobo end to end.
type Paystack struct {
	restClient
	callbackURL string
}

// NewPaystack creates a Paystack provider
func NewPaystack(baseURL, secretKey, callbackURL string) *Paystack {
	return &Paystack{
		restClient:  newRESTClient(baseURL, secretKey),
		callbackURL: callbackURL,
	}
}

func (p *Paystack) Name() string {
	return "paystack"
}

type psMetadata struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

type psInitRequest struct {
	Email       string     `json:"email"`
	Amount      int64      `json:"amount"`
	Reference   string     `json:"reference"`
	CallbackURL string     `json:"callback_url"`
	Metadata    psMetadata `json:"metadata"`
}

type psInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type psVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64      `json:"id"`
		Status    string     `json:"status"`
		Reference string     `json:"reference"`
		Amount    int64      `json:"amount"`
		Currency  string     `json:"currency"`
		Metadata  psMetadata `json:"metadata"`
	} `json:"data"`
}

type psWebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

// CreateCheckout initializes a transaction and returns its authorization URL
func (p *Paystack) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	payload := psInitRequest{
		Email:       customerEmail(req.UserID),
		Amount:      req.AmountKobo,
		Reference:   req.Reference,
		CallbackURL: p.callbackURL,
		Metadata: psMetadata{
			UserID: strconv.FormatInt(req.UserID, 10),
			Plan:   req.PlanID,
		},
	}

	data, err := p.doRequest(ctx, "POST", "/transaction/initialize", payload)
	if err != nil {
		return nil, &GatewayError{Provider: p.Name(), Reason: "create checkout", Err: err}
	}

	var resp psInitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &GatewayError{Provider: p.Name(), Reason: "decode checkout response", Err: err}
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return nil, &GatewayError{Provider: p.Name(), Reason: "checkout rejected: " + resp.Message}
	}

	return &Checkout{Reference: req.Reference, CheckoutURL: resp.Data.AuthorizationURL}, nil
}

// Verify looks up a transaction by reference. Abandoned and pending
// transactions stay non-terminal because the customer can still finish
// them; only failed and reversed are final failures.
func (p *Paystack) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	data, err := p.doRequest(ctx, "GET", "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, &GatewayError{Provider: p.Name(), Reason: "verify", Err: err}
	}

	var resp psVerifyResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &GatewayError{Provider: p.Name(), Reason: "decode verify response", Err: err}
	}

	result := &VerifyResult{
		AmountKobo: resp.Data.Amount,
		Currency:   resp.Data.Currency,
		GatewayID:  strconv.FormatInt(resp.Data.ID, 10),
		Plan:       resp.Data.Metadata.Plan,
	}
	if !resp.Status {
		return result, nil
	}

	switch resp.Data.Status {
	case "success":
		result.Terminal = true
		result.Succeeded = true
	case "failed", "reversed":
		result.Terminal = true
	}
	return result, nil
}

// SignatureHeader names the webhook signature header
func (p *Paystack) SignatureHeader() string {
	return "x-paystack-signature"
}

// VerifyWebhookSignature checks the HMAC-SHA512 hex digest Paystack
// computes over the raw body with the secret key.
func (p *Paystack) VerifyWebhookSignature(signature string, body []byte) bool {
	if p.secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ParseWebhookEvent extracts the reference and outcome from a webhook body
func (p *Paystack) ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var payload psWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &GatewayError{Provider: p.Name(), Reason: "decode webhook", Err: err}
	}
	return &WebhookEvent{
		Reference: payload.Data.Reference,
		Succeeded: payload.Event == "charge.success",
	}, nil
}
