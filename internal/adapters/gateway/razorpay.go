package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
)

const minAmountMinor = 100 // the gateway rejects orders below 1 rupee

// Config holds gateway credentials, read by cleanenv
type Config struct {
	BaseURL       string        `yaml:"base_url" env:"BASE_URL" env-default:"https://api.razorpay.com/v1"`
	KeyID         string        `yaml:"key_id" env:"KEY_ID"`
	KeySecret     string        `yaml:"key_secret" env:"KEY_SECRET"`
	WebhookSecret string        `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	Currency      string        `yaml:"currency" env:"CURRENCY" env-default:"INR"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"30s"`
}

// RazorpayGateway is the ports.PaymentGateway implementation for Razorpay.
//
// Payments are auto-captured: the gateway order is created with
// payment_capture=1 and no manual capture path is exposed.
type RazorpayGateway struct {
	cfg    Config
	client *http.Client
}

// NewRazorpayGateway creates a gateway adapter with a request timeout from cfg
func NewRazorpayGateway(cfg Config) *RazorpayGateway {
	return &RazorpayGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type gatewayOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type gatewayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type gatewayPaymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Captured bool   `json:"captured"`
}

type gatewayRefundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

type gatewayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateGatewayOrder opens an order at the gateway for the given amount in
// minor units. The returned record has status pending until a signature
// verified payment captures it.
func (g *RazorpayGateway) CreateGatewayOrder(ctx context.Context, amountMinor int64, currency, receiptID string) (models.PaymentRecord, error) {
	if amountMinor < minAmountMinor {
		return models.PaymentRecord{}, &customerrors.ValidationError{
			Field: "amount", Message: fmt.Sprintf("must be at least %d minor units", minAmountMinor),
		}
	}
	if currency != g.cfg.Currency {
		return models.PaymentRecord{}, &customerrors.ValidationError{
			Field: "currency", Message: fmt.Sprintf("only %s is supported", g.cfg.Currency),
		}
	}
	if strings.TrimSpace(receiptID) == "" {
		return models.PaymentRecord{}, &customerrors.ValidationError{
			Field: "receipt", Message: "receipt is required",
		}
	}

	var resp gatewayOrderResponse
	err := g.call(ctx, http.MethodPost, "/orders", gatewayOrderRequest{
		Amount:         amountMinor,
		Currency:       currency,
		Receipt:        receiptID,
		PaymentCapture: 1,
	}, &resp)
	if err != nil {
		return models.PaymentRecord{}, err
	}

	return models.PaymentRecord{
		GatewayOrderID: resp.ID,
		Amount:         resp.Amount,
		Currency:       resp.Currency,
		Status:         models.PaymentPending,
		CreatedAt:      time.Now(),
	}, nil
}

// VerifySignature checks the client-supplied checkout signature. Pure
// computation, no network call: HMAC-SHA256 of "orderId|paymentId" keyed by
// the key secret, compared in constant time.
func (g *RazorpayGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	expected := signPayload([]byte(gatewayOrderID+"|"+gatewayPaymentID), g.cfg.KeySecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature checks the gateway webhook signature over the raw,
// unparsed body using the separate webhook secret. Must run before any JSON
// parsing of the payload.
func (g *RazorpayGateway) VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool {
	expected := signPayload(rawPayload, g.cfg.WebhookSecret)
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// FetchPayment reads the payment details from the gateway
func (g *RazorpayGateway) FetchPayment(ctx context.Context, gatewayPaymentID string) (models.PaymentRecord, error) {
	var resp gatewayPaymentResponse
	err := g.call(ctx, http.MethodGet, "/payments/"+gatewayPaymentID, nil, &resp)
	if err != nil {
		return models.PaymentRecord{}, err
	}

	status := models.PaymentPending
	switch {
	case resp.Status == "captured" || resp.Captured:
		status = models.PaymentCaptured
	case resp.Status == "failed":
		status = models.PaymentFailed
	case resp.Status == "refunded":
		status = models.PaymentRefunded
	}

	return models.PaymentRecord{
		GatewayOrderID:   resp.OrderID,
		GatewayPaymentID: resp.ID,
		Amount:           resp.Amount,
		Currency:         resp.Currency,
		Status:           status,
	}, nil
}

// Refund issues a partial or full refund against a captured payment.
// The refund-sum invariant is re-checked by the lifecycle service before
// this call; the gateway enforces it too.
func (g *RazorpayGateway) Refund(ctx context.Context, gatewayPaymentID string, amountMinor int64, reason string) (models.RefundRecord, error) {
	if amountMinor <= 0 {
		return models.RefundRecord{}, &customerrors.ValidationError{
			Field: "amount", Message: "refund amount must be positive",
		}
	}

	var resp gatewayRefundResponse
	err := g.call(ctx, http.MethodPost, "/payments/"+gatewayPaymentID+"/refund", map[string]any{
		"amount": amountMinor,
		"notes":  map[string]string{"reason": reason},
	}, &resp)
	if err != nil {
		return models.RefundRecord{}, err
	}

	return models.RefundRecord{
		GatewayRefundID:  resp.ID,
		GatewayPaymentID: resp.PaymentID,
		Amount:           resp.Amount,
		Status:           resp.Status,
		Reason:           reason,
		CreatedAt:        time.Now(),
	}, nil
}

// call performs one authenticated request and decodes the 2xx response into out.
// Non-2xx responses become GatewayError with the upstream code preserved,
// network failures become GatewayUnavailableError; nothing is retried here.
func (g *RazorpayGateway) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("error marshalling gateway request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("error creating gateway request: %w", err)
	}
	req.SetBasicAuth(g.cfg.KeyID, g.cfg.KeySecret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return &customerrors.GatewayUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &customerrors.GatewayUnavailableError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var gatewayErr gatewayErrorResponse
		if unmarshalErr := json.Unmarshal(data, &gatewayErr); unmarshalErr != nil || gatewayErr.Error.Code == "" {
			gatewayErr.Error.Code = "UNKNOWN"
			gatewayErr.Error.Description = strings.TrimSpace(string(data))
		}
		return &customerrors.GatewayError{
			Code:       gatewayErr.Error.Code,
			Message:    gatewayErr.Error.Description,
			HTTPStatus: resp.StatusCode,
		}
	}

	if out != nil {
		if err = json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("error unmarshalling gateway response: %w", err)
		}
	}
	return nil
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
