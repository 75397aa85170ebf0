// Package yookassa talks to the YooKassa REST API v3.
package yookassa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
)

const (
	providerName   = "yookassa"
	defaultBaseURL = "https://api.yookassa.ru/v3"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewProvider(cfg paymentdomain.AdapterConfig) (paymentdomain.Provider, error) {
	shopID, ok := paymentdomain.ReadString(cfg.Config, "shop_id")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secretKey, ok := paymentdomain.ReadString(cfg.Config, "secret_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL, ok := paymentdomain.ReadString(cfg.Config, "base_url")
	if !ok {
		baseURL = defaultBaseURL
	}
	return New(shopID, secretKey, baseURL, &http.Client{Timeout: 30 * time.Second}), nil
}

type Client struct {
	shopID    string
	secretKey string
	baseURL   string
	client    *http.Client
}

func New(shopID, secretKey, baseURL string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		shopID:    shopID,
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
	}
}

func (c *Client) Name() string { return providerName }

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createPaymentRequest struct {
	Amount       amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation *confirmation     `json:"confirmation,omitempty"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type paymentResponse struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Confirmation *confirmation `json:"confirmation"`
}

type errorResponse struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c *Client) CreatePayment(ctx context.Context, input paymentdomain.CreatePaymentInput) (paymentdomain.Payment, error) {
	body := createPaymentRequest{
		Amount: amount{
			Value:    paymentdomain.MajorUnits(input.Amount).StringFixed(2),
			Currency: strings.ToUpper(input.Currency),
		},
		Capture:     true,
		Description: truncate(input.Description, 128),
		Metadata:    input.Metadata,
	}
	if input.ReturnURL != "" {
		body.Confirmation = &confirmation{Type: "redirect", ReturnURL: input.ReturnURL}
	}
	return c.do(ctx, "create_payment", http.MethodPost, "/payments", body, input.IdempotencyKey)
}

func (c *Client) FindPayment(ctx context.Context, paymentID string) (paymentdomain.Payment, error) {
	return c.do(ctx, "find_payment", http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, "")
}

func (c *Client) CancelPayment(ctx context.Context, paymentID string) (paymentdomain.Payment, error) {
	return c.do(ctx, "cancel_payment", http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/cancel", struct{}{}, "")
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any, idempotenceKey string) (paymentdomain.Payment, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return paymentdomain.Payment{}, c.fail(op, "marshal_error", "failed to prepare request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return paymentdomain.Payment{}, c.fail(op, "request_error", "failed to create request", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		if idempotenceKey == "" {
			idempotenceKey = ulid.Make().String()
		}
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return paymentdomain.Payment{}, c.fail(op, "api_error", "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return paymentdomain.Payment{}, c.fail(op, "response_error", "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		code := errResp.Code
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return paymentdomain.Payment{}, c.fail(op, code, errResp.Description, nil)
	}

	var result paymentResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return paymentdomain.Payment{}, c.fail(op, "parse_error", "failed to parse response", err)
	}
	if result.ID == "" {
		return paymentdomain.Payment{}, c.fail(op, "parse_error", "response has no payment id", nil)
	}

	payment := paymentdomain.Payment{
		ID:     result.ID,
		Status: paymentdomain.PaymentStatus(result.Status),
	}
	if result.Confirmation != nil {
		payment.ConfirmationURL = result.Confirmation.ConfirmationURL
	}
	return payment, nil
}

func (c *Client) fail(op, code, message string, err error) error {
	return &paymentdomain.ProviderError{
		Provider: providerName,
		Op:       op,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
