// Package domain defines the payment provider boundary.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the provider-reported state of a payment.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "pending"
	StatusWaitingForCapture PaymentStatus = "waiting_for_capture"
	StatusSucceeded         PaymentStatus = "succeeded"
	StatusCanceled          PaymentStatus = "canceled"
)

type Payment struct {
	ID              string
	Status          PaymentStatus
	ConfirmationURL string
}

type CreatePaymentInput struct {
	// Amount is in minor currency units.
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string

	// IdempotencyKey makes a retried create return the payment of the first
	// attempt. Empty means the adapter picks a fresh key per request.
	IdempotencyKey string
}

// Provider is the external payment service. Implementations must honour ctx
// deadlines on every call.
type Provider interface {
	Name() string
	CreatePayment(ctx context.Context, input CreatePaymentInput) (Payment, error)
	FindPayment(ctx context.Context, paymentID string) (Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (Payment, error)
}

type AdapterConfig struct {
	Config map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewProvider(cfg AdapterConfig) (Provider, error)
}

var (
	ErrProvider         = errors.New("payment_provider_error")
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_payment_provider_config")
)

// ProviderError describes a failed provider call. It matches ErrProvider
// with errors.Is and unwraps to the underlying transport error, if any.
type ProviderError struct {
	Provider string
	Op       string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Provider, e.Op)
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

func (e *ProviderError) Unwrap() error { return e.Err }

// MajorUnits converts a minor-unit amount into its decimal major-unit value.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ReadString returns a trimmed string value from an adapter config map.
func ReadString(cfg map[string]any, key string) (string, bool) {
	if cfg == nil {
		return "", false
	}
	raw, ok := cfg[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
