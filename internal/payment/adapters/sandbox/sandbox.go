// Package sandbox is an in-memory payment provider for local runs. Every
// payment succeeds on its first lookup.
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
)

const providerName = "sandbox"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewProvider(cfg paymentdomain.AdapterConfig) (paymentdomain.Provider, error) {
	return New(), nil
}

type Provider struct {
	mu       sync.Mutex
	payments map[string]paymentdomain.Payment
	byKey    map[string]string
}

func New() *Provider {
	return &Provider{
		payments: map[string]paymentdomain.Payment{},
		byKey:    map[string]string{},
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) CreatePayment(ctx context.Context, input paymentdomain.CreatePaymentInput) (paymentdomain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return paymentdomain.Payment{}, &paymentdomain.ProviderError{Provider: providerName, Op: "create_payment", Err: err}
	}
	if input.Amount <= 0 {
		return paymentdomain.Payment{}, &paymentdomain.ProviderError{
			Provider: providerName, Op: "create_payment", Code: "invalid_request", Message: "amount must be positive",
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byKey[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		return p.payments[id], nil
	}

	payment := paymentdomain.Payment{
		ID:     "sbx_" + ulid.Make().String(),
		Status: paymentdomain.StatusPending,
	}
	if input.ReturnURL != "" {
		payment.ConfirmationURL = fmt.Sprintf("%s?payment_id=%s", input.ReturnURL, payment.ID)
	}

	p.payments[payment.ID] = payment
	if input.IdempotencyKey != "" {
		p.byKey[input.IdempotencyKey] = payment.ID
	}
	return payment, nil
}

func (p *Provider) FindPayment(ctx context.Context, paymentID string) (paymentdomain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payment, ok := p.payments[paymentID]
	if !ok {
		return paymentdomain.Payment{}, notFound("find_payment", paymentID)
	}
	if payment.Status == paymentdomain.StatusPending {
		payment.Status = paymentdomain.StatusSucceeded
		p.payments[paymentID] = payment
	}
	return payment, nil
}

func (p *Provider) CancelPayment(ctx context.Context, paymentID string) (paymentdomain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payment, ok := p.payments[paymentID]
	if !ok {
		return paymentdomain.Payment{}, notFound("cancel_payment", paymentID)
	}
	if payment.Status == paymentdomain.StatusSucceeded {
		return paymentdomain.Payment{}, &paymentdomain.ProviderError{
			Provider: providerName, Op: "cancel_payment", Code: "invalid_status", Message: "payment already succeeded",
		}
	}
	payment.Status = paymentdomain.StatusCanceled
	p.payments[paymentID] = payment
	return payment, nil
}

func notFound(op, paymentID string) error {
	return &paymentdomain.ProviderError{
		Provider: providerName, Op: op, Code: "not_found", Message: "payment " + paymentID + " not found",
	}
}
