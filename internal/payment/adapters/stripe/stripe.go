// Package stripe maps the provider contract onto Stripe Checkout Sessions.
package stripe

import (
	"context"
	"errors"
	"strings"

	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
	stripe "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

const providerName = "stripe"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewProvider(cfg paymentdomain.AdapterConfig) (paymentdomain.Provider, error) {
	secret, ok := paymentdomain.ReadString(cfg.Config, "secret_key")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}

	api := &client.API{}
	api.Init(secret, nil)
	return New(api.CheckoutSessions), nil
}

// sessionAPI is the subset of the checkout session client used here.
type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
}

type Provider struct {
	sessions sessionAPI
}

func New(sessions sessionAPI) *Provider {
	return &Provider{sessions: sessions}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) CreatePayment(ctx context.Context, input paymentdomain.CreatePaymentInput) (paymentdomain.Payment, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
		Mode:   stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(input.Currency)),
					UnitAmount: stripe.Int64(input.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(input.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if input.ReturnURL != "" {
		params.SuccessURL = stripe.String(input.ReturnURL)
		params.CancelURL = stripe.String(input.ReturnURL)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return paymentdomain.Payment{}, wrap("create_payment", err)
	}
	return toPayment(session), nil
}

func (p *Provider) FindPayment(ctx context.Context, paymentID string) (paymentdomain.Payment, error) {
	session, err := p.sessions.Get(paymentID, &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return paymentdomain.Payment{}, wrap("find_payment", err)
	}
	return toPayment(session), nil
}

func (p *Provider) CancelPayment(ctx context.Context, paymentID string) (paymentdomain.Payment, error) {
	session, err := p.sessions.Expire(paymentID, &stripe.CheckoutSessionExpireParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return paymentdomain.Payment{}, wrap("cancel_payment", err)
	}
	return toPayment(session), nil
}

func toPayment(session *stripe.CheckoutSession) paymentdomain.Payment {
	if session == nil {
		return paymentdomain.Payment{}
	}
	return paymentdomain.Payment{
		ID:              session.ID,
		Status:          mapStatus(session.Status, session.PaymentStatus),
		ConfirmationURL: session.URL,
	}
}

func mapStatus(status stripe.CheckoutSessionStatus, paymentStatus stripe.CheckoutSessionPaymentStatus) paymentdomain.PaymentStatus {
	switch status {
	case stripe.CheckoutSessionStatusComplete:
		if paymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			paymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			return paymentdomain.StatusSucceeded
		}
		return paymentdomain.StatusWaitingForCapture
	case stripe.CheckoutSessionStatusExpired:
		return paymentdomain.StatusCanceled
	default:
		return paymentdomain.StatusPending
	}
}

func wrap(op string, err error) error {
	providerErr := &paymentdomain.ProviderError{Provider: providerName, Op: op, Err: err}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		providerErr.Code = string(stripeErr.Code)
		if providerErr.Code == "" {
			providerErr.Code = string(stripeErr.Type)
		}
		providerErr.Message = stripeErr.Msg
	}
	return providerErr
}
