package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	billingdomain "github.com/smallbiznis/tablemenu/internal/billing/domain"
	"github.com/smallbiznis/tablemenu/internal/config"
	entitlementdomain "github.com/smallbiznis/tablemenu/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/tablemenu/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	"github.com/smallbiznis/tablemenu/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	lockKeySubscription = "tablemenu:lock:subscription:%s"

	defaultProviderTimeout = 10 * time.Second
	lockGrace              = 5 * time.Second
)

type Service struct {
	log      *zap.Logger
	planSvc  plandomain.Service
	subSvc   subscriptiondomain.Service
	resolver entitlementdomain.Resolver
	provider paymentdomain.Provider
	mutex    ratelimit.Mutex
	metrics  *obsmetrics.Metrics
	tracer   trace.Tracer

	timeout   time.Duration
	returnURL string
}

type ServiceParam struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	PlanSvc  plandomain.Service
	SubSvc   subscriptiondomain.Service
	Resolver entitlementdomain.Resolver
	Provider paymentdomain.Provider
	Mutex    ratelimit.Mutex
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) billingdomain.Service {
	timeout := p.Cfg.Payment.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &Service{
		log:       p.Log.Named("billing.service"),
		planSvc:   p.PlanSvc,
		subSvc:    p.SubSvc,
		resolver:  p.Resolver,
		provider:  p.Provider,
		mutex:     p.Mutex,
		metrics:   p.Metrics,
		tracer:    otel.Tracer("tablemenu/billing"),
		timeout:   timeout,
		returnURL: strings.TrimSpace(p.Cfg.Payment.ReturnURL),
	}
}

func (s *Service) ProvisionDefault(ctx context.Context, restaurantID snowflake.ID) error {
	plan, err := s.planSvc.GetPlan(ctx, config.PlanCodeBase)
	if err != nil {
		return fmt.Errorf("resolve base plan: %w", err)
	}

	return s.withRestaurantLock(ctx, restaurantID, func(ctx context.Context) error {
		record, err := s.subSvc.CreateActive(ctx, subscriptiondomain.CreateActiveRequest{
			RestaurantID: restaurantID,
			Plan:         *plan,
			Amount:       0,
			Currency:     plan.Currency,
			RequireEmpty: true,
		})
		if errors.Is(err, subscriptiondomain.ErrNotEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		s.log.Info("default subscription provisioned",
			zap.String("restaurant_id", restaurantID.String()),
			zap.String("subscription_id", record.ID.String()),
		)
		return nil
	})
}

func (s *Service) Purchase(ctx context.Context, req billingdomain.PurchaseRequest) (*billingdomain.PurchaseResult, error) {
	plan, err := s.planSvc.GetPlan(ctx, req.PlanCode)
	if err != nil {
		return nil, err
	}

	var result *billingdomain.PurchaseResult
	err = s.withRestaurantLock(ctx, req.RestaurantID, func(ctx context.Context) error {
		pending, err := s.subSvc.GetPending(ctx, req.RestaurantID, "")
		if err != nil {
			return err
		}
		if pending != nil {
			result, err = s.pendingResult(ctx, pending)
			return err
		}

		if plan.IsTrial {
			onTrial, err := s.activeOnTrial(ctx, req.RestaurantID)
			if err != nil {
				return err
			}
			if onTrial {
				return billingdomain.ErrDuplicateTrial
			}
		}

		if plan.IsFree() {
			result, err = s.activateFree(ctx, req.RestaurantID, plan)
			return err
		}
		result, err = s.startPayment(ctx, req, plan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// activateFree writes a zero-price purchase straight to active in one ledger
// transaction.
func (s *Service) activateFree(ctx context.Context, restaurantID snowflake.ID, plan *plandomain.Plan) (*billingdomain.PurchaseResult, error) {
	active, err := s.subSvc.CreateActive(ctx, subscriptiondomain.CreateActiveRequest{
		RestaurantID:  restaurantID,
		Plan:          *plan,
		Amount:        0,
		Currency:      plan.Currency,
		RejectPending: true,
	})
	if err != nil {
		return nil, err
	}

	limits, err := s.resolver.LimitsFor(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	return &billingdomain.PurchaseResult{
		Status:       billingdomain.StatusActive,
		Subscription: active,
		Limits:       limits,
	}, nil
}

// startPayment creates the provider payment first and writes the pending
// record only after the provider has answered.
func (s *Service) startPayment(ctx context.Context, req billingdomain.PurchaseRequest, plan *plandomain.Plan) (*billingdomain.PurchaseResult, error) {
	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = s.returnURL
	}

	key, err := s.purchaseKey(ctx, req.RestaurantID, plan.Code)
	if err != nil {
		return nil, err
	}

	payment, err := s.callProvider(ctx, "create_payment", func(ctx context.Context) (paymentdomain.Payment, error) {
		return s.provider.CreatePayment(ctx, paymentdomain.CreatePaymentInput{
			Amount:      plan.Price,
			Currency:    plan.Currency,
			Description: fmt.Sprintf("Subscription %q for restaurant %s", plan.Name, req.RestaurantID.String()),
			ReturnURL:   returnURL,
			Metadata: map[string]string{
				"restaurant_id": req.RestaurantID.String(),
				"plan_code":     plan.Code,
			},
			IdempotencyKey: key,
		})
	})
	if err != nil {
		return nil, err
	}

	pending, err := s.subSvc.CreatePending(ctx, subscriptiondomain.CreatePendingRequest{
		RestaurantID:    req.RestaurantID,
		PlanCode:        plan.Code,
		Amount:          plan.Price,
		Currency:        plan.Currency,
		PaymentID:       payment.ID,
		ConfirmationURL: payment.ConfirmationURL,
	})
	if errors.Is(err, subscriptiondomain.ErrConflict) {
		// Another instance won the race without the shared lock.
		s.cancelAtProvider(ctx, payment.ID)
		existing, findErr := s.subSvc.GetPending(ctx, req.RestaurantID, "")
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		return s.pendingResult(ctx, existing)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription payment started",
		zap.String("restaurant_id", req.RestaurantID.String()),
		zap.String("plan_code", plan.Code),
		zap.String("payment_id", payment.ID),
	)
	return s.pendingResult(ctx, pending)
}

// purchaseKey is stable until the restaurant's ledger changes, so a create
// whose response was lost is replayed by the provider rather than duplicated.
func (s *Service) purchaseKey(ctx context.Context, restaurantID snowflake.ID, planCode string) (string, error) {
	latest, err := s.subSvc.GetLatest(ctx, restaurantID)
	if err != nil {
		return "", err
	}
	var latestID snowflake.ID
	if latest != nil {
		latestID = latest.ID
	}
	name := fmt.Sprintf("tablemenu:purchase:%s:%s:%s", restaurantID.String(), planCode, latestID.String())
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String(), nil
}

func (s *Service) pendingResult(ctx context.Context, pending *subscriptiondomain.Subscription) (*billingdomain.PurchaseResult, error) {
	limits, err := s.resolver.LimitsFor(ctx, pending.RestaurantID)
	if err != nil {
		return nil, err
	}
	result := &billingdomain.PurchaseResult{
		Status:       billingdomain.StatusPending,
		PaymentID:    pending.PaymentRef(),
		Subscription: pending,
		Limits:       limits,
	}
	if pending.ConfirmationURL != nil {
		result.ConfirmationURL = *pending.ConfirmationURL
	}
	return result, nil
}

func (s *Service) Reconcile(ctx context.Context, restaurantID snowflake.ID, paymentID string) (*billingdomain.ReconcileResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, billingdomain.ErrInvalidPaymentID
	}

	record, err := s.subSvc.GetByPaymentID(ctx, restaurantID, paymentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, billingdomain.ErrPaymentNotFound
	}

	switch record.Status {
	case subscriptiondomain.StatusActive:
		return s.activeResult(ctx, record)
	case subscriptiondomain.StatusExpired, subscriptiondomain.StatusCanceled:
		return &billingdomain.ReconcileResult{Status: string(record.Status), Subscription: record}, nil
	}

	payment, err := s.callProvider(ctx, "find_payment", func(ctx context.Context) (paymentdomain.Payment, error) {
		return s.provider.FindPayment(ctx, paymentID)
	})
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case paymentdomain.StatusSucceeded:
		plan, err := s.planSvc.GetPlan(ctx, record.PlanCode)
		if err != nil {
			return nil, err
		}
		active, err := s.subSvc.Activate(ctx, subscriptiondomain.ActivateRequest{
			RecordID:     record.ID,
			RestaurantID: restaurantID,
			Plan:         *plan,
			Amount:       record.Amount,
			Currency:     record.Currency,
			PaymentID:    paymentID,
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("subscription payment confirmed",
			zap.String("restaurant_id", restaurantID.String()),
			zap.String("plan_code", record.PlanCode),
			zap.String("payment_id", paymentID),
		)
		return s.activeResult(ctx, active)

	case paymentdomain.StatusCanceled:
		if err := s.subSvc.MarkCanceled(ctx, record.ID); err != nil {
			return nil, err
		}
		record.Status = subscriptiondomain.StatusCanceled
		return &billingdomain.ReconcileResult{Status: billingdomain.StatusCanceled, Subscription: record}, nil

	default:
		return &billingdomain.ReconcileResult{Status: string(payment.Status), Subscription: record}, nil
	}
}

func (s *Service) activeResult(ctx context.Context, record *subscriptiondomain.Subscription) (*billingdomain.ReconcileResult, error) {
	limits, err := s.resolver.LimitsFor(ctx, record.RestaurantID)
	if err != nil {
		return nil, err
	}
	return &billingdomain.ReconcileResult{
		Status:       billingdomain.StatusActive,
		Subscription: record,
		Limits:       &limits,
	}, nil
}

// Cancel drops the pending record. The provider cancel is best effort; the
// ledger advances even when it fails.
func (s *Service) Cancel(ctx context.Context, restaurantID snowflake.ID, paymentID string) error {
	pending, err := s.subSvc.GetPending(ctx, restaurantID, strings.TrimSpace(paymentID))
	if err != nil {
		return err
	}
	if pending == nil {
		return billingdomain.ErrNoPendingSubscription
	}

	if ref := pending.PaymentRef(); ref != "" {
		s.cancelAtProvider(ctx, ref)
	}
	return s.subSvc.MarkCanceled(ctx, pending.ID)
}

func (s *Service) cancelAtProvider(ctx context.Context, paymentID string) {
	_, err := s.callProvider(ctx, "cancel_payment", func(ctx context.Context) (paymentdomain.Payment, error) {
		return s.provider.CancelPayment(ctx, paymentID)
	})
	if err != nil {
		s.log.Warn("provider cancel failed",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
	}
}

func (s *Service) GrantOverride(ctx context.Context, restaurantID snowflake.ID, planCode string) (*subscriptiondomain.Subscription, error) {
	plan, err := s.planSvc.GetPlan(ctx, planCode)
	if err != nil {
		return nil, err
	}
	return s.grant(ctx, restaurantID, plan)
}

// GrantTrial grants the trial plan unless the restaurant is already on it.
func (s *Service) GrantTrial(ctx context.Context, restaurantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	plan, err := s.planSvc.GetPlan(ctx, config.PlanCodeTrial)
	if err != nil {
		return nil, err
	}
	onTrial, err := s.activeOnTrial(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if onTrial {
		return nil, billingdomain.ErrDuplicateTrial
	}
	return s.grant(ctx, restaurantID, plan)
}

func (s *Service) grant(ctx context.Context, restaurantID snowflake.ID, plan *plandomain.Plan) (*subscriptiondomain.Subscription, error) {
	var record *subscriptiondomain.Subscription
	err := s.withRestaurantLock(ctx, restaurantID, func(ctx context.Context) error {
		active, err := s.subSvc.GetActive(ctx, restaurantID)
		if err != nil {
			return err
		}
		if active != nil {
			paid, err := s.isPaid(ctx, active)
			if err != nil {
				return err
			}
			if paid {
				return billingdomain.ErrCannotOverridePaid
			}
		}

		record, err = s.subSvc.CreateActive(ctx, subscriptiondomain.CreateActiveRequest{
			RestaurantID: restaurantID,
			Plan:         *plan,
			Amount:       0,
			Currency:     plan.Currency,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription granted",
		zap.String("restaurant_id", restaurantID.String()),
		zap.String("plan_code", plan.Code),
	)
	return record, nil
}

// isPaid reports whether the active record is a paid plan other than base or trial.
func (s *Service) isPaid(ctx context.Context, active *subscriptiondomain.Subscription) (bool, error) {
	if active.PlanCode == config.PlanCodeBase {
		return false, nil
	}
	plan, err := s.planSvc.GetPlan(ctx, active.PlanCode)
	if errors.Is(err, plandomain.ErrPlanNotFound) {
		return active.Amount > 0, nil
	}
	if err != nil {
		return false, err
	}
	if plan.IsTrial {
		return false, nil
	}
	return !plan.IsFree() || active.Amount > 0, nil
}

func (s *Service) activeOnTrial(ctx context.Context, restaurantID snowflake.ID) (bool, error) {
	active, err := s.subSvc.GetActive(ctx, restaurantID)
	if err != nil || active == nil {
		return false, err
	}
	plan, err := s.planSvc.GetPlan(ctx, active.PlanCode)
	if errors.Is(err, plandomain.ErrPlanNotFound) {
		return active.PlanCode == config.PlanCodeTrial, nil
	}
	if err != nil {
		return false, err
	}
	return plan.IsTrial, nil
}

func (s *Service) Current(ctx context.Context, restaurantID snowflake.ID) (*billingdomain.Current, error) {
	record, err := s.subSvc.GetActive(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		if record, err = s.subSvc.GetLatest(ctx, restaurantID); err != nil {
			return nil, err
		}
	}

	limits, err := s.resolver.LimitsFor(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	pending, err := s.subSvc.GetPending(ctx, restaurantID, "")
	if err != nil {
		return nil, err
	}

	current := &billingdomain.Current{Subscription: record, Limits: limits, Pending: pending}
	if record != nil {
		plan, err := s.planSvc.GetPlan(ctx, record.PlanCode)
		if err != nil && !errors.Is(err, plandomain.ErrPlanNotFound) {
			return nil, err
		}
		current.Plan = plan
	}
	return current, nil
}

func (s *Service) History(ctx context.Context, restaurantID snowflake.ID) ([]billingdomain.HistoryEntry, error) {
	records, err := s.subSvc.History(ctx, restaurantID)
	if err != nil {
		return nil, err
	}

	names := map[string]string{}
	entries := make([]billingdomain.HistoryEntry, 0, len(records))
	for _, record := range records {
		name, ok := names[record.PlanCode]
		if !ok {
			plan, err := s.planSvc.GetPlan(ctx, record.PlanCode)
			switch {
			case err == nil:
				name = plan.Name
			case errors.Is(err, plandomain.ErrPlanNotFound):
				name = record.PlanCode
			default:
				return nil, err
			}
			names[record.PlanCode] = name
		}
		entries = append(entries, billingdomain.HistoryEntry{Subscription: record, PlanName: name})
	}
	return entries, nil
}

func (s *Service) ListPlans(ctx context.Context) ([]plandomain.Plan, error) {
	return s.planSvc.ListVisible(ctx)
}

// withRestaurantLock serializes lifecycle changes of one restaurant. The
// lease outlives the provider timeout.
func (s *Service) withRestaurantLock(ctx context.Context, restaurantID snowflake.ID, fn func(ctx context.Context) error) error {
	if s.mutex == nil {
		return fn(ctx)
	}
	key := fmt.Sprintf(lockKeySubscription, restaurantID.String())
	locked := false
	err := ratelimit.WithLock(ctx, s.mutex, key, s.timeout+lockGrace, func(ctx context.Context) error {
		locked = true
		return fn(ctx)
	})
	if err != nil && !locked {
		return fmt.Errorf("acquire subscription lock: %w", err)
	}
	return err
}

func (s *Service) callProvider(ctx context.Context, op string, call func(ctx context.Context) (paymentdomain.Payment, error)) (paymentdomain.Payment, error) {
	name := s.provider.Name()
	ctx, span := s.tracer.Start(ctx, "payment."+op, trace.WithAttributes(
		attribute.String("payment.provider", name),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	payment, err := call(callCtx)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.metrics.RecordProviderCall(ctx, name, op, result, time.Since(start))

	if err != nil {
		if errors.Is(err, paymentdomain.ErrProvider) {
			return paymentdomain.Payment{}, err
		}
		return paymentdomain.Payment{}, &paymentdomain.ProviderError{
			Provider: name,
			Op:       op,
			Message:  err.Error(),
			Err:      err,
		}
	}
	span.SetAttributes(attribute.String("payment.status", string(payment.Status)))
	return payment, nil
}
