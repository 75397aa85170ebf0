package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/tablemenu/internal/billing/domain"
	"github.com/smallbiznis/tablemenu/internal/clock"
	"github.com/smallbiznis/tablemenu/internal/config"
	entitlementdomain "github.com/smallbiznis/tablemenu/internal/entitlement/domain"
	entitlementservice "github.com/smallbiznis/tablemenu/internal/entitlement/service"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	planrepo "github.com/smallbiznis/tablemenu/internal/plan/repository"
	planservice "github.com/smallbiznis/tablemenu/internal/plan/service"
	"github.com/smallbiznis/tablemenu/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/tablemenu/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/tablemenu/internal/subscription/service"
	"github.com/smallbiznis/tablemenu/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeProvider struct {
	mu        sync.Mutex
	seq       int
	status    paymentdomain.PaymentStatus
	createErr error
	cancelErr error
	inputs    []paymentdomain.CreatePaymentInput
	keys      []string
	creates   int
	finds     int
	cancels   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CreatePayment(_ context.Context, input paymentdomain.CreatePaymentInput) (paymentdomain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	p.keys = append(p.keys, input.IdempotencyKey)
	if p.createErr != nil {
		return paymentdomain.Payment{}, p.createErr
	}
	p.seq++
	p.inputs = append(p.inputs, input)
	id := fmt.Sprintf("pay_%d", p.seq)
	return paymentdomain.Payment{
		ID:              id,
		Status:          paymentdomain.StatusPending,
		ConfirmationURL: "https://pay.example.com/" + id,
	}, nil
}

func (p *fakeProvider) FindPayment(_ context.Context, id string) (paymentdomain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds++
	return paymentdomain.Payment{ID: id, Status: p.status}, nil
}

func (p *fakeProvider) CancelPayment(_ context.Context, id string) (paymentdomain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels++
	if p.cancelErr != nil {
		return paymentdomain.Payment{}, p.cancelErr
	}
	return paymentdomain.Payment{ID: id, Status: paymentdomain.StatusCanceled}, nil
}

func (p *fakeProvider) calls() (creates, finds, cancels int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates, p.finds, p.cancels
}

type fixture struct {
	svc      billingdomain.Service
	planSvc  plandomain.Service
	subSvc   subscriptiondomain.Service
	provider *fakeProvider
	clock    *clock.FakeClock
	node     *snowflake.Node
}

type fixtureOptions struct {
	// wrapLedger decorates the subscription service handed to billing.
	wrapLedger func(subscriptiondomain.Service) subscriptiondomain.Service
	noMutex    bool
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWith(t, fixtureOptions{})
}

func newFixtureWith(t *testing.T, opts fixtureOptions) fixture {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	node := testutil.NewNode(t)
	log := zaptest.NewLogger(t)
	fake := clock.NewFakeClock(time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC))

	planSvc := planservice.NewService(planservice.ServiceParam{
		DB: db, Log: log, Clock: fake, Repo: planrepo.Provide(),
	})
	require.NoError(t, planSvc.UpsertCatalog(context.Background(), planservice.CatalogFromConfig(config.DefaultPlanCatalog())))

	subSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: subscriptionrepo.Provide(),
	})
	resolver := entitlementservice.NewResolver(entitlementservice.ResolverParam{
		Log: log, SubSvc: subSvc, PlanSvc: planSvc,
	})
	provider := &fakeProvider{status: paymentdomain.StatusPending}

	ledger := subSvc
	if opts.wrapLedger != nil {
		ledger = opts.wrapLedger(subSvc)
	}
	var mutex ratelimit.Mutex = ratelimit.NewLocalMutex()
	if opts.noMutex {
		mutex = nil
	}

	svc := NewService(ServiceParam{
		Cfg: config.Config{Payment: config.PaymentConfig{
			Timeout:   time.Second,
			ReturnURL: "https://menu.example.com/billing",
		}},
		Log:      log,
		PlanSvc:  planSvc,
		SubSvc:   ledger,
		Resolver: resolver,
		Provider: provider,
		Mutex:    mutex,
	})
	return fixture{svc: svc, planSvc: planSvc, subSvc: subSvc, provider: provider, clock: fake, node: node}
}

// failingLedger fails the next activating write, whichever entry point is used.
type failingLedger struct {
	subscriptiondomain.Service
	mu       sync.Mutex
	failNext bool
}

func (l *failingLedger) takeFailure() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	fail := l.failNext
	l.failNext = false
	return fail
}

func (l *failingLedger) CreateActive(ctx context.Context, req subscriptiondomain.CreateActiveRequest) (*subscriptiondomain.Subscription, error) {
	if l.takeFailure() {
		return nil, errors.New("ledger unavailable")
	}
	return l.Service.CreateActive(ctx, req)
}

func (l *failingLedger) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.Subscription, error) {
	if l.takeFailure() {
		return nil, errors.New("ledger unavailable")
	}
	return l.Service.Activate(ctx, req)
}

// racingLedger inserts a competing pending record right before the caller's
// own insert, as another replica without the shared lock would.
type racingLedger struct {
	subscriptiondomain.Service
	rival *subscriptiondomain.Subscription
}

func (l *racingLedger) CreatePending(ctx context.Context, req subscriptiondomain.CreatePendingRequest) (*subscriptiondomain.Subscription, error) {
	if l.rival == nil {
		rival, err := l.Service.CreatePending(ctx, subscriptiondomain.CreatePendingRequest{
			RestaurantID:    req.RestaurantID,
			PlanCode:        req.PlanCode,
			Amount:          req.Amount,
			Currency:        req.Currency,
			PaymentID:       "pay_rival",
			ConfirmationURL: "https://pay.example.com/pay_rival",
		})
		if err != nil {
			return nil, err
		}
		l.rival = rival
	}
	return l.Service.CreatePending(ctx, req)
}

func (f fixture) provisioned(t *testing.T) snowflake.ID {
	t.Helper()
	restaurantID := f.node.Generate()
	require.NoError(t, f.svc.ProvisionDefault(context.Background(), restaurantID))
	return restaurantID
}

func TestProvisionDefaultIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	require.NoError(t, f.svc.ProvisionDefault(ctx, restaurantID))

	records, err := f.subSvc.History(ctx, restaurantID)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	active, err := f.subSvc.GetActive(ctx, restaurantID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, config.PlanCodeBase, active.PlanCode)
	assert.Nil(t, active.ExpiresAt)
	assert.Zero(t, active.Amount)
}

func TestProvisionDefaultConcurrentCallsCreateOneRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.node.Generate()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.ProvisionDefault(ctx, restaurantID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	records, err := f.subSvc.History(ctx, restaurantID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestPurchasePaidPlanThenReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)
	base, err := f.subSvc.GetActive(ctx, restaurantID)
	require.NoError(t, err)

	first, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusPending, first.Status)
	assert.Equal(t, "pay_1", first.PaymentID)
	assert.Equal(t, "https://pay.example.com/pay_1", first.ConfirmationURL)

	second, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.Subscription.ID, second.Subscription.ID)

	creates, _, _ := f.provider.calls()
	assert.Equal(t, 1, creates)
	input := f.provider.inputs[0]
	assert.Equal(t, int64(99000), input.Amount)
	assert.Equal(t, "RUB", input.Currency)
	assert.Equal(t, "https://menu.example.com/billing", input.ReturnURL)
	assert.Equal(t, map[string]string{"restaurant_id": restaurantID.String(), "plan_code": config.PlanCodePremium}, input.Metadata)

	f.provider.status = paymentdomain.StatusWaitingForCapture
	waiting, err := f.svc.Reconcile(ctx, restaurantID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "waiting_for_capture", waiting.Status)
	assert.Nil(t, waiting.Limits)

	f.provider.status = paymentdomain.StatusSucceeded
	done, err := f.svc.Reconcile(ctx, restaurantID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusActive, done.Status)
	require.NotNil(t, done.Limits)
	assert.Equal(t, entitlementdomain.Limits{}, *done.Limits)
	require.NotNil(t, done.Subscription.StartedAt)
	require.NotNil(t, done.Subscription.ExpiresAt)
	assert.Equal(t, done.Subscription.StartedAt.Add(30*24*time.Hour), *done.Subscription.ExpiresAt)

	history, err := f.subSvc.History(ctx, restaurantID)
	require.NoError(t, err)
	statuses := map[snowflake.ID]subscriptiondomain.SubscriptionStatus{}
	for _, record := range history {
		statuses[record.ID] = record.Status
	}
	assert.Equal(t, subscriptiondomain.StatusExpired, statuses[base.ID])
	assert.Equal(t, subscriptiondomain.StatusActive, statuses[first.Subscription.ID])

	_, findsBefore, _ := f.provider.calls()
	again, err := f.svc.Reconcile(ctx, restaurantID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusActive, again.Status)
	_, findsAfter, _ := f.provider.calls()
	assert.Equal(t, findsBefore, findsAfter)
}

func TestPurchaseTrialTwiceRejectsSecond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	first, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodeTrial})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusActive, first.Status)
	assert.True(t, first.Limits.CategoryLimit == nil && 
	require.NotNil(t, first.Subscription.ExpiresAt)

	_, err = f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodeTrial})
	assert.ErrorIs(t, err, billingdomain.ErrDuplicateTrial)

	creates, _, _ := f.provider.calls()
	assert.Zero(t, creates)
}

func TestPurchaseUnknownPlan(t *testing.T) {
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	_, err := f.svc.Purchase(context.Background(), billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: "gold"})
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestPurchaseProviderFailureLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)
	f.provider.createErr = errors.New("connection reset")

	_, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.Error(t, err)
	assert.ErrorIs(t, err, billingdomain.ErrPaymentProvider)

	var providerErr *paymentdomain.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "create_payment", providerErr.Op)

	records, err := f.subSvc.History(ctx, restaurantID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReconcileCanceledAtProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	_, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.NoError(t, err)

	f.provider.status = paymentdomain.StatusCanceled
	result, err := f.svc.Reconcile(ctx, restaurantID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusCanceled, result.Status)

	pending, err := f.subSvc.GetPending(ctx, restaurantID, "")
	require.NoError(t, err)
	assert.Nil(t, pending)

	_, err = f.svc.Reconcile(ctx, restaurantID, "pay_404")
	assert.ErrorIs(t, err, billingdomain.ErrPaymentNotFound)

	_, err = f.svc.Reconcile(ctx, restaurantID, " ")
	assert.ErrorIs(t, err, billingdomain.ErrInvalidPaymentID)
}

func TestCancelSwallowsProviderFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	assert.ErrorIs(t, f.svc.Cancel(ctx, restaurantID, ""), billingdomain.ErrNoPendingSubscription)

	_, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Cancel(ctx, restaurantID, "pay_other"), billingdomain.ErrNoPendingSubscription)

	f.provider.cancelErr = errors.New("provider down")
	require.NoError(t, f.svc.Cancel(ctx, restaurantID, "pay_1"))
	_, _, cancels := f.provider.calls()
	assert.Equal(t, 1, cancels)

	next, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.NoError(t, err)
	assert.Equal(t, "pay_2", next.PaymentID)
}

func TestGrantOverrideRefusesPaidPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	granted, err := f.svc.GrantOverride(ctx, restaurantID, config.PlanCodePremium)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, granted.Status)
	assert.Zero(t, granted.Amount)

	// A zero-amount grant on a priced plan still counts as paid.
	_, err = f.svc.GrantOverride(ctx, restaurantID, config.PlanCodeBase)
	assert.ErrorIs(t, err, billingdomain.ErrCannotOverridePaid)
	_, err = f.svc.GrantTrial(ctx, restaurantID)
	assert.ErrorIs(t, err, billingdomain.ErrCannotOverridePaid)
}

func TestGrantTrialFromBase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	trial, err := f.svc.GrantTrial(ctx, restaurantID)
	require.NoError(t, err)
	assert.Equal(t, config.PlanCodeTrial, trial.PlanCode)

	_, err = f.svc.GrantTrial(ctx, restaurantID)
	assert.ErrorIs(t, err, billingdomain.ErrDuplicateTrial)

	// Trial is never treated as paid, so an admin may move the restaurant on.
	_, err = f.svc.GrantOverride(ctx, restaurantID, config.PlanCodeBase)
	require.NoError(t, err)
}

func TestCurrentAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	_, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.NoError(t, err)

	current, err := f.svc.Current(ctx, restaurantID)
	require.NoError(t, err)
	require.NotNil(t, current.Subscription)
	assert.Equal(t, config.PlanCodeBase, current.Subscription.PlanCode)
	require.NotNil(t, current.Plan)
	assert.Equal(t, "base", current.Plan.Code)
	require.NotNil(t, current.Pending)
	assert.Equal(t, "pay_1", current.Pending.PaymentRef())
	require.NotNil(t, current.Limits.CategoryLimit)
	assert.Equal(t, 3, *current.Limits.CategoryLimit)

	history, err := f.svc.History(ctx, restaurantID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, config.PlanCodePremium, history[0].Subscription.PlanCode)
	assert.NotEmpty(t, history[0].PlanName)

	plans, err := f.svc.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 3)
}

func TestCurrentWithoutRecords(t *testing.T) {
	f := newFixture(t)

	current, err := f.svc.Current(context.Background(), f.node.Generate())
	require.NoError(t, err)
	assert.Nil(t, current.Subscription)
	assert.Nil(t, current.Pending)
	require.NotNil(t, current.Limits.ItemLimit)
	assert.Equal(t, 5, *current.Limits.ItemLimit)
}

func TestExpiredTrialFallsBackToDefaultLimits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	_, err := f.svc.GrantTrial(ctx, restaurantID)
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)

	current, err := f.svc.Current(ctx, restaurantID)
	require.NoError(t, err)
	require.NotNil(t, current.Subscription)
	assert.Equal(t, subscriptiondomain.StatusExpired, current.Subscription.Status)
	assert.Equal(t, config.PlanCodeTrial, current.Subscription.PlanCode)
	require.NotNil(t, current.Limits.CategoryLimit)
	assert.Equal(t, 3, *current.Limits.CategoryLimit)

	// An expired trial no longer blocks buying another one.
	result, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodeTrial})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusActive, result.Status)
}

func TestFailedFreeActivationLeavesNoPendingRecord(t *testing.T) {
	ctx := context.Background()
	ledger := &failingLedger{}
	f := newFixtureWith(t, fixtureOptions{wrapLedger: func(inner subscriptiondomain.Service) subscriptiondomain.Service {
		ledger.Service = inner
		return ledger
	}})
	restaurantID := f.provisioned(t)

	ledger.failNext = true
	_, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodeTrial})
	require.Error(t, err)

	pending, err := f.subSvc.GetPending(ctx, restaurantID, "")
	require.NoError(t, err)
	assert.Nil(t, pending)

	retry, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodeTrial})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusActive, retry.Status)
	assert.Equal(t, config.PlanCodeTrial, retry.Subscription.PlanCode)

	records, err := f.subSvc.History(ctx, restaurantID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFreePurchaseRefusedWhilePaymentPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	_, err := f.subSvc.CreatePending(ctx, subscriptiondomain.CreatePendingRequest{
		RestaurantID: restaurantID,
		PlanCode:     config.PlanCodePremium,
		Amount:       99000,
		Currency:     "RUB",
		PaymentID:    "pay_external",
	})
	require.NoError(t, err)

	trial, err := f.planSvc.GetPlan(ctx, config.PlanCodeTrial)
	require.NoError(t, err)
	_, err = f.subSvc.CreateActive(ctx, subscriptiondomain.CreateActiveRequest{
		RestaurantID:  restaurantID,
		Plan:          *trial,
		Currency:      trial.Currency,
		RejectPending: true,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrConflict)

	active, err := f.subSvc.GetActive(ctx, restaurantID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, config.PlanCodeBase, active.PlanCode)
}

func TestConcurrentPurchasesShareOnePayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan *billingdomain.PurchaseResult, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
			if err != nil {
				errs <- err
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	paymentIDs := map[string]struct{}{}
	for res := range results {
		assert.Equal(t, billingdomain.StatusPending, res.Status)
		paymentIDs[res.PaymentID] = struct{}{}
	}
	assert.Len(t, paymentIDs, 1)

	creates, _, _ := f.provider.calls()
	assert.Equal(t, 1, creates)

	records, err := f.subSvc.History(ctx, restaurantID)
	require.NoError(t, err)
	pending := 0
	for _, record := range records {
		if record.Status == subscriptiondomain.StatusPending {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestPurchaseLosingPendingRaceCancelsOwnPayment(t *testing.T) {
	ctx := context.Background()
	ledger := &racingLedger{}
	f := newFixtureWith(t, fixtureOptions{
		noMutex: true,
		wrapLedger: func(inner subscriptiondomain.Service) subscriptiondomain.Service {
			ledger.Service = inner
			return ledger
		},
	})
	restaurantID := f.provisioned(t)

	res, err := f.svc.Purchase(ctx, billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium})
	require.NoError(t, err)
	assert.Equal(t, billingdomain.StatusPending, res.Status)
	assert.Equal(t, "pay_rival", res.PaymentID)
	require.NotNil(t, ledger.rival)
	assert.Equal(t, ledger.rival.ID, res.Subscription.ID)

	creates, _, cancels := f.provider.calls()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, cancels)

	own, err := f.subSvc.GetByPaymentID(ctx, restaurantID, "pay_1")
	require.NoError(t, err)
	assert.Nil(t, own)
}

func TestPurchaseRetryReusesIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	restaurantID := f.provisioned(t)
	req := billingdomain.PurchaseRequest{RestaurantID: restaurantID, PlanCode: config.PlanCodePremium}

	f.provider.createErr = errors.New("connection reset")
	_, err := f.svc.Purchase(ctx, req)
	require.Error(t, err)

	f.provider.createErr = nil
	first, err := f.svc.Purchase(ctx, req)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, restaurantID, first.PaymentID))

	_, err = f.svc.Purchase(ctx, req)
	require.NoError(t, err)

	require.Len(t, f.provider.keys, 3)
	assert.NotEmpty(t, f.provider.keys[0])
	assert.Equal(t, f.provider.keys[0], f.provider.keys[1])
	assert.NotEqual(t, f.provider.keys[1], f.provider.keys[2])
}
