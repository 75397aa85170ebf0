package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tablemenu/internal/authorization"
	billingdomain "github.com/smallbiznis/tablemenu/internal/billing/domain"
	"github.com/smallbiznis/tablemenu/internal/config"
	entitlementdomain "github.com/smallbiznis/tablemenu/internal/entitlement/domain"
	limitdomain "github.com/smallbiznis/tablemenu/internal/limit/domain"
	menudomain "github.com/smallbiznis/tablemenu/internal/menu/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	"github.com/smallbiznis/tablemenu/internal/ratelimit"
	restaurantdomain "github.com/smallbiznis/tablemenu/internal/restaurant/domain"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const knownRestaurant snowflake.ID = 1001

type fakeBillingService struct {
	purchaseErr  error
	purchases    int
	grants       []string
	trialGrants  int
	lastReturn   string
	lastCancelID string
}

func (f *fakeBillingService) ProvisionDefault(context.Context, snowflake.ID) error { return nil }

func (f *fakeBillingService) Purchase(_ context.Context, req billingdomain.PurchaseRequest) (*billingdomain.PurchaseResult, error) {
	f.purchases++
	f.lastReturn = req.ReturnURL
	if f.purchaseErr != nil {
		return nil, f.purchaseErr
	}
	paymentID := "pay_1"
	url := "https://pay.example.com/pay_1"
	return &billingdomain.PurchaseResult{
		Status:          billingdomain.StatusPending,
		PaymentID:       paymentID,
		ConfirmationURL: url,
		Subscription: &subscriptiondomain.Subscription{
			ID:              7,
			RestaurantID:    req.RestaurantID,
			PlanCode:        req.PlanCode,
			Status:          subscriptiondomain.StatusPending,
			Amount:          99000,
			Currency:        "RUB",
			PaymentID:       &paymentID,
			ConfirmationURL: &url,
		},
		Limits: entitlementdomain.DefaultLimits(),
	}, nil
}

func (f *fakeBillingService) Reconcile(_ context.Context, _ snowflake.ID, paymentID string) (*billingdomain.ReconcileResult, error) {
	if paymentID != "pay_1" {
		return nil, billingdomain.ErrPaymentNotFound
	}
	limits := entitlementdomain.Limits{}
	return &billingdomain.ReconcileResult{
		Status:       billingdomain.StatusActive,
		Subscription: &subscriptiondomain.Subscription{ID: 7, PlanCode: "premium", Status: subscriptiondomain.StatusActive},
		Limits:       &limits,
	}, nil
}

func (f *fakeBillingService) Cancel(_ context.Context, _ snowflake.ID, paymentID string) error {
	f.lastCancelID = paymentID
	return nil
}

func (f *fakeBillingService) GrantOverride(_ context.Context, restaurantID snowflake.ID, planCode string) (*subscriptiondomain.Subscription, error) {
	f.grants = append(f.grants, planCode)
	return &subscriptiondomain.Subscription{ID: 9, RestaurantID: restaurantID, PlanCode: planCode, Status: subscriptiondomain.StatusActive}, nil
}

func (f *fakeBillingService) GrantTrial(_ context.Context, restaurantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	f.trialGrants++
	return &subscriptiondomain.Subscription{ID: 10, RestaurantID: restaurantID, PlanCode: "trial", Status: subscriptiondomain.StatusActive}, nil
}

func (f *fakeBillingService) Current(_ context.Context, restaurantID snowflake.ID) (*billingdomain.Current, error) {
	paymentID := "pay_1"
	return &billingdomain.Current{
		Subscription: &subscriptiondomain.Subscription{ID: 3, RestaurantID: restaurantID, PlanCode: "base", Status: subscriptiondomain.StatusActive, Currency: "RUB"},
		Plan:         &plandomain.Plan{Code: "base", Name: "Base"},
		Limits:       entitlementdomain.DefaultLimits(),
		Pending:      &subscriptiondomain.Subscription{ID: 4, PlanCode: "premium", Status: subscriptiondomain.StatusPending, PaymentID: &paymentID},
	}, nil
}

func (f *fakeBillingService) History(context.Context, snowflake.ID) ([]billingdomain.HistoryEntry, error) {
	return []billingdomain.HistoryEntry{
		{Subscription: subscriptiondomain.Subscription{ID: 4, PlanCode: "premium", Status: subscriptiondomain.StatusPending}, PlanName: "Premium"},
		{Subscription: subscriptiondomain.Subscription{ID: 3, PlanCode: "base", Status: subscriptiondomain.StatusActive}, PlanName: "Base"},
	}, nil
}

func (f *fakeBillingService) ListPlans(context.Context) ([]plandomain.Plan, error) {
	days := 30
	return []plandomain.Plan{
		{Code: "base", Name: "Base", Currency: "RUB"},
		{Code: "premium", Name: "Premium", Price: 99000, Currency: "RUB", DurationDays: &days, IsFullAccess: true},
	}, nil
}

type fakeRestaurantService struct {
	created []restaurantdomain.CreateRequest
}

func (f *fakeRestaurantService) Create(_ context.Context, req restaurantdomain.CreateRequest) (*restaurantdomain.Restaurant, error) {
	f.created = append(f.created, req)
	return &restaurantdomain.Restaurant{ID: 55, Name: req.Name, Subdomain: "cafe", OwnerEmail: req.OwnerEmail}, nil
}

func (f *fakeRestaurantService) Get(_ context.Context, id snowflake.ID) (*restaurantdomain.Restaurant, error) {
	if id != knownRestaurant {
		return nil, restaurantdomain.ErrRestaurantNotFound
	}
	return &restaurantdomain.Restaurant{ID: id, Name: "Cafe"}, nil
}

func (f *fakeRestaurantService) ListIDs(context.Context) ([]snowflake.ID, error) {
	return []snowflake.ID{knownRestaurant}, nil
}

type fakeMenuService struct {
	categoryErr error
	imported    []byte
}

func (f *fakeMenuService) CreateCategory(_ context.Context, req menudomain.CreateCategoryRequest) (*menudomain.Category, error) {
	if f.categoryErr != nil {
		return nil, f.categoryErr
	}
	return &menudomain.Category{ID: 20, RestaurantID: req.RestaurantID, Name: req.Name, Placenum: 1}, nil
}

func (f *fakeMenuService) ListCategories(context.Context, snowflake.ID) ([]menudomain.Category, error) {
	return []menudomain.Category{}, nil
}

func (f *fakeMenuService) CreateItem(_ context.Context, req menudomain.CreateItemRequest) (*menudomain.Item, error) {
	return &menudomain.Item{ID: 30, CategoryID: req.CategoryID, Name: req.Name, Price: req.Price, View: true}, nil
}

func (f *fakeMenuService) ListItems(context.Context, snowflake.ID, snowflake.ID) ([]menudomain.Item, error) {
	return []menudomain.Item{}, nil
}

func (f *fakeMenuService) ImportCSV(_ context.Context, req menudomain.ImportRequest) (*menudomain.ImportResult, error) {
	f.imported = req.Data
	return &menudomain.ImportResult{Created: 1, Errors: []string{}, Items: []menudomain.Item{}}, nil
}

type testServer struct {
	engine     *gin.Engine
	billing    *fakeBillingService
	restaurant *fakeRestaurantService
	menu       *fakeMenuService
}

func newTestServer(t *testing.T, limiter *ratelimit.PaymentLimiter) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewEnforcer()
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := testServer{
		engine:     engine,
		billing:    &fakeBillingService{},
		restaurant: &fakeRestaurantService{},
		menu:       &fakeMenuService{},
	}
	NewServer(ServerParams{
		Gin:            engine,
		Cfg:            config.Config{},
		BillingSvc:     ts.billing,
		RestaurantSvc:  ts.restaurant,
		MenuSvc:        ts.menu,
		AuthzSvc:       authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		PaymentLimiter: limiter,
	})
	return ts
}

func (ts testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	ts.engine.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func errorType(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, resp)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error payload: %s", resp.Body.String())
	return payload["type"].(string)
}

func TestListPlansReportsMajorUnits(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodGet, "/api/subscriptions/plans", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data []planResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.True(t, decimal.NewFromInt(990).Equal(body.Data[1].Price))
	assert.Equal(t, int64(99000), body.Data[1].PriceMinor)
	assert.Equal(t, []string{}, body.Data[0].Features)
}

func TestGetSubscriptionIncludesPending(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodGet, "/api/restaurants/1001/subscription", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data currentSubscriptionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotNil(t, body.Data.Subscription)
	assert.Equal(t, "Base", body.Data.Subscription.PlanName)
	require.NotNil(t, body.Data.Pending)
	assert.Equal(t, "pay_1", body.Data.Pending.PaymentID)
	require.NotNil(t, body.Data.Limits.CategoryLimit)
	assert.Equal(t, 3, *body.Data.Limits.CategoryLimit)
}

func TestUnknownRestaurantIsNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodGet, "/api/restaurants/42/subscription", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", errorType(t, resp))

	resp = ts.do(http.MethodGet, "/api/restaurants/abc/subscription", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPurchaseSubscription(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/api/restaurants/1001/subscription", `{"plan_code":"premium","return_url":"https://menu.example.com/done"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data purchaseResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "pending", body.Data.Status)
	assert.Equal(t, "pay_1", body.Data.PaymentID)
	assert.Equal(t, "https://menu.example.com/done", ts.billing.lastReturn)
	require.NotNil(t, body.Data.Subscription)
	assert.True(t, decimal.NewFromInt(990).Equal(body.Data.Subscription.Amount))

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/subscription", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPurchaseErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"unknown plan", plandomain.ErrPlanNotFound, http.StatusNotFound, "not_found"},
		{"duplicate trial", billingdomain.ErrDuplicateTrial, http.StatusConflict, "conflict"},
		{"pending conflict", subscriptiondomain.ErrConflict, http.StatusConflict, "conflict"},
		{"provider down", billingdomain.ErrPaymentProvider, http.StatusBadGateway, "payment_provider_error"},
		{"lock timeout", ratelimit.ErrLockTimeout, http.StatusServiceUnavailable, "service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.billing.purchaseErr = tc.err

			resp := ts.do(http.MethodPost, "/api/restaurants/1001/subscription", `{"plan_code":"premium"}`, nil)
			assert.Equal(t, tc.status, resp.Code)
			assert.Equal(t, tc.kind, errorType(t, resp))
		})
	}
}

func TestRefreshAndCancel(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/api/restaurants/1001/subscription/refresh", `{"payment_id":"pay_1"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Data refreshResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "active", body.Data.Status)
	require.NotNil(t, body.Data.Limits)
	assert.Equal(t, entitlementdomain.Limits{}, *body.Data.Limits)

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/subscription/refresh", `{"payment_id":"pay_9"}`, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/subscription/refresh", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/subscription/cancel", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, ts.billing.lastCancelID)

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/subscription/cancel", `{"payment_id":"pay_1"}`, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "pay_1", ts.billing.lastCancelID)
}

func TestGrantRoutesEnforceRoles(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/api/restaurants/1001/subscription/grant-trial", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/subscription/grant-trial", "", map[string]string{HeaderActorRole: "owner"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, ts.billing.trialGrants)

	resp = ts.do(http.MethodPost, "/admin/restaurants/1001/subscription/grant", `{"plan_code":"premium"}`, map[string]string{HeaderActorRole: "owner"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "forbidden", errorType(t, resp))
	assert.Empty(t, ts.billing.grants)

	resp = ts.do(http.MethodPost, "/admin/restaurants/1001/subscription/grant", `{"plan_code":"premium"}`, map[string]string{HeaderActorRole: "admin"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"premium"}, ts.billing.grants)
}

func TestCreateCategoryLimitIsUpgradeRequired(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.menu.categoryErr = limitdomain.ErrCategoryLimitExceeded

	resp := ts.do(http.MethodPost, "/api/restaurants/1001/menu-categories", `{"name":"Desserts"}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	body := decodeBody(t, resp)
	payload := body["error"].(map[string]any)
	assert.Equal(t, "upgrade_required", payload["type"])
	assert.Equal(t, "upgrade your plan", payload["message"])
}

func TestCreateMenuItem(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/api/restaurants/1001/menu-categories/20/items", `{"name":"Tea","price":"120.50"}`, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/menu-categories/x/items", `{"name":"Tea","price":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestImportMenuCSV(t *testing.T) {
	ts := newTestServer(t, nil)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "menu.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("name,price\nTea,100\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/restaurants/1001/menu-categories/20/import-csv", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp := httptest.NewRecorder()
	ts.engine.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "name,price\nTea,100\n", string(ts.menu.imported))

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/menu-categories/20/import-csv", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateRestaurant(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/api/restaurants", `{"name":"Cafe","owner_email":"owner@example.com"}`, nil)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Len(t, ts.restaurant.created, 1)

	resp = ts.do(http.MethodPost, "/api/restaurants", `{"name":"Cafe","owner_email":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestPaymentRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewPaymentLimiter(config.Config{RateLimit: config.RateLimitConfig{
		Enabled:      true,
		PaymentRate:  0.01,
		PaymentBurst: 1,
	}}, ratelimit.NewTokenBucket(client))
	require.NoError(t, err)

	ts := newTestServer(t, limiter)

	resp := ts.do(http.MethodPost, "/api/restaurants/1001/subscription", `{"plan_code":"premium"}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(http.MethodPost, "/api/restaurants/1001/subscription", `{"plan_code":"premium"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.NotEmpty(t, resp.Header().Get("Retry-After"))
	assert.Equal(t, 1, ts.billing.purchases)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "3", retryAfterSeconds((2500 * time.Millisecond).Seconds()))
}

func TestClassifyErrorForLog(t *testing.T) {
	kind, code := classifyErrorForLog(limitdomain.ErrItemLimitExceeded)
	assert.Equal(t, "upgrade_required", kind)
	assert.Equal(t, "item_limit_exceeded", code)

	kind, code = classifyErrorForLog(assert.AnError)
	assert.Equal(t, "internal_error", kind)
	assert.Equal(t, "internal_error", code)
}
