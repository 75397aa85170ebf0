package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/tablemenu/internal/billing/domain"
	entitlementdomain "github.com/smallbiznis/tablemenu/internal/entitlement/domain"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
	plandomain "github.com/smallbiznis/tablemenu/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tablemenu/internal/subscription/domain"
)

type planResponse struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	PriceMinor    int64           `json:"price_minor"`
	Currency      string          `json:"currency"`
	DurationDays  *int            `json:"duration_days"`
	CategoryLimit *int            `json:"category_limit"`
	ItemLimit     *int            `json:"item_limit"`
	IsFullAccess  bool            `json:"is_full_access"`
	IsTrial       bool            `json:"is_trial"`
	Features      []string        `json:"features"`
}

type subscriptionResponse struct {
	ID          string          `json:"id"`
	PlanCode    string          `json:"plan_code"`
	PlanName    string          `json:"plan_name,omitempty"`
	Status      string          `json:"status"`
	StartedAt   *time.Time      `json:"started_at"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	Amount      decimal.Decimal `json:"amount"`
	AmountMinor int64           `json:"amount_minor"`
	Currency    string          `json:"currency"`
	PaymentID   *string         `json:"payment_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type pendingResponse struct {
	PaymentID       string  `json:"payment_id"`
	PlanCode        string  `json:"plan_code"`
	ConfirmationURL *string `json:"confirmation_url"`
}

type currentSubscriptionResponse struct {
	Subscription *subscriptionResponse    `json:"subscription"`
	Limits       entitlementdomain.Limits `json:"limits"`
	Pending      *pendingResponse         `json:"pending"`
}

type purchaseRequest struct {
	PlanCode  string `json:"plan_code" binding:"required"`
	ReturnURL string `json:"return_url" binding:"omitempty,url"`
}

type purchaseResponse struct {
	Status          string                   `json:"status"`
	PaymentID       string                   `json:"payment_id,omitempty"`
	ConfirmationURL string                   `json:"confirmation_url,omitempty"`
	Subscription    *subscriptionResponse    `json:"subscription"`
	Limits          entitlementdomain.Limits `json:"limits"`
}

type refreshRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

type refreshResponse struct {
	Status       string                    `json:"status"`
	Subscription *subscriptionResponse     `json:"subscription,omitempty"`
	Limits       *entitlementdomain.Limits `json:"limits,omitempty"`
}

type cancelRequest struct {
	PaymentID string `json:"payment_id"`
}

type grantRequest struct {
	PlanCode string `json:"plan_code" binding:"required"`
}

func newPlanResponse(plan plandomain.Plan) planResponse {
	features := []string(plan.Features)
	if features == nil {
		features = []string{}
	}
	return planResponse{
		Code:          plan.Code,
		Name:          plan.Name,
		Description:   plan.Description,
		Price:         paymentdomain.MajorUnits(plan.Price),
		PriceMinor:    plan.Price,
		Currency:      plan.Currency,
		DurationDays:  plan.DurationDays,
		CategoryLimit: plan.CategoryLimit,
		ItemLimit:     plan.ItemLimit,
		IsFullAccess:  plan.IsFullAccess,
		IsTrial:       plan.IsTrial,
		Features:      features,
	}
}

func newSubscriptionResponse(record *subscriptiondomain.Subscription, planName string) *subscriptionResponse {
	if record == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:          record.ID.String(),
		PlanCode:    record.PlanCode,
		PlanName:    planName,
		Status:      string(record.Status),
		StartedAt:   record.StartedAt,
		ExpiresAt:   record.ExpiresAt,
		Amount:      paymentdomain.MajorUnits(record.Amount),
		AmountMinor: record.Amount,
		Currency:    record.Currency,
		PaymentID:   record.PaymentID,
		CreatedAt:   record.CreatedAt,
	}
}

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.billingSvc.ListPlans(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]planResponse, 0, len(plans))
	for _, plan := range plans {
		resp = append(resp, newPlanResponse(plan))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	current, err := s.billingSvc.Current(c.Request.Context(), restaurantIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	planName := ""
	if current.Plan != nil {
		planName = current.Plan.Name
	}
	resp := currentSubscriptionResponse{
		Subscription: newSubscriptionResponse(current.Subscription, planName),
		Limits:       current.Limits,
	}
	if current.Pending != nil {
		resp.Pending = &pendingResponse{
			PaymentID:       current.Pending.PaymentRef(),
			PlanCode:        current.Pending.PlanCode,
			ConfirmationURL: current.Pending.ConfirmationURL,
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSubscriptionHistory(c *gin.Context) {
	entries, err := s.billingSvc.History(c.Request.Context(), restaurantIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]*subscriptionResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, newSubscriptionResponse(&entries[i].Subscription, entries[i].PlanName))
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PurchaseSubscription(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingSvc.Purchase(c.Request.Context(), billingdomain.PurchaseRequest{
		RestaurantID: restaurantIDFrom(c),
		PlanCode:     strings.TrimSpace(req.PlanCode),
		ReturnURL:    strings.TrimSpace(req.ReturnURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": purchaseResponse{
		Status:          result.Status,
		PaymentID:       result.PaymentID,
		ConfirmationURL: result.ConfirmationURL,
		Subscription:    newSubscriptionResponse(result.Subscription, ""),
		Limits:          result.Limits,
	}})
}

func (s *Server) RefreshSubscription(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("payment_id", "invalid_payment_id", "payment_id is required"))
		return
	}

	result, err := s.billingSvc.Reconcile(c.Request.Context(), restaurantIDFrom(c), req.PaymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": refreshResponse{
		Status:       result.Status,
		Subscription: newSubscriptionResponse(result.Subscription, ""),
		Limits:       result.Limits,
	}})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	if err := s.billingSvc.Cancel(c.Request.Context(), restaurantIDFrom(c), req.PaymentID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": billingdomain.StatusCanceled}})
}

func (s *Server) GrantTrial(c *gin.Context) {
	record, err := s.billingSvc.GrantTrial(c.Request.Context(), restaurantIDFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionResponse(record, "")})
}

func (s *Server) GrantSubscription(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.billingSvc.GrantOverride(c.Request.Context(), restaurantIDFrom(c), strings.TrimSpace(req.PlanCode))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionResponse(record, "")})
}
