package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tablemenu/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderActorRole        = "X-Actor-Role"
	contextRestaurantIDKey = "restaurant_id"
)

// RestaurantContext resolves the :id path parameter to an existing restaurant.
func (s *Server) RestaurantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
		if err != nil || id == 0 {
			AbortWithError(c, newValidationError("id", "invalid_id", "invalid restaurant id"))
			return
		}
		if _, err := s.restaurantSvc.Get(c.Request.Context(), id); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(contextRestaurantIDKey, id)
		c.Next()
	}
}

func restaurantIDFrom(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextRestaurantIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

// authorizeAction checks the caller role set by the upstream auth layer.
func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		role := c.GetHeader(HeaderActorRole)
		if err := s.authzSvc.Authorize(c.Request.Context(), role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// PaymentRateLimit throttles provider-bound calls per restaurant.
func (s *Server) PaymentRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.paymentLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		restaurantID := restaurantIDFrom(c)
		result, err := s.paymentLimiter.Allow(ctx, restaurantID.String())
		if err != nil {
			logger.FromContext(ctx).Warn("payment rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("payment rate limit exceeded",
				zap.String("endpoint", c.FullPath()),
			)
			c.Header("Retry-After", retryAfterSeconds(result.RetryAfter.Seconds()))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(seconds float64) string {
	n := int(math.Ceil(seconds))
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+strings.ReplaceAll(name, "_", " "))
	}
	return id, nil
}
