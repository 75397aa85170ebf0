package authorization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()

	enforcer, err := NewEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeGrantTrial(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, "owner", ObjectSubscription, ActionSubscriptionGrantTrial))
	assert.NoError(t, svc.Authorize(ctx, " Admin ", ObjectSubscription, ActionSubscriptionGrantTrial))
	assert.ErrorIs(t, svc.Authorize(ctx, "staff", ObjectSubscription, ActionSubscriptionGrantTrial), ErrForbidden)
}

func TestAuthorizeGrantIsAdminOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, "admin", ObjectSubscription, ActionSubscriptionGrant))
	assert.ErrorIs(t, svc.Authorize(ctx, "owner", ObjectSubscription, ActionSubscriptionGrant), ErrForbidden)
}

func TestAuthorizeRejectsBlankInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, "", ObjectSubscription, ActionSubscriptionGrant), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "admin", "", ActionSubscriptionGrant), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "admin", ObjectSubscription, " "), ErrInvalidAction)
}
