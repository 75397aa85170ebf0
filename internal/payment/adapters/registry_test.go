package adapters

import (
	"testing"

	"github.com/smallbiznis/tablemenu/internal/payment/adapters/sandbox"
	paymentdomain "github.com/smallbiznis/tablemenu/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	registry := NewRegistry(sandbox.NewFactory(), nil)

	assert.True(t, registry.ProviderExists(" SandBox "))
	assert.False(t, registry.ProviderExists("yookassa"))

	provider, err := registry.NewProvider("SANDBOX", paymentdomain.AdapterConfig{})
	require.NoError(t, err)
	assert.Equal(t, "sandbox", provider.Name())

	_, err = registry.NewProvider("unknown", paymentdomain.AdapterConfig{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)

	var nilRegistry *Registry
	_, err = nilRegistry.NewProvider("sandbox", paymentdomain.AdapterConfig{})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}
