package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlanCatalogIsValid(t *testing.T) {
	plans := DefaultPlanCatalog()
	require.NoError(t, ValidatePlanCatalog(plans))

	codes := make([]string, 0, len(plans))
	for _, p := range plans {
		codes = append(codes, p.Code)
	}
	assert.Equal(t, []string{PlanCodeBase, PlanCodeTrial, PlanCodePremium, PlanCodeTesting}, codes)
}

func TestValidatePlanCatalogNormalisesCodes(t *testing.T) {
	plans := []PlanDefinition{
		{Code: " Base ", Name: "Base", Currency: "rub"},
		{Code: "Premium Plus", Name: "Premium", Price: 100, Currency: "RUB"},
	}
	require.NoError(t, ValidatePlanCatalog(plans))
	assert.Equal(t, "base", plans[0].Code)
	assert.Equal(t, "RUB", plans[0].Currency)
	assert.Equal(t, "premium-plus", plans[1].Code)
}

func TestValidatePlanCatalogRejectsInvalidEntries(t *testing.T) {
	cases := []struct {
		name  string
		plans []PlanDefinition
	}{
		{name: "empty", plans: nil},
		{name: "missing base", plans: []PlanDefinition{{Code: "premium", Name: "P", Currency: "RUB"}}},
		{name: "duplicate", plans: []PlanDefinition{
			{Code: "base", Name: "B", Currency: "RUB"},
			{Code: "BASE", Name: "B2", Currency: "RUB"},
		}},
		{name: "negative price", plans: []PlanDefinition{{Code: "base", Name: "B", Price: -1, Currency: "RUB"}}},
		{name: "bad currency", plans: []PlanDefinition{{Code: "base", Name: "B", Currency: "RUBLE"}}},
		{name: "zero duration", plans: []PlanDefinition{{Code: "base", Name: "B", Currency: "RUB", DurationDays: intPtr(0)}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidatePlanCatalog(tc.plans))
		})
	}
}

func TestNewPlanCatalogHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yml")
	content := `plans:
  - code: base
    name: Base
    price: 0
    currency: RUB
    category_limit: 2
    item_limit: 4
  - code: gold
    name: Gold
    price: 50000
    currency: RUB
    duration_days: 30
    is_full_access: true
    features:
      - one
      - two
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewPlanCatalogHolder(Config{PlansConfigPath: path})
	require.NoError(t, err)

	plans := holder.Get()
	require.Len(t, plans, 2)
	assert.Equal(t, "base", plans[0].Code)
	require.NotNil(t, plans[0].CategoryLimit)
	assert.Equal(t, 2, *plans[0].CategoryLimit)
	assert.Nil(t, plans[0].DurationDays)
	assert.Equal(t, "gold", plans[1].Code)
	require.NotNil(t, plans[1].DurationDays)
	assert.Equal(t, 30, *plans[1].DurationDays)
	assert.Equal(t, []string{"one", "two"}, plans[1].Features)
}

func TestStaticPlanCatalogHolderReturnsCopy(t *testing.T) {
	holder := NewStaticPlanCatalogHolder(DefaultPlanCatalog())
	plans := holder.Get()
	plans[0].Code = "mutated"
	assert.Equal(t, PlanCodeBase, holder.Get()[0].Code)
}
