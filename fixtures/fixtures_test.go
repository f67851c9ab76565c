package fixtures

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/counting"
)

func TestDefault_Loads(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	products, err := p.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 16)
	assert.Equal(t, "INV-001", products[0].Code)
	assert.Equal(t, "312", products[0].Value.String())
	require.NotNil(t, products[0].LastCountDate)
	assert.Nil(t, products[2].LastCountDate)

	def, ok := p.Catalog().Lookup("subject.approvalLimit.amount")
	require.True(t, ok)
	assert.Equal(t, abac.TypeNumber, def.DataType)
	assert.Equal(t, "subject", def.Category)
	assert.True(t, def.Allows(abac.OpGreaterThan))

	assert.NotEmpty(t, p.Policies())
}

func TestDefault_ProductsFeedSelection(t *testing.T) {
	// GIVEN: The embedded products as a product source
	p, err := Default()
	require.NoError(t, err)
	products, _ := p.ListProducts(context.Background())

	// WHEN: Selecting a category
	filtered := counting.FilterProducts(products, counting.SelectionCriteria{
		Method:   counting.SelectCategory,
		Category: "Dairy",
	}, counting.CheckCycleCount)

	// THEN
	assert.Len(t, filtered, 2)
}

func TestDefault_SamplePoliciesDecide(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	engine := abac.NewEngine(abac.EffectDeny)
	ctx := context.Background()

	counter := map[string]any{"role": map[string]any{"name": "counter"}, "accountStatus": "active"}
	res, err := engine.Evaluate(ctx, p.Policies(), abac.NewRequest(counter, nil, "conduct_count",
		map[string]any{"isBusinessHours": true}, at))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, "counters-count-in-hours", res.DecidingPolicy)

	suspended := map[string]any{"role": map[string]any{"name": "counter"}, "accountStatus": "suspended"}
	res, err = engine.Evaluate(ctx, p.Policies(), abac.NewRequest(suspended, nil, "conduct_count",
		map[string]any{"isBusinessHours": true}, at))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "deny-suspended-accounts", res.DecidingPolicy)

	// out of hours and off duty: nothing permits, default deny
	res, err = engine.Evaluate(ctx, p.Policies(), abac.NewRequest(counter, nil, "conduct_count",
		map[string]any{"isBusinessHours": false}, at))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Empty(t, res.DecidingPolicy)
}

func TestLoad_Errors(t *testing.T) {
	base := fstest.MapFS{
		"products.yaml":   {Data: []byte("products: []\n")},
		"attributes.yaml": {Data: []byte("attributes:\n  - {path: action.name, data_type: string}\n")},
		"policies.yaml":   {Data: []byte("policies: []\n")},
	}
	_, err := Load(base)
	require.NoError(t, err)

	bad := fstest.MapFS{
		"products.yaml":   {Data: []byte("products:\n  - {id: x, system_quantity: lots, value: \"1\"}\n")},
		"attributes.yaml": base["attributes.yaml"],
		"policies.yaml":   base["policies.yaml"],
	}
	_, err = Load(bad)
	assert.ErrorContains(t, err, "system_quantity")

	unknownAttr := fstest.MapFS{
		"products.yaml":   base["products.yaml"],
		"attributes.yaml": base["attributes.yaml"],
		"policies.yaml": {Data: []byte(`policies:
  - id: p
    name: P
    effect: permit
    rule:
      conditions:
        - {attribute: subject.shoeSize, operator: equals, value: "42"}
`)},
	}
	_, err = Load(unknownAttr)
	assert.ErrorIs(t, err, abac.ErrInvalidCondition)

	_, err = Load(fstest.MapFS{})
	assert.ErrorContains(t, err, "products.yaml")
}
