package generate

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testline/internal/domain"
)

func newGenerator() Generator {
	var seq int
	return Generator{
		NewID: func(parts ...string) string {
			seq++
			return fmt.Sprintf("%s-%d", strings.Join(parts, "-"), seq)
		},
		Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestGenerateSkeleton(t *testing.T) {
	g := newGenerator()
	res, err := g.Generate(context.Background(), "suite-1", "Verify the search box filters results", nil)
	require.NoError(t, err)
	tc := res.Case

	assert.Equal(t, "suite-1", tc.TestSuiteID)
	assert.Equal(t, "positive", tc.Type)
	assert.Equal(t, "draft", tc.Status)
	assert.True(t, strings.HasPrefix(tc.Name, "AI Generated: "), tc.Name)
	assert.True(t, strings.HasSuffix(tc.Name, "..."), tc.Name)
	// 30-rune cap on the requirement excerpt
	excerpt := strings.TrimSuffix(strings.TrimPrefix(tc.Name, "AI Generated: "), "...")
	assert.LessOrEqual(t, len([]rune(excerpt)), 30)

	require.Len(t, tc.Steps, 6)
	actions := make([]string, len(tc.Steps))
	for i, s := range tc.Steps {
		assert.Equal(t, i+1, s.Order)
		assert.Equal(t, tc.ID, s.TestCaseID)
		actions[i] = s.Action
	}
	assert.Equal(t, []string{"navigate", "click", "fill", "fill", "click", "assert"}, actions)

	// no dependencies means no synthesized shared data
	assert.Empty(t, res.SharedData)
	assert.Nil(t, tc.SharedData)
}

func TestGenerateOrderOnProductAddsCrossCheck(t *testing.T) {
	g := newGenerator()
	product := domain.TestCase{ID: "dep-1", Name: "Product creation test"}
	res, err := g.Generate(context.Background(), "suite-1", "Place an order for the product", []domain.TestCase{product})
	require.NoError(t, err)
	tc := res.Case

	assert.Equal(t, []string{"dep-1"}, tc.Dependencies)
	require.Len(t, tc.Steps, 7)
	last := tc.Steps[6]
	assert.Equal(t, "assert", last.Action)
	assert.Equal(t, ".product-price", last.Selector)
	assert.Equal(t, "$99.99", last.ExpectedOutcome)
	assert.Contains(t, tc.Description, "data consistency")

	// both keyword families fire
	assert.Contains(t, res.SharedData, "orderId")
	assert.Contains(t, res.SharedData, "productPrice")
	assert.Equal(t, 99.99, res.SharedData["productPrice"])
}

func TestGenerateUserKeywords(t *testing.T) {
	g := newGenerator()
	dep := domain.TestCase{ID: "dep-1", Name: "signup"}
	res, err := g.Generate(context.Background(), "suite-1", "Login as an existing user", []domain.TestCase{dep})
	require.NoError(t, err)

	assert.Contains(t, res.SharedData, "userId")
	assert.Equal(t, "testuser", res.SharedData["username"])
	assert.Equal(t, "testuser@example.com", res.SharedData["email"])
	assert.NotContains(t, res.SharedData, "orderId")
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := newGenerator().Generate(context.Background(), "suite-1", "Order a product now", []domain.TestCase{{ID: "d", Name: "product setup"}})
	require.NoError(t, err)
	b, err := newGenerator().Generate(context.Background(), "suite-1", "Order a product now", []domain.TestCase{{ID: "d", Name: "product setup"}})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateHonorsCancellation(t *testing.T) {
	g := newGenerator()
	g.Delay = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, "suite-1", "anything", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
