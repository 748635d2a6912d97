// Package generate builds draft test cases from a free-text requirement.
// The output is a deterministic stand-in for a model call: the same
// requirement and dependency set always produce the same case.
package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"testline/internal/domain"
)

const defaultNamePrefixLen = 30

type Generator struct {
	// Delay simulates service latency; zero means no wait.
	Delay time.Duration
	// NamePrefixLen bounds how much of the requirement lands in the name.
	NamePrefixLen int
	// NewID mints entity ids; the caller decides the scheme.
	NewID func(parts ...string) string
	Now   func() time.Time
}

// Result is a generated case plus the shared values it produced for
// downstream consumers.
type Result struct {
	Case       domain.TestCase
	SharedData map[string]any
}

// Generate produces a draft case for the requirement. Dependencies are the
// already-resolved cases the new one builds on; their names steer the
// cross-check steps. The simulated latency honors ctx cancellation.
func (g Generator) Generate(ctx context.Context, suiteID, requirement string, deps []domain.TestCase) (Result, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	now := g.Now().UTC().Format(time.RFC3339)
	caseID := g.NewID("case", suiteID, requirement)

	prefixLen := g.NamePrefixLen
	if prefixLen <= 0 {
		prefixLen = defaultNamePrefixLen
	}
	lower := strings.ToLower(requirement)

	tc := domain.TestCase{
		ID:          caseID,
		TestSuiteID: suiteID,
		Name:        "AI Generated: " + truncate(requirement, prefixLen) + "...",
		Description: fmt.Sprintf("This test case was automatically generated based on the prompt: %q", requirement),
		Requirement: requirement,
		Type:        "positive",
		Status:      "draft",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, dep := range deps {
		tc.Dependencies = append(tc.Dependencies, dep.ID)
	}

	shared := map[string]any{}
	if len(deps) > 0 {
		if strings.Contains(lower, "product") {
			shared["productId"] = g.NewID("data", caseID, "product")
			shared["productName"] = "Sample Product"
			shared["productPrice"] = 99.99
			shared["productDescription"] = "This is a sample product for testing"
		}
		if strings.Contains(lower, "order") {
			shared["orderId"] = g.NewID("data", caseID, "order")
			shared["orderTotal"] = 99.99
			shared["orderItems"] = []map[string]any{
				{"name": "Sample Product", "price": 99.99, "quantity": 1},
			}
		}
		if strings.Contains(lower, "user") || strings.Contains(lower, "login") {
			shared["userId"] = g.NewID("data", caseID, "user")
			shared["username"] = "testuser"
			shared["email"] = "testuser@example.com"
		}
	}
	if len(shared) > 0 {
		tc.SharedData = shared
	}

	tc.Steps = skeletonSteps(g, caseID)

	// An order case built on a product case gets a consistency check
	// against the shared product price.
	if strings.Contains(lower, "order") {
		for _, dep := range deps {
			if strings.Contains(strings.ToLower(dep.Name), "product") {
				tc.Steps = append(tc.Steps, domain.TestStep{
					ID:              g.NewID("step", caseID, "7"),
					TestCaseID:      caseID,
					Order:           7,
					Action:          "assert",
					Selector:        ".product-price",
					ExpectedOutcome: "$99.99",
				})
				tc.Description += "\n\nThis test case verifies data consistency with the product test case."
				break
			}
		}
	}
	return Result{Case: tc, SharedData: shared}, nil
}

func skeletonSteps(g Generator, caseID string) []domain.TestStep {
	step := func(n int, action, selector, value, expected string) domain.TestStep {
		return domain.TestStep{
			ID:              g.NewID("step", caseID, fmt.Sprint(n)),
			TestCaseID:      caseID,
			Order:           n,
			Action:          action,
			Selector:        selector,
			Value:           value,
			ExpectedOutcome: expected,
		}
	}
	return []domain.TestStep{
		step(1, "navigate", "https://example.com", "", ""),
		step(2, "click", ".login-button", "", ""),
		step(3, "fill", "#username", "testuser", ""),
		step(4, "fill", "#password", "password123", ""),
		step(5, "click", `button[type="submit"]`, "", ""),
		step(6, "assert", ".welcome-message", "", "Welcome to your account"),
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
