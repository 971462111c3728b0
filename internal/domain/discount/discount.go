// Package discount computes cart discounts from a fixed registry of
// percentage codes. Computation is pure: identical (code, subtotal) inputs
// always produce the identical amount.
package discount

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrUnknownCode is returned when a discount code is not in the registry.
var ErrUnknownCode = errors.New("unknown discount code")

var hundred = decimal.NewFromInt(100)

// Rule defines a single percentage discount code.
type Rule struct {
	Code        string
	Percentage  decimal.Decimal
	Description string
}

// Repository provides persistent storage for discount rules. It backs the
// registry loaded at startup and the bulk ingest tool.
type Repository interface {
	ListActive(ctx context.Context) ([]Rule, error)
	Upsert(ctx context.Context, rule Rule) error
}

// Registry holds the set of valid discount codes, keyed by upper-cased code.
// It is immutable after construction.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry builds a Registry from the given rules. Codes are matched
// case-insensitively.
func NewRegistry(rules ...Rule) *Registry {
	m := make(map[string]Rule, len(rules))
	for _, r := range rules {
		m[strings.ToUpper(r.Code)] = r
	}
	return &Registry{rules: m}
}

// DefaultRules returns the built-in marketplace discount codes.
func DefaultRules() []Rule {
	return []Rule{
		{Code: "FRESH10", Percentage: decimal.NewFromInt(10), Description: "10% off fresh produce"},
		{Code: "HARVEST20", Percentage: decimal.NewFromInt(20), Description: "Harvest season: 20% off"},
		{Code: "WELCOME5", Percentage: decimal.NewFromInt(5), Description: "Welcome: 5% off your first order"},
	}
}

// DefaultRegistry returns a registry holding only the built-in codes.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultRules()...)
}

// LoadRegistry builds a Registry from all active rules in the repository.
// The loaded registry is fixed for the process lifetime.
func LoadRegistry(ctx context.Context, repo Repository) (*Registry, error) {
	rules, err := repo.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list active discounts")
	}
	return NewRegistry(rules...), nil
}

// Lookup returns the rule for the given code, matched case-insensitively.
func (r *Registry) Lookup(code string) (Rule, error) {
	rule, ok := r.rules[strings.ToUpper(code)]
	if !ok {
		return Rule{}, ErrUnknownCode
	}
	return rule, nil
}

// Compute returns the discount amount for the given code and subtotal:
// subtotal * percentage / 100, clamped to [0, subtotal] and rounded to
// 2 decimal places. Unknown codes return ErrUnknownCode and a zero amount.
func (r *Registry) Compute(code string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	rule, err := r.Lookup(code)
	if err != nil {
		return decimal.Zero, err
	}

	amount := subtotal.Mul(rule.Percentage).Div(hundred)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount.Round(2), nil
}
