// Package util provides common utility functions for price calculations.
package util

import "github.com/shopspring/decimal"

// RoundToStep rounds x to the nearest multiple of step. With step=5,
// 5847.25 becomes 5845 and 5848 becomes 5850. A non-positive step returns x
// unchanged.
func RoundToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return x
	}
	return x.Div(step).Round(0).Mul(step)
}

// CeilToStep rounds x up to the next multiple of step.
func CeilToStep(x, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return x
	}
	q := x.Div(step)
	c := q.Ceil()
	return c.Mul(step)
}
