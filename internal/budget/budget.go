// Package budget computes per-variant budget and impression splits for
// experiments.
package budget

import "fmt"

// Split holds the per-variant allocation of a total budget and impression
// target.
type Split struct {
	PerVariantBudgetCents int64
	PerVariantImpressions int64
}

// SplitEven divides a total budget and impression target across variants
// using floor division. The remainder of either division is deliberately left
// unspent rather than redistributed; changing that policy would silently
// change spend for existing tenants.
//
// Callers bound-check budget and variant-count ranges before calling; the
// only guard here is against a non-positive variant count.
func SplitEven(totalBudgetCents, totalImpressions int64, variants int) (Split, error) {
	if variants <= 0 {
		return Split{}, fmt.Errorf("variant count must be positive (got %d)", variants)
	}
	n := int64(variants)
	return Split{
		PerVariantBudgetCents: totalBudgetCents / n,
		PerVariantImpressions: totalImpressions / n,
	}, nil
}
