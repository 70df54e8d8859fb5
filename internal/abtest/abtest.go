// Package abtest splits recipients into variants, picks a winner by open
// rate and resolves the content a variant actually sends.
package abtest

import (
	"errors"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrNoStats is returned by DetermineWinner when neither variant has data.
var ErrNoStats = errors.New("no variant statistics")

// Assigned pairs a recipient with its variant label ("" when no test runs).
type Assigned struct {
	domain.Recipient
	Variant string
}

// SizeA returns how many of n recipients go to variant A: ceil(n*p/100).
func SizeA(n, splitPercent int) int {
	if n <= 0 || splitPercent <= 0 {
		return 0
	}
	if splitPercent >= 100 {
		return n
	}
	return (n*splitPercent + 99) / 100
}

// Assign labels the first SizeA recipients A and the rest B, in input
// order. A split of 0 leaves every label empty. The same ordered input
// always yields the same partition.
func Assign(recipients []domain.Recipient, splitPercent int) []Assigned {
	out := make([]Assigned, len(recipients))
	cut := SizeA(len(recipients), splitPercent)
	for i, r := range recipients {
		out[i].Recipient = r
		switch {
		case splitPercent <= 0:
		case i < cut:
			out[i].Variant = domain.VariantA
		default:
			out[i].Variant = domain.VariantB
		}
	}
	return out
}

// DetermineWinner returns the variant with the higher open rate. Ties,
// including 0 vs 0, resolve to A. Sample size is not considered.
func DetermineWinner(stats []domain.VariantStats) (string, error) {
	var a, b domain.VariantStats
	found := false
	for _, s := range stats {
		switch s.Variant {
		case domain.VariantA:
			a = s
			found = true
		case domain.VariantB:
			b = s
			found = true
		}
	}
	if !found {
		return "", ErrNoStats
	}
	if b.OpenRate() > a.OpenRate() {
		return domain.VariantB, nil
	}
	return domain.VariantA, nil
}

// Loser returns the other variant label.
func Loser(winner string) string {
	if winner == domain.VariantA {
		return domain.VariantB
	}
	return domain.VariantA
}
