// Package dice provides the randomness abstraction and roll-result types
// for the expedition gameplay core.
package dice

import "fmt"

// RollResult holds the full audit trail for a single notation evaluation.
//
// Postcondition: Total() == sum(Dice) + Bonus.
type RollResult struct {
	Notation string // original notation string, e.g. "2d6+10"
	Dice     []int  // individual die results before bonus
	Bonus    int    // flat bonus (never negative)
}

// Total returns the sum of all die results plus the bonus.
//
// Postcondition: return value == sum(r.Dice) + r.Bonus.
func (r RollResult) Total() int {
	total := r.Bonus
	for _, d := range r.Dice {
		total += d
	}
	return total
}

// String returns a human-readable audit string in the format:
//
//	"2d6+10 → [4 5] +10 = 19"
//
// Precondition: r.Notation is non-empty.
func (r RollResult) String() string {
	if r.Notation == "" {
		panic("dice: RollResult.String() precondition violated: Notation must be non-empty")
	}
	return fmt.Sprintf("%s → %v %+d = %d", r.Notation, r.Dice, r.Bonus, r.Total())
}

// Source is the randomness provider for dice rolls.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}
