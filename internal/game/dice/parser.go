package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// Notation represents a parsed dice notation string ready to be rolled.
// Precondition: Count >= 1, Sides >= 1, Bonus >= 0 after successful Parse.
type Notation struct {
	Raw   string // original input string
	Count int    // number of dice
	Sides int    // faces per die
	Bonus int    // flat bonus (optional, never negative)
}

// Parse parses a notation string of the form "<count>d<sides>[+<bonus>]",
// e.g. "2d6" or "2d6+10". Count and sides are required positive integers;
// the bonus is optional and non-negative. This is deliberately the full
// grammar: reward gold dice and item price dice never use any other form.
//
// Precondition: notation must be a non-empty string.
// Postcondition: Returns a valid Notation or a descriptive error.
func Parse(notation string) (Notation, error) {
	if notation == "" {
		return Notation{}, fmt.Errorf("dice: empty notation")
	}

	raw := notation
	s := strings.ToLower(strings.TrimSpace(notation))

	dIdx := strings.Index(s, "d")
	if dIdx <= 0 {
		return Notation{}, fmt.Errorf("dice: missing die count in %q", raw)
	}

	count, err := strconv.Atoi(s[:dIdx])
	if err != nil {
		return Notation{}, fmt.Errorf("dice: invalid die count in %q: %w", raw, err)
	}
	if count < 1 {
		return Notation{}, fmt.Errorf("dice: invalid die count in %q: must be >= 1", raw)
	}

	rest := s[dIdx+1:]
	sidesStr := rest
	bonusStr := ""
	hasBonus := false
	if plusIdx := strings.Index(rest, "+"); plusIdx >= 0 {
		sidesStr = rest[:plusIdx]
		bonusStr = rest[plusIdx+1:]
		hasBonus = true
	}

	sides, err := strconv.Atoi(sidesStr)
	if err != nil {
		return Notation{}, fmt.Errorf("dice: invalid die sides in %q: %w", raw, err)
	}
	if sides < 1 {
		return Notation{}, fmt.Errorf("dice: invalid die sides in %q: must be >= 1", raw)
	}

	bonus := 0
	if hasBonus {
		bonus, err = strconv.Atoi(bonusStr)
		if err != nil || bonus < 0 {
			return Notation{}, fmt.Errorf("dice: invalid bonus in %q", raw)
		}
	}

	return Notation{Raw: raw, Count: count, Sides: sides, Bonus: bonus}, nil
}
