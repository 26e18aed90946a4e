package dice

// RollUniform returns an integer uniformly distributed in [1, sides].
//
// Precondition: sides >= 1; src must be non-nil.
// Postcondition: 1 <= return value <= sides.
func RollUniform(src Source, sides int) int {
	return src.Intn(sides) + 1
}

// D20 rolls a single twenty-sided die, the narrative roll used for all
// encounter and reward resolutions.
//
// Precondition: src must be non-nil.
// Postcondition: 1 <= return value <= 20.
func D20(src Source) int {
	return RollUniform(src, 20)
}

// Roll evaluates a parsed Notation using the given Source.
//
// Precondition: n must come from Parse (Count >= 1, Sides >= 1); src must be
// non-nil.
// Postcondition: len(result.Dice) == n.Count and
// result.Total() == sum(result.Dice) + result.Bonus.
func Roll(n Notation, src Source) RollResult {
	rolled := make([]int, n.Count)
	for i := range rolled {
		rolled[i] = RollUniform(src, n.Sides)
	}
	return RollResult{Notation: n.Raw, Dice: rolled, Bonus: n.Bonus}
}

// Eval parses notation and rolls it, returning only the total. Unparseable
// input evaluates to 0; Eval never returns an error and never panics on bad
// input. This is the operator-facing contract for gold dice and price dice,
// where a malformed catalog entry must not break the session.
//
// Postcondition: Returns 0 for unparseable notation, otherwise a value in
// [count+bonus, count*sides+bonus].
func Eval(notation string, src Source) int {
	n, err := Parse(notation)
	if err != nil {
		return 0
	}
	return Roll(n, src).Total()
}
