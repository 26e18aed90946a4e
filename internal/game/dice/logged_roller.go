package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger to provide logged dice rolling. All rolls
// are logged at debug level with notation, dice values, bonus, and total, so
// a session transcript can be audited after the fact.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that rolls with src and logs each roll to
// logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// D20 rolls a d20 and logs the result at debug level.
//
// Postcondition: 1 <= return value <= 20.
func (r *Roller) D20() int {
	v := D20(r.src)
	r.logger.Debug("d20 roll", zap.Int("value", v))
	return v
}

// Eval evaluates notation and logs the result at debug level. Unparseable
// notation evaluates to 0 and is logged at warn level.
//
// Postcondition: Returns the same value Eval(notation, src) would.
func (r *Roller) Eval(notation string) int {
	n, err := Parse(notation)
	if err != nil {
		r.logger.Warn("unparseable dice notation", zap.String("notation", notation), zap.Error(err))
		return 0
	}
	result := Roll(n, r.src)
	r.logger.Debug("dice roll",
		zap.String("notation", result.Notation),
		zap.Ints("dice", result.Dice),
		zap.Int("bonus", result.Bonus),
		zap.Int("total", result.Total()),
	)
	return result.Total()
}

// Source exposes the underlying randomness source.
func (r *Roller) Source() Source { return r.src }
