package dice

import "fmt"

// Roll evaluates expr using src.
//
// Precondition: expr must come from Parse; src must be non-nil.
// Postcondition: len(result.Dice) == expr.Count and every die is in [1, expr.Sides].
func Roll(expr Expression, src Source) RollResult {
	rolled := make([]int, expr.Count)
	for i := range rolled {
		rolled[i] = src.Intn(expr.Sides) + 1
	}
	return RollResult{
		Expression: expr.Raw,
		Dice:       rolled,
		Modifier:   expr.Modifier,
	}
}

// RollExpr parses expr and rolls it using src in a single call.
func RollExpr(expr string, src Source) (RollResult, error) {
	e, err := Parse(expr)
	if err != nil {
		return RollResult{}, err
	}
	return Roll(e, src), nil
}

// Evaluate builds a RollResult from die results rolled outside the server.
// rolls must hold exactly expr.Count values (or twice that when doubled is
// set, for critical hits) each in [1, expr.Sides].
//
// Postcondition: Returns a RollResult whose Dice equal rolls, or an error
// naming the first offending value.
func Evaluate(expr Expression, rolls []int, doubled bool) (RollResult, error) {
	want := expr.Count
	if doubled {
		want *= 2
	}
	if len(rolls) != want {
		return RollResult{}, fmt.Errorf("dice: %s needs %d die results, got %d", expr.Raw, want, len(rolls))
	}
	for i, r := range rolls {
		if r < 1 || r > expr.Sides {
			return RollResult{}, fmt.Errorf("dice: result #%d (%d) is outside 1-%d for %s", i+1, r, expr.Sides, expr.Raw)
		}
	}
	dice := make([]int, len(rolls))
	copy(dice, rolls)
	return RollResult{Expression: expr.Raw, Dice: dice, Modifier: expr.Modifier}, nil
}

// MustParse parses expr and panics on error. Useful for package-level values.
//
// Precondition: expr must be a valid dice expression.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic("dice: MustParse failed for expression " + expr + ": " + err.Error())
	}
	return e
}
