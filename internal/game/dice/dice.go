// Package dice parses NdM[+K] dice notation and totals die results, either
// rolled from a Source or supplied by a caller who rolled at the table.
package dice

import (
	"fmt"
	"strings"
)

// RollResult is the audit trail for one evaluated dice expression.
//
// Postcondition: Total() == sum(Dice) + Modifier.
type RollResult struct {
	Expression string `json:"expression"`
	Dice       []int  `json:"dice"`
	Modifier   int    `json:"modifier"`
}

// Total returns the sum of all die results plus the modifier.
func (r RollResult) Total() int {
	total := r.Modifier
	for _, d := range r.Dice {
		total += d
	}
	return total
}

// DiceSum returns the sum of the die results without the modifier.
func (r RollResult) DiceSum() int {
	sum := 0
	for _, d := range r.Dice {
		sum += d
	}
	return sum
}

// String renders the roll as "2d6+3 → [4 5] +3 = 12".
// An empty Expression renders as "?".
func (r RollResult) String() string {
	expr := r.Expression
	if expr == "" {
		expr = "?"
	}
	parts := make([]string, len(r.Dice))
	for i, d := range r.Dice {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s → [%s] %+d = %d", expr, strings.Join(parts, " "), r.Modifier, r.Total())
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
