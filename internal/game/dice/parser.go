package dice

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxCount and MaxSides bound parsed expressions so a hostile record cannot
// request millions of dice.
const (
	MaxCount = 100
	MaxSides = 1000
)

// ErrEmptyExpression is returned by Parse for blank input.
var ErrEmptyExpression = errors.New("dice: empty expression")

// Expression is a parsed NdM[+K] dice expression.
//
// Invariant: 1 <= Count <= MaxCount and 2 <= Sides <= MaxSides after a successful Parse.
type Expression struct {
	Raw      string `json:"raw"`
	Count    int    `json:"count"`
	Sides    int    `json:"sides"`
	Modifier int    `json:"modifier"`
}

// Min returns the smallest total the expression can produce.
func (e Expression) Min() int { return e.Count + e.Modifier }

// Max returns the largest total the expression can produce.
func (e Expression) Max() int { return e.Count*e.Sides + e.Modifier }

// Average returns the rounded-down per-die average plus one, the fixed value
// tabletop rules use in place of a roll ("take the average": d8 → 5).
func (e Expression) Average() int { return e.Sides/2 + 1 }

// Parse parses a dice expression string into an Expression.
// Supported forms: "d20", "2d6", "2d6+3", "4d8-2", with optional surrounding
// whitespace and an upper- or lower-case 'd'.
//
// Postcondition: Returns a valid Expression or a descriptive error.
func Parse(expr string) (Expression, error) {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(expr), " ", ""))
	if s == "" {
		return Expression{}, ErrEmptyExpression
	}

	dIdx := strings.IndexByte(s, 'd')
	if dIdx < 0 {
		return Expression{}, fmt.Errorf("dice: missing 'd' in expression %q", expr)
	}

	count := 1
	if countStr := s[:dIdx]; countStr != "" {
		n, err := strconv.Atoi(countStr)
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid die count in %q: %w", expr, err)
		}
		count = n
	}
	if count < 1 || count > MaxCount {
		return Expression{}, fmt.Errorf("dice: die count in %q must be 1-%d", expr, MaxCount)
	}

	rest := s[dIdx+1:]
	sidesStr, modStr := rest, ""
	if i := strings.IndexAny(rest, "+-"); i >= 0 {
		sidesStr, modStr = rest[:i], rest[i:]
	}

	sides, err := strconv.Atoi(sidesStr)
	if err != nil {
		return Expression{}, fmt.Errorf("dice: invalid die sides in %q: %w", expr, err)
	}
	if sides < 2 || sides > MaxSides {
		return Expression{}, fmt.Errorf("dice: die sides in %q must be 2-%d", expr, MaxSides)
	}

	modifier := 0
	if modStr != "" {
		modifier, err = strconv.Atoi(modStr)
		if err != nil {
			return Expression{}, fmt.Errorf("dice: invalid modifier in %q: %w", expr, err)
		}
	}

	return Expression{
		Raw:      strings.TrimSpace(expr),
		Count:    count,
		Sides:    sides,
		Modifier: modifier,
	}, nil
}
