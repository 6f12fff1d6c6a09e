// Package morale resolves the d10 morale check a combatant makes at the
// start of its turn.
package morale

import (
	"errors"
	"fmt"
)

// ErrRollOutOfRange is returned when a supplied d10 result is not in 1..10.
var ErrRollOutOfRange = errors.New("morale: roll must be between 1 and 10")

// Effect is the outcome of a morale check.
type Effect string

const (
	EffectNone      Effect = "none"
	EffectExtraTurn Effect = "extra_turn"
	EffectSkipTurn  Effect = "skip_turn"
)

// MinMorale and MaxMorale bound the morale scale. Values outside are clamped.
const (
	MinMorale = -10
	MaxMorale = 10
)

// Result describes one resolved morale check.
type Result struct {
	Morale int    `json:"morale"`
	Roll   int    `json:"roll"`
	Chance int    `json:"chance"`
	Effect Effect `json:"effect"`
}

// Chance returns the percentage likelihood that morale triggers an effect.
//
// Postcondition: 0 <= Chance(m) <= 100.
func Chance(morale int) int {
	m := clamp(morale)
	if m < 0 {
		m = -m
	}
	return m * 10
}

// Evaluate resolves a morale check for a supplied d10 roll. A positive
// morale grants an extra turn when roll <= morale; a negative morale forces a
// skipped turn when roll <= |morale|. Zero morale never triggers.
//
// Precondition: 1 <= roll <= 10.
// Postcondition: Returns ErrRollOutOfRange (wrapped) for any other roll.
func Evaluate(morale, roll int) (Result, error) {
	if roll < 1 || roll > 10 {
		return Result{}, fmt.Errorf("%w: got %d", ErrRollOutOfRange, roll)
	}
	m := clamp(morale)
	res := Result{Morale: m, Roll: roll, Chance: Chance(m), Effect: EffectNone}
	switch {
	case m > 0 && roll <= m:
		res.Effect = EffectExtraTurn
	case m < 0 && roll <= -m:
		res.Effect = EffectSkipTurn
	}
	return res, nil
}

// EvaluateFor is Evaluate for a combatant that may be immune to morale.
// Immune combatants still have their roll validated but never receive an effect.
func EvaluateFor(morale, roll int, ignoresMorale bool) (Result, error) {
	res, err := Evaluate(morale, roll)
	if err != nil {
		return res, err
	}
	if ignoresMorale {
		res.Chance = 0
		res.Effect = EffectNone
	}
	return res, nil
}

func clamp(m int) int {
	return max(MinMorale, min(MaxMorale, m))
}
