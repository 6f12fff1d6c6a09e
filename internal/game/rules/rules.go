// Package rules holds the pure combat arithmetic of the battle engine:
// ability modifiers, proficiency, hit and critical determination, damage
// dice and level progression. Every function is total over its inputs.
package rules

import (
	"math"

	"github.com/cory-johannsen/battlekeep/internal/game/dice"
)

// AttackType distinguishes how an attack is delivered, which selects the
// ability score that feeds its damage.
type AttackType string

const (
	AttackMelee   AttackType = "melee"
	AttackRanged  AttackType = "ranged"
	AttackFinesse AttackType = "finesse"
	AttackSpell   AttackType = "spell"
)

// AbilityModifier computes floor((score - 10) / 2).
//
// Postcondition: monotonic non-decreasing in score; AbilityModifier(10) == AbilityModifier(11) == 0.
func AbilityModifier(score int) int {
	diff := score - 10
	if diff < 0 {
		return (diff - 1) / 2
	}
	return diff / 2
}

// ProficiencyBonus returns the tiered proficiency bonus for level:
// 2 at levels 1-4, rising by one every four levels.
//
// Postcondition: Returns >= 2.
func ProficiencyBonus(level int) int {
	if level < 1 {
		return 2
	}
	return 2 + (level-1)/4
}

// IsHit reports whether attackRoll meets or beats targetAC.
func IsHit(attackRoll, targetAC int) bool { return attackRoll >= targetAC }

// IsCriticalHit reports whether a natural d20 roll is a 20.
func IsCriticalHit(roll int) bool { return roll == 20 }

// IsCriticalMiss reports whether a natural d20 roll is a 1.
func IsCriticalMiss(roll int) bool { return roll == 1 }

// AttackDamageModifier returns the ability modifier added to damage for an
// attack of the given type. Melee uses strength, ranged uses dexterity and
// finesse uses the better of the two. Spells add no ability damage.
// Unknown attack types fall back to melee.
func AttackDamageModifier(attackType AttackType, strength, dexterity int) int {
	str, dex := AbilityModifier(strength), AbilityModifier(dexterity)
	switch attackType {
	case AttackRanged:
		return dex
	case AttackFinesse:
		return max(str, dex)
	case AttackSpell:
		return 0
	default:
		return str
	}
}

// RollDamage parses an NdM[+K] expression and rolls it with src.
// Unparseable expressions yield 0; so does a nil src.
//
// Postcondition: for a valid expression the result lies in [N+K, N*M+K].
func RollDamage(expr string, src dice.Source) int {
	if src == nil {
		return 0
	}
	e, err := dice.Parse(expr)
	if err != nil {
		return 0
	}
	return dice.Roll(e, src).Total()
}

// HPGainOnLevelUp returns the fixed hit point gain for one level using the
// average of the hit die plus the constitution modifier, floored at 1.
// Malformed hit dice ("d8", "1d10" and "8" are all accepted) gain 1.
func HPGainOnLevelUp(hitDice string, conModifier int) int {
	e, err := dice.Parse(hitDice)
	if err != nil {
		e, err = dice.Parse("1d" + hitDice)
		if err != nil {
			return 1
		}
	}
	return max(1, e.Average()+conModifier)
}

// BaseXP is the experience threshold for level 1.
const BaseXP = 1000

// MaxLevel caps the XP curve so the geometric thresholds stay finite.
const MaxLevel = 30

// DefaultXPMultiplier is the growth factor used when a campaign sets none.
const DefaultXPMultiplier = 1.5

// XPForLevel returns the experience needed to reach level. Level 1 costs
// BaseXP and every later level costs the previous threshold times multiplier.
// Levels below 1 need 0; multipliers below 1 or not finite are treated as 1.
// Thresholds saturate at math.MaxInt32.
func XPForLevel(level int, multiplier float64) int {
	if level < 1 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	if multiplier < 1 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		multiplier = 1
	}
	xp := math.Floor(BaseXP * math.Pow(multiplier, float64(level-1)))
	if xp >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(xp)
}

// LevelFromXP returns the highest level whose threshold is <= xp, or 0 when
// xp has not reached level 1.
func LevelFromXP(xp int, multiplier float64) int {
	level := 0
	for l := 1; l <= MaxLevel; l++ {
		if XPForLevel(l, multiplier) > xp {
			break
		}
		level = l
	}
	return level
}
