// Package damage composes the itemized damage of a single hit: dice,
// ability modifier, equipment and skill bonuses, percentage modifiers and
// the target's resistances, vulnerabilities and immunities.
package damage

import (
	"context"
	"fmt"
	"strings"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/dice"
	"github.com/cory-johannsen/battlekeep/internal/game/rules"
	"github.com/cory-johannsen/battlekeep/internal/game/trigger"
)

// Delivery says what produced the damage. Only weapon attacks add the
// attacker's ability modifier, equipment bonuses and passive skills.
type Delivery string

const (
	DeliveryWeapon  Delivery = "weapon"
	DeliverySpell   Delivery = "spell"
	DeliveryAbility Delivery = "ability"
)

// Request describes one hit to compose.
type Request struct {
	Attacker   combatant.Participant
	Target     combatant.Participant
	All        []combatant.Participant
	Round      int
	Delivery   Delivery
	SourceName string
	Dice       string
	DamageType string
	Element    string
	AttackType rules.AttackType
	// Rolls are the die results rolled at the table: Count values, or
	// 2*Count on a critical hit when the extra dice were rolled.
	Rolls    []int
	Critical bool
	// Halved applies after every other step, for spells the target saved against.
	Halved bool
}

// AppliedModifier is a target-side modifier that changed the running total.
type AppliedModifier struct {
	Source  string `json:"source"`
	Key     string `json:"key"`
	Percent int    `json:"percent"`
}

// Breakdown is the itemized result of Compose.
//
// Invariant: Total >= 0.
type Breakdown struct {
	Expression       string                 `json:"expression"`
	Rolls            []int                  `json:"rolls"`
	Critical         bool                   `json:"critical"`
	BaseDice         int                    `json:"baseDice"`
	DiceBonus        int                    `json:"diceBonus"`
	AbilityModifier  int                    `json:"abilityModifier"`
	Equipment        []combatant.NamedBonus `json:"equipmentBonuses,omitempty"`
	Skills           []combatant.NamedBonus `json:"skillBonuses,omitempty"`
	PercentModifiers []combatant.NamedBonus `json:"percentModifiers,omitempty"`
	Subtotal         int                    `json:"subtotal"`
	Resistances      []AppliedModifier      `json:"resistances,omitempty"`
	Immune           bool                   `json:"immune,omitempty"`
	Halved           bool                   `json:"halved,omitempty"`
	Total            int                    `json:"total"`
	Explanation      []string               `json:"explanation"`
}

// String joins the explanation lines.
func (b Breakdown) String() string { return strings.Join(b.Explanation, "\n") }

// Composer builds damage breakdowns, consulting triggers for passive skills.
type Composer struct {
	triggers *trigger.Evaluator
}

// NewComposer creates a Composer.
//
// Precondition: triggers must be non-nil.
func NewComposer(triggers *trigger.Evaluator) *Composer {
	return &Composer{triggers: triggers}
}

// Compose itemizes the damage of req. An unreadable req.Dice contributes 0
// and the supplied rolls are ignored; the remaining contributions still apply.
//
// Precondition: req.Rolls fit req.Dice when it parses.
// Postcondition: Returns a Breakdown with Total >= 0, or an error describing
// rolls that do not fit the dice.
func (c *Composer) Compose(ctx context.Context, req Request) (Breakdown, error) {
	name := req.SourceName
	if name == "" {
		name = string(req.Delivery)
	}
	b := Breakdown{Expression: req.Dice, Critical: req.Critical}

	expr, err := dice.Parse(req.Dice)
	if err != nil {
		b.line("%s: unreadable dice %q: 0", name, req.Dice)
	} else {
		roll, doubledDice, err := evaluateRolls(expr, req.Rolls, req.Critical)
		if err != nil {
			return Breakdown{}, err
		}
		b.Expression = expr.Raw
		b.Rolls = roll.Dice
		b.BaseDice = roll.DiceSum()
		b.DiceBonus = expr.Modifier
		b.line("%s %s: %v = %d", name, expr.Raw, roll.Dice, b.BaseDice)
		if req.Critical && !doubledDice {
			b.BaseDice *= 2
			b.line("Critical hit: dice doubled to %d", b.BaseDice)
		} else if req.Critical {
			b.line("Critical hit: extra dice rolled")
		}
		if b.DiceBonus != 0 {
			b.line("%+d dice bonus", b.DiceBonus)
		}
	}

	running := b.BaseDice + b.DiceBonus
	percent := 0
	if req.Delivery == DeliveryWeapon {
		b.AbilityModifier = rules.AttackDamageModifier(req.AttackType, req.Attacker.Scores.Strength, req.Attacker.Scores.Dexterity)
		if b.AbilityModifier != 0 {
			b.line("%+d %s modifier", b.AbilityModifier, abilityLabel(req.AttackType, req.Attacker))
		}
		running += b.AbilityModifier

		b.Equipment = req.Attacker.EquipmentBonuses(combatant.BonusDamage, req.DamageType)
		for _, e := range b.Equipment {
			b.line("%+d %s", e.Value, e.Source)
			running += e.Value
		}
		for _, e := range req.Attacker.EquipmentBonuses(combatant.BonusDamagePercent, req.DamageType) {
			b.PercentModifiers = append(b.PercentModifiers, e)
			percent += e.Value
		}

		tc := trigger.Context{
			Owner:         req.Attacker,
			Target:        &req.Target,
			All:           req.All,
			Round:         req.Round,
			IsOwnerAction: true,
			Phase:         combatant.PhaseBeforeOwnerAttack,
		}
		for _, a := range req.Attacker.Passives() {
			if a.DamageType != "" && a.DamageType != req.DamageType {
				continue
			}
			if a.Effect != combatant.EffectDamageBonus && a.Effect != combatant.EffectDamagePercent {
				continue
			}
			if !c.triggers.Evaluate(ctx, a.Trigger, tc) {
				continue
			}
			if a.Effect == combatant.EffectDamageBonus {
				b.Skills = append(b.Skills, combatant.NamedBonus{Source: a.Name, Value: a.Flat})
				b.line("%+d %s (skill)", a.Flat, a.Name)
				running += a.Flat
			} else {
				b.PercentModifiers = append(b.PercentModifiers, combatant.NamedBonus{Source: a.Name, Value: a.Percent})
				percent += a.Percent
			}
		}
	}

	b.Subtotal = running
	if percent != 0 {
		running = scale(running, percent)
		for _, p := range b.PercentModifiers {
			b.line("%+d%% %s", p.Value, p.Source)
		}
		b.line("After percentage modifiers: %d", running)
	}

	running = c.applyTarget(ctx, &b, req, running)

	if req.Halved {
		b.Halved = true
		running /= 2
		b.line("Target saved: halved to %d", max(0, running))
	}

	b.Total = max(0, running)
	b.line("Total: %d", b.Total)
	return b, nil
}

// applyTarget applies the target's modifiers in order: catalog modifiers
// keyed on the damage type or element, then the target's own passive
// damage_percent skills that trigger on being damaged.
func (c *Composer) applyTarget(ctx context.Context, b *Breakdown, req Request, running int) int {
	for _, m := range req.Target.ModifiersFor(req.DamageType, req.Element) {
		b.Resistances = append(b.Resistances, AppliedModifier{Source: string(m.Source), Key: m.Key, Percent: m.Percent})
		if m.IsImmunity() {
			b.Immune = true
			b.line("Immune to %s (%s)", m.Key, m.Source)
			return 0
		}
		running = max(0, scale(running, m.Percent))
		b.line("%+d%% %s %s (%s): %d", m.Percent, m.Key, modifierWord(m.Percent), m.Source, running)
	}

	tc := trigger.Context{
		Owner:  req.Target,
		Target: &req.Attacker,
		All:    req.All,
		Round:  req.Round,
		Damage: running,
		Phase:  combatant.PhaseOnOwnerDamaged,
	}
	for _, a := range req.Target.Passives() {
		if a.Effect != combatant.EffectDamagePercent || a.Percent >= 0 {
			continue
		}
		if a.DamageType != "" && a.DamageType != req.DamageType {
			continue
		}
		if !c.triggers.Evaluate(ctx, a.Trigger, tc) {
			continue
		}
		b.Resistances = append(b.Resistances, AppliedModifier{Source: "skill", Key: a.Name, Percent: a.Percent})
		running = max(0, scale(running, a.Percent))
		b.line("%+d%% %s (skill): %d", a.Percent, a.Name, running)
	}
	return running
}

// evaluateRolls totals the supplied rolls. It reports whether the rolls
// already include a critical hit's extra dice.
func evaluateRolls(expr dice.Expression, rolls []int, critical bool) (dice.RollResult, bool, error) {
	if critical && len(rolls) == 2*expr.Count {
		r, err := dice.Evaluate(expr, rolls, true)
		return r, true, err
	}
	r, err := dice.Evaluate(expr, rolls, false)
	return r, false, err
}

func scale(v, percent int) int {
	return v * (100 + percent) / 100
}

func modifierWord(percent int) string {
	if percent < 0 {
		return "resistance"
	}
	return "vulnerability"
}

func abilityLabel(t rules.AttackType, p combatant.Participant) string {
	switch t {
	case rules.AttackRanged:
		return "DEX"
	case rules.AttackFinesse:
		if rules.AbilityModifier(p.Scores.Dexterity) > rules.AbilityModifier(p.Scores.Strength) {
			return "DEX"
		}
		return "STR"
	default:
		return "STR"
	}
}

func (b *Breakdown) line(format string, args ...any) {
	b.Explanation = append(b.Explanation, fmt.Sprintf(format, args...))
}
