package roster

import (
	"fmt"

	"github.com/cory-johannsen/battlekeep/internal/game/catalog"
	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/rules"
)

// Expand materializes every instance a selection contributes. A selection
// with quantity 1 keeps the record's ID and name; larger quantities produce
// "<id>-<n>" and "<name> #<n>" for n in 1..quantity. Units that appear on
// both sides are further prefixed by side so IDs stay unique.
//
// Precondition: sel passed ValidateSelections and rec.ID == sel.ID.
func Expand(rec Record, sel Selection, cat *catalog.Catalog, bothSides bool) []combatant.Participant {
	base := Materialize(rec, sel.Side, cat)
	out := make([]combatant.Participant, 0, sel.Quantity)
	for n := 1; n <= sel.Quantity; n++ {
		p := base.Clone()
		p.Info.InstanceIndex = n
		if bothSides {
			p.Info.ID = string(sel.Side) + "-" + p.Info.ID
		}
		if sel.Quantity > 1 {
			p.Info.ID = fmt.Sprintf("%s-%d", p.Info.ID, n)
			p.Info.Name = fmt.Sprintf("%s #%d", rec.Name, n)
		}
		out = append(out, p)
	}
	return out
}

// Materialize resolves a record into a single participant on side, applying
// race and unit-group rules from cat (which may be nil).
//
// Characters enter at their recorded HP; units enter at full health.
// Equipped AC and attack bonuses are folded into the combat stats, and
// per-battle ability uses are refilled.
//
// Postcondition: 0 <= HP <= MaxHP and Status reflects HP.
func Materialize(rec Record, side combatant.Side, cat *catalog.Catalog) combatant.Participant {
	s := rec.Sheet
	maxHP := max(1, s.MaxHP)
	hp := s.HP
	if rec.Kind == combatant.KindUnit || hp > maxHP {
		hp = maxHP
	}
	hp = max(0, hp)

	attackBonus := rules.ProficiencyBonus(max(1, s.Level)) + max(rules.AbilityModifier(s.Scores.Strength), rules.AbilityModifier(s.Scores.Dexterity))
	if s.AttackBonus != nil {
		attackBonus = *s.AttackBonus
	}

	p := combatant.Participant{
		Info: combatant.BasicInfo{
			ID:            rec.ID,
			SourceID:      rec.ID,
			Kind:          rec.Kind,
			Side:          side,
			Name:          rec.Name,
			Race:          s.Race,
			Class:         s.Class,
			UnitGroup:     s.UnitGroup,
			Level:         s.Level,
			OwnerUserID:   rec.OwnerUserID,
			InstanceIndex: 1,
		},
		Stats: combatant.CombatStats{
			HP:     hp,
			MaxHP:  maxHP,
			AC:     s.AC,
			Morale: s.Morale,
			Speed:  s.Speed,
		},
		Scores:       s.Scores,
		Attacks:      s.Attacks,
		Equipment:    s.Equipment,
		Spellcasting: s.Spellcasting,
		Status:       combatant.StatusActive,
	}
	p = p.Clone()
	p.Stats.AC += p.EquipmentTotal(combatant.BonusAC, "")
	p.Stats.AttackBonus = attackBonus + p.EquipmentTotal(combatant.BonusAttack, "")

	for _, a := range s.Abilities {
		a.UsesRemaining = a.UsesPerBattle
		p.Abilities = append(p.Abilities, a)
	}
	p = p.Clone()

	if cat != nil {
		if race, ok := cat.Race(s.Race); ok {
			p.Stats.IgnoresMorale = race.IgnoresMorale
			if race.FixedMorale != nil {
				p.Stats.Morale = *race.FixedMorale
			}
			p.DamageModifiers = append(p.DamageModifiers, catalog.Modifiers(combatant.SourceRace, race.DamageModifiers)...)
		}
	}
	for _, m := range s.DamageModifiers {
		if m.Source == "" {
			m.Source = combatant.SourceUnit
		}
		p.DamageModifiers = append(p.DamageModifiers, m)
	}
	if cat != nil {
		if group, ok := cat.UnitGroup(s.UnitGroup); ok {
			p.DamageModifiers = append(p.DamageModifiers, catalog.Modifiers(combatant.SourceGroup, group.DamageModifiers)...)
		}
	}

	if hp == 0 {
		return p.WithHP(0)
	}
	return p
}

// DefaultInitiative is the initiative used when a selection supplies none.
func DefaultInitiative(p combatant.Participant) int {
	return rules.AbilityModifier(p.Scores.Dexterity)
}
