package combatant

import "github.com/cory-johannsen/battlekeep/internal/game/rules"

// Attack is a weapon or natural attack a participant can make.
type Attack struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Dice       string           `json:"dice"`
	DamageType string           `json:"damageType,omitempty"`
	Element    string           `json:"element,omitempty"`
	Type       rules.AttackType `json:"attackType"`
	// Bonus is added to the attack roll on top of the participant's AttackBonus.
	Bonus int `json:"bonus,omitempty"`
}

// Unarmed is the attack used by a participant with no attacks of its own.
var Unarmed = Attack{ID: "unarmed", Name: "Unarmed strike", Dice: "1d2", DamageType: "bludgeoning", Type: rules.AttackMelee}

// FindAttack returns the attack with id. An empty id selects the first
// attack, or Unarmed when the participant has none.
func (p Participant) FindAttack(id string) (Attack, bool) {
	if id == "" {
		if len(p.Attacks) == 0 {
			return Unarmed, true
		}
		return p.Attacks[0], true
	}
	for _, a := range p.Attacks {
		if a.ID == id {
			return a, true
		}
	}
	if id == Unarmed.ID {
		return Unarmed, true
	}
	return Attack{}, false
}

// BonusKind is the closed set of effects an item may grant.
type BonusKind string

const (
	BonusAttack        BonusKind = "attack"
	BonusDamage        BonusKind = "damage"
	BonusDamagePercent BonusKind = "damage_percent"
	BonusAC            BonusKind = "ac"
)

// Valid reports whether k is a known bonus kind.
func (k BonusKind) Valid() bool {
	switch k {
	case BonusAttack, BonusDamage, BonusDamagePercent, BonusAC:
		return true
	}
	return false
}

// ItemBonus is one bonus granted by an equipped item. A non-empty DamageType
// limits damage bonuses to attacks of that type.
type ItemBonus struct {
	Kind       BonusKind `json:"kind"`
	Value      int       `json:"value"`
	DamageType string    `json:"damageType,omitempty"`
}

func (b ItemBonus) appliesTo(damageType string) bool {
	return b.DamageType == "" || b.DamageType == damageType
}

// Item is a piece of equipment. Extra carries cosmetic fields that the
// engine never interprets.
type Item struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Equipped bool              `json:"equipped"`
	Bonuses  []ItemBonus       `json:"bonuses,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

func (it Item) clone() Item {
	out := it
	out.Bonuses = cloneSlice(it.Bonuses)
	out.Extra = cloneMap(it.Extra)
	return out
}

// NamedBonus is a bonus value attributed to the item that granted it.
type NamedBonus struct {
	Source string `json:"source"`
	Value  int    `json:"value"`
}

// EquipmentBonuses returns every equipped bonus of kind applicable to
// damageType, in equipment order.
func (p Participant) EquipmentBonuses(kind BonusKind, damageType string) []NamedBonus {
	var out []NamedBonus
	for _, it := range p.Equipment {
		if !it.Equipped {
			continue
		}
		for _, b := range it.Bonuses {
			if b.Kind == kind && b.appliesTo(damageType) {
				out = append(out, NamedBonus{Source: it.Name, Value: b.Value})
			}
		}
	}
	return out
}

// EquipmentTotal sums EquipmentBonuses.
func (p Participant) EquipmentTotal(kind BonusKind, damageType string) int {
	total := 0
	for _, b := range p.EquipmentBonuses(kind, damageType) {
		total += b.Value
	}
	return total
}

// ModifierSource records which layer of the roster a damage modifier came from.
type ModifierSource string

const (
	SourceRace  ModifierSource = "race"
	SourceUnit  ModifierSource = "unit"
	SourceGroup ModifierSource = "group"
	SourceItem  ModifierSource = "item"
)

// ModifierTarget selects whether a modifier keys on damage type or element.
type ModifierTarget string

const (
	TargetDamageType ModifierTarget = "damage_type"
	TargetElement    ModifierTarget = "element"
)

// ImmunityPercent is the modifier percent that cancels damage entirely.
const ImmunityPercent = -100

// DamageModifier scales incoming damage of one type or element by Percent.
// Negative values are resistances, positive values vulnerabilities and
// ImmunityPercent (or lower) is immunity.
type DamageModifier struct {
	Source  ModifierSource `json:"source"`
	Target  ModifierTarget `json:"target"`
	Key     string         `json:"key"`
	Percent int            `json:"percent"`
}

// IsImmunity reports whether the modifier cancels damage.
func (m DamageModifier) IsImmunity() bool { return m.Percent <= ImmunityPercent }

// ModifiersFor returns the modifiers that apply to an incoming hit of
// damageType and element. Empty keys never match.
func (p Participant) ModifiersFor(damageType, element string) []DamageModifier {
	var out []DamageModifier
	for _, m := range p.DamageModifiers {
		switch {
		case m.Target == TargetDamageType && damageType != "" && m.Key == damageType:
			out = append(out, m)
		case m.Target == TargetElement && element != "" && m.Key == element:
			out = append(out, m)
		}
	}
	return out
}
