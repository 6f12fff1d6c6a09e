package combatant

// AbilityKind separates abilities a participant activates from those that
// fire on their own.
type AbilityKind string

const (
	AbilityActive  AbilityKind = "active"
	AbilityPassive AbilityKind = "passive"
)

// EffectKind is the closed set of ability and spell effects.
type EffectKind string

const (
	EffectDamage        EffectKind = "damage"
	EffectHeal          EffectKind = "heal"
	EffectDamageBonus   EffectKind = "damage_bonus"
	EffectDamagePercent EffectKind = "damage_percent"
)

// Valid reports whether e is a known effect.
func (e EffectKind) Valid() bool {
	switch e {
	case EffectDamage, EffectHeal, EffectDamageBonus, EffectDamagePercent:
		return true
	}
	return false
}

// TriggerKind is the closed set of trigger encodings.
type TriggerKind string

const (
	TriggerSimple    TriggerKind = "simple"
	TriggerCondition TriggerKind = "condition"
	TriggerScript    TriggerKind = "script"
)

// Phase tags the moment in a turn a simple trigger fires.
type Phase string

const (
	PhaseStartRound        Phase = "startRound"
	PhaseBeforeOwnerAttack Phase = "beforeOwnerAttack"
	PhaseAfterOwnerAttack  Phase = "afterOwnerAttack"
	PhaseOnOwnerDamaged    Phase = "onOwnerDamaged"
	PhaseAlways            Phase = "always"
)

// Trigger gates a passive ability. Exactly one of Phase, Condition or
// Script is meaningful, selected by Kind.
type Trigger struct {
	Kind      TriggerKind `json:"kind"`
	Phase     Phase       `json:"phase,omitempty"`
	Condition string      `json:"condition,omitempty"`
	Script    string      `json:"script,omitempty"`
}

// Ability is a skill or feature of a participant.
//
// Active abilities are used with an "ability" or "bonus_action" action.
// Damage abilities deal Dice; healing abilities restore Dice+Flat (or just
// Flat when Dice is empty). Passive abilities add Flat or Percent to the
// owner's weapon damage, or heal Flat at round start and after the owner's
// attacks, whenever Trigger holds. A nil Trigger always holds, except that a
// healing passive without a trigger fires at round start only.
type Ability struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Kind          AbilityKind       `json:"kind"`
	Effect        EffectKind        `json:"effect"`
	Dice          string            `json:"dice,omitempty"`
	Flat          int               `json:"flat,omitempty"`
	Percent       int               `json:"percent,omitempty"`
	DamageType    string            `json:"damageType,omitempty"`
	Element       string            `json:"element,omitempty"`
	BonusAction   bool              `json:"bonusAction,omitempty"`
	UsesPerBattle int               `json:"usesPerBattle,omitempty"`
	UsesRemaining int               `json:"usesRemaining,omitempty"`
	Trigger       *Trigger          `json:"trigger,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Limited reports whether the ability has a per-battle use budget.
func (a Ability) Limited() bool { return a.UsesPerBattle > 0 }

func (a Ability) clone() Ability {
	out := a
	if a.Trigger != nil {
		t := *a.Trigger
		out.Trigger = &t
	}
	out.Extra = cloneMap(a.Extra)
	return out
}

// FindAbility returns the ability with id.
func (p Participant) FindAbility(id string) (Ability, bool) {
	for _, a := range p.Abilities {
		if a.ID == id {
			return a, true
		}
	}
	return Ability{}, false
}

// Passives returns the participant's passive abilities in declaration order.
func (p Participant) Passives() []Ability {
	var out []Ability
	for _, a := range p.Abilities {
		if a.Kind == AbilityPassive {
			out = append(out, a)
		}
	}
	return out
}

// WithAbilityUsed returns a copy with one use of ability id spent.
// Unlimited and unknown abilities are left as they are.
func (p Participant) WithAbilityUsed(id string) Participant {
	out := p.Clone()
	for i, a := range out.Abilities {
		if a.ID == id && a.Limited() && a.UsesRemaining > 0 {
			out.Abilities[i].UsesRemaining--
		}
	}
	return out
}
