// Package combatant defines the battle participant model: one resolved,
// combat-ready instance of a roster character or unit.
//
// Participants are values. Every change goes through a With* method that
// returns a new Participant and leaves the receiver untouched, so an
// initiative order captured before an action stays valid after it.
package combatant

// Kind distinguishes player characters from DM-controlled units.
type Kind string

const (
	KindCharacter Kind = "character"
	KindUnit      Kind = "unit"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindCharacter || k == KindUnit }

// Side is the team a participant fights for.
type Side string

const (
	SideAlly  Side = "ally"
	SideEnemy Side = "enemy"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideAlly || s == SideEnemy }

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideAlly {
		return SideEnemy
	}
	return SideAlly
}

// Status is the participant's fitness to act.
type Status string

const (
	StatusActive      Status = "active"
	StatusUnconscious Status = "unconscious"
	StatusDead        Status = "dead"
)

// BasicInfo identifies a participant and where it came from.
type BasicInfo struct {
	// ID is unique within the battle; for expanded units it is "<SourceID>-<n>".
	ID            string `json:"id"`
	SourceID      string `json:"sourceId"`
	Kind          Kind   `json:"type"`
	Side          Side   `json:"side"`
	Name          string `json:"name"`
	Race          string `json:"race,omitempty"`
	Class         string `json:"class,omitempty"`
	UnitGroup     string `json:"unitGroup,omitempty"`
	Level         int    `json:"level"`
	OwnerUserID   string `json:"ownerUserId,omitempty"`
	InstanceIndex int    `json:"instanceIndex"`
}

// CombatStats are the numbers the turn engine reads and writes.
type CombatStats struct {
	HP            int  `json:"hp"`
	MaxHP         int  `json:"maxHp"`
	AC            int  `json:"ac"`
	Morale        int  `json:"morale"`
	IgnoresMorale bool `json:"ignoresMorale,omitempty"`
	Speed         int  `json:"speed"`
	AttackBonus   int  `json:"attackBonus"`
}

// AbilityScores are the six raw ability scores.
type AbilityScores struct {
	Strength     int `json:"str"`
	Dexterity    int `json:"dex"`
	Constitution int `json:"con"`
	Intelligence int `json:"int"`
	Wisdom       int `json:"wis"`
	Charisma     int `json:"cha"`
}

// Score returns the named score ("str", "dex", ...). Unknown names yield 10.
func (a AbilityScores) Score(name string) int {
	switch name {
	case "str", "strength":
		return a.Strength
	case "dex", "dexterity":
		return a.Dexterity
	case "con", "constitution":
		return a.Constitution
	case "int", "intelligence":
		return a.Intelligence
	case "wis", "wisdom":
		return a.Wisdom
	case "cha", "charisma":
		return a.Charisma
	default:
		return 10
	}
}

// ActionFlags record what the participant has spent this turn.
type ActionFlags struct {
	HasUsedAction      bool `json:"hasUsedAction"`
	HasUsedBonusAction bool `json:"hasUsedBonusAction"`
	HasCheckedMorale   bool `json:"hasCheckedMorale,omitempty"`
	ExtraTurnPending   bool `json:"extraTurnPending,omitempty"`
}

// Participant is one combat-ready entity in an initiative order.
type Participant struct {
	Info            BasicInfo        `json:"basicInfo"`
	Stats           CombatStats      `json:"combatStats"`
	Scores          AbilityScores    `json:"abilityScores"`
	Attacks         []Attack         `json:"attacks,omitempty"`
	Abilities       []Ability        `json:"abilities,omitempty"`
	Equipment       []Item           `json:"equipment,omitempty"`
	DamageModifiers []DamageModifier `json:"damageModifiers,omitempty"`
	Spellcasting    *Spellcasting    `json:"spellcasting,omitempty"`
	Flags           ActionFlags      `json:"actionFlags"`
	Status          Status           `json:"status"`
}

// ID is shorthand for p.Info.ID.
func (p Participant) ID() string { return p.Info.ID }

// IsActive reports whether the participant can act.
func (p Participant) IsActive() bool { return p.Status == StatusActive }

// IsDown reports whether the participant is unconscious or dead.
func (p Participant) IsDown() bool { return p.Status != StatusActive }

// downStatus is the status a participant takes on reaching 0 HP.
func (p Participant) downStatus() Status {
	if p.Info.Kind == KindCharacter {
		return StatusUnconscious
	}
	return StatusDead
}

// WithHP returns a copy with HP set to hp clamped into [0, MaxHP].
// Reaching 0 knocks a character unconscious and kills a unit. Raising an
// unconscious participant above 0 makes it active again; the dead stay dead.
//
// Postcondition: 0 <= result.Stats.HP <= result.Stats.MaxHP.
func (p Participant) WithHP(hp int) Participant {
	out := p.Clone()
	out.Stats.HP = max(0, min(hp, p.Stats.MaxHP))
	switch {
	case out.Stats.HP == 0 && p.Status != StatusDead:
		out.Status = p.downStatus()
	case out.Stats.HP > 0 && p.Status == StatusUnconscious:
		out.Status = StatusActive
	}
	return out
}

// WithDamage returns a copy with amount subtracted from HP.
// Negative amounts are treated as 0.
func (p Participant) WithDamage(amount int) Participant {
	return p.WithHP(p.Stats.HP - max(0, amount))
}

// WithHealing returns a copy with amount added to HP, capped at MaxHP.
// Healing has no effect on the dead.
func (p Participant) WithHealing(amount int) Participant {
	if p.Status == StatusDead {
		return p.Clone()
	}
	return p.WithHP(p.Stats.HP + max(0, amount))
}

// WithStatus returns a copy with status replaced.
func (p Participant) WithStatus(s Status) Participant {
	out := p.Clone()
	out.Status = s
	return out
}

// WithFlags returns a copy with the action flags replaced.
func (p Participant) WithFlags(f ActionFlags) Participant {
	out := p.Clone()
	out.Flags = f
	return out
}

// WithTurnReset returns a copy whose per-turn action flags are cleared.
// ExtraTurnPending survives since it is consumed by the turn order, not a turn.
func (p Participant) WithTurnReset() Participant {
	return p.WithFlags(ActionFlags{ExtraTurnPending: p.Flags.ExtraTurnPending})
}

// Restored returns a copy healed to MaxHP and set active. Used to stand
// unconscious allies back up after a victory.
func (p Participant) Restored() Participant {
	out := p.Clone()
	out.Stats.HP = p.Stats.MaxHP
	out.Status = StatusActive
	return out
}

// Clone returns a deep copy that shares no slices or maps with p.
func (p Participant) Clone() Participant {
	out := p
	out.Attacks = cloneSlice(p.Attacks)
	out.Abilities = make([]Ability, len(p.Abilities))
	for i, a := range p.Abilities {
		out.Abilities[i] = a.clone()
	}
	if p.Abilities == nil {
		out.Abilities = nil
	}
	out.Equipment = make([]Item, len(p.Equipment))
	for i, it := range p.Equipment {
		out.Equipment[i] = it.clone()
	}
	if p.Equipment == nil {
		out.Equipment = nil
	}
	out.DamageModifiers = cloneSlice(p.DamageModifiers)
	if p.Spellcasting != nil {
		sc := p.Spellcasting.clone()
		out.Spellcasting = &sc
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
