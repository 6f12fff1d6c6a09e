package combatant

// Spell is a known spell. Level 0 is a cantrip and costs no slot.
type Spell struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Level      int        `json:"level"`
	Effect     EffectKind `json:"effect"`
	Dice       string     `json:"dice"`
	DamageType string     `json:"damageType,omitempty"`
	Element    string     `json:"element,omitempty"`
	// AttackRoll spells must beat the target's AC; the rest hit automatically.
	AttackRoll  bool              `json:"attackRoll,omitempty"`
	BonusAction bool              `json:"bonusAction,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// IsCantrip reports whether the spell is free to cast.
func (s Spell) IsCantrip() bool { return s.Level == 0 }

// SpellSlots tracks the slot budget for one spell level.
type SpellSlots struct {
	Level int `json:"level"`
	Max   int `json:"max"`
	Used  int `json:"used"`
}

// Remaining returns the unspent slots.
func (s SpellSlots) Remaining() int { return max(0, s.Max-s.Used) }

// Spellcasting is the casting state of a participant.
type Spellcasting struct {
	// Ability names the casting score ("int", "wis" or "cha").
	Ability string       `json:"ability"`
	Known   []Spell      `json:"known"`
	Slots   []SpellSlots `json:"slots"`
}

func (s Spellcasting) clone() Spellcasting {
	out := s
	out.Known = make([]Spell, len(s.Known))
	for i, sp := range s.Known {
		sp.Extra = cloneMap(sp.Extra)
		out.Known[i] = sp
	}
	if s.Known == nil {
		out.Known = nil
	}
	out.Slots = cloneSlice(s.Slots)
	return out
}

// FindSpell returns the known spell with id.
func (p Participant) FindSpell(id string) (Spell, bool) {
	if p.Spellcasting == nil {
		return Spell{}, false
	}
	for _, s := range p.Spellcasting.Known {
		if s.ID == id {
			return s, true
		}
	}
	return Spell{}, false
}

// SlotsRemaining returns the unspent slots at level. Cantrips report 1 so
// callers can treat "remaining > 0" as castable.
func (p Participant) SlotsRemaining(level int) int {
	if level == 0 {
		return 1
	}
	if p.Spellcasting == nil {
		return 0
	}
	for _, s := range p.Spellcasting.Slots {
		if s.Level == level {
			return s.Remaining()
		}
	}
	return 0
}

// WithSlotUsed returns a copy with one slot at level spent. Cantrips and
// exhausted levels are left untouched.
func (p Participant) WithSlotUsed(level int) Participant {
	out := p.Clone()
	if level == 0 || out.Spellcasting == nil {
		return out
	}
	for i, s := range out.Spellcasting.Slots {
		if s.Level == level && s.Remaining() > 0 {
			out.Spellcasting.Slots[i].Used++
		}
	}
	return out
}
