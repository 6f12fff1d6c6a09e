package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
)

// Selector picks which participants a condition inspects.
type Selector string

const (
	SelectSelf       Selector = "self"
	SelectTarget     Selector = "target"
	SelectAlly       Selector = "ally"
	SelectEnemy      Selector = "enemy"
	SelectAnyAlly    Selector = "any_ally"
	SelectAnyEnemy   Selector = "any_enemy"
	SelectAllAllies  Selector = "all_allies"
	SelectAllEnemies Selector = "all_enemies"
)

// Comparator is a numeric comparison.
type Comparator string

const (
	CmpGreater      Comparator = ">"
	CmpLess         Comparator = "<"
	CmpEqual        Comparator = "="
	CmpLessEqual    Comparator = "<="
	CmpGreaterEqual Comparator = ">="
)

// Stat is the participant number a condition reads.
type Stat string

const (
	StatHP     Stat = "hp"
	StatAttack Stat = "attack"
	StatAC     Stat = "ac"
	StatSpeed  Stat = "speed"
	StatMorale Stat = "morale"
	StatLevel  Stat = "level"
)

// Condition is a parsed "{selector} {cmp} {threshold}{%} {stat}" trigger,
// for example "self < 50% hp" or "any_enemy <= 3 hp".
type Condition struct {
	Selector   Selector
	Comparator Comparator
	Threshold  int
	Percent    bool
	Stat       Stat
}

var conditionRE = regexp.MustCompile(`^\s*([a-z_]+)\s*(<=|>=|<|>|=)\s*(-?\d+)\s*(%?)\s*([a-z_]+)\s*$`)

// ParseCondition parses the textual condition form.
//
// Postcondition: Returns a Condition whose fields are all known values, or an error.
func ParseCondition(text string) (Condition, error) {
	m := conditionRE.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return Condition{}, fmt.Errorf("trigger: malformed condition %q", text)
	}
	c := Condition{
		Selector:   Selector(m[1]),
		Comparator: Comparator(m[2]),
		Percent:    m[4] == "%",
		Stat:       Stat(m[5]),
	}
	switch c.Selector {
	case SelectSelf, SelectTarget, SelectAlly, SelectEnemy, SelectAnyAlly, SelectAnyEnemy, SelectAllAllies, SelectAllEnemies:
	default:
		return Condition{}, fmt.Errorf("trigger: unknown selector %q in %q", m[1], text)
	}
	switch c.Stat {
	case StatHP, StatAttack, StatAC, StatSpeed, StatMorale, StatLevel:
	default:
		return Condition{}, fmt.Errorf("trigger: unknown stat %q in %q", m[5], text)
	}
	if c.Percent && c.Stat != StatHP {
		return Condition{}, fmt.Errorf("trigger: %q has no maximum to take a percentage of", m[5])
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return Condition{}, fmt.Errorf("trigger: threshold in %q: %w", text, err)
	}
	c.Threshold = n
	return c, nil
}

// String renders the condition in its canonical textual form.
func (c Condition) String() string {
	pct := ""
	if c.Percent {
		pct = "%"
	}
	return fmt.Sprintf("%s %s %d%s %s", c.Selector, c.Comparator, c.Threshold, pct, c.Stat)
}

// Holds evaluates the condition. Group selectors only consider participants
// that are not dead, and all_* selectors are false over an empty group.
func (c Condition) Holds(tc Context) bool {
	switch c.Selector {
	case SelectSelf:
		return c.matches(tc.Owner)
	case SelectTarget:
		return tc.Target != nil && c.matches(*tc.Target)
	}

	var group []combatant.Participant
	for _, p := range tc.All {
		if p.Status == combatant.StatusDead {
			continue
		}
		sameSide := p.Info.Side == tc.Owner.Info.Side
		switch c.Selector {
		case SelectAlly:
			if sameSide && p.Info.ID != tc.Owner.Info.ID {
				group = append(group, p)
			}
		case SelectAnyAlly, SelectAllAllies:
			if sameSide {
				group = append(group, p)
			}
		case SelectEnemy, SelectAnyEnemy, SelectAllEnemies:
			if !sameSide {
				group = append(group, p)
			}
		}
	}

	if c.Selector == SelectAllAllies || c.Selector == SelectAllEnemies {
		if len(group) == 0 {
			return false
		}
		for _, p := range group {
			if !c.matches(p) {
				return false
			}
		}
		return true
	}
	for _, p := range group {
		if c.matches(p) {
			return true
		}
	}
	return false
}

func (c Condition) matches(p combatant.Participant) bool {
	v, threshold := c.value(p), c.Threshold
	if c.Percent && p.Stats.MaxHP > 0 {
		// Cross-multiplied so fractional percentages compare exactly.
		v, threshold = p.Stats.HP*100, c.Threshold*p.Stats.MaxHP
	}
	switch c.Comparator {
	case CmpGreater:
		return v > threshold
	case CmpLess:
		return v < threshold
	case CmpEqual:
		return v == threshold
	case CmpLessEqual:
		return v <= threshold
	case CmpGreaterEqual:
		return v >= threshold
	}
	return false
}

func (c Condition) value(p combatant.Participant) int {
	switch c.Stat {
	case StatHP:
		if c.Percent && p.Stats.MaxHP <= 0 {
			return 0
		}
		return p.Stats.HP
	case StatAttack:
		return p.Stats.AttackBonus
	case StatAC:
		return p.Stats.AC
	case StatSpeed:
		return p.Stats.Speed
	case StatMorale:
		return p.Stats.Morale
	case StatLevel:
		return p.Info.Level
	}
	return 0
}
