// Package trigger decides whether a passive ability's trigger holds at a
// given moment of a battle.
package trigger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/scripting"
)

// Context is the battle state a trigger is evaluated against.
type Context struct {
	Owner         combatant.Participant
	Target        *combatant.Participant
	All           []combatant.Participant
	Round         int
	Damage        int
	IsOwnerAction bool
	Phase         combatant.Phase
}

// ScriptRunner evaluates Lua predicates. *scripting.Manager satisfies it.
type ScriptRunner interface {
	EvalPredicate(ctx context.Context, src string, env scripting.PredicateEnv) (bool, error)
	Compile(src string) error
}

// Evaluator evaluates triggers of every kind. Failures never propagate: a
// malformed condition or failing script evaluates to false and is logged.
type Evaluator struct {
	scripts ScriptRunner
	logger  *zap.Logger
}

// NewEvaluator creates an Evaluator. scripts may be nil, in which case
// script triggers always evaluate to false.
//
// Precondition: logger must be non-nil.
func NewEvaluator(scripts ScriptRunner, logger *zap.Logger) *Evaluator {
	return &Evaluator{scripts: scripts, logger: logger}
}

// Evaluate reports whether t holds in tc. A nil trigger always holds.
func (e *Evaluator) Evaluate(ctx context.Context, t *combatant.Trigger, tc Context) bool {
	if t == nil {
		return true
	}
	switch t.Kind {
	case combatant.TriggerSimple:
		return t.Phase == combatant.PhaseAlways || t.Phase == tc.Phase
	case combatant.TriggerCondition:
		c, err := ParseCondition(t.Condition)
		if err != nil {
			e.logger.Warn("trigger: bad condition", zap.String("owner", tc.Owner.Info.ID), zap.Error(err))
			return false
		}
		return c.Holds(tc)
	case combatant.TriggerScript:
		if e.scripts == nil {
			e.logger.Debug("trigger: no script runner configured", zap.String("owner", tc.Owner.Info.ID))
			return false
		}
		ok, err := e.scripts.EvalPredicate(ctx, t.Script, env(tc))
		if err != nil {
			e.logger.Warn("trigger: script failed", zap.String("owner", tc.Owner.Info.ID), zap.Error(err))
			return false
		}
		return ok
	default:
		e.logger.Warn("trigger: unknown kind", zap.String("kind", string(t.Kind)))
		return false
	}
}

// Validate checks that t is well formed without evaluating it.
func (e *Evaluator) Validate(t combatant.Trigger) error {
	switch t.Kind {
	case combatant.TriggerSimple:
		switch t.Phase {
		case combatant.PhaseStartRound, combatant.PhaseBeforeOwnerAttack, combatant.PhaseAfterOwnerAttack,
			combatant.PhaseOnOwnerDamaged, combatant.PhaseAlways:
			return nil
		}
		return fmt.Errorf("trigger: unknown phase %q", t.Phase)
	case combatant.TriggerCondition:
		_, err := ParseCondition(t.Condition)
		return err
	case combatant.TriggerScript:
		if e.scripts == nil {
			return nil
		}
		return e.scripts.Compile(t.Script)
	}
	return fmt.Errorf("trigger: unknown kind %q", t.Kind)
}

func env(tc Context) scripting.PredicateEnv {
	out := scripting.PredicateEnv{
		Owner:         info(tc.Owner),
		Round:         tc.Round,
		Damage:        tc.Damage,
		IsOwnerAction: tc.IsOwnerAction,
		Phase:         string(tc.Phase),
	}
	if tc.Target != nil {
		out.Target = info(*tc.Target)
	}
	out.Participants = make([]*scripting.CombatantInfo, len(tc.All))
	for i, p := range tc.All {
		out.Participants[i] = info(p)
	}
	return out
}

func info(p combatant.Participant) *scripting.CombatantInfo {
	return &scripting.CombatantInfo{
		UID:    p.Info.ID,
		Name:   p.Info.Name,
		Side:   string(p.Info.Side),
		Status: string(p.Status),
		HP:     p.Stats.HP,
		MaxHP:  p.Stats.MaxHP,
		AC:     p.Stats.AC,
		Morale: p.Stats.Morale,
		Level:  p.Info.Level,
		Speed:  p.Stats.Speed,
		Attack: p.Stats.AttackBonus,
	}
}
