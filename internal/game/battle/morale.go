package battle

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/morale"
)

// MoraleCheck resolves the current participant's d10 morale check. A failed
// check logs a morale_skip action and passes the turn; a triggered extra turn
// marks the participant to go again when its turn ends; otherwise the check
// is logged with no effect. Each turn allows one check.
//
// Precondition: scene is active.
// Postcondition: Returns Validation for a roll outside 1..10 or a second
// check in the same turn.
func (e *Engine) MoraleCheck(ctx context.Context, scene Scene, roll int) (Scene, error) {
	if scene.Status != StatusActive || len(scene.InitiativeOrder) == 0 {
		return scene, NewError(KindInvalidState, fmt.Sprintf("cannot check morale in a %s battle", scene.Status))
	}
	cur, _ := scene.Current()
	if cur.IsDown() {
		return scene, NewError(KindValidation, fmt.Sprintf("%s is %s and cannot check morale", cur.Info.Name, cur.Status))
	}
	if cur.Flags.HasCheckedMorale {
		return scene, NewError(KindValidation, fmt.Sprintf("%s has already checked morale this turn", cur.Info.Name))
	}
	res, err := morale.EvaluateFor(cur.Stats.Morale, roll, cur.Stats.IgnoresMorale)
	if err != nil {
		if errors.Is(err, morale.ErrRollOutOfRange) {
			return scene, Wrap(KindValidation, "invalid morale roll", err)
		}
		return scene, err
	}

	before := snapshot(scene)
	out := scene.Clone()
	act := Action{
		ActorID:     cur.Info.ID,
		ActorName:   cur.Info.Name,
		ActorSide:   cur.Info.Side,
		Type:        ActionMoraleCheck,
		Details:     ActionDetails{Morale: &res, Outcome: string(res.Effect)},
		StateBefore: before,
	}

	e.logger.Debug("morale check",
		zap.String("battle", scene.ID),
		zap.String("participant", cur.Info.ID),
		zap.Int("roll", roll),
		zap.String("effect", string(res.Effect)),
	)

	f := cur.Flags
	f.HasCheckedMorale = true
	out.InitiativeOrder[out.CurrentTurnIndex] = cur.WithFlags(f)

	switch res.Effect {
	case morale.EffectSkipTurn:
		act.Type = ActionMoraleSkip
		act.ResultText = fmt.Sprintf("%s loses their nerve (rolled %d, %d%% chance) and skips their turn.", cur.Info.Name, roll, res.Chance)
		e.appendAction(&out, act)
		return e.advance(ctx, out), nil
	case morale.EffectExtraTurn:
		f.ExtraTurnPending = true
		out.InitiativeOrder[out.CurrentTurnIndex] = cur.WithFlags(f)
		act.ResultText = fmt.Sprintf("%s is emboldened (rolled %d, %d%% chance) and will take an extra turn.", cur.Info.Name, roll, res.Chance)
	default:
		act.ResultText = fmt.Sprintf("%s holds steady (rolled %d, %d%% chance).", cur.Info.Name, roll, res.Chance)
	}
	e.appendAction(&out, act)
	return out, nil
}
