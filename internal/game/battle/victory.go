package battle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
)

// EvaluateVictory decides whether the fight is over. Defeat is checked
// first: if every ally is down the battle is lost even when the enemies fell
// in the same action.
//
// Postcondition: Returns ResultDefeat when at least one ally exists and all
// are down, ResultVictory when at least one enemy exists and all are down,
// and ResultNone otherwise.
func EvaluateVictory(order []combatant.Participant) Result {
	switch {
	case allDown(order, combatant.SideAlly):
		return ResultDefeat
	case allDown(order, combatant.SideEnemy):
		return ResultVictory
	default:
		return ResultNone
	}
}

func allDown(order []combatant.Participant, side combatant.Side) bool {
	n := 0
	for _, p := range order {
		if p.Info.Side != side {
			continue
		}
		n++
		if !p.IsDown() {
			return false
		}
	}
	return n > 0
}

// settle completes scene when EvaluateVictory reports an outcome. After a
// victory every unconscious ally is restored to full health, recorded as a
// system action carrying its own snapshot so a rollback can undo it.
func (e *Engine) settle(ctx context.Context, scene Scene) (Scene, error) {
	result := EvaluateVictory(scene.InitiativeOrder)
	if result == ResultNone {
		return scene, nil
	}
	status, err := transition(ctx, scene.Status, eventFinish)
	if err != nil {
		return scene, err
	}

	if result == ResultVictory {
		before := snapshot(scene)
		scene.InitiativeOrder = append([]combatant.Participant(nil), scene.InitiativeOrder...)
		var changes []HPChange
		for i, p := range scene.InitiativeOrder {
			if p.Info.Side != combatant.SideAlly || p.Status != combatant.StatusUnconscious {
				continue
			}
			restored := p.Restored()
			changes = append(changes, hpChange(p, restored))
			scene.InitiativeOrder[i] = restored
		}
		if len(changes) > 0 {
			e.appendAction(&scene, Action{
				Type:        ActionSystem,
				Details:     ActionDetails{Outcome: "victory_restore"},
				HPChanges:   changes,
				ResultText:  fmt.Sprintf("Victory! %s", describeHealing(changes)),
				StateBefore: before,
			})
		}
	}

	scene.Status = status
	scene.Result = result
	completed := e.now()
	scene.CompletedAt = &completed
	e.logger.Info("battle completed", zap.String("battle", scene.ID), zap.String("result", string(result)))
	return scene, nil
}
