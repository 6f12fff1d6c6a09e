package battle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
)

// snapshot captures the turn state of scene. The order is deep-copied so
// later changes to scene cannot reach it.
func snapshot(scene Scene) *Snapshot {
	return &Snapshot{
		InitiativeOrder:  combatant.CloneOrder(scene.InitiativeOrder),
		CurrentTurnIndex: scene.CurrentTurnIndex,
		CurrentRound:     scene.CurrentRound,
	}
}

// appendAction stamps a and appends it to scene's log.
//
// Postcondition: scene.BattleLog[len-1].ActionIndex == len-1.
func (e *Engine) appendAction(scene *Scene, a Action) {
	a.ID = e.newID()
	a.BattleID = scene.ID
	a.ActionIndex = len(scene.BattleLog)
	if a.Round == 0 {
		a.Round = scene.CurrentRound
	}
	a.CreatedAt = e.now()
	scene.BattleLog = append(scene.BattleLog, a)
}

// Rollback rewinds scene to the moment before the action at index: the
// initiative order, turn and round are restored from that action's
// snapshot, the action and everything after it are removed from the log,
// and a completed battle is reopened.
//
// Postcondition: Errors are NotFound for an index outside the log,
// NoSnapshot for an action without a snapshot and InvalidState for a
// prepared scene. On success BattleLog[i].ActionIndex == i for every i.
func (e *Engine) Rollback(ctx context.Context, scene Scene, index int) (Scene, error) {
	status, err := transition(ctx, scene.Status, eventRollback)
	if err != nil {
		return scene, err
	}
	if index < 0 || index >= len(scene.BattleLog) {
		return scene, NewError(KindNotFound, fmt.Sprintf("no action at index %d (log has %d)", index, len(scene.BattleLog)))
	}
	entry := scene.BattleLog[index]
	if entry.StateBefore == nil {
		return scene, NewError(KindNoSnapshot, fmt.Sprintf("action %d has no saved state to restore", index))
	}

	out := scene.Clone()
	out.InitiativeOrder = combatant.CloneOrder(entry.StateBefore.InitiativeOrder)
	out.CurrentTurnIndex = entry.StateBefore.CurrentTurnIndex
	out.CurrentRound = entry.StateBefore.CurrentRound
	out.BattleLog = renumber(out.BattleLog[:index])
	out.Status = status
	out.CompletedAt = nil
	out.Result = ResultNone

	e.logger.Info("battle rolled back",
		zap.String("battle", scene.ID),
		zap.Int("index", index),
		zap.Int("removed", len(scene.BattleLog)-index),
	)
	return out, nil
}

// renumber rewrites ActionIndex to match log positions.
func renumber(log []Action) []Action {
	if len(log) == 0 {
		return nil
	}
	out := make([]Action, len(log))
	copy(out, log)
	for i := range out {
		out[i].ActionIndex = i
	}
	return out
}

func hpChange(before, after combatant.Participant) HPChange {
	return HPChange{
		ParticipantID: before.Info.ID,
		Name:          before.Info.Name,
		Before:        before.Stats.HP,
		After:         after.Stats.HP,
		Delta:         after.Stats.HP - before.Stats.HP,
		StatusBefore:  before.Status,
		StatusAfter:   after.Status,
	}
}

func describeHealing(changes []HPChange) string {
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = fmt.Sprintf("%s recovers %d HP", c.Name, c.Delta)
	}
	return strings.Join(parts, ", ")
}

// describeFall returns " X falls unconscious." style suffixes for changes
// that knocked a participant down.
func describeFall(changes []HPChange) string {
	var b strings.Builder
	for _, c := range changes {
		if c.StatusBefore == c.StatusAfter {
			continue
		}
		switch c.StatusAfter {
		case combatant.StatusUnconscious:
			fmt.Fprintf(&b, " %s falls unconscious.", c.Name)
		case combatant.StatusDead:
			fmt.Fprintf(&b, " %s is slain.", c.Name)
		case combatant.StatusActive:
			fmt.Fprintf(&b, " %s is back on their feet.", c.Name)
		}
	}
	return b.String()
}
