package battle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/catalog"
	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/damage"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
	"github.com/cory-johannsen/battlekeep/internal/game/trigger"
)

// Role is a caller's standing in the scene's campaign.
type Role string

const (
	RoleNone   Role = ""
	RolePlayer Role = "player"
	RoleDM     Role = "dm"
)

// Caller is an already-authenticated user acting on a scene.
type Caller struct {
	UserID string
	Role   Role
}

// IsDM reports whether the caller runs the campaign.
func (c Caller) IsDM() bool { return c.Role == RoleDM }

// IsMember reports whether the caller belongs to the campaign at all.
func (c Caller) IsMember() bool { return c.Role == RoleDM || c.Role == RolePlayer }

// Engine runs battle operations. An Engine holds no scene state and is safe
// for concurrent use.
type Engine struct {
	catalog  *catalog.Catalog
	scripts  trigger.ScriptRunner
	triggers *trigger.Evaluator
	composer *damage.Composer
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog supplies race and unit-group rules used when participants are
// materialized at start.
func WithCatalog(c *catalog.Catalog) Option { return func(e *Engine) { e.catalog = c } }

// WithScripts enables Lua script triggers.
func WithScripts(r trigger.ScriptRunner) Option { return func(e *Engine) { e.scripts = r } }

// WithIDGenerator replaces the action ID generator (uuid.NewString by default).
func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// WithClock replaces the time source (time.Now by default).
func WithClock(fn func() time.Time) Option { return func(e *Engine) { e.now = fn } }

// NewEngine creates an Engine.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a ready Engine.
func NewEngine(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.triggers = trigger.NewEvaluator(e.scripts, logger)
	e.composer = damage.NewComposer(e.triggers)
	return e
}

// Triggers exposes the trigger evaluator so callers can validate roster
// triggers with the same script runner the engine uses.
func (e *Engine) Triggers() *trigger.Evaluator { return e.triggers }

type initiativeEntry struct {
	p          combatant.Participant
	initiative int
}

// Start moves a prepared scene into battle. Every selection is expanded by
// quantity into participants resolved from records, ordered by initiative
// (highest first, ties keep selection order). The round becomes 1, the first
// participant acts and the log starts empty.
//
// Postcondition: On error scene is returned unchanged. Errors are Validation
// for an empty or malformed participant list, NotFound for a selection with
// no record and InvalidState when scene is not prepared.
func (e *Engine) Start(ctx context.Context, scene Scene, records map[string]roster.Record) (Scene, error) {
	if len(scene.Participants) == 0 {
		return scene, NewError(KindValidation, "a battle needs at least one participant")
	}
	if err := roster.ValidateSelections(scene.Participants); err != nil {
		return scene, Wrap(KindValidation, "invalid participants", err)
	}
	status, err := transition(ctx, scene.Status, eventStart)
	if err != nil {
		return scene, err
	}

	sides := make(map[string]map[combatant.Side]bool)
	for _, sel := range scene.Participants {
		if sides[sel.ID] == nil {
			sides[sel.ID] = make(map[combatant.Side]bool)
		}
		sides[sel.ID][sel.Side] = true
	}

	var entries []initiativeEntry
	for _, sel := range scene.Participants {
		rec, ok := records[sel.ID]
		if !ok {
			return scene, NewError(KindNotFound, fmt.Sprintf("roster entry %q not found in campaign", sel.ID))
		}
		if rec.Kind != sel.Kind {
			return scene, NewError(KindValidation, fmt.Sprintf("roster entry %q is a %s, not a %s", sel.ID, rec.Kind, sel.Kind))
		}
		for _, p := range roster.Expand(rec, sel, e.catalog, len(sides[sel.ID]) > 1) {
			init := roster.DefaultInitiative(p)
			if sel.Initiative != nil {
				init = *sel.Initiative
			}
			entries = append(entries, initiativeEntry{p: p, initiative: init})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].initiative > entries[j].initiative })

	out := scene.Clone()
	out.Status = status
	out.InitiativeOrder = make([]combatant.Participant, len(entries))
	for i, en := range entries {
		out.InitiativeOrder[i] = en.p
	}
	out.CurrentRound = 1
	out.CurrentTurnIndex = 0
	out.BattleLog = nil
	out.Result = ResultNone
	started := e.now()
	out.StartedAt = &started
	out.CompletedAt = nil

	e.logger.Info("battle started",
		zap.String("battle", scene.ID),
		zap.Int("participants", len(out.InitiativeOrder)),
	)
	return out, nil
}

// NextTurn passes the turn to the next participant in initiative order,
// wrapping to the top and incrementing the round after the last. A
// participant with a pending extra turn goes again instead. The new current
// participant's action flags are cleared; a new round fires round-start
// passives.
//
// Postcondition: Returns InvalidState unless scene is active.
func (e *Engine) NextTurn(ctx context.Context, scene Scene) (Scene, error) {
	if scene.Status != StatusActive || len(scene.InitiativeOrder) == 0 {
		return scene, NewError(KindInvalidState, fmt.Sprintf("cannot advance the turn of a %s battle", scene.Status))
	}
	return e.advance(ctx, scene), nil
}

func (e *Engine) advance(ctx context.Context, scene Scene) Scene {
	before := snapshot(scene)
	out := scene.Clone()
	idx := out.CurrentTurnIndex

	if cur := out.InitiativeOrder[idx]; cur.Flags.ExtraTurnPending {
		out.InitiativeOrder[idx] = cur.WithFlags(combatant.ActionFlags{})
		e.logger.Debug("extra turn", zap.String("battle", scene.ID), zap.String("participant", cur.Info.ID))
		return out
	}

	idx++
	newRound := idx >= len(out.InitiativeOrder)
	if newRound {
		idx = 0
		out.CurrentRound++
	}
	out.CurrentTurnIndex = idx
	out.InitiativeOrder[idx] = out.InitiativeOrder[idx].WithTurnReset()
	if newRound {
		out = e.startRound(ctx, out, before)
	}
	return out
}

// startRound fires healing passives whose trigger holds at round start and
// logs them as one system action.
func (e *Engine) startRound(ctx context.Context, scene Scene, before *Snapshot) Scene {
	var changes []HPChange
	var fired []string
	for i, p := range scene.InitiativeOrder {
		if p.IsDown() {
			continue
		}
		for _, a := range p.Passives() {
			if a.Effect != combatant.EffectHeal || a.Flat <= 0 {
				continue
			}
			tc := trigger.Context{Owner: p, All: scene.InitiativeOrder, Round: scene.CurrentRound, Phase: combatant.PhaseStartRound}
			if !e.triggers.Evaluate(ctx, a.Trigger, tc) {
				continue
			}
			healed := p.WithHealing(a.Flat)
			if healed.Stats.HP == p.Stats.HP {
				continue
			}
			changes = append(changes, hpChange(p, healed))
			fired = append(fired, fmt.Sprintf("%s: %s", p.Info.Name, a.Name))
			p = healed
		}
		scene.InitiativeOrder[i] = p
	}
	if len(changes) == 0 {
		return scene
	}
	e.appendAction(&scene, Action{
		Type:        ActionSystem,
		Details:     ActionDetails{Passives: fired, Outcome: "round_start"},
		HPChanges:   changes,
		ResultText:  fmt.Sprintf("Round %d begins: %s", scene.CurrentRound, describeHealing(changes)),
		StateBefore: before,
	})
	return scene
}

// Reset returns a scene of any status to preparation: round 1, no
// initiative order, an empty log and no start, completion or result. The
// participant selection is kept.
func (e *Engine) Reset(ctx context.Context, scene Scene) (Scene, error) {
	status, err := transition(ctx, scene.Status, eventReset)
	if err != nil {
		return scene, err
	}
	out := scene.Clone()
	out.Status = status
	out.InitiativeOrder = nil
	out.CurrentRound = 1
	out.CurrentTurnIndex = 0
	out.BattleLog = nil
	out.StartedAt = nil
	out.CompletedAt = nil
	out.Result = ResultNone
	e.logger.Info("battle reset", zap.String("battle", scene.ID))
	return out, nil
}

// Prepare builds a new prepared scene for campaignID.
//
// Postcondition: Returns a Validation error if participants are malformed.
func (e *Engine) Prepare(campaignID, name string, participants []roster.Selection) (Scene, error) {
	if campaignID == "" {
		return Scene{}, NewError(KindValidation, "campaign id is required")
	}
	if err := roster.ValidateSelections(participants); err != nil {
		return Scene{}, Wrap(KindValidation, "invalid participants", err)
	}
	return Scene{
		ID:           e.newID(),
		CampaignID:   campaignID,
		Name:         name,
		Status:       StatusPrepared,
		Participants: append([]roster.Selection(nil), participants...),
		CurrentRound: 1,
		CreatedAt:    e.now(),
	}, nil
}
