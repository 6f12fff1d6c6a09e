package battle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/damage"
	"github.com/cory-johannsen/battlekeep/internal/game/dice"
	"github.com/cory-johannsen/battlekeep/internal/game/rules"
	"github.com/cory-johannsen/battlekeep/internal/game/trigger"
)

// ActionRequest is a player or DM action. Die results are rolled at the
// table and supplied here; the engine never rolls.
type ActionRequest struct {
	Type ActionType `json:"actionType"`
	// ActorID defaults to the participant whose turn it is.
	ActorID   string   `json:"actorId,omitempty"`
	TargetIDs []string `json:"targetIds,omitempty"`
	AttackID  string   `json:"attackId,omitempty"`
	SpellID   string   `json:"spellId,omitempty"`
	AbilityID string   `json:"abilityId,omitempty"`
	// AttackRoll is the natural d20 result; bonuses are added by the engine.
	AttackRoll int `json:"attackRoll,omitempty"`
	// DamageRolls are the individual die results of the damage or healing
	// dice, shared by every target of the action.
	DamageRolls    []int    `json:"damageRolls,omitempty"`
	SavedTargetIDs []string `json:"savedTargetIds,omitempty"`
}

// ApplyAction resolves req against the active scene and logs it with a
// snapshot of the turn state before it. Attacks, spells, abilities and bonus
// actions spend the actor's action economy; end_turn and skip_turn advance
// the turn. A resolved action that ends the fight completes the scene.
//
// A DM may act for any participant. A player may only act for a participant
// they own, on that participant's turn.
//
// Postcondition: On error scene is returned unchanged.
func (e *Engine) ApplyAction(ctx context.Context, scene Scene, caller Caller, req ActionRequest) (Scene, error) {
	if scene.Status != StatusActive {
		return scene, NewError(KindInvalidState, fmt.Sprintf("cannot act in a %s battle", scene.Status))
	}
	current, _ := scene.Current()
	actorID := req.ActorID
	if actorID == "" {
		actorID = current.Info.ID
	}
	actor, ok := combatant.Find(scene.InitiativeOrder, actorID)
	if !ok {
		return scene, NewError(KindNotFound, fmt.Sprintf("participant %q is not in this battle", actorID))
	}
	if err := authorize(caller, actor, current); err != nil {
		return scene, err
	}

	before := snapshot(scene)
	out := scene.Clone()

	if req.Type == ActionEndTurn || req.Type == ActionSkipTurn {
		if actor.Info.ID != current.Info.ID {
			return scene, NewError(KindValidation, fmt.Sprintf("it is not %s's turn", actor.Info.Name))
		}
		verb, outcome := "ends their turn", "ended"
		if req.Type == ActionSkipTurn {
			verb, outcome = "skips their turn", "skipped"
		}
		e.appendAction(&out, Action{
			ActorID:     actor.Info.ID,
			ActorName:   actor.Info.Name,
			ActorSide:   actor.Info.Side,
			Type:        req.Type,
			Details:     ActionDetails{Outcome: outcome},
			ResultText:  fmt.Sprintf("%s %s.", actor.Info.Name, verb),
			StateBefore: before,
		})
		return e.advance(ctx, out), nil
	}

	if actor.IsDown() {
		return scene, NewError(KindValidation, fmt.Sprintf("%s is %s and cannot act", actor.Info.Name, actor.Status))
	}

	var (
		res resolution
		err error
	)
	switch req.Type {
	case ActionAttack:
		res, err = e.resolveAttack(ctx, out, actor, req, false)
	case ActionSpell:
		res, err = e.resolveSpell(ctx, out, actor, req, false)
	case ActionAbility:
		res, err = e.resolveAbility(ctx, out, actor, req, false)
	case ActionBonus:
		switch {
		case req.AbilityID != "":
			res, err = e.resolveAbility(ctx, out, actor, req, true)
		case req.SpellID != "":
			res, err = e.resolveSpell(ctx, out, actor, req, true)
		default:
			res, err = e.resolveAttack(ctx, out, actor, req, true)
		}
	default:
		return scene, NewError(KindValidation, fmt.Sprintf("unsupported action type %q", req.Type))
	}
	if err != nil {
		return scene, err
	}

	res.action.Type = req.Type
	res.action.ActorID = actor.Info.ID
	res.action.ActorName = actor.Info.Name
	res.action.ActorSide = actor.Info.Side
	res.action.StateBefore = before
	out.InitiativeOrder = res.order
	e.appendAction(&out, res.action)

	e.logger.Debug("action resolved",
		zap.String("battle", scene.ID),
		zap.String("type", string(req.Type)),
		zap.String("actor", actor.Info.ID),
		zap.Int("hp_changes", len(res.action.HPChanges)),
	)
	return e.settle(ctx, out)
}

func authorize(caller Caller, actor, current combatant.Participant) error {
	switch caller.Role {
	case RoleDM:
		return nil
	case RolePlayer:
		if actor.Info.OwnerUserID == "" || actor.Info.OwnerUserID != caller.UserID {
			return NewError(KindForbidden, fmt.Sprintf("you do not control %s", actor.Info.Name))
		}
		if actor.Info.ID != current.Info.ID {
			return NewError(KindForbidden, fmt.Sprintf("it is not %s's turn", actor.Info.Name))
		}
		return nil
	default:
		return NewError(KindForbidden, "only campaign members may act in this battle")
	}
}

// resolution is the outcome of one resolved action before it is logged.
type resolution struct {
	order  []combatant.Participant
	action Action
}

// spend marks the action or bonus action as used.
func spend(p combatant.Participant, bonus bool) (combatant.Participant, error) {
	f := p.Flags
	if bonus {
		if f.HasUsedBonusAction {
			return p, NewError(KindValidation, fmt.Sprintf("%s has already used their bonus action this turn", p.Info.Name))
		}
		f.HasUsedBonusAction = true
	} else {
		if f.HasUsedAction {
			return p, NewError(KindValidation, fmt.Sprintf("%s has already used their action this turn", p.Info.Name))
		}
		f.HasUsedAction = true
	}
	return p.WithFlags(f), nil
}

// targets resolves ids against order. Dead participants cannot be targeted.
func targets(order []combatant.Participant, ids []string) ([]combatant.Participant, error) {
	out := make([]combatant.Participant, 0, len(ids))
	for _, id := range ids {
		p, ok := combatant.Find(order, id)
		if !ok {
			return nil, NewError(KindNotFound, fmt.Sprintf("target %q is not in this battle", id))
		}
		if p.Status == combatant.StatusDead {
			return nil, NewError(KindValidation, fmt.Sprintf("%s is already dead", p.Info.Name))
		}
		out = append(out, p)
	}
	return out, nil
}

func actionTargets(ps []combatant.Participant) []ActionTarget {
	out := make([]ActionTarget, len(ps))
	for i, p := range ps {
		out[i] = ActionTarget{ID: p.Info.ID, Name: p.Info.Name}
	}
	return out
}

// attackCheck resolves a natural d20 roll plus bonus against target's AC.
// A natural 20 always hits and crits; a natural 1 always misses.
func attackCheck(roll, bonus int, target combatant.Participant) (ActionDetails, error) {
	if roll < 1 || roll > 20 {
		return ActionDetails{}, NewError(KindValidation, fmt.Sprintf("attack roll must be a natural d20 result (1-20), got %d", roll))
	}
	crit := rules.IsCriticalHit(roll)
	fumble := rules.IsCriticalMiss(roll)
	total := roll + bonus
	hit := !fumble && (crit || rules.IsHit(total, target.Stats.AC))
	return ActionDetails{
		AttackRoll:   roll,
		AttackBonus:  bonus,
		AttackTotal:  total,
		TargetAC:     target.Stats.AC,
		Hit:          hit,
		Critical:     crit,
		CriticalMiss: fumble,
	}, nil
}

func (e *Engine) resolveAttack(ctx context.Context, scene Scene, actor combatant.Participant, req ActionRequest, bonus bool) (resolution, error) {
	atk, ok := actor.FindAttack(req.AttackID)
	if !ok {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s has no attack %q", actor.Info.Name, req.AttackID))
	}
	if len(req.TargetIDs) != 1 {
		return resolution{}, NewError(KindValidation, "an attack needs exactly one target")
	}
	ts, err := targets(scene.InitiativeOrder, req.TargetIDs)
	if err != nil {
		return resolution{}, err
	}
	target := ts[0]
	if target.Info.ID == actor.Info.ID {
		return resolution{}, NewError(KindValidation, "a participant cannot attack itself")
	}
	details, err := attackCheck(req.AttackRoll, actor.Stats.AttackBonus+atk.Bonus, target)
	if err != nil {
		return resolution{}, err
	}
	details.AttackName = atk.Name
	if actor, err = spend(actor, bonus); err != nil {
		return resolution{}, err
	}
	order := combatant.Replace(scene.InitiativeOrder, actor)

	act := Action{Targets: actionTargets(ts)}
	if !details.Hit {
		details.Outcome = "miss"
		act.Details = details
		how := "misses"
		if details.CriticalMiss {
			how = "fumbles and misses"
		}
		act.ResultText = fmt.Sprintf("%s %s %s with %s (%d vs AC %d).", actor.Info.Name, how, target.Info.Name, atk.Name, details.AttackTotal, details.TargetAC)
		return resolution{order: order, action: act}, nil
	}

	bd, err := e.composer.Compose(ctx, damage.Request{
		Attacker:   actor,
		Target:     target,
		All:        order,
		Round:      scene.CurrentRound,
		Delivery:   damage.DeliveryWeapon,
		SourceName: atk.Name,
		Dice:       atk.Dice,
		DamageType: atk.DamageType,
		Element:    atk.Element,
		AttackType: atk.Type,
		Rolls:      req.DamageRolls,
		Critical:   details.Critical,
	})
	if err != nil {
		return resolution{}, Wrap(KindValidation, "invalid damage rolls", err)
	}
	hurt := target.WithDamage(bd.Total)
	order = combatant.Replace(order, hurt)
	details.Damage = []TargetDamage{{TargetID: target.Info.ID, Breakdown: bd}}
	details.Outcome = "hit"
	act.HPChanges = []HPChange{hpChange(target, hurt)}

	actor, _ = combatant.Find(order, actor.Info.ID)
	healed, fired := e.afterAttack(ctx, actor, &hurt, order, scene.CurrentRound)
	if len(fired) > 0 {
		order = combatant.Replace(order, healed)
		details.Passives = fired
		if healed.Stats.HP != actor.Stats.HP {
			act.HPChanges = append(act.HPChanges, hpChange(actor, healed))
		}
	}

	how := "hits"
	if details.Critical {
		how = "critically hits"
	}
	act.Details = details
	act.ResultText = fmt.Sprintf("%s %s %s with %s (%d vs AC %d) for %d damage.%s",
		actor.Info.Name, how, target.Info.Name, atk.Name, details.AttackTotal, details.TargetAC, bd.Total, describeFall(act.HPChanges))
	return resolution{order: order, action: act}, nil
}

// afterAttack fires the attacker's healing passives gated on landing a hit.
// Only passives with an explicit trigger take part, so an untriggered
// healing passive fires at round start alone.
func (e *Engine) afterAttack(ctx context.Context, actor combatant.Participant, target *combatant.Participant, order []combatant.Participant, round int) (combatant.Participant, []string) {
	var fired []string
	tc := trigger.Context{Owner: actor, Target: target, All: order, Round: round, IsOwnerAction: true, Phase: combatant.PhaseAfterOwnerAttack}
	for _, a := range actor.Passives() {
		if a.Effect != combatant.EffectHeal || a.Trigger == nil || a.Flat <= 0 {
			continue
		}
		if !e.triggers.Evaluate(ctx, a.Trigger, tc) {
			continue
		}
		actor = actor.WithHealing(a.Flat)
		fired = append(fired, a.Name)
	}
	return actor, fired
}

func (e *Engine) resolveSpell(ctx context.Context, scene Scene, actor combatant.Participant, req ActionRequest, bonus bool) (resolution, error) {
	spell, ok := actor.FindSpell(req.SpellID)
	if !ok {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s does not know spell %q", actor.Info.Name, req.SpellID))
	}
	if actor.SlotsRemaining(spell.Level) == 0 {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s has no level %d spell slots left", actor.Info.Name, spell.Level))
	}
	targetIDs := req.TargetIDs
	if len(targetIDs) == 0 && spell.Effect == combatant.EffectHeal {
		targetIDs = []string{actor.Info.ID}
	}
	if len(targetIDs) == 0 {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s needs at least one target", spell.Name))
	}
	ts, err := targets(scene.InitiativeOrder, targetIDs)
	if err != nil {
		return resolution{}, err
	}

	details := ActionDetails{Hit: true}
	if spell.Effect == combatant.EffectDamage && spell.AttackRoll {
		if len(ts) != 1 {
			return resolution{}, NewError(KindValidation, "a spell attack needs exactly one target")
		}
		castingMod := 0
		if actor.Spellcasting != nil {
			castingMod = rules.AbilityModifier(actor.Scores.Score(actor.Spellcasting.Ability))
		}
		details, err = attackCheck(req.AttackRoll, rules.ProficiencyBonus(max(1, actor.Info.Level))+castingMod, ts[0])
		if err != nil {
			return resolution{}, err
		}
	}
	details.AttackName = spell.Name

	if actor, err = spend(actor, bonus || spell.BonusAction); err != nil {
		return resolution{}, err
	}
	if !spell.IsCantrip() {
		actor = actor.WithSlotUsed(spell.Level)
	}
	order := combatant.Replace(scene.InitiativeOrder, actor)

	saved := make(map[string]bool, len(req.SavedTargetIDs))
	for _, id := range req.SavedTargetIDs {
		saved[id] = true
	}
	details.Spell = &SpellDetails{ID: spell.ID, Name: spell.Name, Level: spell.Level, SlotUsed: !spell.IsCantrip()}
	for _, t := range ts {
		if saved[t.Info.ID] {
			details.Spell.Saved = append(details.Spell.Saved, t.Info.ID)
		}
	}

	act := Action{Targets: actionTargets(ts)}
	switch spell.Effect {
	case combatant.EffectDamage:
		if !details.Hit {
			details.Outcome = "miss"
			act.Details = details
			act.ResultText = fmt.Sprintf("%s casts %s at %s and misses (%d vs AC %d).", actor.Info.Name, spell.Name, ts[0].Info.Name, details.AttackTotal, details.TargetAC)
			return resolution{order: order, action: act}, nil
		}
		order, err = e.dealDamage(ctx, scene.CurrentRound, order, actor, ts, &act, &details, damage.Request{
			Delivery:   damage.DeliverySpell,
			SourceName: spell.Name,
			Dice:       spell.Dice,
			DamageType: spell.DamageType,
			Element:    spell.Element,
			Rolls:      req.DamageRolls,
			Critical:   details.Critical,
		}, saved)
		if err != nil {
			return resolution{}, err
		}
	case combatant.EffectHeal:
		amount, err := healAmount(spell.Dice, 0, req.DamageRolls)
		if err != nil {
			return resolution{}, err
		}
		order = heal(order, ts, amount, &act, &details)
	default:
		return resolution{}, NewError(KindValidation, fmt.Sprintf("spell %s has effect %q which cannot be cast", spell.Name, spell.Effect))
	}

	act.Details = details
	act.ResultText = fmt.Sprintf("%s casts %s on %s: %s.%s", actor.Info.Name, spell.Name, joinNames(ts), summarize(act.HPChanges), describeFall(act.HPChanges))
	return resolution{order: order, action: act}, nil
}

func (e *Engine) resolveAbility(ctx context.Context, scene Scene, actor combatant.Participant, req ActionRequest, bonus bool) (resolution, error) {
	ab, ok := actor.FindAbility(req.AbilityID)
	if !ok {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s has no ability %q", actor.Info.Name, req.AbilityID))
	}
	if ab.Kind != combatant.AbilityActive {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s is passive and cannot be used", ab.Name))
	}
	if ab.Limited() && ab.UsesRemaining <= 0 {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s has no uses of %s left", actor.Info.Name, ab.Name))
	}
	targetIDs := req.TargetIDs
	if len(targetIDs) == 0 && ab.Effect == combatant.EffectHeal {
		targetIDs = []string{actor.Info.ID}
	}
	if len(targetIDs) == 0 {
		return resolution{}, NewError(KindValidation, fmt.Sprintf("%s needs at least one target", ab.Name))
	}
	ts, err := targets(scene.InitiativeOrder, targetIDs)
	if err != nil {
		return resolution{}, err
	}

	if actor, err = spend(actor, bonus || ab.BonusAction); err != nil {
		return resolution{}, err
	}
	actor = actor.WithAbilityUsed(ab.ID)
	order := combatant.Replace(scene.InitiativeOrder, actor)
	used, _ := actor.FindAbility(ab.ID)

	details := ActionDetails{Hit: true, AttackName: ab.Name, Ability: &AbilityDetails{ID: ab.ID, Name: ab.Name, UsesRemaining: used.UsesRemaining}}
	act := Action{Targets: actionTargets(ts)}
	switch ab.Effect {
	case combatant.EffectDamage:
		order, err = e.dealDamage(ctx, scene.CurrentRound, order, actor, ts, &act, &details, damage.Request{
			Delivery:   damage.DeliveryAbility,
			SourceName: ab.Name,
			Dice:       ab.Dice,
			DamageType: ab.DamageType,
			Element:    ab.Element,
			Rolls:      req.DamageRolls,
		}, nil)
		if err != nil {
			return resolution{}, err
		}
	case combatant.EffectHeal:
		amount, err := healAmount(ab.Dice, ab.Flat, req.DamageRolls)
		if err != nil {
			return resolution{}, err
		}
		order = heal(order, ts, amount, &act, &details)
	default:
		return resolution{}, NewError(KindValidation, fmt.Sprintf("ability %s has effect %q which cannot be activated", ab.Name, ab.Effect))
	}

	act.Details = details
	act.ResultText = fmt.Sprintf("%s uses %s on %s: %s.%s", actor.Info.Name, ab.Name, joinNames(ts), summarize(act.HPChanges), describeFall(act.HPChanges))
	return resolution{order: order, action: act}, nil
}

// dealDamage composes and applies template's damage to each target,
// halving it for targets in saved.
func (e *Engine) dealDamage(ctx context.Context, round int, order []combatant.Participant, actor combatant.Participant, ts []combatant.Participant,
	act *Action, details *ActionDetails, template damage.Request, saved map[string]bool) ([]combatant.Participant, error) {
	for _, t := range ts {
		current, _ := combatant.Find(order, t.Info.ID)
		req := template
		req.Attacker = actor
		req.Target = current
		req.All = order
		req.Round = round
		req.Halved = saved[t.Info.ID]
		bd, err := e.composer.Compose(ctx, req)
		if err != nil {
			return nil, Wrap(KindValidation, "invalid damage rolls", err)
		}
		hurt := current.WithDamage(bd.Total)
		order = combatant.Replace(order, hurt)
		details.Damage = append(details.Damage, TargetDamage{TargetID: t.Info.ID, Breakdown: bd})
		act.HPChanges = append(act.HPChanges, hpChange(current, hurt))
	}
	details.Outcome = "hit"
	return order, nil
}

// heal restores amount HP to each target, reviving the unconscious.
func heal(order []combatant.Participant, ts []combatant.Participant, amount int, act *Action, details *ActionDetails) []combatant.Participant {
	for _, t := range ts {
		current, _ := combatant.Find(order, t.Info.ID)
		healed := current.WithHealing(amount)
		order = combatant.Replace(order, healed)
		act.HPChanges = append(act.HPChanges, hpChange(current, healed))
	}
	details.Healing = amount
	details.Outcome = "healed"
	return order
}

// healAmount totals supplied healing dice plus flat. Empty or unreadable
// dice heal flat only.
func healAmount(expr string, flat int, rolls []int) (int, error) {
	if expr == "" {
		return max(0, flat), nil
	}
	e, err := dice.Parse(expr)
	if err != nil {
		return max(0, flat), nil
	}
	r, err := dice.Evaluate(e, rolls, false)
	if err != nil {
		return 0, Wrap(KindValidation, "invalid healing rolls", err)
	}
	return max(0, r.Total()+flat), nil
}

func joinNames(ps []combatant.Participant) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Info.Name
	}
	return strings.Join(names, ", ")
}

func summarize(changes []HPChange) string {
	if len(changes) == 0 {
		return "no effect"
	}
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		switch {
		case c.Delta < 0:
			parts = append(parts, fmt.Sprintf("%s takes %d damage", c.Name, -c.Delta))
		case c.Delta > 0:
			parts = append(parts, fmt.Sprintf("%s recovers %d HP", c.Name, c.Delta))
		default:
			parts = append(parts, fmt.Sprintf("%s is unaffected", c.Name))
		}
	}
	return strings.Join(parts, ", ")
}
