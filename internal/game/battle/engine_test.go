package battle_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/rules"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
)

var (
	dm     = battle.Caller{UserID: "dm-user", Role: battle.RoleDM}
	player = battle.Caller{UserID: "u1", Role: battle.RolePlayer}
)

func newEngine() *battle.Engine {
	n := 0
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return battle.NewEngine(zap.NewNop(),
		battle.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
		battle.WithClock(func() time.Time { return at }),
	)
}

func intPtr(v int) *int { return &v }

func heroRecord() roster.Record {
	return roster.Record{
		ID: "hero", CampaignID: "camp", Kind: combatant.KindCharacter, OwnerUserID: "u1", Name: "Hero",
		Sheet: roster.Sheet{
			Level: 1, HP: 20, MaxHP: 20, AC: 15, Speed: 30,
			AttackBonus: intPtr(5),
			Scores:      combatant.AbilityScores{Strength: 14, Dexterity: 12, Constitution: 12, Intelligence: 10, Wisdom: 10, Charisma: 10},
			Attacks: []combatant.Attack{
				{ID: "shortsword", Name: "Shortsword", Dice: "1d6", DamageType: "piercing", Type: rules.AttackMelee},
			},
		},
	}
}

func goblinRecord() roster.Record {
	return roster.Record{
		ID: "goblin", CampaignID: "camp", Kind: combatant.KindUnit, Name: "Goblin",
		Sheet: roster.Sheet{
			HP: 7, MaxHP: 7, AC: 15, Speed: 30,
			Scores: combatant.AbilityScores{Strength: 8, Dexterity: 14},
			Attacks: []combatant.Attack{
				{ID: "scimitar", Name: "Scimitar", Dice: "1d6", DamageType: "slashing", Type: rules.AttackFinesse},
			},
		},
	}
}

func records(rs ...roster.Record) map[string]roster.Record {
	out := make(map[string]roster.Record, len(rs))
	for _, r := range rs {
		out[r.ID] = r
	}
	return out
}

func startSkirmish(e *battle.Engine, rs ...roster.Record) (battle.Scene, error) {
	sels := []roster.Selection{
		{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1, Initiative: intPtr(15)},
		{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 2, Initiative: intPtr(10)},
	}
	scene, err := e.Prepare("camp", "Ambush", sels)
	if err != nil {
		return scene, err
	}
	if len(rs) == 0 {
		rs = []roster.Record{heroRecord(), goblinRecord()}
	}
	return e.Start(context.Background(), scene, records(rs...))
}

// skirmish starts Hero (initiative 15) against two goblins (initiative 10).
func skirmish(t *testing.T, e *battle.Engine, rs ...roster.Record) battle.Scene {
	t.Helper()
	scene, err := startSkirmish(e, rs...)
	require.NoError(t, err)
	return scene
}

func ids(order []combatant.Participant) []string {
	out := make([]string, len(order))
	for i, p := range order {
		out[i] = p.Info.ID
	}
	return out
}

func mustFind(t *testing.T, s battle.Scene, id string) combatant.Participant {
	t.Helper()
	p, ok := combatant.Find(s.InitiativeOrder, id)
	require.True(t, ok, "participant %s", id)
	return p
}

func attack(actor, target string, roll int, dmg ...int) battle.ActionRequest {
	return battle.ActionRequest{Type: battle.ActionAttack, ActorID: actor, TargetIDs: []string{target}, AttackRoll: roll, DamageRolls: dmg}
}

func endTurn() battle.ActionRequest { return battle.ActionRequest{Type: battle.ActionEndTurn} }

func TestStart_ExpandsAndOrdersByInitiative(t *testing.T) {
	s := skirmish(t, newEngine())
	assert.Equal(t, battle.StatusActive, s.Status)
	assert.Equal(t, []string{"hero", "goblin-1", "goblin-2"}, ids(s.InitiativeOrder))
	assert.Equal(t, "Goblin #2", s.InitiativeOrder[2].Info.Name)
	assert.Equal(t, 1, s.CurrentRound)
	assert.Equal(t, 0, s.CurrentTurnIndex)
	assert.Empty(t, s.BattleLog)
	require.NotNil(t, s.StartedAt)
	assert.Equal(t, battle.ResultNone, s.Result)
}

func TestStart_TiesKeepSelectionOrder(t *testing.T) {
	e := newEngine()
	scene, err := e.Prepare("camp", "", []roster.Selection{
		{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 1, Initiative: intPtr(5)},
		{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1, Initiative: intPtr(5)},
	})
	require.NoError(t, err)
	scene, err = e.Start(context.Background(), scene, records(heroRecord(), goblinRecord()))
	require.NoError(t, err)
	assert.Equal(t, []string{"goblin", "hero"}, ids(scene.InitiativeOrder))
}

func TestStart_Errors(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.Start(ctx, battle.Scene{ID: "b", Status: battle.StatusPrepared}, nil)
	assert.ErrorIs(t, err, battle.ErrValidation)

	scene, err := e.Prepare("camp", "", []roster.Selection{{ID: "ghost", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 1}})
	require.NoError(t, err)
	_, err = e.Start(ctx, scene, records(heroRecord()))
	assert.ErrorIs(t, err, battle.ErrNotFound)

	active := skirmish(t, e)
	_, err = e.Start(ctx, active, records(heroRecord(), goblinRecord()))
	assert.ErrorIs(t, err, battle.ErrInvalidState)
}

func TestPrepare_RejectsBadSelections(t *testing.T) {
	e := newEngine()
	_, err := e.Prepare("camp", "", []roster.Selection{{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 2}})
	assert.ErrorIs(t, err, battle.ErrValidation)
	_, err = e.Prepare("", "", []roster.Selection{{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1}})
	assert.ErrorIs(t, err, battle.ErrValidation)
}

func TestNextTurn_WrapsAndIncrementsRound(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := skirmish(t, e)

	var err error
	for i := 1; i <= 2; i++ {
		s, err = e.NextTurn(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, i, s.CurrentTurnIndex)
		assert.Equal(t, 1, s.CurrentRound)
	}
	s, err = e.NextTurn(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentTurnIndex)
	assert.Equal(t, 2, s.CurrentRound)
}

func TestNextTurn_RequiresActiveScene(t *testing.T) {
	e := newEngine()
	scene, err := e.Prepare("camp", "", []roster.Selection{{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1}})
	require.NoError(t, err)
	_, err = e.NextTurn(context.Background(), scene)
	assert.ErrorIs(t, err, battle.ErrInvalidState)
}

func TestNextTurn_ResetsActionFlags(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := skirmish(t, e)

	s, err := e.ApplyAction(ctx, s, player, attack("hero", "goblin-1", 2, 1))
	require.NoError(t, err)
	assert.True(t, mustFind(t, s, "hero").Flags.HasUsedAction)

	for range 3 {
		s, err = e.NextTurn(ctx, s)
		require.NoError(t, err)
	}
	assert.False(t, mustFind(t, s, "hero").Flags.HasUsedAction)
}

func TestApplyAction_BasicMeleeHit(t *testing.T) {
	e := newEngine()
	s := skirmish(t, e)

	s, err := e.ApplyAction(context.Background(), s, player, attack("hero", "goblin-1", 13, 4))
	require.NoError(t, err)

	require.Len(t, s.BattleLog, 1)
	act := s.BattleLog[0]
	assert.Equal(t, battle.ActionAttack, act.Type)
	assert.Equal(t, 0, act.ActionIndex)
	assert.Equal(t, "hero", act.ActorID)
	assert.Equal(t, 18, act.Details.AttackTotal)
	assert.Equal(t, 15, act.Details.TargetAC)
	assert.True(t, act.Details.Hit)
	require.Len(t, act.Details.Damage, 1)
	assert.Equal(t, 6, act.Details.Damage[0].Breakdown.Total)
	require.Len(t, act.HPChanges, 1)
	assert.Equal(t, -6, act.HPChanges[0].Delta)
	require.NotNil(t, act.StateBefore)
	prior, ok := combatant.Find(act.StateBefore.InitiativeOrder, "goblin-1")
	require.True(t, ok)
	assert.Equal(t, 7, prior.Stats.HP)
	assert.Equal(t, 1, mustFind(t, s, "goblin-1").Stats.HP)
	assert.Contains(t, act.ResultText, "for 6 damage")
}

func TestApplyAction_MissAndFumble(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := skirmish(t, e)

	missed, err := e.ApplyAction(ctx, s, player, attack("hero", "goblin-1", 9))
	require.NoError(t, err)
	assert.False(t, missed.BattleLog[0].Details.Hit)
	assert.Empty(t, missed.BattleLog[0].HPChanges)
	assert.Equal(t, 7, mustFind(t, missed, "goblin-1").Stats.HP)

	tough := goblinRecord()
	tough.Sheet.AC = 2
	s = skirmish(t, e, heroRecord(), tough)
	fumbled, err := e.ApplyAction(ctx, s, player, attack("hero", "goblin-1", 1, 6))
	require.NoError(t, err)
	assert.True(t, fumbled.BattleLog[0].Details.CriticalMiss)
	assert.False(t, fumbled.BattleLog[0].Details.Hit)
}

func TestApplyAction_CriticalHitDoublesDice(t *testing.T) {
	e := newEngine()
	s := skirmish(t, e)
	s, err := e.ApplyAction(context.Background(), s, player, attack("hero", "goblin-1", 20, 2, 2))
	require.NoError(t, err)
	act := s.BattleLog[0]
	assert.True(t, act.Details.Critical)
	assert.Equal(t, 6, act.Details.Damage[0].Breakdown.Total)
}

func TestApplyAction_UnreadableDiceDegrade(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	hero := heroRecord()
	hero.Sheet.Attacks[0].Dice = "1x6"
	hero.Sheet.Abilities = []combatant.Ability{{
		ID: "second-wind", Name: "Second Wind", Kind: combatant.AbilityActive, Effect: combatant.EffectHeal,
		Dice: "ten", Flat: 3, BonusAction: true, UsesPerBattle: 1,
	}}
	hero.Sheet.HP = 10
	s := skirmish(t, e, hero, goblinRecord())

	s, err := e.ApplyAction(ctx, s, player, attack("hero", "goblin-1", 13, 4))
	require.NoError(t, err)
	require.Len(t, s.BattleLog, 1)
	act := s.BattleLog[0]
	assert.True(t, act.Details.Hit)
	require.Len(t, act.Details.Damage, 1)
	assert.Equal(t, 2, act.Details.Damage[0].Breakdown.Total, "only the STR modifier applies")
	assert.Equal(t, 5, mustFind(t, s, "goblin-1").Stats.HP)

	s, err = e.ApplyAction(ctx, s, player, battle.ActionRequest{Type: battle.ActionBonus, AbilityID: "second-wind", DamageRolls: []int{6}})
	require.NoError(t, err)
	assert.Equal(t, 13, mustFind(t, s, "hero").Stats.HP, "unreadable healing dice heal the flat amount")
}

func TestApplyAction_Validation(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := skirmish(t, e)

	cases := map[string]battle.ActionRequest{
		"roll too high":    attack("hero", "goblin-1", 21, 3),
		"roll zero":        attack("hero", "goblin-1", 0, 3),
		"wrong dice count": attack("hero", "goblin-1", 15, 3, 3),
		"die out of range": attack("hero", "goblin-1", 15, 9),
		"no target":        {Type: battle.ActionAttack, AttackRoll: 15, DamageRolls: []int{3}},
		"self target":      attack("hero", "hero", 15, 3),
		"unknown attack":   {Type: battle.ActionAttack, AttackID: "bow", TargetIDs: []string{"goblin-1"}, AttackRoll: 15, DamageRolls: []int{3}},
		"unknown type":     {Type: "dance"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := e.ApplyAction(ctx, s, dm, req)
			assert.ErrorIs(t, err, battle.ErrValidation)
			assert.Empty(t, out.BattleLog)
		})
	}

	_, err := e.ApplyAction(ctx, s, dm, attack("hero", "dragon", 15, 3))
	assert.ErrorIs(t, err, battle.ErrNotFound)
	_, err = e.ApplyAction(ctx, s, dm, attack("nobody", "goblin-1", 15, 3))
	assert.ErrorIs(t, err, battle.ErrNotFound)
}

func TestApplyAction_OneActionPerTurn(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := skirmish(t, e)

	s, err := e.ApplyAction(ctx, s, player, attack("hero", "goblin-1", 5))
	require.NoError(t, err)
	_, err = e.ApplyAction(ctx, s, player, attack("hero", "goblin-1", 15, 3))
	assert.ErrorIs(t, err, battle.ErrValidation)

	bonus := attack("hero", "goblin-1", 15, 3)
	bonus.Type = battle.ActionBonus
	s, err = e.ApplyAction(ctx, s, player, bonus)
	require.NoError(t, err)
	assert.True(t, mustFind(t, s, "hero").Flags.HasUsedBonusAction)
	_, err = e.ApplyAction(ctx, s, player, bonus)
	assert.ErrorIs(t, err, battle.ErrValidation)
}

func TestApplyAction_Authorization(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := skirmish(t, e)

	_, err := e.ApplyAction(ctx, s, battle.Caller{UserID: "u2", Role: battle.RolePlayer}, attack("hero", "goblin-1", 15, 3))
	assert.ErrorIs(t, err, battle.ErrForbidden)

	_, err = e.ApplyAction(ctx, s, player, attack("goblin-1", "hero", 15, 3))
	assert.ErrorIs(t, err, battle.ErrForbidden)

	_, err = e.ApplyAction(ctx, s, battle.Caller{UserID: "u1"}, attack("hero", "goblin-1", 15, 3))
	assert.ErrorIs(t, err, battle.ErrForbidden)

	next, err := e.NextTurn(ctx, s)
	require.NoError(t, err)
	_, err = e.ApplyAction(ctx, next, player, attack("hero", "goblin-1", 15, 3))
	assert.ErrorIs(t, err, battle.ErrForbidden, "owner acting out of turn")

	_, err = e.ApplyAction(ctx, next, dm, attack("goblin-1", "hero", 15, 3))
	assert.NoError(t, err)
}

func TestApplyAction_EndTurnLogsAndAdvances(t *testing.T) {
	e := newEngine()
	s := skirmish(t, e)
	s, err := e.ApplyAction(context.Background(), s, player, endTurn())
	require.NoError(t, err)
	require.Len(t, s.BattleLog, 1)
	assert.Equal(t, battle.ActionEndTurn, s.BattleLog[0].Type)
	assert.Equal(t, 1, s.CurrentTurnIndex)

	_, err = e.ApplyAction(context.Background(), s, dm, battle.ActionRequest{Type: battle.ActionSkipTurn, ActorID: "hero"})
	assert.ErrorIs(t, err, battle.ErrValidation, "only the current participant can pass")
}

func TestApplyAction_VictoryCompletesBattle(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := skirmish(t, e)

	steps := []struct {
		caller battle.Caller
		req    battle.ActionRequest
	}{
		{player, attack("hero", "goblin-1", 15, 6)},
		{player, endTurn()},
		{dm, endTurn()},
		{dm, endTurn()},
		{player, attack("hero", "goblin-2", 15, 5)},
	}
	var err error
	for i, st := range steps {
		s, err = e.ApplyAction(ctx, s, st.caller, st.req)
		require.NoError(t, err, "step %d", i)
	}

	assert.Equal(t, battle.StatusCompleted, s.Status)
	assert.Equal(t, battle.ResultVictory, s.Result)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, combatant.StatusDead, mustFind(t, s, "goblin-1").Status)
	assert.Equal(t, combatant.StatusDead, mustFind(t, s, "goblin-2").Status)
	assert.Len(t, s.BattleLog, 5, "no restore entry without unconscious allies")

	_, err = e.ApplyAction(ctx, s, dm, endTurn())
	assert.ErrorIs(t, err, battle.ErrInvalidState)

	reopened, err := e.Rollback(ctx, s, 4)
	require.NoError(t, err)
	assert.Equal(t, battle.StatusActive, reopened.Status)
	assert.Equal(t, battle.ResultNone, reopened.Result)
	assert.Nil(t, reopened.CompletedAt)
	assert.Equal(t, 7, mustFind(t, reopened, "goblin-2").Stats.HP)
	assert.Len(t, reopened.BattleLog, 4)
}

func TestApplyAction_VictoryRestoresUnconsciousAllies(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	cleric := roster.Record{
		ID: "cleric", Kind: combatant.KindCharacter, OwnerUserID: "u2", Name: "Cleric",
		Sheet: roster.Sheet{Level: 1, HP: 0, MaxHP: 10, AC: 12},
	}
	scene, err := e.Prepare("camp", "", []roster.Selection{
		{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1, Initiative: intPtr(15)},
		{ID: "cleric", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1, Initiative: intPtr(12)},
		{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 1, Initiative: intPtr(10)},
	})
	require.NoError(t, err)
	s, err := e.Start(ctx, scene, records(heroRecord(), cleric, goblinRecord()))
	require.NoError(t, err)
	assert.Equal(t, combatant.StatusUnconscious, mustFind(t, s, "cleric").Status)

	s, err = e.ApplyAction(ctx, s, player, attack("hero", "goblin", 15, 6))
	require.NoError(t, err)
	assert.Equal(t, battle.ResultVictory, s.Result)

	require.Len(t, s.BattleLog, 2)
	restore := s.BattleLog[1]
	assert.Equal(t, battle.ActionSystem, restore.Type)
	assert.Equal(t, "victory_restore", restore.Details.Outcome)
	require.NotNil(t, restore.StateBefore)
	cl := mustFind(t, s, "cleric")
	assert.Equal(t, combatant.StatusActive, cl.Status)
	assert.Equal(t, 10, cl.Stats.HP)

	undone, err := e.Rollback(ctx, s, 1)
	require.NoError(t, err)
	assert.Equal(t, combatant.StatusUnconscious, mustFind(t, undone, "cleric").Status)
	assert.Equal(t, combatant.StatusDead, mustFind(t, undone, "goblin").Status)
	assert.Len(t, undone.BattleLog, 1)
}

func TestApplyAction_DefeatWhenAlliesFall(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	frail := heroRecord()
	frail.Sheet.HP = 3
	s := skirmish(t, e, frail, goblinRecord())

	s, err := e.ApplyAction(ctx, s, player, endTurn())
	require.NoError(t, err)
	s, err = e.ApplyAction(ctx, s, dm, attack("goblin-1", "hero", 18, 1))
	require.NoError(t, err)

	assert.Equal(t, battle.StatusCompleted, s.Status)
	assert.Equal(t, battle.ResultDefeat, s.Result)
	assert.Equal(t, combatant.StatusUnconscious, mustFind(t, s, "hero").Status)
	assert.Contains(t, s.BattleLog[1].ResultText, "falls unconscious")
}

func wizardRecord() roster.Record {
	return roster.Record{
		ID: "wiz", Kind: combatant.KindCharacter, OwnerUserID: "u1", Name: "Wizard",
		Sheet: roster.Sheet{
			Level: 1, HP: 4, MaxHP: 8, AC: 12,
			Scores: combatant.AbilityScores{Intelligence: 16, Dexterity: 14},
			Spellcasting: &combatant.Spellcasting{
				Ability: "int",
				Known: []combatant.Spell{
					{ID: "fire-bolt", Name: "Fire Bolt", Level: 0, Effect: combatant.EffectDamage, Dice: "1d10", DamageType: "fire", AttackRoll: true},
					{ID: "burning-hands", Name: "Burning Hands", Level: 1, Effect: combatant.EffectDamage, Dice: "3d6", DamageType: "fire"},
					{ID: "cure", Name: "Cure Wounds", Level: 1, Effect: combatant.EffectHeal, Dice: "1d8", BonusAction: true},
				},
				Slots: []combatant.SpellSlots{{Level: 1, Max: 1}},
			},
		},
	}
}

func wizardSkirmish(t *testing.T, e *battle.Engine) battle.Scene {
	t.Helper()
	scene, err := e.Prepare("camp", "", []roster.Selection{
		{ID: "wiz", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1, Initiative: intPtr(20)},
		{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 2, Initiative: intPtr(10)},
	})
	require.NoError(t, err)
	s, err := e.Start(context.Background(), scene, records(wizardRecord(), goblinRecord()))
	require.NoError(t, err)
	return s
}

func TestApplyAction_AreaSpellHalvesOnSave(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := wizardSkirmish(t, e)

	s, err := e.ApplyAction(ctx, s, player, battle.ActionRequest{
		Type:           battle.ActionSpell,
		SpellID:        "burning-hands",
		TargetIDs:      []string{"goblin-1", "goblin-2"},
		DamageRolls:    []int{2, 2, 2},
		SavedTargetIDs: []string{"goblin-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mustFind(t, s, "goblin-1").Stats.HP)
	assert.Equal(t, 4, mustFind(t, s, "goblin-2").Stats.HP)

	act := s.BattleLog[0]
	require.NotNil(t, act.Details.Spell)
	assert.True(t, act.Details.Spell.SlotUsed)
	assert.Equal(t, []string{"goblin-2"}, act.Details.Spell.Saved)
	assert.Equal(t, 0, mustFind(t, s, "wiz").SlotsRemaining(1))

	_, err = e.ApplyAction(ctx, s, player, battle.ActionRequest{Type: battle.ActionBonus, SpellID: "cure", DamageRolls: []int{5}})
	assert.ErrorIs(t, err, battle.ErrValidation, "no slots left")
}

func TestApplyAction_SpellAttackAndHealing(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	s := wizardSkirmish(t, e)

	s, err := e.ApplyAction(ctx, s, player, battle.ActionRequest{
		Type: battle.ActionSpell, SpellID: "fire-bolt", TargetIDs: []string{"goblin-1"}, AttackRoll: 10, DamageRolls: []int{7},
	})
	require.NoError(t, err)
	bolt := s.BattleLog[0]
	assert.Equal(t, 15, bolt.Details.AttackTotal, "proficiency 2 plus INT 3")
	assert.False(t, bolt.Details.Spell.SlotUsed)
	assert.Equal(t, combatant.StatusDead, mustFind(t, s, "goblin-1").Status)

	s, err = e.ApplyAction(ctx, s, player, battle.ActionRequest{Type: battle.ActionSpell, SpellID: "cure", DamageRolls: []int{6}})
	require.NoError(t, err)
	wiz := mustFind(t, s, "wiz")
	assert.Equal(t, 8, wiz.Stats.HP, "healing is capped at max HP")
	assert.True(t, wiz.Flags.HasUsedBonusAction)
	assert.Equal(t, 6, s.BattleLog[1].Details.Healing)
	require.Len(t, s.BattleLog[1].HPChanges, 1)
	assert.Equal(t, 4, s.BattleLog[1].HPChanges[0].Delta)
}

func TestApplyAction_ActiveAbility(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	hero := heroRecord()
	hero.Sheet.HP = 5
	hero.Sheet.Abilities = []combatant.Ability{{
		ID: "second-wind", Name: "Second Wind", Kind: combatant.AbilityActive, Effect: combatant.EffectHeal,
		Dice: "1d10", Flat: 1, BonusAction: true, UsesPerBattle: 1,
	}}
	s := skirmish(t, e, hero, goblinRecord())

	req := battle.ActionRequest{Type: battle.ActionBonus, AbilityID: "second-wind", DamageRolls: []int{6}}
	s, err := e.ApplyAction(ctx, s, player, req)
	require.NoError(t, err)
	h := mustFind(t, s, "hero")
	assert.Equal(t, 12, h.Stats.HP)
	ab, _ := h.FindAbility("second-wind")
	assert.Equal(t, 0, ab.UsesRemaining)
	assert.Equal(t, 0, s.BattleLog[0].Details.Ability.UsesRemaining)

	for range 3 {
		s, err = e.NextTurn(ctx, s)
		require.NoError(t, err)
	}
	_, err = e.ApplyAction(ctx, s, player, req)
	assert.ErrorIs(t, err, battle.ErrValidation, "no uses left")
}

func TestNextTurn_RoundStartPassiveHeal(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	troll := roster.Record{
		ID: "troll", Kind: combatant.KindUnit, Name: "Troll",
		Sheet: roster.Sheet{
			HP: 20, MaxHP: 20, AC: 10,
			Abilities: []combatant.Ability{{ID: "regen", Name: "Regeneration", Kind: combatant.AbilityPassive, Effect: combatant.EffectHeal, Flat: 3}},
		},
	}
	scene, err := e.Prepare("camp", "", []roster.Selection{
		{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1, Initiative: intPtr(15)},
		{ID: "troll", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 1, Initiative: intPtr(1)},
	})
	require.NoError(t, err)
	s, err := e.Start(ctx, scene, records(heroRecord(), troll))
	require.NoError(t, err)

	s, err = e.ApplyAction(ctx, s, player, attack("hero", "troll", 15, 4))
	require.NoError(t, err)
	assert.Equal(t, 14, mustFind(t, s, "troll").Stats.HP)

	s, err = e.NextTurn(ctx, s)
	require.NoError(t, err)
	s, err = e.NextTurn(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, 17, mustFind(t, s, "troll").Stats.HP)
	last := s.BattleLog[len(s.BattleLog)-1]
	assert.Equal(t, battle.ActionSystem, last.Type)
	assert.Equal(t, 2, last.Round)
	require.Len(t, last.HPChanges, 1)
	assert.Equal(t, 3, last.HPChanges[0].Delta)

	undone, err := e.Rollback(ctx, s, last.ActionIndex)
	require.NoError(t, err)
	assert.Equal(t, 1, undone.CurrentRound)
	assert.Equal(t, 1, undone.CurrentTurnIndex)
	assert.Equal(t, 14, mustFind(t, undone, "troll").Stats.HP)
}

func TestMoraleCheck(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	bold := heroRecord()
	bold.Sheet.Morale = 3
	s := skirmish(t, e, bold, goblinRecord())

	held, err := e.MoraleCheck(ctx, s, 9)
	require.NoError(t, err)
	assert.Equal(t, battle.ActionMoraleCheck, held.BattleLog[0].Type)
	assert.Equal(t, "none", held.BattleLog[0].Details.Outcome)
	assert.Equal(t, 0, held.CurrentTurnIndex)

	s, err = e.MoraleCheck(ctx, s, 3)
	require.NoError(t, err)
	assert.True(t, mustFind(t, s, "hero").Flags.ExtraTurnPending)
	s, err = e.ApplyAction(ctx, s, player, endTurn())
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentTurnIndex, "extra turn keeps the same participant")
	assert.False(t, mustFind(t, s, "hero").Flags.ExtraTurnPending)
	s, err = e.ApplyAction(ctx, s, player, endTurn())
	require.NoError(t, err)
	assert.Equal(t, 1, s.CurrentTurnIndex)

	_, err = e.MoraleCheck(ctx, s, 25)
	assert.ErrorIs(t, err, battle.ErrValidation)

	shaken := heroRecord()
	shaken.Sheet.Morale = -3
	s = skirmish(t, e, shaken, goblinRecord())
	s, err = e.MoraleCheck(ctx, s, 2)
	require.NoError(t, err)
	require.Len(t, s.BattleLog, 1)
	assert.Equal(t, battle.ActionMoraleSkip, s.BattleLog[0].Type)
	assert.Equal(t, 1, s.CurrentTurnIndex)
}

func TestMoraleCheck_OncePerTurn(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	bold := heroRecord()
	bold.Sheet.Morale = 3
	s := skirmish(t, e, bold, goblinRecord())

	s, err := e.MoraleCheck(ctx, s, 9)
	require.NoError(t, err)
	assert.True(t, mustFind(t, s, "hero").Flags.HasCheckedMorale)

	_, err = e.MoraleCheck(ctx, s, 3)
	assert.ErrorIs(t, err, battle.ErrValidation, "a second check cannot reroll for an extra turn")

	for range 3 {
		s, err = e.NextTurn(ctx, s)
		require.NoError(t, err)
	}
	require.Equal(t, "hero", s.InitiativeOrder[s.CurrentTurnIndex].Info.ID)
	assert.False(t, mustFind(t, s, "hero").Flags.HasCheckedMorale)
	s, err = e.MoraleCheck(ctx, s, 3)
	require.NoError(t, err)
	assert.True(t, mustFind(t, s, "hero").Flags.ExtraTurnPending)
	assert.Len(t, s.BattleLog, 2)
}

func TestRollback_Errors(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	prepared, err := e.Prepare("camp", "", []roster.Selection{{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1}})
	require.NoError(t, err)
	_, err = e.Rollback(ctx, prepared, 0)
	assert.ErrorIs(t, err, battle.ErrInvalidState)

	s := skirmish(t, e)
	_, err = e.Rollback(ctx, s, 0)
	assert.ErrorIs(t, err, battle.ErrNotFound)

	s.BattleLog = append(s.BattleLog, battle.Action{ID: "legacy", Type: battle.ActionAttack})
	_, err = e.Rollback(ctx, s, 0)
	assert.ErrorIs(t, err, battle.ErrNoSnapshot)
	_, err = e.Rollback(ctx, s, -1)
	assert.ErrorIs(t, err, battle.ErrNotFound)
}

func TestReset_KeepsSelection(t *testing.T) {
	e := newEngine()
	s := skirmish(t, e)
	s, err := e.ApplyAction(context.Background(), s, player, attack("hero", "goblin-1", 15, 3))
	require.NoError(t, err)

	r, err := e.Reset(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, battle.StatusPrepared, r.Status)
	assert.Empty(t, r.InitiativeOrder)
	assert.Empty(t, r.BattleLog)
	assert.Nil(t, r.StartedAt)
	assert.Equal(t, 1, r.CurrentRound)
	assert.Equal(t, s.Participants, r.Participants)

	_, err = e.Reset(context.Background(), r)
	assert.NoError(t, err, "resetting a prepared battle is a no-op")
}

func TestEvaluateVictory(t *testing.T) {
	p := func(side combatant.Side, status combatant.Status) combatant.Participant {
		return combatant.Participant{Info: combatant.BasicInfo{Side: side}, Status: status}
	}
	ally, enemy := combatant.SideAlly, combatant.SideEnemy
	active, down, dead := combatant.StatusActive, combatant.StatusUnconscious, combatant.StatusDead

	assert.Equal(t, battle.ResultNone, battle.EvaluateVictory(nil))
	assert.Equal(t, battle.ResultNone, battle.EvaluateVictory([]combatant.Participant{p(ally, active), p(enemy, active)}))
	assert.Equal(t, battle.ResultVictory, battle.EvaluateVictory([]combatant.Participant{p(ally, active), p(enemy, dead), p(enemy, down)}))
	assert.Equal(t, battle.ResultDefeat, battle.EvaluateVictory([]combatant.Participant{p(ally, down), p(enemy, active)}))
	assert.Equal(t, battle.ResultDefeat, battle.EvaluateVictory([]combatant.Participant{p(ally, dead), p(enemy, dead)}), "defeat wins a mutual wipe")
	assert.Equal(t, battle.ResultNone, battle.EvaluateVictory([]combatant.Participant{p(ally, active)}), "no enemies means no victory")
}

func TestNextTurn_Property_TurnArithmetic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newEngine()
		qty := rapid.IntRange(1, 5).Draw(rt, "goblins")
		steps := rapid.IntRange(0, 30).Draw(rt, "steps")

		scene, err := e.Prepare("camp", "", []roster.Selection{
			{ID: "hero", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1, Initiative: intPtr(20)},
			{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: qty},
		})
		require.NoError(rt, err)
		s, err := e.Start(context.Background(), scene, records(heroRecord(), goblinRecord()))
		require.NoError(rt, err)

		n := qty + 1
		for range steps {
			s, err = e.NextTurn(context.Background(), s)
			require.NoError(rt, err)
		}
		assert.Equal(rt, steps%n, s.CurrentTurnIndex)
		assert.Equal(rt, 1+steps/n, s.CurrentRound)
	})
}

type turnState struct {
	index, round int
	hp           map[string]int
}

func stateOf(order []combatant.Participant, index, round int) turnState {
	hp := make(map[string]int, len(order))
	for _, p := range order {
		hp[p.Info.ID] = p.Stats.HP
	}
	return turnState{index: index, round: round, hp: hp}
}

func TestRollback_Property_RestoresStateAndRenumbers(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newEngine()
		ctx := context.Background()
		s, err := startSkirmish(e)
		require.NoError(rt, err)

		var seen []turnState
		count := rapid.IntRange(1, 12).Draw(rt, "actions")
		for i := 0; i < count && s.Status == battle.StatusActive; i++ {
			req := endTurn()
			cur, _ := s.Current()
			if !cur.IsDown() && !cur.Flags.HasUsedAction && rapid.Bool().Draw(rt, fmt.Sprintf("attack-%d", i)) {
				target := "goblin-1"
				if cur.Info.Side == combatant.SideAlly && mustFindRT(s, "goblin-1").IsDown() {
					target = "goblin-2"
				}
				if cur.Info.Side == combatant.SideEnemy {
					target = "hero"
				}
				req = attack(cur.Info.ID, target,
					rapid.IntRange(1, 20).Draw(rt, fmt.Sprintf("roll-%d", i)),
					rapid.IntRange(1, 6).Draw(rt, fmt.Sprintf("dmg-%d", i)))
			}
			seen = append(seen, stateOf(s.InitiativeOrder, s.CurrentTurnIndex, s.CurrentRound))
			s, err = e.ApplyAction(ctx, s, dm, req)
			require.NoError(rt, err)
		}

		idx := rapid.IntRange(0, len(s.BattleLog)-1).Draw(rt, "index")
		before := s.BattleLog[idx].StateBefore
		require.NotNil(rt, before)

		out, err := e.Rollback(ctx, s, idx)
		require.NoError(rt, err)
		assert.Len(rt, out.BattleLog, idx)
		for i, a := range out.BattleLog {
			assert.Equal(rt, i, a.ActionIndex)
		}
		assert.Equal(rt, battle.StatusActive, out.Status)
		assert.Equal(rt, stateOf(before.InitiativeOrder, before.CurrentTurnIndex, before.CurrentRound),
			stateOf(out.InitiativeOrder, out.CurrentTurnIndex, out.CurrentRound))

		if idx == 0 {
			assert.Equal(rt, seen[0], stateOf(out.InitiativeOrder, out.CurrentTurnIndex, out.CurrentRound))
		}
	})
}

func mustFindRT(s battle.Scene, id string) combatant.Participant {
	p, _ := combatant.Find(s.InitiativeOrder, id)
	return p
}
