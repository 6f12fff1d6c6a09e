package roster_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/battlekeep/internal/game/catalog"
	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
)

func intp(v int) *int { return &v }

func goblinRecord() roster.Record {
	return roster.Record{
		ID: "goblin", CampaignID: "c1", Kind: combatant.KindUnit, Name: "Goblin",
		Sheet: roster.Sheet{
			Race: "goblinoid", UnitGroup: "warband", Level: 1, HP: 3, MaxHP: 7, AC: 13, Speed: 30, Morale: -1,
			Scores: combatant.AbilityScores{Strength: 8, Dexterity: 14},
			Attacks: []combatant.Attack{{ID: "scimitar", Name: "Scimitar", Dice: "1d6", DamageType: "slashing", Type: "finesse"}},
			DamageModifiers: []combatant.DamageModifier{{Target: combatant.TargetDamageType, Key: "fire", Percent: 50}},
		},
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	require.NoError(t, c.AddRace(&catalog.RaceDef{ID: "goblinoid", FixedMorale: intp(2), DamageModifiers: []catalog.ModifierDef{{Target: "element", Key: "shadow", Percent: -50}}}))
	require.NoError(t, c.AddRace(&catalog.RaceDef{ID: "construct", IgnoresMorale: true}))
	require.NoError(t, c.AddUnitGroup(&catalog.UnitGroupDef{ID: "warband", DamageModifiers: []catalog.ModifierDef{{Target: "damage_type", Key: "piercing", Percent: -25}}}))
	return c
}

func TestMaterialize_UnitAppliesCatalog(t *testing.T) {
	p := roster.Materialize(goblinRecord(), combatant.SideEnemy, testCatalog(t))
	assert.Equal(t, 7, p.Stats.HP, "units enter at full health")
	assert.Equal(t, 2, p.Stats.Morale, "race fixes morale")
	assert.Equal(t, 4, p.Stats.AttackBonus, "proficiency 2 + dex 2")
	require.Len(t, p.DamageModifiers, 3)
	assert.Equal(t, combatant.SourceRace, p.DamageModifiers[0].Source)
	assert.Equal(t, combatant.SourceUnit, p.DamageModifiers[1].Source)
	assert.Equal(t, combatant.SourceGroup, p.DamageModifiers[2].Source)
	assert.Equal(t, combatant.StatusActive, p.Status)
}

func TestMaterialize_CharacterKeepsHPAndFoldsEquipment(t *testing.T) {
	rec := roster.Record{
		ID: "aria", Kind: combatant.KindCharacter, OwnerUserID: "u1", Name: "Aria",
		Sheet: roster.Sheet{
			Race: "construct", Level: 5, HP: 0, MaxHP: 30, AC: 14, AttackBonus: intp(6),
			Equipment: []combatant.Item{
				{Name: "Shield", Equipped: true, Bonuses: []combatant.ItemBonus{{Kind: combatant.BonusAC, Value: 2}}},
				{Name: "Sword +1", Equipped: true, Bonuses: []combatant.ItemBonus{{Kind: combatant.BonusAttack, Value: 1}}},
			},
			Abilities: []combatant.Ability{{ID: "surge", Kind: combatant.AbilityActive, Effect: combatant.EffectHeal, Dice: "1d10", UsesPerBattle: 2}},
		},
	}
	p := roster.Materialize(rec, combatant.SideAlly, testCatalog(t))
	assert.Equal(t, 0, p.Stats.HP)
	assert.Equal(t, combatant.StatusUnconscious, p.Status)
	assert.Equal(t, 16, p.Stats.AC)
	assert.Equal(t, 7, p.Stats.AttackBonus)
	assert.True(t, p.Stats.IgnoresMorale)
	assert.Equal(t, "u1", p.Info.OwnerUserID)
	require.Len(t, p.Abilities, 1)
	assert.Equal(t, 2, p.Abilities[0].UsesRemaining)
	assert.Nil(t, rec.Sheet.Abilities[0].Trigger)
	assert.Equal(t, 0, rec.Sheet.Abilities[0].UsesRemaining, "record untouched")
}

func TestExpand_QuantityProducesIndexedInstances(t *testing.T) {
	sel := roster.Selection{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 3}
	ps := roster.Expand(goblinRecord(), sel, nil, false)
	require.Len(t, ps, 3)
	for i, p := range ps {
		n := i + 1
		assert.Equal(t, "goblin-"+string(rune('0'+n)), p.Info.ID)
		assert.Equal(t, "Goblin #"+string(rune('0'+n)), p.Info.Name)
		assert.Equal(t, n, p.Info.InstanceIndex)
		assert.Equal(t, "goblin", p.Info.SourceID)
	}

	single := roster.Expand(goblinRecord(), roster.Selection{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideAlly, Quantity: 1}, nil, true)
	require.Len(t, single, 1)
	assert.Equal(t, "ally-goblin", single[0].Info.ID)
	assert.Equal(t, "Goblin", single[0].Info.Name)
}

func TestExpand_InstancesShareNothing(t *testing.T) {
	ps := roster.Expand(goblinRecord(), roster.Selection{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 2}, nil, false)
	ps[0].Attacks[0].Dice = "9d9"
	assert.Equal(t, "1d6", ps[1].Attacks[0].Dice)
}

func TestValidateSelections(t *testing.T) {
	assert.Error(t, roster.ValidateSelections(nil))
	assert.NoError(t, roster.ValidateSelections([]roster.Selection{
		{ID: "aria", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 1},
		{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideEnemy, Quantity: 4},
		{ID: "goblin", Kind: combatant.KindUnit, Side: combatant.SideAlly, Quantity: 1},
	}))

	err := roster.ValidateSelections([]roster.Selection{
		{ID: "", Kind: "dragon", Side: "neutral", Quantity: 0},
		{ID: "aria", Kind: combatant.KindCharacter, Side: combatant.SideAlly, Quantity: 2},
		{ID: "aria", Kind: combatant.KindCharacter, Side: combatant.SideEnemy, Quantity: 1},
	})
	require.Error(t, err)
	for _, frag := range []string{"id is required", "type must be", "side must be", "quantity must be", "cannot join more than once", "selected twice"} {
		assert.Contains(t, err.Error(), frag)
	}
}

func TestRefsFor_Dedupes(t *testing.T) {
	refs := roster.RefsFor([]roster.Selection{
		{ID: "goblin", Kind: combatant.KindUnit}, {ID: "aria", Kind: combatant.KindCharacter}, {ID: "goblin", Kind: combatant.KindUnit},
	})
	assert.Equal(t, []roster.Ref{{ID: "goblin", Kind: combatant.KindUnit}, {ID: "aria", Kind: combatant.KindCharacter}}, refs)
}

func TestMaterialize_HPAlwaysInRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rec := goblinRecord()
		rec.Kind = combatant.KindCharacter
		rec.Sheet.HP = rapid.IntRange(-10, 40).Draw(rt, "hp")
		rec.Sheet.MaxHP = rapid.IntRange(-5, 30).Draw(rt, "max")
		p := roster.Materialize(rec, combatant.SideAlly, nil)
		assert.GreaterOrEqual(rt, p.Stats.HP, 0)
		assert.LessOrEqual(rt, p.Stats.HP, p.Stats.MaxHP)
		assert.Equal(rt, p.Stats.HP == 0, p.IsDown())
	})
}
