// Package roster describes the campaign characters and units a battle draws
// its participants from, and turns them into combat-ready participants.
package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
)

// ErrRecordNotFound is returned by a Source when a requested record does not
// exist in the campaign.
var ErrRecordNotFound = errors.New("roster: record not found")

// Selection is one entry of a battle's participant list: a roster record,
// the side it fights on and how many instances of it join.
type Selection struct {
	ID       string         `json:"id"`
	Kind     combatant.Kind `json:"type"`
	Side     combatant.Side `json:"side"`
	Quantity int            `json:"quantity"`
	// Initiative is the result rolled at the table. When absent the
	// participant's dexterity modifier is used.
	Initiative *int `json:"initiative,omitempty"`
}

// Sheet is the combat-relevant part of a character or unit record.
type Sheet struct {
	Race            string                     `json:"race,omitempty"`
	Class           string                     `json:"class,omitempty"`
	UnitGroup       string                     `json:"unitGroup,omitempty"`
	Level           int                        `json:"level"`
	HP              int                        `json:"hp"`
	MaxHP           int                        `json:"maxHp"`
	AC              int                        `json:"ac"`
	Speed           int                        `json:"speed"`
	Morale          int                        `json:"morale"`
	AttackBonus     *int                       `json:"attackBonus,omitempty"`
	Scores          combatant.AbilityScores    `json:"abilityScores"`
	Attacks         []combatant.Attack         `json:"attacks,omitempty"`
	Abilities       []combatant.Ability        `json:"abilities,omitempty"`
	Equipment       []combatant.Item           `json:"equipment,omitempty"`
	DamageModifiers []combatant.DamageModifier `json:"damageModifiers,omitempty"`
	Spellcasting    *combatant.Spellcasting    `json:"spellcasting,omitempty"`
}

// Record is a campaign character or unit.
type Record struct {
	ID          string         `json:"id"`
	CampaignID  string         `json:"campaignId"`
	Kind        combatant.Kind `json:"type"`
	OwnerUserID string         `json:"ownerUserId,omitempty"`
	Name        string         `json:"name"`
	Sheet       Sheet          `json:"sheet"`
}

// Ref names a record to load.
type Ref struct {
	ID   string
	Kind combatant.Kind
}

// Source loads roster records for a campaign.
type Source interface {
	// LoadRoster returns the records named by refs, keyed by ID. A missing
	// record yields an error wrapping ErrRecordNotFound.
	LoadRoster(ctx context.Context, campaignID string, refs []Ref) (map[string]Record, error)
}

// RefsFor returns the refs of selections, one per distinct ID.
func RefsFor(selections []Selection) []Ref {
	seen := make(map[string]bool, len(selections))
	out := make([]Ref, 0, len(selections))
	for _, s := range selections {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, Ref{ID: s.ID, Kind: s.Kind})
	}
	return out
}

// ValidateSelections checks a participant list before a battle is prepared
// or started. Characters join at most once with quantity 1; units may join
// once per side with any positive quantity.
//
// Postcondition: Returns nil or an error describing every violation found.
func ValidateSelections(selections []Selection) error {
	if len(selections) == 0 {
		return errors.New("participants must not be empty")
	}
	var errs []error
	seen := make(map[string]bool, len(selections))
	for i, s := range selections {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("participants[%d]: id is required", i))
		}
		if !s.Kind.Valid() {
			errs = append(errs, fmt.Errorf("participants[%d]: type must be character or unit, got %q", i, s.Kind))
		}
		if !s.Side.Valid() {
			errs = append(errs, fmt.Errorf("participants[%d]: side must be ally or enemy, got %q", i, s.Side))
		}
		if s.Quantity < 1 {
			errs = append(errs, fmt.Errorf("participants[%d]: quantity must be >= 1, got %d", i, s.Quantity))
		}
		if s.Kind == combatant.KindCharacter && s.Quantity > 1 {
			errs = append(errs, fmt.Errorf("participants[%d]: character %q cannot join more than once", i, s.ID))
		}
		key := s.ID + "/" + string(s.Side)
		if s.Kind == combatant.KindCharacter {
			key = s.ID
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("participants[%d]: %q selected twice", i, s.ID))
		}
		seen[key] = true
	}
	return errors.Join(errs...)
}
