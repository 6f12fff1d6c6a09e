package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
)

// RosterRepository reads the campaign characters and units battles draw on.
type RosterRepository struct {
	db *pgxpool.Pool
}

// NewRosterRepository creates a RosterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRosterRepository(db *pgxpool.Pool) *RosterRepository {
	return &RosterRepository{db: db}
}

// LoadRoster implements roster.Source.
//
// Postcondition: Returns one record per ref or an error wrapping
// roster.ErrRecordNotFound naming the first missing ref.
func (r *RosterRepository) LoadRoster(ctx context.Context, campaignID string, refs []roster.Ref) (map[string]roster.Record, error) {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, campaign_id, kind, owner_user_id, name, sheet
		FROM roster_entries WHERE campaign_id = $1 AND id = ANY($2)`,
		campaignID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("querying roster: %w", err)
	}
	defer rows.Close()

	found := make(map[string]roster.Record, len(refs))
	for rows.Next() {
		var (
			rec   roster.Record
			kind  string
			sheet []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &kind, &rec.OwnerUserID, &rec.Name, &sheet); err != nil {
			return nil, fmt.Errorf("scanning roster row: %w", err)
		}
		rec.Kind = combatant.Kind(kind)
		if err := json.Unmarshal(sheet, &rec.Sheet); err != nil {
			return nil, fmt.Errorf("decoding sheet of %s: %w", rec.ID, err)
		}
		found[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}

	for _, ref := range refs {
		rec, ok := found[ref.ID]
		if !ok || rec.Kind != ref.Kind {
			return nil, fmt.Errorf("%w: %s %q", roster.ErrRecordNotFound, ref.Kind, ref.ID)
		}
	}
	return found, nil
}

// PutRecord inserts or replaces a roster record.
//
// Precondition: rec.CampaignID, rec.ID and rec.Kind must be set.
func (r *RosterRepository) PutRecord(ctx context.Context, rec roster.Record) error {
	sheet, err := json.Marshal(rec.Sheet)
	if err != nil {
		return fmt.Errorf("encoding sheet of %s: %w", rec.ID, err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO roster_entries (campaign_id, id, kind, owner_user_id, name, sheet)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (campaign_id, id) DO UPDATE SET
			kind = EXCLUDED.kind, owner_user_id = EXCLUDED.owner_user_id,
			name = EXCLUDED.name, sheet = EXCLUDED.sheet, updated_at = NOW()`,
		rec.CampaignID, rec.ID, string(rec.Kind), rec.OwnerUserID, rec.Name, sheet,
	)
	if err != nil {
		return fmt.Errorf("upserting roster entry %s: %w", rec.ID, err)
	}
	return nil
}
