package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
	"github.com/cory-johannsen/battlekeep/internal/storage"
)

// Scene errors, shared with every storage implementation.
var (
	ErrSceneNotFound   = storage.ErrSceneNotFound
	ErrVersionConflict = storage.ErrVersionConflict
)

// SceneRepository stores battle scenes. The participant selection,
// initiative order and battle log are JSONB documents; everything the
// server filters on is a column.
type SceneRepository struct {
	db *pgxpool.Pool
}

// NewSceneRepository creates a SceneRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSceneRepository(db *pgxpool.Pool) *SceneRepository {
	return &SceneRepository{db: db}
}

type sceneDocs struct {
	participants, order, log []byte
}

func encodeDocs(s battle.Scene) (sceneDocs, error) {
	var d sceneDocs
	var err error
	if d.participants, err = json.Marshal(nonNil(s.Participants)); err != nil {
		return d, fmt.Errorf("encoding participants: %w", err)
	}
	if d.order, err = json.Marshal(nonNil(s.InitiativeOrder)); err != nil {
		return d, fmt.Errorf("encoding initiative order: %w", err)
	}
	if d.log, err = json.Marshal(nonNil(s.BattleLog)); err != nil {
		return d, fmt.Errorf("encoding battle log: %w", err)
	}
	return d, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// CreateScene inserts scene at version 1.
//
// Precondition: scene.ID must be unique.
// Postcondition: Returns the stored scene or storage.ErrSceneExists.
func (r *SceneRepository) CreateScene(ctx context.Context, scene battle.Scene) (battle.Scene, error) {
	d, err := encodeDocs(scene)
	if err != nil {
		return battle.Scene{}, err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO battle_scenes
			(id, campaign_id, name, status, participants, initiative_order,
			 current_round, current_turn_index, battle_log, result,
			 created_at, started_at, completed_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)`,
		scene.ID, scene.CampaignID, scene.Name, string(scene.Status), d.participants, d.order,
		scene.CurrentRound, scene.CurrentTurnIndex, d.log, string(scene.Result),
		scene.CreatedAt, scene.StartedAt, scene.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return battle.Scene{}, storage.ErrSceneExists
		}
		return battle.Scene{}, fmt.Errorf("inserting scene: %w", err)
	}
	scene.Version = 1
	return scene, nil
}

// LoadScene retrieves a scene by id.
//
// Postcondition: Returns the Scene or ErrSceneNotFound.
func (r *SceneRepository) LoadScene(ctx context.Context, id string) (battle.Scene, error) {
	var (
		s              battle.Scene
		status, result string
		d              sceneDocs
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, campaign_id, name, status, participants, initiative_order,
		       current_round, current_turn_index, battle_log, result,
		       created_at, started_at, completed_at, version
		FROM battle_scenes WHERE id = $1`,
		id,
	).Scan(
		&s.ID, &s.CampaignID, &s.Name, &status, &d.participants, &d.order,
		&s.CurrentRound, &s.CurrentTurnIndex, &d.log, &result,
		&s.CreatedAt, &s.StartedAt, &s.CompletedAt, &s.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return battle.Scene{}, ErrSceneNotFound
		}
		return battle.Scene{}, fmt.Errorf("querying scene %s: %w", id, err)
	}
	s.Status = battle.Status(status)
	s.Result = battle.Result(result)

	var sels []roster.Selection
	if err := json.Unmarshal(d.participants, &sels); err != nil {
		return battle.Scene{}, fmt.Errorf("decoding participants of %s: %w", id, err)
	}
	var order []combatant.Participant
	if err := json.Unmarshal(d.order, &order); err != nil {
		return battle.Scene{}, fmt.Errorf("decoding initiative order of %s: %w", id, err)
	}
	var log []battle.Action
	if err := json.Unmarshal(d.log, &log); err != nil {
		return battle.Scene{}, fmt.Errorf("decoding battle log of %s: %w", id, err)
	}
	if len(sels) > 0 {
		s.Participants = sels
	}
	if len(order) > 0 {
		s.InitiativeOrder = order
	}
	if len(log) > 0 {
		s.BattleLog = log
	}
	return s, nil
}

// SaveScene writes scene if its version still matches the stored one.
//
// Postcondition: Returns the scene with Version incremented, ErrSceneNotFound
// or ErrVersionConflict. On error the stored row is unchanged.
func (r *SceneRepository) SaveScene(ctx context.Context, scene battle.Scene) (battle.Scene, error) {
	d, err := encodeDocs(scene)
	if err != nil {
		return battle.Scene{}, err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return battle.Scene{}, fmt.Errorf("beginning save of %s: %w", scene.ID, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var version int64
	err = tx.QueryRow(ctx, `
		UPDATE battle_scenes SET
			name = $3, status = $4, participants = $5, initiative_order = $6,
			current_round = $7, current_turn_index = $8, battle_log = $9, result = $10,
			started_at = $11, completed_at = $12,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version`,
		scene.ID, scene.Version, scene.Name, string(scene.Status), d.participants, d.order,
		scene.CurrentRound, scene.CurrentTurnIndex, d.log, string(scene.Result),
		scene.StartedAt, scene.CompletedAt,
	).Scan(&version)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return battle.Scene{}, fmt.Errorf("committing save of %s: %w", scene.ID, err)
		}
		scene.Version = version
		return scene, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return battle.Scene{}, fmt.Errorf("updating scene %s: %w", scene.ID, err)
	}

	// No row matched: tell a missing scene from a stale version.
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM battle_scenes WHERE id = $1)`, scene.ID).Scan(&exists); err != nil {
		return battle.Scene{}, fmt.Errorf("checking scene %s: %w", scene.ID, err)
	}
	if !exists {
		return battle.Scene{}, ErrSceneNotFound
	}
	return battle.Scene{}, fmt.Errorf("%w: scene %s at version %d", ErrVersionConflict, scene.ID, scene.Version)
}

// FindActiveScenesForUser lists active scenes in campaigns userID belongs to,
// ordered by id.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *SceneRepository) FindActiveScenesForUser(ctx context.Context, userID string) ([]battle.SceneRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.campaign_id, s.name, s.current_round
		FROM battle_scenes s
		JOIN campaign_members m ON m.campaign_id = s.campaign_id
		WHERE m.user_id = $1 AND s.status = 'active'
		ORDER BY s.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active scenes: %w", err)
	}
	defer rows.Close()

	refs := make([]battle.SceneRef, 0)
	for rows.Next() {
		var ref battle.SceneRef
		if err := rows.Scan(&ref.ID, &ref.CampaignID, &ref.Name, &ref.Round); err != nil {
			return nil, fmt.Errorf("scanning scene row: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
