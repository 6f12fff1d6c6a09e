package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
)

// ErrInvalidRole is returned when an unrecognised role string is supplied.
var ErrInvalidRole = errors.New("invalid role")

// ValidRole reports whether role is a recognised campaign role.
func ValidRole(role battle.Role) bool {
	return role == battle.RolePlayer || role == battle.RoleDM
}

// AccessRepository answers campaign membership questions.
type AccessRepository struct {
	db *pgxpool.Pool
}

// NewAccessRepository creates an AccessRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAccessRepository(db *pgxpool.Pool) *AccessRepository {
	return &AccessRepository{db: db}
}

// Role returns userID's role in campaignID, or battle.RoleNone for a non-member.
func (r *AccessRepository) Role(ctx context.Context, campaignID, userID string) (battle.Role, error) {
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT role FROM campaign_members WHERE campaign_id = $1 AND user_id = $2`,
		campaignID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return battle.RoleNone, nil
		}
		return battle.RoleNone, fmt.Errorf("querying membership: %w", err)
	}
	return battle.Role(role), nil
}

// SetRole grants userID role in campaignID. RoleNone removes the membership.
//
// Postcondition: Returns ErrInvalidRole for any role other than player, dm or none.
func (r *AccessRepository) SetRole(ctx context.Context, campaignID, userID string, role battle.Role) error {
	if role == battle.RoleNone {
		_, err := r.db.Exec(ctx, `DELETE FROM campaign_members WHERE campaign_id = $1 AND user_id = $2`, campaignID, userID)
		if err != nil {
			return fmt.Errorf("removing membership: %w", err)
		}
		return nil
	}
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO campaign_members (campaign_id, user_id, role) VALUES ($1,$2,$3)
		ON CONFLICT (campaign_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		campaignID, userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("upserting membership: %w", err)
	}
	return nil
}

// Store combines the repositories into a storage.Store.
type Store struct {
	*SceneRepository
	*RosterRepository
	*AccessRepository
}

// NewStore creates a Store over pool.
func NewStore(pool *Pool) *Store {
	db := pool.DB()
	return &Store{
		SceneRepository:  NewSceneRepository(db),
		RosterRepository: NewRosterRepository(db),
		AccessRepository: NewAccessRepository(db),
	}
}
