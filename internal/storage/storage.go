// Package storage defines the persistence contracts of the battle server
// and the errors every implementation reports.
package storage

import (
	"context"
	"errors"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
)

var (
	// ErrSceneNotFound is returned when no scene has the requested id.
	ErrSceneNotFound = errors.New("scene not found")
	// ErrVersionConflict is returned by SaveScene when the stored version
	// no longer matches the scene being saved.
	ErrVersionConflict = errors.New("scene version conflict")
	// ErrSceneExists is returned by CreateScene for a duplicate id.
	ErrSceneExists = errors.New("scene already exists")
)

// SceneStore persists battle scenes. Writes are single-writer per scene:
// SaveScene succeeds only if scene.Version matches the stored version.
type SceneStore interface {
	// CreateScene inserts a new scene at version 1.
	CreateScene(ctx context.Context, scene battle.Scene) (battle.Scene, error)
	// LoadScene returns the scene with id or ErrSceneNotFound.
	LoadScene(ctx context.Context, id string) (battle.Scene, error)
	// SaveScene replaces the stored scene and returns it with its new
	// version, or ErrVersionConflict when another writer got there first.
	SaveScene(ctx context.Context, scene battle.Scene) (battle.Scene, error)
	// FindActiveScenesForUser lists active scenes in campaigns the user
	// belongs to.
	FindActiveScenesForUser(ctx context.Context, userID string) ([]battle.SceneRef, error)
}

// AccessChecker resolves a user's role in a campaign. Non-members get
// battle.RoleNone and a nil error.
type AccessChecker interface {
	Role(ctx context.Context, campaignID, userID string) (battle.Role, error)
}

// Store bundles everything the battle service needs from persistence.
type Store interface {
	SceneStore
	AccessChecker
	roster.Source
}
