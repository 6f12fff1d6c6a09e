// Package memory is an in-process Store used in development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
	"github.com/cory-johannsen/battlekeep/internal/storage"
)

// Store keeps scenes, roster records and memberships in maps guarded by a
// single mutex. Scenes are deep-copied on the way in and out.
type Store struct {
	mu      sync.Mutex
	scenes  map[string]battle.Scene
	records map[string]map[string]roster.Record
	members map[string]map[string]battle.Role
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		scenes:  make(map[string]battle.Scene),
		records: make(map[string]map[string]roster.Record),
		members: make(map[string]map[string]battle.Role),
	}
}

var _ storage.Store = (*Store)(nil)

// CreateScene implements storage.SceneStore.
func (s *Store) CreateScene(_ context.Context, scene battle.Scene) (battle.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenes[scene.ID]; ok {
		return battle.Scene{}, storage.ErrSceneExists
	}
	scene.Version = 1
	s.scenes[scene.ID] = scene.Clone()
	return scene, nil
}

// LoadScene implements storage.SceneStore.
func (s *Store) LoadScene(_ context.Context, id string) (battle.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene, ok := s.scenes[id]
	if !ok {
		return battle.Scene{}, storage.ErrSceneNotFound
	}
	return scene.Clone(), nil
}

// SaveScene implements storage.SceneStore.
func (s *Store) SaveScene(_ context.Context, scene battle.Scene) (battle.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.scenes[scene.ID]
	if !ok {
		return battle.Scene{}, storage.ErrSceneNotFound
	}
	if cur.Version != scene.Version {
		return battle.Scene{}, fmt.Errorf("%w: have %d, stored %d", storage.ErrVersionConflict, scene.Version, cur.Version)
	}
	scene.Version++
	s.scenes[scene.ID] = scene.Clone()
	return scene, nil
}

// FindActiveScenesForUser implements storage.SceneStore.
func (s *Store) FindActiveScenesForUser(_ context.Context, userID string) ([]battle.SceneRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []battle.SceneRef
	for _, sc := range s.scenes {
		if sc.Status != battle.StatusActive {
			continue
		}
		if s.members[sc.CampaignID][userID] == battle.RoleNone {
			continue
		}
		out = append(out, battle.SceneRef{ID: sc.ID, CampaignID: sc.CampaignID, Name: sc.Name, Round: sc.CurrentRound})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Role implements storage.AccessChecker.
func (s *Store) Role(_ context.Context, campaignID, userID string) (battle.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[campaignID][userID], nil
}

// LoadRoster implements roster.Source.
func (s *Store) LoadRoster(_ context.Context, campaignID string, refs []roster.Ref) (map[string]roster.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]roster.Record, len(refs))
	for _, ref := range refs {
		rec, ok := s.records[campaignID][ref.ID]
		if !ok || rec.Kind != ref.Kind {
			return nil, fmt.Errorf("%w: %s %q", roster.ErrRecordNotFound, ref.Kind, ref.ID)
		}
		out[ref.ID] = rec
	}
	return out, nil
}

// PutRecord adds or replaces a roster record.
func (s *Store) PutRecord(rec roster.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[rec.CampaignID] == nil {
		s.records[rec.CampaignID] = make(map[string]roster.Record)
	}
	s.records[rec.CampaignID][rec.ID] = rec
}

// SetRole grants userID role in campaignID. RoleNone removes the membership.
func (s *Store) SetRole(campaignID, userID string, role battle.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == battle.RoleNone {
		delete(s.members[campaignID], userID)
		return
	}
	if s.members[campaignID] == nil {
		s.members[campaignID] = make(map[string]battle.Role)
	}
	s.members[campaignID][userID] = role
}
