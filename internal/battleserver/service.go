// Package battleserver exposes battle operations to callers: it loads a
// scene, checks the caller's campaign role, runs the engine, persists the
// result and announces the change.
package battleserver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
	"github.com/cory-johannsen/battlekeep/internal/observability"
	"github.com/cory-johannsen/battlekeep/internal/storage"
)

// Operation names used in logs and metrics.
const (
	OpCreate     = "create"
	OpGet        = "get"
	OpListActive = "list_active"
	OpStart      = "start"
	OpAction     = "action"
	OpNextTurn   = "next_turn"
	OpMorale     = "morale_check"
	OpRollback   = "rollback"
	OpReset      = "reset"
)

// Notifier announces a changed scene. *notify.Gateway satisfies it.
type Notifier interface {
	BattleUpdated(ctx context.Context, scene battle.Scene)
}

// Observer records operation outcomes. *observability.Metrics satisfies it.
type Observer interface {
	ObserveOperation(op, result string, elapsed time.Duration)
}

// Service runs battle operations on behalf of authenticated users.
type Service struct {
	store    storage.Store
	engine   *battle.Engine
	notifier Notifier
	observer Observer
	logger   *zap.Logger
}

// NewService creates a Service. observer may be nil.
//
// Precondition: store, engine, notifier and logger must be non-nil.
func NewService(store storage.Store, engine *battle.Engine, notifier Notifier, observer Observer, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		engine:   engine,
		notifier: notifier,
		observer: observer,
		logger:   logger,
	}
}

// CreateRequest describes a scene to prepare.
type CreateRequest struct {
	Name         string             `json:"name"`
	Participants []roster.Selection `json:"participants"`
}

// Create prepares a new scene in campaignID. Only the campaign's DM may
// create battles, and every selected record must exist in the campaign.
func (s *Service) Create(ctx context.Context, userID, campaignID string, req CreateRequest) (scene battle.Scene, err error) {
	defer s.observe(OpCreate, time.Now(), &err)

	caller, err := s.caller(ctx, campaignID, userID)
	if err != nil {
		return battle.Scene{}, err
	}
	if !caller.IsDM() {
		return battle.Scene{}, battle.NewError(battle.KindForbidden, "only the campaign's DM can create battles")
	}
	scene, err = s.engine.Prepare(campaignID, req.Name, req.Participants)
	if err != nil {
		return battle.Scene{}, err
	}
	records, err := s.store.LoadRoster(ctx, campaignID, roster.RefsFor(scene.Participants))
	if err != nil {
		return battle.Scene{}, storageError(err)
	}
	if err := s.validateTriggers(records); err != nil {
		return battle.Scene{}, err
	}
	scene, err = s.store.CreateScene(ctx, scene)
	if err != nil {
		return battle.Scene{}, storageError(err)
	}
	observability.ForBattle(s.logger, scene.ID, campaignID).Info("battle created",
		zap.Int("selections", len(scene.Participants)),
	)
	s.notifier.BattleUpdated(context.WithoutCancel(ctx), scene)
	return scene, nil
}

// validateTriggers rejects records carrying a malformed ability trigger.
func (s *Service) validateTriggers(records map[string]roster.Record) error {
	for id, rec := range records {
		for _, ab := range rec.Sheet.Abilities {
			if ab.Trigger == nil {
				continue
			}
			if err := s.engine.Triggers().Validate(*ab.Trigger); err != nil {
				return battle.Wrap(battle.KindValidation, "invalid trigger on "+id+" ability "+ab.ID, err)
			}
		}
	}
	return nil
}

// Get returns a scene to any member of its campaign.
func (s *Service) Get(ctx context.Context, userID, battleID string) (scene battle.Scene, err error) {
	defer s.observe(OpGet, time.Now(), &err)

	scene, _, err = s.load(ctx, userID, battleID)
	return scene, err
}

// ListActive returns the active scenes of every campaign userID belongs to.
func (s *Service) ListActive(ctx context.Context, userID string) (refs []battle.SceneRef, err error) {
	defer s.observe(OpListActive, time.Now(), &err)

	refs, err = s.store.FindActiveScenesForUser(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	return refs, nil
}

// Start rolls the scene's roster into participants and begins round 1.
func (s *Service) Start(ctx context.Context, userID, battleID string) (battle.Scene, error) {
	return s.mutate(ctx, OpStart, userID, battleID, true, func(scene battle.Scene, _ battle.Caller) (battle.Scene, error) {
		records, err := s.store.LoadRoster(ctx, scene.CampaignID, roster.RefsFor(scene.Participants))
		if err != nil {
			return scene, storageError(err)
		}
		return s.engine.Start(ctx, scene, records)
	})
}

// ApplyAction resolves one participant action. Players may act only for
// their own characters on their turn; the DM may act for anyone.
func (s *Service) ApplyAction(ctx context.Context, userID, battleID string, req battle.ActionRequest) (battle.Scene, error) {
	return s.mutate(ctx, OpAction, userID, battleID, false, func(scene battle.Scene, caller battle.Caller) (battle.Scene, error) {
		return s.engine.ApplyAction(ctx, scene, caller, req)
	})
}

// NextTurn advances the turn pointer.
func (s *Service) NextTurn(ctx context.Context, userID, battleID string) (battle.Scene, error) {
	return s.mutate(ctx, OpNextTurn, userID, battleID, true, func(scene battle.Scene, _ battle.Caller) (battle.Scene, error) {
		return s.engine.NextTurn(ctx, scene)
	})
}

// MoraleCheck applies a morale roll to the current participant.
func (s *Service) MoraleCheck(ctx context.Context, userID, battleID string, roll int) (battle.Scene, error) {
	return s.mutate(ctx, OpMorale, userID, battleID, true, func(scene battle.Scene, _ battle.Caller) (battle.Scene, error) {
		return s.engine.MoraleCheck(ctx, scene, roll)
	})
}

// Rollback restores the scene to the state before the action at index.
func (s *Service) Rollback(ctx context.Context, userID, battleID string, index int) (battle.Scene, error) {
	return s.mutate(ctx, OpRollback, userID, battleID, true, func(scene battle.Scene, _ battle.Caller) (battle.Scene, error) {
		return s.engine.Rollback(ctx, scene, index)
	})
}

// Reset returns the scene to preparation.
func (s *Service) Reset(ctx context.Context, userID, battleID string) (battle.Scene, error) {
	return s.mutate(ctx, OpReset, userID, battleID, true, func(scene battle.Scene, _ battle.Caller) (battle.Scene, error) {
		return s.engine.Reset(ctx, scene)
	})
}

// mutate loads the scene, checks the caller, applies fn and saves the
// result. A failure at any step leaves the stored scene unchanged.
func (s *Service) mutate(ctx context.Context, op, userID, battleID string, dmOnly bool,
	fn func(battle.Scene, battle.Caller) (battle.Scene, error)) (out battle.Scene, err error) {
	defer s.observe(op, time.Now(), &err)

	scene, caller, err := s.load(ctx, userID, battleID)
	if err != nil {
		return battle.Scene{}, err
	}
	if dmOnly && !caller.IsDM() {
		return battle.Scene{}, battle.NewError(battle.KindForbidden, "only the campaign's DM can "+describe(op))
	}

	next, err := fn(scene, caller)
	if err != nil {
		return battle.Scene{}, err
	}
	next.Version = scene.Version
	saved, err := s.store.SaveScene(ctx, next)
	if err != nil {
		return battle.Scene{}, storageError(err)
	}

	observability.ForBattle(s.logger, saved.ID, saved.CampaignID).Debug("battle saved",
		zap.String("op", op),
		zap.String("status", string(saved.Status)),
		zap.Int64("version", saved.Version),
	)
	s.notifier.BattleUpdated(context.WithoutCancel(ctx), saved)
	return saved, nil
}

// load fetches a scene and the caller's role in its campaign. Non-members
// receive Forbidden.
func (s *Service) load(ctx context.Context, userID, battleID string) (battle.Scene, battle.Caller, error) {
	scene, err := s.store.LoadScene(ctx, battleID)
	if err != nil {
		return battle.Scene{}, battle.Caller{}, storageError(err)
	}
	caller, err := s.caller(ctx, scene.CampaignID, userID)
	if err != nil {
		return battle.Scene{}, battle.Caller{}, err
	}
	return scene, caller, nil
}

func (s *Service) caller(ctx context.Context, campaignID, userID string) (battle.Caller, error) {
	role, err := s.store.Role(ctx, campaignID, userID)
	if err != nil {
		return battle.Caller{}, storageError(err)
	}
	caller := battle.Caller{UserID: userID, Role: role}
	if !caller.IsMember() {
		return battle.Caller{}, battle.NewError(battle.KindForbidden, "not a member of this campaign")
	}
	return caller, nil
}

func (s *Service) observe(op string, start time.Time, err *error) {
	if s.observer == nil {
		return
	}
	result := observability.ResultOK
	if *err != nil {
		result = observability.ResultError
	}
	s.observer.ObserveOperation(op, result, time.Since(start))
}

// storageError translates storage sentinels into battle error kinds.
func storageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrSceneNotFound):
		return battle.Wrap(battle.KindNotFound, "battle not found", err)
	case errors.Is(err, storage.ErrVersionConflict):
		return battle.Wrap(battle.KindConflict, "battle was changed by another request", err)
	case errors.Is(err, storage.ErrSceneExists):
		return battle.Wrap(battle.KindConflict, "battle already exists", err)
	case errors.Is(err, roster.ErrRecordNotFound):
		return battle.Wrap(battle.KindNotFound, "participant not found in campaign", err)
	}
	return err
}

func describe(op string) string {
	switch op {
	case OpStart:
		return "start battles"
	case OpNextTurn:
		return "advance turns"
	case OpMorale:
		return "roll morale"
	case OpRollback:
		return "roll back battles"
	case OpReset:
		return "reset battles"
	}
	return op
}
