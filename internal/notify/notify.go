// Package notify fans battle updates out to connected clients.
//
// Every successful mutation publishes the new scene on channel
// "battle-{id}" with event "battle-updated". Delivery is best effort: a
// failed publish is logged and never fails the mutation that caused it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/game/battle"
)

// EventBattleUpdated is the only event the gateway emits.
const EventBattleUpdated = "battle-updated"

// DefaultMaxPayloadBytes is the largest scene published in full.
const DefaultMaxPayloadBytes = 10240

// Publisher delivers one message to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
}

// Observer is notified of each delivery result.
type Observer interface {
	ObserveNotification(result string)
}

// Channel returns the channel name for a battle.
func Channel(battleID string) string { return "battle-" + battleID }

// Changed is the short message sent in place of an oversized scene. Clients
// re-fetch the battle when they receive it.
type Changed struct {
	Type     string `json:"type"`
	BattleID string `json:"battleId"`
}

// PublicView returns the client-facing copy of scene: rollback snapshots are
// stripped from every log entry, and once the battle has started the
// participant selection is dropped in favour of the initiative order.
func PublicView(scene battle.Scene) battle.Scene {
	out := scene.Clone()
	for i := range out.BattleLog {
		out.BattleLog[i].StateBefore = nil
	}
	if out.Status == battle.StatusActive || out.Status == battle.StatusCompleted {
		out.Participants = nil
	}
	return out
}

// Payload encodes the public view of scene, substituting a Changed message
// when the encoding exceeds maxBytes.
//
// Postcondition: full reports whether the returned bytes are the whole scene.
func Payload(scene battle.Scene, maxBytes int) (data []byte, full bool, err error) {
	data, err = json.Marshal(PublicView(scene))
	if err != nil {
		return nil, false, fmt.Errorf("encoding battle %s: %w", scene.ID, err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		data, err = json.Marshal(Changed{Type: EventBattleUpdated, BattleID: scene.ID})
		if err != nil {
			return nil, false, fmt.Errorf("encoding change signal: %w", err)
		}
		return data, false, nil
	}
	return data, true, nil
}

// Gateway publishes scene updates.
type Gateway struct {
	pub      Publisher
	logger   *zap.Logger
	maxBytes int
	timeout  time.Duration
	observer Observer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxPayloadBytes overrides DefaultMaxPayloadBytes.
func WithMaxPayloadBytes(n int) Option { return func(g *Gateway) { g.maxBytes = n } }

// WithTimeout bounds each publish (2s by default).
func WithTimeout(d time.Duration) Option { return func(g *Gateway) { g.timeout = d } }

// WithObserver reports delivery results, typically to metrics.
func WithObserver(o Observer) Option { return func(g *Gateway) { g.observer = o } }

// NewGateway creates a Gateway.
//
// Precondition: pub and logger must be non-nil.
func NewGateway(pub Publisher, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		pub:      pub,
		logger:   logger,
		maxBytes: DefaultMaxPayloadBytes,
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BattleUpdated publishes scene. Errors are logged and swallowed.
func (g *Gateway) BattleUpdated(ctx context.Context, scene battle.Scene) {
	data, full, err := Payload(scene, g.maxBytes)
	if err != nil {
		g.fail(scene.ID, err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.pub.Publish(ctx, Channel(scene.ID), EventBattleUpdated, data); err != nil {
		g.fail(scene.ID, err)
		return
	}
	if !full {
		g.logger.Debug("battle update too large, sent change signal",
			zap.String("battle", scene.ID),
			zap.Int("limit", g.maxBytes),
		)
	}
	g.observe("ok")
}

func (g *Gateway) fail(battleID string, err error) {
	g.logger.Warn("battle notification failed",
		zap.String("battle", battleID),
		zap.Error(err),
	)
	g.observe("error")
}

func (g *Gateway) observe(result string) {
	if g.observer != nil {
		g.observer.ObserveNotification(result)
	}
}
