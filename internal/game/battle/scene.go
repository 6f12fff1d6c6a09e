// Package battle implements the battle turn engine: the scene lifecycle,
// action resolution, victory detection and the reversible action log.
//
// The Engine is pure per call. Every operation takes a Scene value and
// returns a new Scene; persistence and notification live with the caller.
package battle

import (
	"time"

	"github.com/cory-johannsen/battlekeep/internal/game/combatant"
	"github.com/cory-johannsen/battlekeep/internal/game/damage"
	"github.com/cory-johannsen/battlekeep/internal/game/morale"
	"github.com/cory-johannsen/battlekeep/internal/game/roster"
)

// Status is a scene's lifecycle state.
type Status string

const (
	StatusPrepared  Status = "prepared"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Result records how a completed battle ended.
type Result string

const (
	ResultNone    Result = ""
	ResultVictory Result = "victory"
	ResultDefeat  Result = "defeat"
)

// Scene is one battle encounter.
//
// Invariants: while active, 0 <= CurrentTurnIndex < len(InitiativeOrder);
// while prepared, InitiativeOrder and BattleLog are empty; BattleLog[i].ActionIndex == i.
type Scene struct {
	ID               string                  `json:"id"`
	CampaignID       string                  `json:"campaignId"`
	Name             string                  `json:"name,omitempty"`
	Status           Status                  `json:"status"`
	Participants     []roster.Selection      `json:"participants,omitempty"`
	InitiativeOrder  []combatant.Participant `json:"initiativeOrder"`
	CurrentRound     int                     `json:"currentRound"`
	CurrentTurnIndex int                     `json:"currentTurnIndex"`
	BattleLog        []Action                `json:"battleLog"`
	Result           Result                  `json:"result,omitempty"`
	CreatedAt        time.Time               `json:"createdAt"`
	StartedAt        *time.Time              `json:"startedAt,omitempty"`
	CompletedAt      *time.Time              `json:"completedAt,omitempty"`
	// Version is the optimistic concurrency counter maintained by storage.
	Version int64 `json:"version"`
}

// Current returns the participant whose turn it is.
func (s Scene) Current() (combatant.Participant, bool) {
	if s.Status != StatusActive || s.CurrentTurnIndex < 0 || s.CurrentTurnIndex >= len(s.InitiativeOrder) {
		return combatant.Participant{}, false
	}
	return s.InitiativeOrder[s.CurrentTurnIndex], true
}

// Clone returns a deep copy of s.
func (s Scene) Clone() Scene {
	out := s
	out.Participants = append([]roster.Selection(nil), s.Participants...)
	out.InitiativeOrder = combatant.CloneOrder(s.InitiativeOrder)
	if s.BattleLog != nil {
		out.BattleLog = make([]Action, len(s.BattleLog))
		copy(out.BattleLog, s.BattleLog)
	}
	return out
}

// SceneRef identifies an active scene for listing.
type SceneRef struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaignId"`
	Name       string `json:"name,omitempty"`
	Round      int    `json:"currentRound"`
}

// ActionType is the closed set of logged actions.
type ActionType string

const (
	ActionAttack      ActionType = "attack"
	ActionSpell       ActionType = "spell"
	ActionBonus       ActionType = "bonus_action"
	ActionAbility     ActionType = "ability"
	ActionEndTurn     ActionType = "end_turn"
	ActionSkipTurn    ActionType = "skip_turn"
	ActionMoraleSkip  ActionType = "morale_skip"
	ActionMoraleCheck ActionType = "morale_check"
	// ActionSystem marks entries authored by the engine itself, such as
	// round-start passives and the post-victory restore.
	ActionSystem ActionType = "system"
)

// Snapshot is the turn state captured before an action.
type Snapshot struct {
	InitiativeOrder  []combatant.Participant `json:"initiativeOrder"`
	CurrentTurnIndex int                     `json:"currentTurnIndex"`
	CurrentRound     int                     `json:"currentRound"`
}

// ActionTarget names one target of an action.
type ActionTarget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HPChange is one participant's hit point change from an action.
type HPChange struct {
	ParticipantID string           `json:"participantId"`
	Name          string           `json:"name"`
	Before        int              `json:"before"`
	After         int              `json:"after"`
	Delta         int              `json:"delta"`
	StatusBefore  combatant.Status `json:"statusBefore"`
	StatusAfter   combatant.Status `json:"statusAfter"`
}

// TargetDamage is the breakdown dealt to one target.
type TargetDamage struct {
	TargetID  string           `json:"targetId"`
	Breakdown damage.Breakdown `json:"breakdown"`
}

// SpellDetails records a cast.
type SpellDetails struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Level    int      `json:"level"`
	SlotUsed bool     `json:"slotUsed"`
	Saved    []string `json:"savedTargetIds,omitempty"`
}

// AbilityDetails records an ability use.
type AbilityDetails struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	UsesRemaining int    `json:"usesRemaining,omitempty"`
}

// ActionDetails carries the resolution of an action.
type ActionDetails struct {
	AttackName   string          `json:"attackName,omitempty"`
	AttackRoll   int             `json:"attackRoll,omitempty"`
	AttackBonus  int             `json:"attackBonus,omitempty"`
	AttackTotal  int             `json:"attackTotal,omitempty"`
	TargetAC     int             `json:"targetAc,omitempty"`
	Hit          bool            `json:"hit"`
	Critical     bool            `json:"critical,omitempty"`
	CriticalMiss bool            `json:"criticalMiss,omitempty"`
	Damage       []TargetDamage  `json:"damage,omitempty"`
	Healing      int             `json:"healing,omitempty"`
	Spell        *SpellDetails   `json:"spell,omitempty"`
	Ability      *AbilityDetails `json:"ability,omitempty"`
	Morale       *morale.Result  `json:"morale,omitempty"`
	Passives     []string        `json:"passives,omitempty"`
	Outcome      string          `json:"outcome,omitempty"`
}

// Action is one entry in a scene's battle log.
type Action struct {
	ID          string         `json:"id"`
	BattleID    string         `json:"battleId"`
	Round       int            `json:"round"`
	ActionIndex int            `json:"actionIndex"`
	ActorID     string         `json:"actorId,omitempty"`
	ActorName   string         `json:"actorName,omitempty"`
	ActorSide   combatant.Side `json:"actorSide,omitempty"`
	Type        ActionType     `json:"actionType"`
	Targets     []ActionTarget `json:"targets,omitempty"`
	Details     ActionDetails  `json:"actionDetails"`
	HPChanges   []HPChange     `json:"hpChanges,omitempty"`
	ResultText  string         `json:"resultText"`
	StateBefore *Snapshot      `json:"stateBefore,omitempty"`
	IsCancelled bool           `json:"isCancelled,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
