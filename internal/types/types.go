package types

import "time"

// Status is the session lifecycle state machine. Negotiation happens inside
// "waiting"; "ready" means settings are agreed and the battle gate is armed.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusReady   Status = "ready"
	StatusBattle  Status = "battle"
	StatusEnded   Status = "ended"
)

type Speed string

const (
	SpeedSlow     Speed = "slow"
	SpeedStandard Speed = "standard"
	SpeedFast     Speed = "fast"
)

const DefaultTeamSize = 3

// ReservedTestAddress may hold seats in multiple concurrent sessions under
// one identity. A testing quirk, not a general mechanism.
const ReservedTestAddress = "0x00000000000000000000000000000000000dEa1"

// Settings are the negotiable match parameters.
type Settings struct {
	TeamSize int   `json:"teamSize"`
	Speed    Speed `json:"speed"`
}

// Normalize clamps a client-requested settings payload into the supported
// range. Unknown speeds fall back to standard.
func (s Settings) Normalize() Settings {
	if s.TeamSize < 1 || s.TeamSize > 5 {
		s.TeamSize = DefaultTeamSize
	}
	switch s.Speed {
	case SpeedSlow, SpeedStandard, SpeedFast:
	default:
		s.Speed = SpeedStandard
	}
	return s
}

// TimerForSpeed is the per-turn countdown in seconds. Always a pure function
// of the agreed speed.
func TimerForSpeed(sp Speed) int {
	switch sp {
	case SpeedSlow:
		return 60
	case SpeedFast:
		return 15
	default:
		return 30
	}
}

// TeamUnit is one client-authored team slot. Zero stats are filled with
// engine defaults at battle start.
type TeamUnit struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Element string `json:"element"`
	HP      int    `json:"hp,omitempty"`
	Attack  int    `json:"attack,omitempty"`
	Defense int    `json:"defense,omitempty"`
	Speed   int    `json:"speed,omitempty"`
	Energy  int    `json:"energy,omitempty"`
	Crit    int    `json:"crit,omitempty"`
}

// ClientMessage is the single client -> server envelope. Which fields are
// meaningful depends on Type.
type ClientMessage struct {
	Type string `json:"type"`

	// start-waiting
	Address  string `json:"address,omitempty"`
	Name     string `json:"name,omitempty"`
	TeamSize int    `json:"teamSize,omitempty"`
	Speed    Speed  `json:"speed,omitempty"`

	// team
	Units []TeamUnit `json:"units,omitempty"`

	// action
	ActionType  string  `json:"actionType,omitempty"`
	SourceID    string  `json:"sourceId,omitempty"`
	TargetID    string  `json:"targetId,omitempty"`
	AbilityID   string  `json:"abilityId,omitempty"`
	TimingBonus float64 `json:"timingBonus,omitempty"`
}

// Client message types.
const (
	MsgStartWaiting    = "start-waiting"
	MsgStopWaiting     = "stop-waiting"
	MsgReady           = "ready"
	MsgTeam            = "team"
	MsgAction          = "action"
	MsgProposeSettings = "propose-settings"
	MsgAcceptSettings  = "accept-settings"
	MsgForfeit         = "forfeit"
)

// Server message types.
const (
	MsgPlayerLooking      = "player-looking"
	MsgPlayersWaiting     = "players-waiting"
	MsgOnlineCount        = "online-count"
	MsgSettingsMismatch   = "settings-mismatch"
	MsgSettingsProposal   = "settings-proposal"
	MsgSettingsAccepted   = "settings-accepted"
	MsgMatchReady         = "match-ready"
	MsgBattleStart        = "battle-start"
	MsgTurnStart          = "turn-start"
	MsgActionResult       = "action-result"
	MsgBattleEnd          = "battle-end"
	MsgPlayerForfeited    = "player-forfeited"
	MsgPlayerDisconnected = "player-disconnected"
	MsgPlayerReconnected  = "player-reconnected"
	MsgSnapshot           = "snapshot"
	MsgError              = "error"
)

// ServerMessage is the single server -> client envelope.
type ServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`

	Settings         *Settings `json:"settings,omitempty"`
	YourSettings     *Settings `json:"yourSettings,omitempty"`
	OpponentSettings *Settings `json:"opponentSettings,omitempty"`
	FinalSettings    *Settings `json:"finalSettings,omitempty"`

	Looking *WaitingInfo  `json:"looking,omitempty"`
	Waiting []WaitingInfo `json:"waiting,omitempty"`
	Count   int           `json:"count"`

	UnitID string `json:"unitId,omitempty"`
	Timer  int    `json:"timer,omitempty"`

	Result *ActionResult `json:"result,omitempty"`

	Winner string `json:"winner,omitempty"`
	Loser  string `json:"loser,omitempty"`

	Version int       `json:"version,omitempty"`
	State   *Snapshot `json:"state,omitempty"`
}

// WaitingInfo is one waiting-room entry as advertised to other players.
type WaitingInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TeamSize     int       `json:"teamSize"`
	Speed        Speed     `json:"speed"`
	WaitingSince time.Time `json:"waitingSince"`
}

// UnitView is the per-unit slice of an action result.
type UnitView struct {
	ID            string `json:"id"`
	CurrentHP     int    `json:"currentHp"`
	CurrentEnergy int    `json:"currentEnergy"`
	IsAlive       bool   `json:"isAlive"`
}

// ActionResult is the authoritative outcome of one resolved action, sent
// identically to both clients.
type ActionResult struct {
	Damage       int        `json:"damage"`
	Critical     bool       `json:"critical"`
	AttackerID   string     `json:"attackerId"`
	TargetID     string     `json:"targetId"`
	Units        []UnitView `json:"units"`
	TurnOrder    []string   `json:"turnOrder"`
	TurnIndex    int        `json:"turnIndex"`
	BattleEnded  bool       `json:"battleEnded"`
	NextPlayerID string     `json:"nextPlayerId,omitempty"`
	NextUnitID   string     `json:"nextUnitId,omitempty"`
}

// PlayerView mirrors one player into the replica.
type PlayerView struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
}

// UnitDetail mirrors one battle unit into the replica.
type UnitDetail struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	Element   string `json:"element"`
	HP        int    `json:"hp"`
	MaxHP     int    `json:"maxHp"`
	Energy    int    `json:"energy"`
	MaxEnergy int    `json:"maxEnergy"`
	Alive     bool   `json:"alive"`
	Position  int    `json:"position"`
}

// LastAction is retained for UI purposes only.
type LastAction struct {
	PlayerID    string    `json:"playerId"`
	Kind        string    `json:"kind"`
	SourceID    string    `json:"sourceId"`
	TargetID    string    `json:"targetId,omitempty"`
	AbilityID   string    `json:"abilityId,omitempty"`
	TimingBonus float64   `json:"timingBonus,omitempty"`
	At          time.Time `json:"at"`
}

// Snapshot is the replicated session view: a plain versioned value, sent in
// full on join and after every resolved change. No replication library is
// assumed on either end.
type Snapshot struct {
	Players       map[string]PlayerView `json:"players"`
	Units         []UnitDetail          `json:"units"`
	Status        Status                `json:"status"`
	CurrentTurn   string                `json:"currentTurn,omitempty"`
	TurnTimer     int                   `json:"turnTimer"`
	TurnNumber    int                   `json:"turnNumber"`
	TurnOrder     []string              `json:"turnOrder,omitempty"`
	TurnIndex     int                   `json:"turnIndex"`
	TeamSize      int                   `json:"teamSize"`
	Speed         Speed                 `json:"speed"`
	TimerDuration int                   `json:"timerDuration"`
	Winner        string                `json:"winner,omitempty"`
	Loser         string                `json:"loser,omitempty"`
	LastAction    *LastAction           `json:"lastAction,omitempty"`
	BattleLog     []string              `json:"battleLog,omitempty"`
}
