package session

import "github.com/chainbrawl/battle-backend/internal/types"

// Msg is anything that can land on the session's inbox. Inbound client
// traffic and timer fires share the one queue, so they are never concurrent
// with each other inside a session.
type Msg interface{ isSessionMsg() }

// Join attaches a connection to the session. If a disconnected player with
// the same wallet address is holding a seat, the connection resumes that
// seat instead of taking a new one.
type Join struct {
	Address  string
	Name     string
	Settings types.Settings
	Team     []types.TeamUnit // optional; can also arrive later as a team message
	Wins     int
	Losses   int
	Outbox   chan types.ServerMessage
	Reply    chan JoinResult
}

// JoinResult carries the seat's player id back to the transport layer, or a
// refusal.
type JoinResult struct {
	PlayerID string
	Err      string
}

// Leave detaches a connection. Consensual leaves (clean close, stop) remove
// the player outright; non-consensual ones during battle open the
// reconnection grace window instead.
type Leave struct {
	PlayerID   string
	Consensual bool
}

// FromClient is one decoded protocol message attributed to a seat.
type FromClient struct {
	PlayerID string
	Msg      types.ClientMessage
}

// GetState is a test-only probe reflecting internal state without races.
type GetState struct{ Reply chan View }

type Shutdown struct{}

// timerFired is posted by expired AfterFunc tasks. The generation counter
// lets the loop drop fires that were superseded by a real event.
type timerFired struct {
	kind     timerKind
	gen      uint64
	playerID string
}

type timerKind int

const (
	timerNextTurn timerKind = iota
	timerGrace
	timerTeardown
)

func (Join) isSessionMsg()       {}
func (Leave) isSessionMsg()      {}
func (FromClient) isSessionMsg() {}
func (GetState) isSessionMsg()   {}
func (Shutdown) isSessionMsg()   {}
func (timerFired) isSessionMsg() {}

// View is the test-only reflection of a session.
type View struct {
	ID          string
	Status      types.Status
	Version     int
	NumPlayers  int
	Settings    types.Settings
	TurnNumber  int
	TurnTimer   int
	CurrentTurn string
	Winner      string
	Loser       string
	Snapshot    types.Snapshot
}
