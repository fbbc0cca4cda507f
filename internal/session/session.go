package session

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/engine"
	"github.com/chainbrawl/battle-backend/internal/records"
	"github.com/chainbrawl/battle-backend/internal/types"
)

// Timings are the session's scheduling knobs. The countdown is measured in
// ticks, so tests can shrink Tick and run the whole turn loop in
// milliseconds without touching the countdown semantics.
type Timings struct {
	Tick          time.Duration // countdown granularity (1s in production)
	Extension     int           // one-shot "still selecting" extension, in ticks
	Continuation  time.Duration // settle delay between action result and next turn
	Grace         time.Duration // disconnect seat-hold window
	Teardown      time.Duration // delay before disposing an ended session
	PenaltyTiming float64       // timing bonus applied to auto-played turns
}

func DefaultTimings() Timings {
	return Timings{
		Tick:          time.Second,
		Extension:     3,
		Continuation:  2500 * time.Millisecond,
		Grace:         30 * time.Second,
		Teardown:      10 * time.Second,
		PenaltyTiming: 0.5,
	}
}

// timerProcessed is the countdown sentinel marking "an action already landed
// this tick", so the same tick cannot also fire an auto-action.
const timerProcessed = -1

const battleLogCap = 50

type player struct {
	id        string
	address   string
	name      string
	settings  types.Settings
	team      []types.TeamUnit
	ready     bool
	accepted  bool
	connected bool
	wins      int
	losses    int
	graceGen  uint64
	outbox    chan types.ServerMessage
}

// Session coordinates one match as an independent sequential actor: every
// mutation happens on the inbox loop, so no locking is needed inside.
type Session struct {
	id      string
	inbox   chan Msg
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
	rnd     *rand.Rand
	sink    records.Sink
	timings Timings

	// onDispose is called once, after teardown, so the hub can drop the
	// session and free its players' addresses.
	onDispose func(id string, addresses []string)

	players  map[string]*player
	seats    []string // join order, at most two
	status   types.Status
	settings types.Settings
	version  int

	battle        *engine.Battle
	turnNumber    int
	turnTimer     int
	timerDuration int
	turnPlayerID  string
	turnUnitID    string
	selecting     bool
	extended      bool

	winner     string
	loser      string
	forfeited  bool
	lastAction *types.LastAction
	battleLog  []string

	totalDamage int
	startedAt   time.Time

	ticker  *time.Ticker
	nextGen uint64
	pending map[timerKind]uint64
}

// Config is everything a session needs from its creator.
type Config struct {
	ID        string
	Log       *zap.Logger
	Sink      records.Sink
	Timings   Timings
	Rand      *rand.Rand
	OnDispose func(id string, addresses []string)
}

func New(parent context.Context, cfg Config) *Session {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Sink == nil {
		cfg.Sink = records.Discard{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Timings.Tick <= 0 {
		cfg.Timings = DefaultTimings()
	}
	s := &Session{
		id:        cfg.ID,
		inbox:     make(chan Msg, 64),
		ctx:       ctx,
		cancel:    cancel,
		log:       cfg.Log.With(zap.String("session", cfg.ID)),
		rnd:       cfg.Rand,
		sink:      cfg.Sink,
		timings:   cfg.Timings,
		onDispose: cfg.OnDispose,
		players:   make(map[string]*player),
		status:    types.StatusWaiting,
		settings:  types.Settings{TeamSize: types.DefaultTeamSize, Speed: types.SpeedStandard},
		pending:   make(map[timerKind]uint64),
		ticker:    time.NewTicker(cfg.Timings.Tick),
	}
	go s.loop()
	return s
}

func (s *Session) ID() string        { return s.id }
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the session has been disposed; senders select on it so
// they never block on a dead inbox.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) loop() {
	defer s.ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			s.dispose()
			return

		case <-s.ticker.C:
			s.handleTick()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.handleJoin(msg)
			case Leave:
				s.handleLeave(msg)
			case FromClient:
				s.handleClient(msg)
			case timerFired:
				s.handleTimer(msg)
			case GetState:
				msg.Reply <- s.view()
			case Shutdown:
				s.dispose()
				return
			}
		}
	}
}

func (s *Session) dispose() {
	for _, p := range s.players {
		if p.outbox != nil {
			close(p.outbox)
			p.outbox = nil
		}
	}
	if s.onDispose != nil {
		addrs := make([]string, 0, len(s.seats))
		for _, id := range s.seats {
			addrs = append(addrs, s.players[id].address)
		}
		s.onDispose(s.id, addrs)
		s.onDispose = nil
	}
	s.cancel()
}

// schedule arms a delayed task. The stored generation is what makes a later
// cancel() or re-schedule win the race against an already-expired AfterFunc.
func (s *Session) schedule(kind timerKind, d time.Duration, playerID string) {
	s.nextGen++
	gen := s.nextGen
	s.pending[kind] = gen
	time.AfterFunc(d, func() {
		select {
		case s.inbox <- timerFired{kind: kind, gen: gen, playerID: playerID}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) cancelTimer(kind timerKind) {
	delete(s.pending, kind)
}

func (s *Session) handleTimer(t timerFired) {
	if t.kind == timerGrace {
		// Grace timers are armed per player; the player's own generation
		// counter decides staleness.
		s.handleGraceExpired(t.playerID, t.gen)
		return
	}
	if s.pending[t.kind] != t.gen {
		return // superseded
	}
	delete(s.pending, t.kind)
	switch t.kind {
	case timerNextTurn:
		s.startTurn()
	case timerTeardown:
		s.dispose()
	}
}

// send delivers to one seat; broadcast to both. Full outboxes drop the
// message rather than block the actor.
func (s *Session) send(p *player, msg types.ServerMessage) {
	if p == nil || p.outbox == nil || !p.connected {
		return
	}
	select {
	case p.outbox <- msg:
	default:
		s.log.Warn("outbox full, dropping message",
			zap.String("player", p.id), zap.String("type", msg.Type))
	}
}

func (s *Session) broadcast(msg types.ServerMessage) {
	for _, id := range s.seats {
		s.send(s.players[id], msg)
	}
}

func (s *Session) sendError(playerID, text string) {
	s.send(s.players[playerID], types.ServerMessage{Type: types.MsgError, Error: text})
}

func (s *Session) other(playerID string) *player {
	for _, id := range s.seats {
		if id != playerID {
			return s.players[id]
		}
	}
	return nil
}

func (s *Session) pushLog(line string) {
	s.battleLog = append(s.battleLog, line)
	if over := len(s.battleLog) - battleLogCap; over > 0 {
		s.battleLog = s.battleLog[over:]
	}
}

// snapshot mirrors the authoritative state into the replicated view.
func (s *Session) snapshot() types.Snapshot {
	snap := types.Snapshot{
		Players:       make(map[string]types.PlayerView, len(s.players)),
		Status:        s.status,
		CurrentTurn:   s.turnPlayerID,
		TurnTimer:     s.turnTimer,
		TurnNumber:    s.turnNumber,
		TurnIndex:     0,
		TeamSize:      s.settings.TeamSize,
		Speed:         s.settings.Speed,
		TimerDuration: s.timerDuration,
		Winner:        s.winner,
		Loser:         s.loser,
		LastAction:    s.lastAction,
		BattleLog:     append([]string(nil), s.battleLog...),
	}
	for id, p := range s.players {
		snap.Players[id] = types.PlayerView{
			ID:        p.id,
			Address:   p.address,
			Name:      p.name,
			Ready:     p.ready,
			Connected: p.connected,
			Wins:      p.wins,
			Losses:    p.losses,
		}
	}
	if s.battle != nil {
		snap.TurnOrder = s.battle.TurnOrder()
		snap.TurnIndex = s.battle.TurnIndex()
		for _, u := range s.battle.Units() {
			snap.Units = append(snap.Units, types.UnitDetail{
				ID:        u.ID,
				OwnerID:   u.OwnerID,
				Name:      u.Name,
				Element:   string(u.Element),
				HP:        u.HP,
				MaxHP:     u.MaxHP,
				Energy:    u.Energy,
				MaxEnergy: u.MaxEnergy,
				Alive:     u.Alive,
				Position:  u.Position,
			})
		}
	}
	return snap
}

func (s *Session) broadcastSnapshot() {
	s.version++
	snap := s.snapshot()
	s.broadcast(types.ServerMessage{Type: types.MsgSnapshot, Version: s.version, State: &snap})
}

func (s *Session) sendSnapshot(p *player) {
	snap := s.snapshot()
	s.send(p, types.ServerMessage{Type: types.MsgSnapshot, Version: s.version, State: &snap})
}

func (s *Session) view() View {
	return View{
		ID:          s.id,
		Status:      s.status,
		Version:     s.version,
		NumPlayers:  len(s.players),
		Settings:    s.settings,
		TurnNumber:  s.turnNumber,
		TurnTimer:   s.turnTimer,
		CurrentTurn: s.turnPlayerID,
		Winner:      s.winner,
		Loser:       s.loser,
		Snapshot:    s.snapshot(),
	}
}
