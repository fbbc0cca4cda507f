// Package waitroom tracks players seeking a match. It is a single global
// actor, independent of any one session: entries are keyed by the session id
// a player is waiting in, so an interested opponent knows where to join.
package waitroom

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/types"
)

type Msg interface{ isRoomMsg() }

// Observe registers a connection for presence broadcasts and immediately
// replies with a one-shot snapshot of everyone currently waiting.
type Observe struct {
	ID     string
	Outbox chan<- types.ServerMessage
}

type Unobserve struct{ ID string }

// StartWaiting upserts the entry for a session and advertises it to every
// other observer.
type StartWaiting struct {
	SessionID  string
	ObserverID string
	Address    string
	Name       string
	Settings   types.Settings
}

type StopWaiting struct{ SessionID string }

// Sweep evicts stale entries and republishes the online count. Fired by the
// internal ticker; exported so tests can trigger it deterministically.
type Sweep struct{}

type GetState struct{ Reply chan View }

type Shutdown struct{}

func (Observe) isRoomMsg()      {}
func (Unobserve) isRoomMsg()    {}
func (StartWaiting) isRoomMsg() {}
func (StopWaiting) isRoomMsg()  {}
func (Sweep) isRoomMsg()        {}
func (GetState) isRoomMsg()     {}
func (Shutdown) isRoomMsg()     {}

// View is a test-only reflection of the room.
type View struct {
	NumObservers int
	Entries      []types.WaitingInfo
}

type entry struct {
	sessionID  string
	observerID string
	address    string
	name       string
	settings   types.Settings
	since      time.Time
}

type Config struct {
	SweepEvery time.Duration
	Expiry     time.Duration
	Log        *zap.Logger
	Now        func() time.Time
}

type Room struct {
	inbox     chan Msg
	observers map[string]chan<- types.ServerMessage
	entries   map[string]entry
	expiry    time.Duration
	now       func() time.Time
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	ticker    *time.Ticker
}

func New(parent context.Context, cfg Config) *Room {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 5 * time.Minute
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		inbox:     make(chan Msg, 64),
		observers: make(map[string]chan<- types.ServerMessage),
		entries:   make(map[string]entry),
		expiry:    cfg.Expiry,
		now:       cfg.Now,
		log:       cfg.Log,
		ctx:       ctx,
		cancel:    cancel,
		ticker:    time.NewTicker(cfg.SweepEvery),
	}
	go r.loop()
	return r
}

func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) loop() {
	defer r.ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return

		case <-r.ticker.C:
			r.sweep()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Observe:
				r.observers[msg.ID] = msg.Outbox
				r.send(msg.Outbox, types.ServerMessage{
					Type:    types.MsgPlayersWaiting,
					Waiting: r.waitingList(),
				})

			case Unobserve:
				delete(r.observers, msg.ID)

			case StartWaiting:
				e := entry{
					sessionID:  msg.SessionID,
					observerID: msg.ObserverID,
					address:    msg.Address,
					name:       msg.Name,
					settings:   msg.Settings.Normalize(),
					since:      r.now(),
				}
				if prev, ok := r.entries[msg.SessionID]; ok {
					e.since = prev.since // upsert keeps the original join time
				}
				r.entries[msg.SessionID] = e
				r.log.Debug("player waiting",
					zap.String("session", e.sessionID), zap.String("name", e.name))
				info := e.info()
				// Everyone except the waiter sees the advert, so unmatched
				// and mismatched players stay visible.
				for id, out := range r.observers {
					if id == e.observerID {
						continue
					}
					r.send(out, types.ServerMessage{Type: types.MsgPlayerLooking, Looking: &info})
				}

			case StopWaiting:
				delete(r.entries, msg.SessionID)

			case Sweep:
				r.sweep()

			case GetState:
				msg.Reply <- View{
					NumObservers: len(r.observers),
					Entries:      r.waitingList(),
				}

			case Shutdown:
				r.cancel()
				return
			}
		}
	}
}

func (r *Room) sweep() {
	cutoff := r.now().Add(-r.expiry)
	for id, e := range r.entries {
		if e.since.Before(cutoff) {
			delete(r.entries, id)
			r.log.Debug("evicted stale waiting entry", zap.String("session", id))
		}
	}
	count := len(r.observers)
	for _, out := range r.observers {
		r.send(out, types.ServerMessage{Type: types.MsgOnlineCount, Count: count})
	}
}

func (r *Room) waitingList() []types.WaitingInfo {
	out := make([]types.WaitingInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info())
	}
	return out
}

func (e entry) info() types.WaitingInfo {
	return types.WaitingInfo{
		ID:           e.sessionID,
		Name:         e.name,
		TeamSize:     e.settings.TeamSize,
		Speed:        e.settings.Speed,
		WaitingSince: e.since,
	}
}

func (r *Room) send(out chan<- types.ServerMessage, msg types.ServerMessage) {
	select {
	case out <- msg:
	default:
		// Slow observer; presence traffic is droppable.
	}
}
