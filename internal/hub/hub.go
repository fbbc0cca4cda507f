package hub

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/records"
	"github.com/chainbrawl/battle-backend/internal/session"
	"github.com/chainbrawl/battle-backend/internal/types"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Reply chan *session.Session
}

type GetSession struct {
	ID    string
	Reply chan *session.Session
}

// ClaimAddress enforces one live session per wallet address. Claiming the
// same session again (reconnection) always succeeds; the reserved test
// address bypasses the guard entirely.
type ClaimAddress struct {
	Address   string
	SessionID string
	Reply     chan bool
}

type ReleaseAddress struct {
	Address   string
	SessionID string
}

type ShutdownHub struct{}

// sessionDisposed is posted by a session's dispose hook.
type sessionDisposed struct {
	id        string
	addresses []string
}

func (CreateSession) isHubMsg()   {}
func (GetSession) isHubMsg()      {}
func (ClaimAddress) isHubMsg()    {}
func (ReleaseAddress) isHubMsg()  {}
func (ShutdownHub) isHubMsg()     {}
func (sessionDisposed) isHubMsg() {}

type Config struct {
	Log     *zap.Logger
	Sink    records.Sink
	Timings session.Timings
}

// Hub owns the arena of live sessions, keyed by session id.
type Hub struct {
	inbox     chan HubMsg
	sessions  map[string]*session.Session
	addresses map[string]string // address -> session id with a live seat
	log       *zap.Logger
	sink      records.Sink
	timings   session.Timings
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Sink == nil {
		cfg.Sink = records.Discard{}
	}
	if cfg.Timings.Tick <= 0 {
		cfg.Timings = session.DefaultTimings()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:     make(chan HubMsg, 64),
		sessions:  make(map[string]*session.Session),
		addresses: make(map[string]string),
		log:       cfg.Log,
		sink:      cfg.Sink,
		timings:   cfg.Timings,
		ctx:       ctx,
		cancel:    cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				id := uuid.NewString()
				s := session.New(h.ctx, session.Config{
					ID:      id,
					Log:     h.log,
					Sink:    h.sink,
					Timings: h.timings,
					Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
					OnDispose: func(id string, addrs []string) {
						select {
						case h.inbox <- sessionDisposed{id: id, addresses: addrs}:
						case <-h.ctx.Done():
						}
					},
				})
				h.sessions[id] = s
				h.log.Info("session created", zap.String("session", id))
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // may be nil

			case ClaimAddress:
				msg.Reply <- h.claim(msg.Address, msg.SessionID)

			case ReleaseAddress:
				if h.addresses[msg.Address] == msg.SessionID {
					delete(h.addresses, msg.Address)
				}

			case sessionDisposed:
				delete(h.sessions, msg.id)
				for _, addr := range msg.addresses {
					if h.addresses[addr] == msg.id {
						delete(h.addresses, addr)
					}
				}
				h.log.Info("session disposed", zap.String("session", msg.id))

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Inbox() <- session.Shutdown{}
				}
				clear(h.sessions)
				clear(h.addresses)
				h.cancel()
			}
		}
	}
}

func (h *Hub) claim(address, sessionID string) bool {
	if address == types.ReservedTestAddress {
		return true
	}
	if cur, ok := h.addresses[address]; ok && cur != sessionID {
		return false
	}
	h.addresses[address] = sessionID
	return true
}
