package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/hub"
	"github.com/chainbrawl/battle-backend/internal/session"
	"github.com/chainbrawl/battle-backend/internal/types"
	"github.com/chainbrawl/battle-backend/internal/waitroom"
)

const writeTimeout = 3 * time.Second

// Handler attaches one websocket connection to a session and to the global
// waiting room. Join options ride on the query string; everything after the
// upgrade is the JSON message protocol.
func Handler(h *hub.Hub, room *waitroom.Room, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session")
		if sessionID == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		address := r.URL.Query().Get("address")
		if address == "" {
			http.Error(w, "missing address", http.StatusBadRequest)
			return
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{ID: sessionID, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		claim := make(chan bool, 1)
		h.Inbox() <- hub.ClaimAddress{Address: address, SessionID: sessionID, Reply: claim}
		if !<-claim {
			http.Error(w, "address already in another session", http.StatusConflict)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.Inbox() <- hub.ReleaseAddress{Address: address, SessionID: sessionID}
			return
		}
		defer conn.Close(websocket.StatusInternalError, "closing")

		connID := uuid.NewString()
		// The session closes sessOut on teardown; roomOut stays open and is
		// abandoned at unobserve, so the two never race on close.
		sessOut := make(chan types.ServerMessage, 32)
		roomOut := make(chan types.ServerMessage, 16)

		join := session.Join{
			Address: address,
			Name:    r.URL.Query().Get("name"),
			Settings: types.Settings{
				TeamSize: atoi(r.URL.Query().Get("teamSize")),
				Speed:    types.Speed(r.URL.Query().Get("speed")),
			},
			Team:   parseTeam(r.URL.Query().Get("team")),
			Wins:   atoi(r.URL.Query().Get("wins")),
			Losses: atoi(r.URL.Query().Get("losses")),
			Outbox: sessOut,
			Reply:  make(chan session.JoinResult, 1),
		}
		if !post(sess, join) {
			writeOne(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "session closed"})
			h.Inbox() <- hub.ReleaseAddress{Address: address, SessionID: sessionID}
			conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		}
		res := <-join.Reply
		if res.Err != "" {
			writeOne(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: res.Err})
			h.Inbox() <- hub.ReleaseAddress{Address: address, SessionID: sessionID}
			conn.Close(websocket.StatusPolicyViolation, res.Err)
			return
		}
		playerID := res.PlayerID
		log.Info("connection joined",
			zap.String("session", sessionID), zap.String("player", playerID))

		// Only the connection that advertised the session may take the
		// advert down with it; a visitor's close leaves it in place.
		advertised := false
		room.Inbox() <- waitroom.Observe{ID: connID, Outbox: roomOut}
		defer func() {
			room.Inbox() <- waitroom.Unobserve{ID: connID}
			if advertised {
				room.Inbox() <- waitroom.StopWaiting{SessionID: sessionID}
			}
			h.Inbox() <- hub.ReleaseAddress{Address: address, SessionID: sessionID}
		}()

		// Writer: one goroutine owns all conn writes.
		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for {
				select {
				case msg, ok := <-sessOut:
					if !ok {
						conn.Close(websocket.StatusNormalClosure, "session closed")
						return
					}
					writeOne(writeCtx, conn, msg)
				case msg := <-roomOut:
					writeOne(writeCtx, conn, msg)
				case <-writeCtx.Done():
					return
				}
			}
		}()

		consensual := false
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					consensual = true
				}
				break
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeOne(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}

			switch cm.Type {
			case types.MsgStartWaiting:
				advertised = true
				room.Inbox() <- waitroom.StartWaiting{
					SessionID:  sessionID,
					ObserverID: connID,
					Address:    address,
					Name:       cm.Name,
					Settings:   types.Settings{TeamSize: cm.TeamSize, Speed: cm.Speed},
				}
			case types.MsgStopWaiting:
				advertised = false
				room.Inbox() <- waitroom.StopWaiting{SessionID: sessionID}
			default:
				if !post(sess, session.FromClient{PlayerID: playerID, Msg: cm}) {
					return
				}
			}
		}

		post(sess, session.Leave{PlayerID: playerID, Consensual: consensual})
	}
}

// post delivers to a session unless that session has already shut down.
func post(s *session.Session, m session.Msg) bool {
	select {
	case s.Inbox() <- m:
		return true
	case <-s.Done():
		return false
	}
}

func writeOne(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// parseTeam decodes the optional serialized team join option. A bad payload
// is dropped here; the session insists on a valid team before any battle.
func parseTeam(raw string) []types.TeamUnit {
	if raw == "" {
		return nil
	}
	var units []types.TeamUnit
	if err := json.Unmarshal([]byte(raw), &units); err != nil {
		return nil
	}
	return units
}
