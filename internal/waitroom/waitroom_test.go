package waitroom

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chainbrawl/battle-backend/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func newTestRoom(t *testing.T, clk *fakeClock) *Room {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := Config{SweepEvery: time.Hour} // sweeps fire only via Sweep{}
	if clk != nil {
		cfg.Now = clk.now
	}
	return New(ctx, cfg)
}

func recvMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) types.ServerMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return types.ServerMessage{} // unreachable
	}
}

func recvNoMsg(t *testing.T, ch <-chan types.ServerMessage, within time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("expected silence, got %+v", msg)
	case <-time.After(within):
	}
}

func roomView(t *testing.T, r *Room) View {
	t.Helper()
	reply := make(chan View, 1)
	r.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func TestObserverGetsOneShotSnapshot(t *testing.T) {
	r := newTestRoom(t, nil)

	first := make(chan types.ServerMessage, 8)
	r.Inbox() <- Observe{ID: "c1", Outbox: first}
	snap := recvMsg(t, first, time.Second)
	if snap.Type != types.MsgPlayersWaiting || len(snap.Waiting) != 0 {
		t.Fatalf("want empty players-waiting, got %+v", snap)
	}

	r.Inbox() <- StartWaiting{
		SessionID: "s1", ObserverID: "c1", Address: "0xaaa", Name: "alice",
		Settings: types.Settings{TeamSize: 2, Speed: types.SpeedFast},
	}

	late := make(chan types.ServerMessage, 8)
	r.Inbox() <- Observe{ID: "c2", Outbox: late}
	snap = recvMsg(t, late, time.Second)
	if len(snap.Waiting) != 1 || snap.Waiting[0].ID != "s1" || snap.Waiting[0].TeamSize != 2 {
		t.Fatalf("late observer missed the entry: %+v", snap)
	}
}

func TestStartWaitingNotifiesOthersOnly(t *testing.T) {
	r := newTestRoom(t, nil)

	waiter := make(chan types.ServerMessage, 8)
	other := make(chan types.ServerMessage, 8)
	r.Inbox() <- Observe{ID: "c1", Outbox: waiter}
	r.Inbox() <- Observe{ID: "c2", Outbox: other}
	recvMsg(t, waiter, time.Second) // drain snapshots
	recvMsg(t, other, time.Second)

	r.Inbox() <- StartWaiting{
		SessionID: "s1", ObserverID: "c1", Address: "0xaaa", Name: "alice",
		Settings: types.Settings{TeamSize: 3, Speed: types.SpeedStandard},
	}

	looking := recvMsg(t, other, time.Second)
	if looking.Type != types.MsgPlayerLooking || looking.Looking == nil || looking.Looking.ID != "s1" {
		t.Fatalf("other observer got %+v", looking)
	}
	recvNoMsg(t, waiter, 50*time.Millisecond)
}

func TestStopWaitingRemovesEntry(t *testing.T) {
	r := newTestRoom(t, nil)
	r.Inbox() <- StartWaiting{SessionID: "s1", Name: "alice"}
	r.Inbox() <- StopWaiting{SessionID: "s1"}

	if v := roomView(t, r); len(v.Entries) != 0 {
		t.Fatalf("entry not removed: %+v", v.Entries)
	}
}

func TestSweepEvictsStaleEntriesAndPublishesCount(t *testing.T) {
	clk := &fakeClock{cur: time.Unix(1_700_000_000, 0)}
	r := newTestRoom(t, clk)

	obs := make(chan types.ServerMessage, 8)
	r.Inbox() <- Observe{ID: "c1", Outbox: obs}
	recvMsg(t, obs, time.Second) // snapshot

	r.Inbox() <- StartWaiting{SessionID: "old", Name: "alice"}
	clk.advance(3 * time.Minute)
	r.Inbox() <- StartWaiting{SessionID: "fresh", ObserverID: "c1", Name: "bob"}
	clk.advance(3 * time.Minute) // "old" is now 6m stale, "fresh" only 3m

	r.Inbox() <- Sweep{}

	count := recvMsg(t, obs, time.Second)
	if count.Type != types.MsgOnlineCount || count.Count != 1 {
		t.Fatalf("want online-count 1, got %+v", count)
	}
	v := roomView(t, r)
	if len(v.Entries) != 1 || v.Entries[0].ID != "fresh" {
		t.Fatalf("sweep kept the wrong entries: %+v", v.Entries)
	}
}

func TestUpsertKeepsOriginalJoinTime(t *testing.T) {
	clk := &fakeClock{cur: time.Unix(1_700_000_000, 0)}
	r := newTestRoom(t, clk)

	r.Inbox() <- StartWaiting{SessionID: "s1", Name: "alice", Settings: types.Settings{TeamSize: 1, Speed: types.SpeedSlow}}
	clk.advance(2 * time.Minute)
	r.Inbox() <- StartWaiting{SessionID: "s1", Name: "alice", Settings: types.Settings{TeamSize: 5, Speed: types.SpeedFast}}

	v := roomView(t, r)
	if len(v.Entries) != 1 {
		t.Fatalf("upsert duplicated the entry: %+v", v.Entries)
	}
	e := v.Entries[0]
	if e.TeamSize != 5 || e.Speed != types.SpeedFast {
		t.Fatalf("upsert dropped the new settings: %+v", e)
	}
	if !e.WaitingSince.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("upsert reset the join time: %v", e.WaitingSince)
	}
}
