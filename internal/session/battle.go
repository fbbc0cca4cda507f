package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/engine"
	"github.com/chainbrawl/battle-backend/internal/records"
	"github.com/chainbrawl/battle-backend/internal/types"
)

var now = time.Now

// startTurn arms the countdown for whichever unit the engine says is due.
func (s *Session) startTurn() {
	if s.status != types.StatusBattle {
		return
	}
	unit, ok := s.battle.CurrentUnit()
	if !ok {
		// Turn order only holds alive units, so an empty order means the
		// battle should already have ended.
		s.log.Error("no current unit in an active battle")
		return
	}
	s.turnNumber++
	s.turnUnitID = unit.ID
	s.turnPlayerID = unit.OwnerID
	s.selecting = true
	s.extended = false
	s.turnTimer = s.timerDuration

	s.broadcast(types.ServerMessage{
		Type:     types.MsgTurnStart,
		UnitID:   unit.ID,
		PlayerID: unit.OwnerID,
		Timer:    s.turnTimer,
	})
	s.broadcastSnapshot()
}

// handleTick runs once per tick interval. A countdown already consumed by a
// real action this tick sits at the sentinel and is skipped, which is what
// prevents a duplicate auto-action in the same tick.
func (s *Session) handleTick() {
	if s.status != types.StatusBattle || s.turnTimer == timerProcessed {
		return
	}
	if s.turnTimer > 0 {
		s.turnTimer--
	}
	if s.turnTimer > 0 {
		return
	}

	p := s.players[s.turnPlayerID]
	switch {
	case p == nil || !p.connected:
		// Reconnection grace keeps running; the turn itself auto-plays so
		// the connected opponent is never stuck waiting.
		s.autoPlay()
	case s.selecting && !s.extended:
		s.extended = true
		s.turnTimer = s.timings.Extension
		s.broadcast(types.ServerMessage{
			Type:     types.MsgTurnStart,
			UnitID:   s.turnUnitID,
			PlayerID: s.turnPlayerID,
			Timer:    s.turnTimer,
		})
	default:
		s.autoPlay()
	}
}

// autoPlay attacks a uniformly random alive enemy with the penalized timing
// bonus.
func (s *Session) autoPlay() {
	unit, ok := s.battle.CurrentUnit()
	if !ok {
		return
	}
	enemies := s.battle.AliveEnemies(unit.OwnerID)
	if len(enemies) == 0 {
		return
	}
	target := enemies[s.rnd.Intn(len(enemies))]
	s.turnTimer = timerProcessed
	s.log.Debug("auto-playing turn",
		zap.String("unit", unit.ID), zap.String("target", target))
	s.apply(engine.Action{
		PlayerID:    unit.OwnerID,
		Kind:        engine.ActionAttack,
		SourceID:    unit.ID,
		TargetID:    target,
		TimingBonus: s.timings.PenaltyTiming,
	}, true)
}

func (s *Session) handleAction(playerID string, m types.ClientMessage) {
	if s.status != types.StatusBattle {
		s.sendError(playerID, "no battle in progress")
		return
	}
	var kind engine.ActionKind
	switch m.ActionType {
	case string(engine.ActionAttack):
		kind = engine.ActionAttack
	case string(engine.ActionAbility):
		kind = engine.ActionAbility
	case string(engine.ActionSwitch):
		kind = engine.ActionSwitch
	default:
		s.sendError(playerID, fmt.Sprintf("unknown action type %q", m.ActionType))
		return
	}
	action := engine.Action{
		PlayerID:    playerID,
		Kind:        kind,
		SourceID:    m.SourceID,
		TargetID:    m.TargetID,
		AbilityID:   m.AbilityID,
		TimingBonus: m.TimingBonus,
	}
	// An action can land inside the continuation window, before the
	// scheduled turn start. The engine has already advanced, so run the
	// turn-start bookkeeping inline to keep turn numbers and the countdown
	// in step with it.
	if !s.selecting {
		if _, pending := s.pending[timerNextTurn]; pending {
			s.cancelTimer(timerNextTurn)
			s.startTurn()
		}
	}
	// Stale and out-of-turn actions are rejected here with zero mutation,
	// so clients can retry or ignore safely.
	if err := s.battle.Validate(action); err != nil {
		s.sendError(playerID, err.Error())
		return
	}
	s.selecting = false
	s.turnTimer = timerProcessed
	s.cancelTimer(timerNextTurn)
	s.apply(action, false)
}

func (s *Session) apply(action engine.Action, auto bool) {
	res, err := s.battle.Resolve(action)
	if err != nil {
		// Validate ran before every apply path, so this is a bug, not a
		// protocol violation.
		s.log.Error("resolve failed after validate", zap.Error(err), zap.Bool("auto", auto))
		return
	}

	s.lastAction = &types.LastAction{
		PlayerID:    action.PlayerID,
		Kind:        string(action.Kind),
		SourceID:    action.SourceID,
		TargetID:    action.TargetID,
		AbilityID:   action.AbilityID,
		TimingBonus: action.TimingBonus,
		At:          now(),
	}
	s.totalDamage += res.Damage
	s.logAction(action, res, auto)

	result := types.ActionResult{
		Damage:      res.Damage,
		Critical:    res.Critical,
		AttackerID:  res.AttackerID,
		TargetID:    res.TargetID,
		TurnOrder:   res.TurnOrder,
		TurnIndex:   res.TurnIndex,
		BattleEnded: res.BattleEnded,
	}
	for _, u := range s.battle.Units() {
		result.Units = append(result.Units, types.UnitView{
			ID:            u.ID,
			CurrentHP:     u.HP,
			CurrentEnergy: u.Energy,
			IsAlive:       u.Alive,
		})
	}
	if !res.BattleEnded {
		if next, ok := s.battle.CurrentUnit(); ok {
			result.NextUnitID = next.ID
			result.NextPlayerID = next.OwnerID
		}
	}
	// Both clients get the identical authoritative result.
	s.broadcast(types.ServerMessage{Type: types.MsgActionResult, Result: &result})
	s.broadcastSnapshot()

	if res.BattleEnded {
		s.endBattle(res.WinnerID, res.LoserID, false)
		return
	}
	// Let clients settle animations before the next turn starts.
	s.schedule(timerNextTurn, s.timings.Continuation, "")
}

func (s *Session) logAction(a engine.Action, res engine.Result, auto bool) {
	switch {
	case a.Kind == engine.ActionSwitch:
		s.pushLog(fmt.Sprintf("turn %d: %s passed", s.turnNumber, a.SourceID))
	case auto:
		s.pushLog(fmt.Sprintf("turn %d: %s auto-attacked %s for %d", s.turnNumber, a.SourceID, a.TargetID, res.Damage))
	case res.Critical:
		s.pushLog(fmt.Sprintf("turn %d: %s hit %s for %d (critical)", s.turnNumber, a.SourceID, a.TargetID, res.Damage))
	default:
		s.pushLog(fmt.Sprintf("turn %d: %s hit %s for %d", s.turnNumber, a.SourceID, a.TargetID, res.Damage))
	}
}

func (s *Session) handleForfeit(playerID string) {
	if s.status != types.StatusBattle {
		s.sendError(playerID, "nothing to forfeit")
		return
	}
	p := s.players[playerID]
	o := s.other(playerID)
	if p == nil || o == nil {
		return
	}
	s.broadcast(types.ServerMessage{
		Type:       types.MsgPlayerForfeited,
		PlayerID:   p.id,
		PlayerName: p.name,
	})
	s.endBattle(o.id, p.id, true)
}

func (s *Session) handleLeave(m Leave) {
	p := s.players[m.PlayerID]
	if p == nil {
		return
	}

	if s.status == types.StatusBattle && !m.Consensual {
		// Not an error: hold the seat and arm the grace window.
		if p.outbox != nil {
			close(p.outbox)
			p.outbox = nil
		}
		p.connected = false
		s.log.Info("player disconnected mid-battle, grace window open",
			zap.String("player", p.id), zap.Duration("grace", s.timings.Grace))
		if o := s.other(p.id); o != nil {
			s.send(o, types.ServerMessage{
				Type:       types.MsgPlayerDisconnected,
				PlayerID:   p.id,
				PlayerName: p.name,
			})
		}
		s.scheduleGrace(p)
		return
	}

	// Consensual leave, or any leave outside battle: seat is simply freed.
	s.removePlayer(p)
}

func (s *Session) scheduleGrace(p *player) {
	s.nextGen++
	gen := s.nextGen
	p.graceGen = gen
	playerID := p.id
	time.AfterFunc(s.timings.Grace, func() {
		select {
		case s.inbox <- timerFired{kind: timerGrace, gen: gen, playerID: playerID}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Session) handleGraceExpired(playerID string, gen uint64) {
	p := s.players[playerID]
	if p == nil || p.connected || p.graceGen != gen {
		return
	}
	if s.status != types.StatusBattle {
		// The battle is gone but the dead connection still holds a seat;
		// outside battle that seat can never negotiate or ready, so free it.
		if s.status != types.StatusEnded {
			s.removePlayer(p)
		}
		return
	}
	o := s.other(playerID)
	if o == nil {
		return
	}
	s.log.Info("grace window expired, forfeiting",
		zap.String("player", playerID))
	s.broadcast(types.ServerMessage{
		Type:       types.MsgPlayerForfeited,
		PlayerID:   p.id,
		PlayerName: p.name,
	})
	s.endBattle(o.id, p.id, true)
}

func (s *Session) removePlayer(p *player) {
	if p.outbox != nil {
		close(p.outbox)
		p.outbox = nil
	}
	delete(s.players, p.id)
	s.dropSeat(p.id)
	s.log.Info("player left", zap.String("player", p.id))

	if s.status == types.StatusEnded {
		return
	}
	// Any in-flight match context is void without two seats.
	s.battle = nil
	s.status = types.StatusWaiting
	s.turnPlayerID = ""
	s.turnUnitID = ""
	s.turnTimer = 0
	s.turnNumber = 0
	s.selecting = false
	s.cancelTimer(timerNextTurn)
	// A seat held by a disconnected player cannot negotiate or ready;
	// outside battle it is freed along with this one.
	for _, id := range append([]string(nil), s.seats...) {
		if q := s.players[id]; q != nil && !q.connected {
			delete(s.players, id)
			s.dropSeat(id)
			s.log.Info("player left", zap.String("player", id))
		}
	}
	for _, id := range s.seats {
		s.players[id].accepted = false
	}
	s.broadcastSnapshot()
}

func (s *Session) dropSeat(id string) {
	for i, sid := range s.seats {
		if sid == id {
			s.seats = append(s.seats[:i], s.seats[i+1:]...)
			break
		}
	}
}

// endBattle sets the terminal outcome exactly once, hands it to the records
// sink off the session timeline, and schedules teardown so clients can
// render the result before the channel closes.
func (s *Session) endBattle(winnerID, loserID string, forfeit bool) {
	if s.status == types.StatusEnded {
		return
	}
	s.status = types.StatusEnded
	s.winner = winnerID
	s.loser = loserID
	s.forfeited = forfeit
	s.turnTimer = timerProcessed
	s.cancelTimer(timerNextTurn)

	s.log.Info("battle ended",
		zap.String("winner", winnerID), zap.String("loser", loserID), zap.Bool("forfeit", forfeit))
	s.broadcast(types.ServerMessage{
		Type:   types.MsgBattleEnd,
		Winner: winnerID,
		Loser:  loserID,
	})
	s.broadcastSnapshot()

	s.recordOutcome()
	s.schedule(timerTeardown, s.timings.Teardown, "")
}

func (s *Session) recordOutcome() {
	out := records.Outcome{
		SessionID:   s.id,
		Forfeit:     s.forfeited,
		Turns:       s.turnNumber,
		TotalDamage: s.totalDamage,
		Duration:    now().Sub(s.startedAt),
		EndedAt:     now(),
	}
	if w := s.players[s.winner]; w != nil {
		out.WinnerAddress = w.address
		out.WinnerName = w.name
	}
	if l := s.players[s.loser]; l != nil {
		out.LoserAddress = l.address
		out.LoserName = l.name
	}
	if s.battle != nil {
		seen := map[string]bool{}
		for _, u := range s.battle.Units() {
			if e := string(u.Element); e != "" && !seen[e] {
				seen[e] = true
				out.ElementsUsed = append(out.ElementsUsed, e)
			}
		}
	}
	sink, log := s.sink, s.log
	// Off the session timeline: a slow or failing store must never stall
	// or fail the match.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sink.Record(ctx, out); err != nil {
			log.Error("failed to persist battle record", zap.Error(err))
		}
	}()
}

func (s *Session) handleClient(m FromClient) {
	if _, ok := s.players[m.PlayerID]; !ok {
		return
	}
	switch m.Msg.Type {
	case types.MsgReady:
		s.handleReady(m.PlayerID)
	case types.MsgTeam:
		s.handleTeam(m.PlayerID, m.Msg)
	case types.MsgAction:
		s.handleAction(m.PlayerID, m.Msg)
	case types.MsgProposeSettings:
		s.handlePropose(m.PlayerID, m.Msg)
	case types.MsgAcceptSettings:
		s.handleAccept(m.PlayerID, m.Msg)
	case types.MsgForfeit:
		s.handleForfeit(m.PlayerID)
	default:
		s.sendError(m.PlayerID, fmt.Sprintf("unknown message type %q", m.Msg.Type))
	}
}
