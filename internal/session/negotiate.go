package session

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainbrawl/battle-backend/internal/engine"
	"github.com/chainbrawl/battle-backend/internal/types"
)

func (s *Session) handleJoin(m Join) {
	// A connection presenting the address of a disconnected seat resumes
	// that seat with unchanged state.
	for _, id := range s.seats {
		p := s.players[id]
		if p.address == m.Address && !p.connected {
			s.reattach(p, m)
			return
		}
	}

	if len(s.seats) >= 2 {
		m.Reply <- JoinResult{Err: "session is full"}
		return
	}
	for _, id := range s.seats {
		if p := s.players[id]; p.address == m.Address && m.Address != types.ReservedTestAddress {
			m.Reply <- JoinResult{Err: "address already seated in this session"}
			return
		}
	}

	p := &player{
		id:        uuid.NewString(),
		address:   m.Address,
		name:      m.Name,
		settings:  m.Settings.Normalize(),
		team:      m.Team,
		connected: true,
		wins:      m.Wins,
		losses:    m.Losses,
		outbox:    m.Outbox,
	}
	s.players[p.id] = p
	s.seats = append(s.seats, p.id)
	m.Reply <- JoinResult{PlayerID: p.id}
	s.log.Info("player joined",
		zap.String("player", p.id), zap.String("address", p.address))

	s.sendSnapshot(p)
	if len(s.seats) == 2 {
		s.compareSettings()
	}
}

func (s *Session) reattach(p *player, m Join) {
	p.graceGen++ // cancels any pending grace expiry
	p.outbox = m.Outbox
	p.connected = true
	m.Reply <- JoinResult{PlayerID: p.id}
	s.log.Info("player reconnected", zap.String("player", p.id))

	s.sendSnapshot(p)
	if o := s.other(p.id); o != nil {
		s.send(o, types.ServerMessage{
			Type:       types.MsgPlayerReconnected,
			PlayerID:   p.id,
			PlayerName: p.name,
		})
	}
}

// compareSettings runs on the second join. Matching declarations skip
// negotiation entirely; otherwise each side is shown both requests and the
// session waits for propose/accept traffic.
func (s *Session) compareSettings() {
	a := s.players[s.seats[0]]
	b := s.players[s.seats[1]]
	if a.settings == b.settings {
		s.adoptSettings(a.settings)
		s.toReady()
		return
	}
	for _, pair := range [2][2]*player{{a, b}, {b, a}} {
		yours, theirs := pair[0].settings, pair[1].settings
		s.send(pair[0], types.ServerMessage{
			Type:             types.MsgSettingsMismatch,
			Message:          "requested settings differ, negotiate or accept",
			YourSettings:     &yours,
			OpponentSettings: &theirs,
		})
	}
}

func (s *Session) handlePropose(playerID string, m types.ClientMessage) {
	if s.status != types.StatusWaiting {
		s.sendError(playerID, "settings can only be proposed before the match is ready")
		return
	}
	o := s.other(playerID)
	if o == nil {
		s.sendError(playerID, "no opponent to negotiate with")
		return
	}
	proposed := types.Settings{TeamSize: m.TeamSize, Speed: m.Speed}.Normalize()
	s.players[playerID].settings = proposed
	// Counter-proposals go to the other side only.
	s.send(o, types.ServerMessage{
		Type:     types.MsgSettingsProposal,
		PlayerID: playerID,
		Message:  "opponent proposed new settings",
		Settings: &proposed,
	})
}

func (s *Session) handleAccept(playerID string, m types.ClientMessage) {
	if s.status != types.StatusWaiting {
		s.sendError(playerID, "settings already settled")
		return
	}
	if len(s.seats) < 2 {
		s.sendError(playerID, "waiting for an opponent")
		return
	}
	accepted := types.Settings{TeamSize: m.TeamSize, Speed: m.Speed}.Normalize()
	p := s.players[playerID]
	p.accepted = true
	s.adoptSettings(accepted)
	s.broadcast(types.ServerMessage{
		Type:     types.MsgSettingsAccepted,
		PlayerID: playerID,
		Settings: &accepted,
	})

	both := true
	for _, id := range s.seats {
		both = both && s.players[id].accepted
	}
	if both {
		s.toReady()
	}
}

func (s *Session) adoptSettings(set types.Settings) {
	s.settings = set
	s.timerDuration = types.TimerForSpeed(set.Speed)
}

func (s *Session) toReady() {
	s.status = types.StatusReady
	final := s.settings
	s.broadcast(types.ServerMessage{
		Type:          types.MsgMatchReady,
		Message:       "match ready, submit teams and ready up",
		FinalSettings: &final,
	})
	s.broadcastSnapshot()
}

func (s *Session) handleReady(playerID string) {
	p := s.players[playerID]
	if p == nil {
		return
	}
	p.ready = true
	s.broadcastSnapshot()
	s.maybeStartBattle()
}

func (s *Session) handleTeam(playerID string, m types.ClientMessage) {
	p := s.players[playerID]
	if p == nil {
		return
	}
	if len(m.Units) == 0 {
		s.sendError(playerID, "team must contain at least one unit")
		return
	}
	p.team = m.Units
	s.broadcastSnapshot()
	s.maybeStartBattle()
}

// maybeStartBattle is the ready -> battle gate: settings agreed, both ready
// flags set, both teams non-empty.
func (s *Session) maybeStartBattle() {
	if s.status != types.StatusReady || len(s.seats) != 2 {
		return
	}
	for _, id := range s.seats {
		p := s.players[id]
		if !p.ready || len(p.team) == 0 {
			return
		}
	}
	s.startBattle()
}

// validateTeam fails fast on malformed payloads before any engine state is
// touched, so a bad team can never corrupt a started battle.
func validateTeam(team []types.TeamUnit, teamSize int) error {
	if len(team) == 0 {
		return fmt.Errorf("team is empty")
	}
	if len(team) > teamSize {
		return fmt.Errorf("team has %d units, agreed size is %d", len(team), teamSize)
	}
	seen := map[string]bool{}
	for i, u := range team {
		if u.ID == "" {
			return fmt.Errorf("unit %d has no id", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate unit id %q", u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}

func (s *Session) startBattle() {
	teams := make([][]engine.Unit, 0, 2)
	for _, id := range s.seats {
		p := s.players[id]
		if err := validateTeam(p.team, s.settings.TeamSize); err != nil {
			s.log.Warn("rejecting battle start",
				zap.String("player", p.id), zap.Error(err))
			s.broadcast(types.ServerMessage{
				Type:  types.MsgError,
				Error: fmt.Sprintf("cannot start battle, %s's team is invalid: %v", p.name, err),
			})
			p.ready = false
			return
		}
		units := make([]engine.Unit, 0, len(p.team))
		for _, tu := range p.team {
			units = append(units, engine.Unit{
				ID:        engine.NamespacedID(p.id, tu.ID),
				OwnerID:   p.id,
				Name:      tu.Name,
				Element:   engine.Element(tu.Element),
				HP:        tu.HP,
				MaxHP:     tu.HP,
				Attack:    tu.Attack,
				Defense:   tu.Defense,
				Speed:     tu.Speed,
				Energy:    tu.Energy,
				MaxEnergy: tu.Energy,
				Crit:      tu.Crit,
			})
		}
		teams = append(teams, units)
	}

	s.battle = engine.NewBattle(teams[0], teams[1], s.rnd)
	s.status = types.StatusBattle
	s.turnNumber = 0 // first startTurn brings it to 1
	s.startedAt = now()
	s.totalDamage = 0
	s.log.Info("battle started",
		zap.Int("teamSize", s.settings.TeamSize), zap.String("speed", string(s.settings.Speed)))
	s.broadcast(types.ServerMessage{Type: types.MsgBattleStart, Message: "battle started"})
	s.startTurn()
}
