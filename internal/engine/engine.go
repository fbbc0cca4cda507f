package engine

import (
	"errors"
	"math/rand"
)

var ErrBattleOver = errors.New("battle already over")
var ErrNoSuchUnit = errors.New("no such unit")
var ErrUnitDown = errors.New("unit is down")
var ErrWrongTurn = errors.New("not this unit's turn")
var ErrNotYourUnit = errors.New("unit belongs to another player")
var ErrBadTarget = errors.New("invalid target")
var ErrNoEnergy = errors.New("not enough energy")

type ActionKind string

const (
	ActionAttack  ActionKind = "attack"
	ActionAbility ActionKind = "ability"
	ActionSwitch  ActionKind = "switch"
)

// Default stat block substituted for any stat a team payload leaves at zero.
const (
	DefaultHP      = 100
	DefaultAttack  = 50
	DefaultDefense = 50
	DefaultSpeed   = 50
	DefaultEnergy  = 100
	DefaultCrit    = 10
)

const (
	AbilityEnergyCost = 25
	abilityScale      = 1.25
	baseDamageFloor   = 10
)

// Unit is one combatant. IDs are namespaced by the owning session
// ("ownerSessionId:localUnitId") so two independently authored teams can
// never collide inside one battle.
type Unit struct {
	ID        string
	OwnerID   string
	Name      string
	Element   Element
	HP        int
	MaxHP     int
	Energy    int
	MaxEnergy int
	Attack    int
	Defense   int
	Speed     int
	Crit      int
	Alive     bool
	Position  int
}

type Action struct {
	PlayerID  string
	Kind      ActionKind
	SourceID  string
	TargetID  string
	AbilityID string
	// TimingBonus is the client-supplied multiplier; zero means unset (x1).
	TimingBonus float64
	// DefenseBonus is server-controlled; zero means unset (x1).
	DefenseBonus float64
}

type Result struct {
	Damage     int
	Critical   bool
	AttackerID string
	TargetID   string
	TargetHP   int
	KnockedOut bool

	BattleEnded bool
	WinnerID    string
	LoserID     string

	TurnOrder []string
	TurnIndex int
}

// Battle is the authoritative combat state. It does no I/O; the session
// coordinator drives it and mirrors the outcome into the replica.
type Battle struct {
	units  map[string]*Unit
	roster []string // insertion order, stable across the whole battle
	order  []string // alive unit ids for the current round
	index  int
	rnd    *rand.Rand
	ended  bool
	winner string
	loser  string
}

// NewBattle builds the unit table from two pre-namespaced teams and rolls the
// initial turn order. Missing stats are filled with the documented defaults.
func NewBattle(teamA, teamB []Unit, rnd *rand.Rand) *Battle {
	b := &Battle{
		units: make(map[string]*Unit),
		rnd:   rnd,
	}
	pos := 0
	for _, u := range append(append([]Unit{}, teamA...), teamB...) {
		fillDefaults(&u)
		u.Alive = true
		u.Position = pos
		pos++
		cp := u
		b.units[u.ID] = &cp
		b.roster = append(b.roster, u.ID)
	}
	b.order = b.rollOrder()
	return b
}

// CurrentUnit returns the unit whose turn it is, or false if no alive unit
// remains.
func (b *Battle) CurrentUnit() (*Unit, bool) {
	if len(b.order) == 0 || b.index >= len(b.order) {
		return nil, false
	}
	return b.units[b.order[b.index]], true
}

func (b *Battle) Validate(a Action) error {
	if b.ended {
		return ErrBattleOver
	}
	src, ok := b.units[a.SourceID]
	if !ok {
		return ErrNoSuchUnit
	}
	if !src.Alive {
		return ErrUnitDown
	}
	cur, ok := b.CurrentUnit()
	if !ok || cur.ID != src.ID {
		return ErrWrongTurn
	}
	if src.OwnerID != a.PlayerID {
		return ErrNotYourUnit
	}
	switch a.Kind {
	case ActionAttack, ActionAbility:
		tgt, ok := b.units[a.TargetID]
		if !ok || !tgt.Alive {
			return ErrBadTarget
		}
		if a.Kind == ActionAbility && src.Energy < AbilityEnergyCost {
			return ErrNoEnergy
		}
	case ActionSwitch:
		// No target needed; the unit gives up its turn.
	}
	return nil
}

// Resolve validates and applies one action. On error nothing is mutated.
func (b *Battle) Resolve(a Action) (Result, error) {
	if err := b.Validate(a); err != nil {
		return Result{}, err
	}
	src := b.units[a.SourceID]

	if a.Kind == ActionSwitch {
		b.advance()
		return Result{
			AttackerID: src.ID,
			TurnOrder:  b.TurnOrder(),
			TurnIndex:  b.index,
		}, nil
	}

	tgt := b.units[a.TargetID]

	dmg := src.Attack*2 - tgt.Defense
	if dmg < baseDamageFloor {
		dmg = baseDamageFloor
	}
	if a.Kind == ActionAbility {
		src.Energy -= AbilityEnergyCost
		dmg = scale(dmg, abilityScale)
	}
	dmg = scale(dmg, Multiplier(src.Element, tgt.Element))
	if a.TimingBonus > 0 {
		dmg = scale(dmg, a.TimingBonus)
	}
	if a.DefenseBonus > 0 {
		dmg = scale(dmg, a.DefenseBonus)
	}
	crit := b.rnd.Intn(100) < src.Crit
	if crit {
		dmg *= 2
	}

	tgt.HP -= dmg
	if tgt.HP <= 0 {
		tgt.HP = 0
		tgt.Alive = false
		b.dropFromOrder(tgt.ID)
	}

	res := Result{
		Damage:     dmg,
		Critical:   crit,
		AttackerID: src.ID,
		TargetID:   tgt.ID,
		TargetHP:   tgt.HP,
		KnockedOut: !tgt.Alive,
	}

	if winner, loser, over := b.checkVictory(); over {
		b.ended = true
		b.winner = winner
		b.loser = loser
		res.BattleEnded = true
		res.WinnerID = winner
		res.LoserID = loser
	} else {
		b.advance()
	}
	res.TurnOrder = b.TurnOrder()
	res.TurnIndex = b.index
	return res, nil
}

// checkVictory partitions alive units by owner. Exactly one owner left wins.
// Zero owners would be a draw; unreachable through Resolve since a single
// action incapacitates at most one unit.
func (b *Battle) checkVictory() (winner, loser string, over bool) {
	owners := map[string]bool{}
	for _, id := range b.roster {
		if u := b.units[id]; u.Alive {
			owners[u.OwnerID] = true
		}
	}
	if len(owners) > 1 {
		return "", "", false
	}
	if len(owners) == 0 {
		return "", "", true
	}
	for o := range owners {
		winner = o
	}
	for _, id := range b.roster {
		if u := b.units[id]; u.OwnerID != winner {
			loser = u.OwnerID
			break
		}
	}
	return winner, loser, true
}

func (b *Battle) advance() {
	b.index++
	if b.index >= len(b.order) {
		b.order = b.rollOrder()
		b.index = 0
	}
}

// dropFromOrder removes a downed unit so the order only ever holds alive
// units. The index shifts back when the removal sits before it.
func (b *Battle) dropFromOrder(id string) {
	for i, oid := range b.order {
		if oid != id {
			continue
		}
		b.order = append(b.order[:i], b.order[i+1:]...)
		if i < b.index {
			b.index--
		}
		return
	}
}

func (b *Battle) Ended() bool              { return b.ended }
func (b *Battle) Winner() (string, string) { return b.winner, b.loser }
func (b *Battle) TurnIndex() int           { return b.index }

// TurnOrder returns a copy of the current round's order.
func (b *Battle) TurnOrder() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Units returns value copies of every unit in roster order, for mirroring
// into the replica.
func (b *Battle) Units() []Unit {
	out := make([]Unit, 0, len(b.roster))
	for _, id := range b.roster {
		out = append(out, *b.units[id])
	}
	return out
}

func (b *Battle) Unit(id string) (Unit, bool) {
	u, ok := b.units[id]
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

func scale(v int, f float64) int {
	return int(float64(v) * f)
}
