package engine

import (
	"errors"
	"math/rand"
	"testing"
)

// fixedSource feeds rand with a constant so crit rolls are deterministic:
// Intn(100) sees v, so v=99 never crits and v=0 always does.
type fixedSource struct{ v int64 }

func (s fixedSource) Int63() int64 { return s.v << 32 }
func (s fixedSource) Seed(int64)   {}

func noCritRand() *rand.Rand  { return rand.New(fixedSource{v: 99}) }
func allCritRand() *rand.Rand { return rand.New(fixedSource{v: 0}) }

func unit(id, owner string, el Element, hp, atk, def, spd int) Unit {
	return Unit{
		ID:      id,
		OwnerID: owner,
		Name:    id,
		Element: el,
		HP:      hp,
		MaxHP:   hp,
		Attack:  atk,
		Defense: def,
		Speed:   spd,
	}
}

// one fast attacker vs one slow defender, so the attacker always acts first
// regardless of jitter
func newDuel(rnd *rand.Rand, el1, el2 Element, hp2 int) *Battle {
	a := unit("a:u1", "a", el1, 1000, 50, 50, 90)
	b := unit("b:u1", "b", el2, hp2, 50, 40, 10)
	return NewBattle([]Unit{a}, []Unit{b}, rnd)
}

func TestAttackDamageFormula(t *testing.T) {
	b := newDuel(noCritRand(), ElementFire, ElementFire, 1000)

	res, err := b.Resolve(Action{
		PlayerID:    "a",
		Kind:        ActionAttack,
		SourceID:    "a:u1",
		TargetID:    "b:u1",
		TimingBonus: 1,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// max(10, 50*2 - 40) = 60, neutral element, no crit
	if res.Damage != 60 {
		t.Fatalf("want damage 60, got %d", res.Damage)
	}
	if res.Critical {
		t.Fatalf("crit roll of 99 should never crit")
	}
	if res.TargetHP != 940 {
		t.Fatalf("want target hp 940, got %d", res.TargetHP)
	}
}

func TestCritDoublesDamage(t *testing.T) {
	b := newDuel(allCritRand(), ElementFire, ElementFire, 1000)

	res, err := b.Resolve(Action{
		PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1", TimingBonus: 1,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Critical || res.Damage != 120 {
		t.Fatalf("want crit for 120, got crit=%v damage=%d", res.Critical, res.Damage)
	}
}

func TestDamageFloor(t *testing.T) {
	a := unit("a:u1", "a", ElementFire, 100, 10, 50, 90)
	d := unit("b:u1", "b", ElementFire, 100, 50, 200, 10)
	b := NewBattle([]Unit{a}, []Unit{d}, noCritRand())

	res, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// 10*2 - 200 is deeply negative; floor is 10
	if res.Damage != 10 {
		t.Fatalf("want floored damage 10, got %d", res.Damage)
	}
	if res.TargetHP != 90 {
		t.Fatalf("hp went wrong way: %d", res.TargetHP)
	}
}

func TestElementMultipliers(t *testing.T) {
	cases := []struct {
		name     string
		att, def Element
		want     float64
	}{
		{"fire beats earth", ElementFire, ElementEarth, 1.5},
		{"earth loses to fire", ElementEarth, ElementFire, 0.75},
		{"light beats fire", ElementLight, ElementFire, 1.5},
		{"fire loses to shadow", ElementFire, ElementShadow, 0.75},
		{"fire vs water unrelated", ElementFire, ElementWater, 1.0},
		{"same element neutral", ElementAir, ElementAir, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Multiplier(tc.att, tc.def); got != tc.want {
				t.Fatalf("Multiplier(%s, %s) = %v, want %v", tc.att, tc.def, got, tc.want)
			}
		})
	}
}

func TestEachElementBeatsExactlyTwo(t *testing.T) {
	all := []Element{ElementFire, ElementEarth, ElementAir, ElementWater, ElementShadow, ElementLight}
	for _, att := range all {
		var wins, losses int
		for _, def := range all {
			switch Multiplier(att, def) {
			case 1.5:
				wins++
			case 0.75:
				losses++
			}
		}
		if wins != 2 || losses != 2 {
			t.Fatalf("%s: wins=%d losses=%d, want 2 and 2", att, wins, losses)
		}
	}
}

func TestElementalDamageApplied(t *testing.T) {
	b := newDuel(noCritRand(), ElementFire, ElementEarth, 1000)

	res, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// floor(60 * 1.5) = 90
	if res.Damage != 90 {
		t.Fatalf("want 90 with advantage, got %d", res.Damage)
	}
}

func TestDefaultsFillMissingStats(t *testing.T) {
	b := NewBattle(
		[]Unit{{ID: "a:u1", OwnerID: "a"}},
		[]Unit{{ID: "b:u1", OwnerID: "b"}},
		noCritRand(),
	)
	u, ok := b.Unit("a:u1")
	if !ok {
		t.Fatalf("unit missing")
	}
	if u.MaxHP != DefaultHP || u.HP != DefaultHP || u.Attack != DefaultAttack ||
		u.Defense != DefaultDefense || u.Speed != DefaultSpeed ||
		u.MaxEnergy != DefaultEnergy || u.Crit != DefaultCrit {
		t.Fatalf("defaults not applied: %+v", u)
	}
	if !u.Alive {
		t.Fatalf("new unit should be alive")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		action Action
		want   error
	}{
		{
			name:   "unknown source",
			action: Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:nope", TargetID: "b:u1"},
			want:   ErrNoSuchUnit,
		},
		{
			name:   "out of turn",
			action: Action{PlayerID: "b", Kind: ActionAttack, SourceID: "b:u1", TargetID: "a:u1"},
			want:   ErrWrongTurn,
		},
		{
			name:   "not the owner",
			action: Action{PlayerID: "b", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"},
			want:   ErrNotYourUnit,
		},
		{
			name:   "missing target",
			action: Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1"},
			want:   ErrBadTarget,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newDuel(noCritRand(), ElementFire, ElementFire, 1000)
			_, err := b.Resolve(tc.action)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			// rejected actions mutate nothing
			if u, _ := b.Unit("b:u1"); u.HP != 1000 {
				t.Fatalf("rejected action mutated state: hp=%d", u.HP)
			}
		})
	}
}

func TestAbilityCostsEnergy(t *testing.T) {
	b := newDuel(noCritRand(), ElementFire, ElementFire, 1000)

	res, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAbility, SourceID: "a:u1", TargetID: "b:u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// floor(60 * 1.25) = 75
	if res.Damage != 75 {
		t.Fatalf("want ability damage 75, got %d", res.Damage)
	}
	u, _ := b.Unit("a:u1")
	if u.Energy != DefaultEnergy-AbilityEnergyCost {
		t.Fatalf("energy not spent: %d", u.Energy)
	}
}

func TestAbilityWithoutEnergyRejected(t *testing.T) {
	a := unit("a:u1", "a", ElementFire, 100, 50, 50, 90)
	a.Energy = AbilityEnergyCost - 1
	a.MaxEnergy = DefaultEnergy
	d := unit("b:u1", "b", ElementFire, 100, 50, 50, 10)
	b := NewBattle([]Unit{a}, []Unit{d}, noCritRand())

	_, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAbility, SourceID: "a:u1", TargetID: "b:u1"})
	if !errors.Is(err, ErrNoEnergy) {
		t.Fatalf("want ErrNoEnergy, got %v", err)
	}
}

func TestSwitchConsumesTurn(t *testing.T) {
	b := newDuel(noCritRand(), ElementFire, ElementFire, 1000)

	res, err := b.Resolve(Action{PlayerID: "a", Kind: ActionSwitch, SourceID: "a:u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Damage != 0 {
		t.Fatalf("switch dealt damage: %d", res.Damage)
	}
	cur, ok := b.CurrentUnit()
	if !ok || cur.ID != "b:u1" {
		t.Fatalf("turn did not advance, current=%v", cur)
	}
}

func TestResolveMutatesOnlyTargetAndTurn(t *testing.T) {
	team1 := []Unit{
		unit("a:u1", "a", ElementFire, 1000, 50, 50, 95),
		unit("a:u2", "a", ElementWater, 500, 30, 30, 1),
	}
	team2 := []Unit{
		unit("b:u1", "b", ElementEarth, 1000, 50, 40, 2),
		unit("b:u2", "b", ElementAir, 500, 30, 30, 3),
	}
	b := NewBattle(team1, team2, noCritRand())

	before := map[string]Unit{}
	for _, u := range b.Units() {
		before[u.ID] = u
	}

	res, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, u := range b.Units() {
		if u.ID == res.TargetID {
			continue
		}
		if u != before[u.ID] {
			t.Fatalf("bystander %s mutated: %+v -> %+v", u.ID, before[u.ID], u)
		}
	}
}

func TestTurnOrderHoldsExactlyAliveUnits(t *testing.T) {
	team1 := []Unit{
		unit("a:u1", "a", ElementFire, 1000, 60, 50, 95),
		unit("a:u2", "a", ElementWater, 500, 30, 30, 1),
	}
	team2 := []Unit{
		unit("b:u1", "b", ElementEarth, 40, 50, 40, 2),
		unit("b:u2", "b", ElementAir, 500, 30, 30, 3),
	}
	b := NewBattle(team1, team2, noCritRand())

	// a:u1 one-shots b:u1 (floor(80 * 1.5) = 120 > 40)
	res, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.KnockedOut {
		t.Fatalf("expected KO, got %+v", res)
	}

	alive := map[string]bool{}
	for _, u := range b.Units() {
		if u.Alive {
			alive[u.ID] = true
		}
	}
	order := b.TurnOrder()
	if len(order) != len(alive) {
		t.Fatalf("order %v does not match alive set %v", order, alive)
	}
	seen := map[string]bool{}
	for _, id := range order {
		if !alive[id] || seen[id] {
			t.Fatalf("order %v has dead or duplicate entry %s", order, id)
		}
		seen[id] = true
	}
}

func TestOneVOneFatalHitEndsBattle(t *testing.T) {
	b := newDuel(noCritRand(), ElementFire, ElementFire, 50)

	res, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.KnockedOut || !res.BattleEnded {
		t.Fatalf("want KO + battle end, got %+v", res)
	}
	if res.WinnerID != "a" || res.LoserID != "b" {
		t.Fatalf("want winner a / loser b, got %s / %s", res.WinnerID, res.LoserID)
	}
	if res.TargetHP != 0 {
		t.Fatalf("hp must floor at 0, got %d", res.TargetHP)
	}
	if _, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"}); !errors.Is(err, ErrBattleOver) {
		t.Fatalf("want ErrBattleOver after the end, got %v", err)
	}
}

func TestOrderRecomputedEachRound(t *testing.T) {
	b := newDuel(noCritRand(), ElementFire, ElementFire, 10000)

	for round := 0; round < 5; round++ {
		cur, ok := b.CurrentUnit()
		if !ok || cur.ID != "a:u1" {
			t.Fatalf("round %d: fast unit should lead every round, got %v", round, cur)
		}
		if _, err := b.Resolve(Action{PlayerID: "a", Kind: ActionAttack, SourceID: "a:u1", TargetID: "b:u1"}); err != nil {
			t.Fatalf("round %d attack: %v", round, err)
		}
		if _, err := b.Resolve(Action{PlayerID: "b", Kind: ActionAttack, SourceID: "b:u1", TargetID: "a:u1"}); err != nil {
			t.Fatalf("round %d counter: %v", round, err)
		}
		if got := len(b.TurnOrder()); got != 2 {
			t.Fatalf("round %d: order size %d", round, got)
		}
	}
}

func TestVictoryPartition(t *testing.T) {
	team1 := []Unit{
		unit("a:u1", "a", ElementFire, 100, 50, 50, 90),
		unit("a:u2", "a", ElementWater, 100, 50, 50, 80),
	}
	team2 := []Unit{
		unit("b:u1", "b", ElementEarth, 100, 50, 50, 70),
		unit("b:u2", "b", ElementAir, 100, 50, 50, 60),
	}
	b := NewBattle(team1, team2, noCritRand())

	if _, _, over := b.checkVictory(); over {
		t.Fatal("two owners alive must not end the battle")
	}

	b.units["b:u1"].Alive = false
	if _, _, over := b.checkVictory(); over {
		t.Fatal("owner with a unit left must keep the battle going")
	}

	b.units["b:u2"].Alive = false
	winner, loser, over := b.checkVictory()
	if !over || winner != "a" || loser != "b" {
		t.Fatalf("want winner a / loser b, got %q / %q over=%v", winner, loser, over)
	}

	// A draw never arises from Resolve, but the partition still reports it
	// as terminal with no winner.
	b.units["a:u1"].Alive = false
	b.units["a:u2"].Alive = false
	winner, loser, over = b.checkVictory()
	if !over || winner != "" || loser != "" {
		t.Fatalf("want terminal draw, got %q / %q over=%v", winner, loser, over)
	}
}
