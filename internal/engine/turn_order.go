package engine

import "sort"

const orderJitter = 10.0

// rollOrder sorts the alive units descending by speed plus a fresh
// uniform [0,10) jitter. The jitter doubles as the tie breaker, so two
// equal-speed units swap places from round to round. Called at battle start
// and at the start of every round.
func (b *Battle) rollOrder() []string {
	type keyed struct {
		id  string
		key float64
	}
	entries := make([]keyed, 0, len(b.roster))
	for _, id := range b.roster {
		u := b.units[id]
		if !u.Alive {
			continue
		}
		entries = append(entries, keyed{id: id, key: float64(u.Speed) + b.rnd.Float64()*orderJitter})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key > entries[j].key })

	order := make([]string, len(entries))
	for i, e := range entries {
		order[i] = e.id
	}
	return order
}
