package engine

import "fmt"

// NamespacedID prefixes a locally unique unit id with its owning session id.
func NamespacedID(ownerID, localID string) string {
	return fmt.Sprintf("%s:%s", ownerID, localID)
}

func fillDefaults(u *Unit) {
	if u.MaxHP <= 0 {
		u.MaxHP = DefaultHP
	}
	if u.HP <= 0 || u.HP > u.MaxHP {
		u.HP = u.MaxHP
	}
	if u.Attack <= 0 {
		u.Attack = DefaultAttack
	}
	if u.Defense <= 0 {
		u.Defense = DefaultDefense
	}
	if u.Speed <= 0 {
		u.Speed = DefaultSpeed
	}
	if u.MaxEnergy <= 0 {
		u.MaxEnergy = DefaultEnergy
	}
	if u.Energy <= 0 || u.Energy > u.MaxEnergy {
		u.Energy = u.MaxEnergy
	}
	if u.Crit <= 0 {
		u.Crit = DefaultCrit
	}
}

// AliveEnemies returns the alive unit ids not owned by ownerID, used by the
// session when auto-playing a turn against a random enemy.
func (b *Battle) AliveEnemies(ownerID string) []string {
	var out []string
	for _, id := range b.roster {
		if u := b.units[id]; u.Alive && u.OwnerID != ownerID {
			out = append(out, id)
		}
	}
	return out
}
