package engine

type Element string

const (
	ElementFire   Element = "fire"
	ElementEarth  Element = "earth"
	ElementAir    Element = "air"
	ElementWater  Element = "water"
	ElementShadow Element = "shadow"
	ElementLight  Element = "light"
)

// beats is a directed relation: each element is advantaged against exactly
// the next two elements in the cycle fire -> earth -> air -> water ->
// shadow -> light -> fire, which also leaves each element disadvantaged
// against exactly two.
var beats = map[Element][2]Element{
	ElementFire:   {ElementEarth, ElementAir},
	ElementEarth:  {ElementAir, ElementWater},
	ElementAir:    {ElementWater, ElementShadow},
	ElementWater:  {ElementShadow, ElementLight},
	ElementShadow: {ElementLight, ElementFire},
	ElementLight:  {ElementFire, ElementEarth},
}

const (
	advantageMult    = 1.5
	disadvantageMult = 0.75
	neutralMult      = 1.0
)

// Multiplier returns the elemental damage factor for attacker vs defender.
func Multiplier(attacker, defender Element) float64 {
	if elementBeats(attacker, defender) {
		return advantageMult
	}
	if elementBeats(defender, attacker) {
		return disadvantageMult
	}
	return neutralMult
}

func elementBeats(a, d Element) bool {
	pair, ok := beats[a]
	return ok && (pair[0] == d || pair[1] == d)
}

// ValidElement reports whether e names one of the six elements. Unknown
// tags stay playable and simply resolve as neutral.
func ValidElement(e Element) bool {
	_, ok := beats[e]
	return ok
}
