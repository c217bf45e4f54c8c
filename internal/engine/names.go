package engine

import "math/rand"

// NameFunc produces a display name for a new room. Names are cosmetic and
// play no part in assignment.
type NameFunc func() string

var (
	nameAdjectives = []string{"Quiet", "Drifting", "Silver", "Shallow", "Misty", "Gentle", "Hidden", "Amber", "Slow", "Bright"}
	nameNouns      = []string{"Harbor", "Current", "Eddy", "Cove", "Delta", "Shoal", "Lagoon", "Rapids", "Bend", "Pool"}
)

func RandomName() string {
	return nameAdjectives[rand.Intn(len(nameAdjectives))] + " " + nameNouns[rand.Intn(len(nameNouns))]
}
