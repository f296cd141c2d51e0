//go:build !race

package turboq

// RaceEnabled is false when the race detector is not active.
const RaceEnabled = false
