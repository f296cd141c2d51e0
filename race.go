//go:build race

package turboq

// RaceEnabled is true when the race detector is active.
// Tests use it to shorten the heavier multi-goroutine scenarios (the SPSC
// wraparound and the MPSC many-producer tests), which run too slowly under
// the detector to be useful as anything but a correctness smoke test.
const RaceEnabled = true
