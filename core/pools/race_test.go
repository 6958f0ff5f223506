//go:build race

package pools

// sync.Pool randomly drops items under the race detector
const raceEnabled = true
