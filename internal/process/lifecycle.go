package process

import "github.com/aether-os/kernel/internal/apperr"

// State is one of the seven lifecycle states of spec.md §4.4.2.
type State string

const (
	Created  State = "created"
	Running  State = "running"
	Sleeping State = "sleeping"
	Stopped  State = "stopped"
	Paused   State = "paused"
	Zombie   State = "zombie"
	Dead     State = "dead"
)

// transitions is the allowed-transition table. A (from, to) pair not present
// here fails the caller without mutating state — "any non-dead → zombie" is
// expanded into one entry per non-dead state rather than special-cased, so
// the validator stays a single map lookup.
var transitions = map[State]map[State]bool{
	Created:  {Running: true, Zombie: true},
	Running:  {Sleeping: true, Stopped: true, Paused: true, Zombie: true},
	Sleeping: {Running: true, Zombie: true},
	Stopped:  {Running: true, Zombie: true},
	Paused:   {Running: true, Zombie: true},
	Zombie:   {Dead: true},
	Dead:     {},
}

// validTransition reports whether from → to is an allowed lifecycle edge.
func validTransition(from, to State) bool {
	next, ok := transitions[from]
	return ok && next[to]
}

// checkTransition returns an INVALID_STATE error if from → to isn't allowed.
func checkTransition(from, to State) error {
	if !validTransition(from, to) {
		return apperr.Newf(apperr.InvalidState, "illegal state transition %s -> %s", from, to)
	}
	return nil
}
