package authcenter

import "slices"

// State is the lifecycle state of a Client.
//
//	created ──Start──▶ starting ──▶ ready ──Close──▶ closing ──▶ closed
//	                      ├──Close──▶ closing
//	                      └──▶ failed ──Start──▶ starting
type State string

const (
	// StateCreated is a Client returned by New that has not been started.
	// It already verifies tokens; the first request fetches keys.
	StateCreated State = "created"

	StateStarting State = "starting"

	// StateReady means the key set was loaded during Start.
	StateReady State = "ready"

	// StateFailed means Start could not load keys. Requests are still
	// served; each one retries the fetch.
	StateFailed State = "failed"

	StateClosing State = "closing"
	StateClosed  State = "closed"
)

func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

var validTransitions = map[State][]State{
	StateCreated:  {StateStarting, StateClosing},
	StateStarting: {StateReady, StateFailed, StateClosing},
	StateReady:    {StateClosing},
	StateFailed:   {StateStarting, StateClosing},
	StateClosing:  {StateClosed},
}

// ValidTransition reports whether a Client may move from one state to
// another. Self-transitions are not valid.
func ValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}
