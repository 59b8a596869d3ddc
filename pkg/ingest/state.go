package ingest

import "fmt"

// State is the phase of an import run.
type State uint32

const (
	Idle State = iota
	Scanning
	Processing
	Committing
	Completed
	Cancelling
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Scanning:
		return "Scanning"
	case Processing:
		return "Processing"
	case Committing:
		return "Committing"
	case Completed:
		return "Completed"
	case Cancelling:
		return "Cancelling"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st <= Cancelled; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Terminal reports whether a run in this state has ended.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled
}

// canTransition encodes the run state machine.
func canTransition(from, to State) bool {
	switch to {
	case Idle:
		return from == Idle || from.Terminal()
	case Scanning:
		return from == Idle
	case Processing:
		return from == Scanning || from == Committing
	case Committing:
		return from == Processing
	case Completed:
		return from == Scanning || from == Processing || from == Committing
	case Cancelling:
		return from != Idle && !from.Terminal() && from != Cancelling
	case Cancelled:
		return from == Cancelling
	}
	return false
}
