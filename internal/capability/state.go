package capability

// State is the resolved support level of one optional column.
type State int

const (
	Unknown State = iota
	Supported
	Unsupported
)

func (s State) String() string {
	switch s {
	case Supported:
		return "supported"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Resolved reports whether a probe or a marker has settled the state.
func (s State) Resolved() bool {
	return s != Unknown
}

// transition returns the state that follows from observing next while in current.
//
// Unsupported latches. Only [Prober.Reset] moves a column out of it.
func transition(current, next State) State {
	switch current {
	case Unsupported:
		return Unsupported
	case Supported:
		if next == Unsupported {
			return Unsupported
		}
		return Supported
	default:
		return next
	}
}
