package negotiation

// State is a negotiation session state.
type State int

const (
	Advertising State = iota
	MechanismSelected
	Challenging
	Responding
	Authenticated
	Failed
)

var stateNames = [...]string{
	Advertising:       "advertising",
	MechanismSelected: "mechanism_selected",
	Challenging:       "challenging",
	Responding:        "responding",
	Authenticated:     "authenticated",
	Failed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further frame will be processed.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}
