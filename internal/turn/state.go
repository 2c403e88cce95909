package turn

// State is the controller's position in the listen/respond cycle.
type State int32

const (
	Idle State = iota
	Bootstrapping
	Listening
	Recognizing
	Dispatching
	Synthesizing
	Speaking
)

var stateNames = [...]string{
	Idle:          "IDLE",
	Bootstrapping: "BOOTSTRAPPING",
	Listening:     "LISTENING",
	Recognizing:   "RECOGNIZING",
	Dispatching:   "DISPATCHING",
	Synthesizing:  "SYNTHESIZING",
	Speaking:      "SPEAKING",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// capturing reports whether capture may be armed in this state. Recognizing
// is entered only after capture has been released for the winning transcript.
func (s State) capturing() bool { return s == Listening }
