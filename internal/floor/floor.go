package floor

// Decision represents the action the floor manager wants the controller to take.
type Decision struct {
	StopCapture bool
	Rearm       bool
	Reason      string // e.g. "final_transcript", "stop_requested"
}

// Manager arbitrates a half-duplex floor: the avatar either listens or
// speaks, never both. It also holds the operator stop flag.
type Manager struct {
	listening     bool
	speaking      bool
	activeTurnID  string
	stopRequested bool
}

func New() *Manager { return &Manager{} }

// CanListen reports whether capture may be armed.
func (m *Manager) CanListen() bool { return !m.speaking }

func (m *Manager) Listening() bool { return m.listening }

func (m *Manager) Speaking() bool { return m.speaking }

func (m *Manager) OnListenStarted() Decision {
	if m.speaking {
		return Decision{StopCapture: true, Reason: "speaking"}
	}
	m.listening = true
	return Decision{}
}

// OnListenStopped records that capture was released for any reason.
func (m *Manager) OnListenStopped() { m.listening = false }

// OnFinal is called when a winning transcript arrives; the floor is released
// so the reply can be spoken.
func (m *Manager) OnFinal() Decision {
	if !m.listening {
		return Decision{}
	}
	m.listening = false
	return Decision{StopCapture: true, Reason: "final_transcript"}
}

func (m *Manager) OnSpeakStarted(turnID string) Decision {
	m.speaking = true
	m.activeTurnID = turnID
	if m.listening {
		// should not happen; capture must be released first
		m.listening = false
		return Decision{StopCapture: true, Reason: "speak_while_listening"}
	}
	return Decision{}
}

// OnSpeakDone releases the floor. Rearm is set unless a stop was requested.
func (m *Manager) OnSpeakDone(turnID string) Decision {
	// Regardless of ID match, stopping clears speaking.
	m.speaking = false
	m.activeTurnID = ""
	if m.stopRequested {
		return Decision{Reason: "stop_requested"}
	}
	return Decision{Rearm: true, Reason: "playback_complete"}
}

// OnTurnAborted is called when a turn ends without speaking (failure or empty reply).
func (m *Manager) OnTurnAborted() Decision {
	m.speaking = false
	m.activeTurnID = ""
	if m.stopRequested {
		return Decision{Reason: "stop_requested"}
	}
	return Decision{Rearm: true, Reason: "turn_aborted"}
}

func (m *Manager) ActiveTurn() string { return m.activeTurnID }

func (m *Manager) RequestStop() { m.stopRequested = true }

func (m *Manager) ClearStop() { m.stopRequested = false }

func (m *Manager) StopRequested() bool { return m.stopRequested }
