package fsm

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// State describes what the bridge and the recognizer behind it are doing.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateRecording    State = "recording"
	StateProcessing   State = "processing"
	StatePaused       State = "paused"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Mode decides what follows a lost connection.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// Input statuses and process states reported by the recognizer.
const (
	InputListen   = "LISTEN"
	InputStartRec = "STARTREC"
	InputEndRec   = "ENDREC"
	ProcessActive = "ACTIVE"
	ProcessSleep  = "SLEEP"
)

// Snapshot is a consistent copy of the machine.
type Snapshot struct {
	State        State     `json:"state"`
	Mode         Mode      `json:"mode"`
	Since        time.Time `json:"since"`
	Sessions     int       `json:"sessions"`
	Recognitions int       `json:"recognitions"`
}

// Machine tracks the bridge lifecycle. It is safe for concurrent use.
type Machine struct {
	mu           sync.RWMutex
	state        State
	mode         Mode
	since        time.Time
	sessions     int
	recognitions int
	now          func() time.Time
}

// New creates a disconnected machine in auto mode.
func New() *Machine {
	return &Machine{
		state: StateDisconnected,
		mode:  ModeAuto,
		since: time.Now(),
		now:   time.Now,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode returns the reconnect mode.
func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Snapshot returns the state with its counters.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		State:        m.state,
		Mode:         m.mode,
		Since:        m.since,
		Sessions:     m.sessions,
		Recognitions: m.recognitions,
	}
}

// SetMode updates the reconnect policy.
func (m *Machine) SetMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case string(ModeManual):
		m.mode = ModeManual
	default:
		m.mode = ModeAuto
	}
}

// OnConnecting marks a dial attempt.
func (m *Machine) OnConnecting() bool {
	return m.transition(StateConnecting)
}

// OnConnected starts a session. The recognizer listens until told otherwise.
func (m *Machine) OnConnected() bool {
	m.mu.Lock()
	m.sessions++
	m.mu.Unlock()
	return m.transition(StateListening)
}

// OnInputStatus follows INPUT STATUS values. Unknown values are ignored.
func (m *Machine) OnInputStatus(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case InputListen:
		return m.transition(StateListening)
	case InputStartRec:
		return m.transition(StateRecording)
	case InputEndRec:
		return m.transition(StateProcessing)
	default:
		return false
	}
}

// OnProcessStatus follows SYSINFO PROCESS values.
func (m *Machine) OnProcessStatus(process string) bool {
	switch strings.ToUpper(strings.TrimSpace(process)) {
	case ProcessSleep:
		return m.transition(StatePaused)
	case ProcessActive:
		return m.transition(StateListening)
	default:
		return false
	}
}

// OnRecognition counts a recognition result and returns to listening.
func (m *Machine) OnRecognition() bool {
	m.mu.Lock()
	m.recognitions++
	m.mu.Unlock()
	return m.transition(StateListening)
}

// OnDisconnected leaves the session according to mode policy.
func (m *Machine) OnDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.mode {
	case ModeManual:
		return m.transitionLocked(StateStopped)
	default:
		return m.transitionLocked(StateReconnecting)
	}
}

// OnStop marks the bridge as shut down.
func (m *Machine) OnStop() bool {
	return m.transition(StateStopped)
}

// Force sets state unconditionally.
func (m *Machine) Force(state State) error {
	switch state {
	case StateDisconnected, StateConnecting, StateListening, StateRecording,
		StateProcessing, StatePaused, StateReconnecting, StateStopped:
		m.transition(state)
		return nil
	default:
		return fmt.Errorf("invalid state: %s", state)
	}
}

func (m *Machine) transition(state State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(state)
}

func (m *Machine) transitionLocked(state State) bool {
	if m.state == state {
		return false
	}
	m.state = state
	m.since = m.now()
	return true
}
