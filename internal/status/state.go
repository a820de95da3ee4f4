package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mvalverde/chatmux/internal/bus"
)

// State represents the runtime state of one account session.
type State string

const (
	Initializing  State = "INITIALIZING"
	QRReady       State = "QR_READY"
	Authenticated State = "AUTHENTICATED"
	Connected     State = "CONNECTED"
	Error         State = "ERROR"
	InitFailed    State = "INIT_FAILED"
	Disconnected  State = "DISCONNECTED"
)

// validTransitions defines allowed state transitions. INIT_FAILED and
// DISCONNECTED are reachable from anywhere (fatal init error, explicit
// logout), so they appear in every row.
var validTransitions = map[State][]State{
	Initializing:  {QRReady, Authenticated, Error, InitFailed, Disconnected},
	QRReady:       {Authenticated, Error, InitFailed, Disconnected},
	Authenticated: {Connected, Error, InitFailed, Disconnected},
	Connected:     {Authenticated, Error, InitFailed, Disconnected},
	Error:         {Initializing, InitFailed, Disconnected},
	InitFailed:    {Initializing, Disconnected},
	Disconnected:  {Initializing},
}

// Machine tracks and enforces session state transitions for one account.
type Machine struct {
	mu        sync.RWMutex
	current   State
	accountID string
	bus       *bus.Bus
}

// NewMachine creates a state machine for the given account, starting in
// Initializing.
func NewMachine(accountID string, b *bus.Bus) *Machine {
	return &Machine{
		current:   Initializing,
		accountID: accountID,
		bus:       b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status",
			AccountID: m.accountID,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
