package batch

import (
	"fmt"
	"sync"
	"time"
)

// ExecutorState is the phase of a batch execution.
type ExecutorState int

const (
	// Idle means no batch is running.
	Idle ExecutorState = iota
	// ConnectionOpen means a connection was acquired for the batch.
	ConnectionOpen
	// TransactionOpen means the batch transaction has begun.
	TransactionOpen
	// Binding means statements present at the start are being initialized.
	Binding
	// Executing means statements are running in order.
	Executing
	// Committed means the transaction committed.
	Committed
	// RolledBack means the transaction was rolled back (or a rollback was attempted).
	RolledBack
)

// String returns the string representation of the executor state.
func (s ExecutorState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case ConnectionOpen:
		return "CONNECTION_OPEN"
	case TransactionOpen:
		return "TRANSACTION_OPEN"
	case Binding:
		return "BINDING"
	case Executing:
		return "EXECUTING"
	case Committed:
		return "COMMITTED"
	case RolledBack:
		return "ROLLED_BACK"
	default:
		return "UNKNOWN"
	}
}

// StateTransition describes a change of executor state.
//
// Metadata keys used by the executor:
//   - trace_id: string - id of the batch run
//   - statements: int - batch length when the transition happened
type StateTransition struct {
	From      ExecutorState
	To        ExecutorState
	Timestamp time.Time

	// Error is the failure that caused the transition, if any.
	Error error

	// Duration is how long the previous state was held.
	Duration time.Duration

	Metadata map[string]interface{}
}

// StateChangeHandler is called when the executor state changes.
type StateChangeHandler func(transition StateTransition)

// StateManager tracks executor state and notifies handlers of transitions.
type StateManager struct {
	current        ExecutorState
	lastTransition time.Time
	history        []StateTransition
	handlers       []StateChangeHandler
	mu             sync.RWMutex
}

// NewStateManager creates a state manager in the Idle state.
func NewStateManager() *StateManager {
	return &StateManager{
		current:        Idle,
		lastTransition: time.Now(),
		handlers:       make([]StateChangeHandler, 0),
	}
}

// TransitionTo moves to newState, returning an error if the transition is illegal.
//
// Legal transitions:
//   - Idle → ConnectionOpen
//   - ConnectionOpen → TransactionOpen | Idle (begin failed)
//   - TransactionOpen → Binding
//   - Binding → Executing | RolledBack
//   - Executing → Committed | RolledBack
//   - Committed | RolledBack → Idle
func (sm *StateManager) TransitionTo(newState ExecutorState, err error, metadata map[string]interface{}) error {
	sm.mu.Lock()

	if !isLegalTransition(sm.current, newState) {
		current := sm.current
		sm.mu.Unlock()
		return fmt.Errorf("illegal state transition: %s → %s", current, newState)
	}

	now := time.Now()
	transition := StateTransition{
		From:      sm.current,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.lastTransition),
		Metadata:  metadata,
	}

	sm.current = newState
	sm.lastTransition = now
	if newState == ConnectionOpen {
		sm.history = sm.history[:0]
	}
	sm.history = append(sm.history, transition)

	handlers := make([]StateChangeHandler, len(sm.handlers))
	copy(handlers, sm.handlers)
	sm.mu.Unlock()

	// Handlers run without the lock so they may query the manager.
	for _, handler := range handlers {
		handler(transition)
	}
	return nil
}

func isLegalTransition(from, to ExecutorState) bool {
	switch from {
	case Idle:
		return to == ConnectionOpen
	case ConnectionOpen:
		return to == TransactionOpen || to == Idle
	case TransactionOpen:
		return to == Binding
	case Binding:
		return to == Executing || to == RolledBack
	case Executing:
		return to == Committed || to == RolledBack
	case Committed, RolledBack:
		return to == Idle
	default:
		return false
	}
}

// OnStateChange registers a handler to be called on state transitions.
func (sm *StateManager) OnStateChange(handler StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

// State returns the current state.
func (sm *StateManager) State() ExecutorState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// History returns the transitions of the most recent batch run.
func (sm *StateManager) History() []StateTransition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	history := make([]StateTransition, len(sm.history))
	copy(history, sm.history)
	return history
}

// reset forces the manager back to Idle without notifying handlers. It is only
// used when a statement panics mid-batch.
func (sm *StateManager) reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.current = Idle
	sm.lastTransition = time.Now()
}
