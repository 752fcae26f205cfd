// Package killswitch implements the global emergency trading halt. While
// active, all new proposals and submissions are refused. State persists to
// disk so a restart cannot silently resume trading.
package killswitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrActive is returned by Check while the switch is engaged.
var ErrActive = errors.New("kill switch is active")

// DefaultStatePath is the persistence file used when none is configured.
const DefaultStatePath = ".kill_switch_state"

// State is the persisted kill switch state. After a release the activation
// fields are kept as history of the last halt.
type State struct {
	Enabled     bool       `json:"enabled"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ActivatedBy string     `json:"activated_by,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Switch is the process-wide emergency stop. The KILL_SWITCH_ENABLED
// environment variable overrides everything: it forces the switch active
// and refuses deactivation while set.
type Switch struct {
	mu        sync.Mutex
	statePath string
	state     State
	clock     func() time.Time
}

// New loads persisted state from statePath and applies any environment
// override.
func New(statePath string) *Switch {
	if statePath == "" {
		statePath = DefaultStatePath
	}
	s := &Switch{statePath: statePath, clock: time.Now}
	s.state = loadState(statePath)
	s.applyEnvOverride()
	return s
}

// WithClock overrides clock for testing.
func (s *Switch) WithClock(clock func() time.Time) *Switch {
	s.clock = clock
	return s
}

func envEnabled() bool {
	switch strings.ToLower(os.Getenv("KILL_SWITCH_ENABLED")) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func loadState(path string) State {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupted state file, start fresh.
		return State{}
	}
	return state
}

// saveState persists under the caller's lock. Persistence failures are
// logged and tolerated; the in-memory state stays authoritative.
func (s *Switch) saveState() {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		slog.Warn("failed to serialize kill switch state", "error", err)
		return
	}
	if err := os.WriteFile(s.statePath, data, 0o644); err != nil {
		slog.Warn("failed to save kill switch state", "error", err)
	}
}

func (s *Switch) applyEnvOverride() {
	if !envEnabled() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Enabled {
		return
	}
	now := s.clock().UTC()
	s.state.Enabled = true
	s.state.ActivatedAt = &now
	s.state.ActivatedBy = "environment_variable"
	s.state.Reason = "KILL_SWITCH_ENABLED environment variable set"
	s.saveState()
}

// IsEnabled reports whether the switch is active. The environment variable
// is consulted on every call so an operator export takes effect immediately.
func (s *Switch) IsEnabled() bool {
	if envEnabled() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Enabled
}

// Activate engages the switch. Idempotent: a second activation keeps the
// original actor and reason.
func (s *Switch) Activate(activatedBy, reason string) State {
	if reason == "" {
		reason = "Emergency stop"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Enabled {
		now := s.clock().UTC()
		s.state.Enabled = true
		s.state.ActivatedAt = &now
		s.state.ActivatedBy = activatedBy
		s.state.Reason = reason
		s.saveState()
	}
	return s.state
}

// Deactivate releases the switch. Refused while KILL_SWITCH_ENABLED is set:
// an environment-level halt can only be lifted by unsetting the variable
// and restarting.
func (s *Switch) Deactivate(deactivatedBy string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if envEnabled() {
		return s.state, fmt.Errorf(
			"cannot deactivate kill switch: KILL_SWITCH_ENABLED environment variable is set; unset it and restart the service to deactivate")
	}
	if s.state.Enabled {
		s.state.Enabled = false
		// Activation fields are kept as history.
		s.saveState()
	}
	return s.state, nil
}

// GetState returns a copy of the persisted state. Callers wanting the
// effective status including the environment override should use IsEnabled.
func (s *Switch) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Check returns ErrActive (wrapped with context) when the switch is engaged.
func (s *Switch) Check(operation string) error {
	if !s.IsEnabled() {
		return nil
	}
	state := s.GetState()
	activatedAt := ""
	if state.ActivatedAt != nil {
		activatedAt = state.ActivatedAt.Format(time.RFC3339)
	}
	return fmt.Errorf("%w: %s blocked (activated at %s by %s: %s)",
		ErrActive, operation, activatedAt, state.ActivatedBy, state.Reason)
}
