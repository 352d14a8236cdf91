package loop

import (
	"fmt"

	"go.uber.org/zap"
)

// State is a build-test-fix loop state
type State string

const (
	StateIdle             State = "idle"
	StateBuilding         State = "building"
	StateBuildFailed      State = "build-failed"
	StateTesting          State = "testing"
	StateTestsFailed      State = "tests-failed"
	StateFixing           State = "fixing"
	StateSuccess          State = "success"
	StateExhaustedRetries State = "exhausted-retries"
)

var transitions = map[State][]State{
	StateIdle:        {StateBuilding},
	StateBuilding:    {StateBuildFailed, StateTesting},
	StateBuildFailed: {StateFixing, StateExhaustedRetries},
	StateTesting:     {StateTestsFailed, StateSuccess},
	StateTestsFailed: {StateFixing, StateExhaustedRetries},
	StateFixing:      {StateBuilding},
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateExhaustedRetries
}

// Failed reports whether s records a failed iteration
func (s State) Failed() bool {
	return s == StateBuildFailed || s == StateTestsFailed
}

// CanTransition reports whether the loop may move from s to next
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// machine tracks the current state of one run and rejects transitions the
// loop does not define
type machine struct {
	state  State
	trace  []State
	logger *zap.Logger
}

func newMachine(logger *zap.Logger) *machine {
	return &machine{
		state:  StateIdle,
		trace:  []State{StateIdle},
		logger: logger,
	}
}

func (m *machine) to(next State, iteration int) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("invalid loop transition %s -> %s", m.state, next)
	}

	m.logger.Debug("loop transition",
		zap.Int("iteration", iteration),
		zap.String("from", string(m.state)),
		zap.String("to", string(next)),
	)
	m.state = next
	m.trace = append(m.trace, next)
	return nil
}
