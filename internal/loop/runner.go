// Package loop runs the build-test-fix cycle against a generated tree.
// Iterations run strictly one after another and the number of iterations is
// bounded by a mandatory MaxIterations.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	generr "github.com/conduit-lang/svcgen/internal/errors"
)

// Config configures a Runner
type Config struct {
	// MaxIterations bounds the number of build attempts. It must be at least 1.
	MaxIterations int

	// Tool builds and tests the tree
	Tool Tool

	// Fixer is asked for a correction after each failed iteration that is
	// not the last. A nil Fixer means NopFixer. A failing fixer is recorded
	// against its iteration and does not end the run.
	Fixer Fixer

	Logger *zap.Logger
}

// Result is the outcome of a run
type Result struct {
	RunID      uuid.UUID
	State      State
	Iterations int
	// History holds one record per failed iteration
	History  []BuildResult
	Trace    []State
	Duration time.Duration
}

// Failures returns the total number of failure records across the history
func (r *Result) Failures() int {
	n := 0
	for _, br := range r.History {
		n += len(br.Failures)
	}
	return n
}

// Runner drives the build-test-fix state machine
type Runner struct {
	config Config
	logger *zap.Logger
}

// NewRunner validates the configuration and creates a runner
func NewRunner(config Config) (*Runner, error) {
	if config.MaxIterations < 1 {
		return nil, generr.NewInvalidConfig("loop.max_iterations",
			fmt.Sprintf("must be at least 1, got %d", config.MaxIterations))
	}
	if config.Tool == nil {
		return nil, generr.NewInvalidConfig("loop.build_command", "a build tool is required")
	}
	if config.Fixer == nil {
		config.Fixer = NopFixer{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{config: config, logger: logger}, nil
}

// Run builds and tests tree until it passes or MaxIterations is reached. The
// context is checked between iterations only; a running build or test is
// always allowed to finish.
func (r *Runner) Run(ctx context.Context, tree string) (*Result, error) {
	started := time.Now()
	m := newMachine(r.logger)
	result := &Result{RunID: uuid.New()}

	logger := r.logger.With(
		zap.String("run_id", result.RunID.String()),
		zap.String("tree", tree),
	)

	finish := func() *Result {
		result.State = m.state
		result.Trace = m.trace
		result.Duration = time.Since(started)
		return result
	}

	for i := 1; i <= r.config.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("loop cancelled", zap.Int("iteration", i), zap.Error(err))
			return finish(), fmt.Errorf("loop cancelled before iteration %d: %w", i, err)
		}

		result.Iterations = i
		br, err := r.iterate(m, i, tree, logger)
		if err != nil {
			return finish(), err
		}

		if m.state == StateSuccess {
			logger.Info("build and tests passed", zap.Int("iterations", i))
			return finish(), nil
		}

		result.History = append(result.History, br)
		logger.Info("iteration failed",
			zap.Int("iteration", i),
			zap.String("phase", string(br.Phase)),
			zap.Int("exit_code", br.ExitCode),
			zap.Int("failures", len(br.Failures)),
		)

		if i == r.config.MaxIterations {
			break
		}

		if err := m.to(StateFixing, i); err != nil {
			return finish(), err
		}
		if err := r.config.Fixer.Fix(ctx, tree, br); err != nil {
			fixErr := generr.NewFixFailed(i, err)
			logger.Warn("fixer failed", zap.Int("iteration", i), zap.Error(fixErr))
			last := &result.History[len(result.History)-1]
			last.Failures = append(last.Failures, Failure{Category: CategoryFix, Message: fixErr.Error()})
		}
	}

	if err := m.to(StateExhaustedRetries, result.Iterations); err != nil {
		return finish(), err
	}
	logger.Warn("retries exhausted",
		zap.Int("iterations", result.Iterations),
		zap.Int("failed_results", len(result.History)),
	)
	return finish(), generr.NewExhaustedRetries(tree, result.Iterations, len(result.History))
}

// iterate runs one build and, when it passes, one test invocation. A tool
// that cannot be run counts as a failed phase so the run still ends in
// success or exhausted-retries.
func (r *Runner) iterate(m *machine, i int, tree string, logger *zap.Logger) (BuildResult, error) {
	if err := m.to(StateBuilding, i); err != nil {
		return BuildResult{}, err
	}

	outcome, err := r.config.Tool.Invoke(PhaseBuild, tree)
	if err != nil || !outcome.Succeeded() {
		if err := m.to(StateBuildFailed, i); err != nil {
			return BuildResult{}, err
		}
		if err != nil {
			return toolFailure(i, PhaseBuild, err, logger), nil
		}
		return failedResult(i, PhaseBuild, outcome, tree), nil
	}

	if err := m.to(StateTesting, i); err != nil {
		return BuildResult{}, err
	}
	outcome, err = r.config.Tool.Invoke(PhaseTest, tree)
	if err != nil || !outcome.Succeeded() {
		if err := m.to(StateTestsFailed, i); err != nil {
			return BuildResult{}, err
		}
		if err != nil {
			return toolFailure(i, PhaseTest, err, logger), nil
		}
		return failedResult(i, PhaseTest, outcome, tree), nil
	}

	if err := m.to(StateSuccess, i); err != nil {
		return BuildResult{}, err
	}
	return BuildResult{Iteration: i, Phase: PhaseTest, Success: true}, nil
}

// outputTail is how many trailing output lines a BuildResult keeps
const outputTail = 200

func failedResult(i int, phase Phase, outcome Outcome, tree string) BuildResult {
	failures := ParseFailures(outcome.Output, tree)
	if len(failures) == 0 {
		failures = []Failure{unparsedFailure(outcome)}
	}
	return BuildResult{
		Iteration: i,
		Phase:     phase,
		ExitCode:  outcome.ExitCode,
		Output:    tail(outcome.Output, outputTail),
		Failures:  failures,
	}
}

func toolFailure(i int, phase Phase, err error, logger *zap.Logger) BuildResult {
	if _, ok := generr.As(err); !ok {
		err = generr.NewToolFailed(string(phase), err)
	}
	logger.Warn("tool could not be run",
		zap.Int("iteration", i),
		zap.String("phase", string(phase)),
		zap.Error(err),
	)
	return BuildResult{
		Iteration: i,
		Phase:     phase,
		ExitCode:  -1,
		Failures:  []Failure{{Category: CategoryTool, Message: err.Error()}},
	}
}
