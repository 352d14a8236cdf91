package loop

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	generr "github.com/conduit-lang/svcgen/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedTool returns queued outcomes per phase and succeeds once a queue
// is empty
type scriptedTool struct {
	mu      sync.Mutex
	outputs map[Phase][]Outcome
	calls   map[Phase]int
	err     error
}

func newScriptedTool() *scriptedTool {
	return &scriptedTool{
		outputs: make(map[Phase][]Outcome),
		calls:   make(map[Phase]int),
	}
}

func (s *scriptedTool) then(phase Phase, outcomes ...Outcome) *scriptedTool {
	s.outputs[phase] = append(s.outputs[phase], outcomes...)
	return s
}

func (s *scriptedTool) Invoke(phase Phase, dir string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[phase]++
	if s.err != nil {
		return Outcome{}, s.err
	}
	queue := s.outputs[phase]
	if len(queue) == 0 {
		return Outcome{ExitCode: 0, Output: "BUILD SUCCESS"}, nil
	}
	s.outputs[phase] = queue[1:]
	return queue[0], nil
}

// alwaysFailing fails every test invocation
type alwaysFailing struct {
	builds int
}

func (a *alwaysFailing) Invoke(phase Phase, dir string) (Outcome, error) {
	if phase == PhaseBuild {
		a.builds++
		return Outcome{ExitCode: 0}, nil
	}
	return Outcome{ExitCode: 1, Output: "InventoryTest > decrementsStock() FAILED"}, nil
}

type recordingFixer struct {
	results []BuildResult
	err     error
	onFix   func()
}

func (f *recordingFixer) Fix(ctx context.Context, dir string, result BuildResult) error {
	f.results = append(f.results, result)
	if f.onFix != nil {
		f.onFix()
	}
	return f.err
}

var compileFailure = Outcome{
	ExitCode: 1,
	Output:   "[ERROR] src/main/java/Inventory.java:[3,1] class, interface, or enum expected\n[INFO] BUILD FAILURE\n",
}

func newRunner(t *testing.T, max int, tool Tool, fixer Fixer) *Runner {
	t.Helper()
	r, err := NewRunner(Config{MaxIterations: max, Tool: tool, Fixer: fixer})
	require.NoError(t, err)
	return r
}

func TestRunFailThenSucceed(t *testing.T) {
	tool := newScriptedTool().then(PhaseBuild, compileFailure)
	fixer := &recordingFixer{}
	r := newRunner(t, 3, tool, fixer)

	result, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, result.State)
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.History, 1)
	assert.Equal(t, 1, result.History[0].Iteration)
	assert.Equal(t, PhaseBuild, result.History[0].Phase)
	assert.False(t, result.History[0].Success)
	require.Len(t, result.History[0].Failures, 1)
	assert.Equal(t, CategoryCompile, result.History[0].Failures[0].Category)
	assert.Equal(t, "src/main/java/Inventory.java", result.History[0].Failures[0].Artifact)
	assert.Contains(t, result.History[0].Output, "BUILD FAILURE")

	assert.Len(t, fixer.results, 1)
	assert.Equal(t, []State{
		StateIdle, StateBuilding, StateBuildFailed, StateFixing,
		StateBuilding, StateTesting, StateSuccess,
	}, result.Trace)
	assert.NotEqual(t, [16]byte{}, [16]byte(result.RunID))
}

func TestRunExhaustedRetries(t *testing.T) {
	tool := &alwaysFailing{}
	fixer := &recordingFixer{}
	r := newRunner(t, 2, tool, fixer)

	result, err := r.Run(context.Background(), t.TempDir())
	require.Error(t, err)

	e, ok := generr.As(err)
	require.True(t, ok)
	assert.Equal(t, generr.ErrExhaustedRetries, e.Code)
	assert.Equal(t, 6, generr.ExitCode(err))

	assert.Equal(t, StateExhaustedRetries, result.State)
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.History, 2)
	for i, br := range result.History {
		assert.Equal(t, i+1, br.Iteration)
		assert.Equal(t, PhaseTest, br.Phase)
		assert.Equal(t, CategoryTest, br.Failures[0].Category)
	}

	// no fix is requested once the budget is spent
	assert.Len(t, fixer.results, 1)
}

func TestRunNeverExceedsBound(t *testing.T) {
	for max := 1; max <= 5; max++ {
		tool := &alwaysFailing{}
		r := newRunner(t, max, tool, nil)

		result, err := r.Run(context.Background(), t.TempDir())
		require.Error(t, err)
		assert.Equal(t, max, tool.builds)
		assert.Equal(t, max, result.Iterations)
		assert.Len(t, result.History, max)
		assert.True(t, result.State.Terminal())
	}
}

func TestRunFirstIterationSucceeds(t *testing.T) {
	tool := newScriptedTool()
	r := newRunner(t, 1, tool, nil)

	result, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, result.State)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.History)
	assert.Equal(t, 1, tool.calls[PhaseTest])
}

func TestRunTestsFailedDoesNotSkipBuild(t *testing.T) {
	tool := newScriptedTool().then(PhaseTest, Outcome{ExitCode: 1, Output: "boom"})
	r := newRunner(t, 3, tool, nil)

	result, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 2, tool.calls[PhaseBuild])
	assert.Equal(t, 2, tool.calls[PhaseTest])

	require.Len(t, result.History, 1)
	assert.Equal(t, []Failure{{Category: CategoryUnknown, Message: "boom"}}, result.History[0].Failures)
}

func TestNewRunnerRequiresBound(t *testing.T) {
	for _, max := range []int{0, -1} {
		_, err := NewRunner(Config{MaxIterations: max, Tool: newScriptedTool()})
		require.Error(t, err)
		e, ok := generr.As(err)
		require.True(t, ok)
		assert.Equal(t, generr.ErrInvalidConfig, e.Code)
		assert.Equal(t, "loop.max_iterations", e.Element)
	}

	_, err := NewRunner(Config{MaxIterations: 1})
	assert.Error(t, err)
}

func TestRunCancelledBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := &alwaysFailing{}
	fixer := &recordingFixer{onFix: cancel}
	r := newRunner(t, 5, tool, fixer)

	result, err := r.Run(ctx, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, tool.builds)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, StateFixing, result.State)
}

func TestRunToolFailureExhaustsRetries(t *testing.T) {
	tool := newScriptedTool()
	tool.err = errors.New("mvn: executable file not found")
	fixer := &recordingFixer{}
	r := newRunner(t, 3, tool, fixer)

	result, err := r.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	e, ok := generr.As(err)
	require.True(t, ok)
	assert.Equal(t, generr.ErrExhaustedRetries, e.Code)

	assert.Equal(t, StateExhaustedRetries, result.State)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, tool.calls[PhaseBuild])
	assert.Zero(t, tool.calls[PhaseTest])
	require.Len(t, result.History, 3)
	for _, br := range result.History {
		assert.Equal(t, PhaseBuild, br.Phase)
		require.Len(t, br.Failures, 1)
		assert.Equal(t, CategoryTool, br.Failures[0].Category)
		assert.Contains(t, br.Failures[0].Message, "executable file not found")
		assert.Contains(t, br.Failures[0].Message, string(generr.ErrToolFailed))
	}
	assert.Len(t, fixer.results, 2)
}

func TestRunFixerFailureKeepsRetrying(t *testing.T) {
	tool := &alwaysFailing{}
	fixer := &recordingFixer{err: errors.New("fixer crashed")}
	r := newRunner(t, 3, tool, fixer)

	result, err := r.Run(context.Background(), t.TempDir())
	require.Error(t, err)
	e, ok := generr.As(err)
	require.True(t, ok)
	assert.Equal(t, generr.ErrExhaustedRetries, e.Code)
	assert.Equal(t, 6, generr.ExitCode(err))

	assert.Equal(t, StateExhaustedRetries, result.State)
	assert.Equal(t, 3, tool.builds)
	assert.Len(t, fixer.results, 2)

	require.Len(t, result.History, 3)
	for _, br := range result.History[:2] {
		last := br.Failures[len(br.Failures)-1]
		assert.Equal(t, CategoryFix, last.Category)
		assert.Contains(t, last.Message, "fixer crashed")
		assert.Contains(t, last.Message, string(generr.ErrFixFailed))
	}
	for _, f := range result.History[2].Failures {
		assert.NotEqual(t, CategoryFix, f.Category)
	}
}

func TestRunUnappliablePatchKeepsRetrying(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "A.java", "class A {}\n")
	writeFile(t, root, "fix.diff", "--- a/A.java\n+++ b/A.java\n@@ -1 +1 @@\n-class B {}\n+class C {}\n")

	fixer, err := NewPatchFixer("cat fix.diff", nil)
	require.NoError(t, err)
	tool := &alwaysFailing{}
	r := newRunner(t, 3, tool, fixer)

	result, err := r.Run(context.Background(), root)
	require.Error(t, err)
	assert.Equal(t, StateExhaustedRetries, result.State)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, tool.builds)

	first := result.History[0].Failures
	assert.Equal(t, CategoryFix, first[len(first)-1].Category)
	assert.Contains(t, first[len(first)-1].Message, "does not match")
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		allowed  bool
	}{
		{StateIdle, StateBuilding, true},
		{StateIdle, StateTesting, false},
		{StateBuilding, StateBuildFailed, true},
		{StateBuilding, StateTesting, true},
		{StateBuilding, StateSuccess, false},
		{StateTesting, StateSuccess, true},
		{StateTesting, StateTestsFailed, true},
		{StateBuildFailed, StateFixing, true},
		{StateBuildFailed, StateBuilding, false},
		{StateTestsFailed, StateExhaustedRetries, true},
		{StateFixing, StateBuilding, true},
		{StateFixing, StateTesting, false},
		{StateSuccess, StateBuilding, false},
		{StateExhaustedRetries, StateFixing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}

	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateExhaustedRetries.Terminal())
	assert.False(t, StateFixing.Terminal())
	assert.True(t, StateTestsFailed.Failed())
}
