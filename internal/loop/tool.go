package loop

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"

	generr "github.com/conduit-lang/svcgen/internal/errors"
)

// Phase is one half of an iteration
type Phase string

const (
	PhaseBuild Phase = "build"
	PhaseTest  Phase = "test"
)

// Outcome is what the build or test tool reported. A non-zero exit code is a
// failed build or test run, not an invocation error.
type Outcome struct {
	ExitCode int
	Output   string
}

// Succeeded reports whether the tool exited cleanly
func (o Outcome) Succeeded() bool {
	return o.ExitCode == 0
}

// Tool runs the external build and test commands against a generated tree.
// Invoke returns an error only when the tool could not be run at all.
type Tool interface {
	Invoke(phase Phase, dir string) (Outcome, error)
}

// CommandTool runs configured command lines with os/exec. Commands run without
// a context so a build is never interrupted halfway.
type CommandTool struct {
	build []string
	test  []string
	env   []string
}

// NewCommandTool parses the build and test command lines. The test command
// must not skip tests.
func NewCommandTool(build, test string, env ...string) (*CommandTool, error) {
	buildArgs, err := splitCommand("loop.build_command", build)
	if err != nil {
		return nil, err
	}
	testArgs, err := splitCommand("loop.test_command", test)
	if err != nil {
		return nil, err
	}
	if err := CheckTestCommand(test); err != nil {
		return nil, err
	}

	return &CommandTool{build: buildArgs, test: testArgs, env: env}, nil
}

// Invoke runs the command for phase inside dir
func (t *CommandTool) Invoke(phase Phase, dir string) (Outcome, error) {
	var args []string
	switch phase {
	case PhaseBuild:
		args = t.build
	case PhaseTest:
		args = t.test
	default:
		return Outcome{}, fmt.Errorf("unknown phase %q", phase)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), t.env...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return Outcome{ExitCode: 0, Output: output.String()}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Outcome{ExitCode: exitErr.ExitCode(), Output: output.String()}, nil
	}
	return Outcome{}, generr.NewToolFailed(string(phase), err)
}

// skipFlags are test command arguments that suppress test execution
var skipFlags = []string{"-DskipTests", "-Dmaven.test.skip", "-DskipITs"}

// CheckTestCommand rejects a test command line that skips tests
func CheckTestCommand(command string) error {
	args, err := shellquote.Split(command)
	if err != nil {
		return generr.NewInvalidConfig("loop.test_command", err.Error())
	}

	for i, arg := range args {
		for _, flag := range skipFlags {
			if arg == flag || strings.HasPrefix(arg, flag+"=") {
				if strings.HasSuffix(arg, "=false") {
					continue
				}
				return generr.NewSkipTestsForbidden(command, flag)
			}
		}

		// Gradle excludes tasks with -x <task> or --exclude-task <task>
		if (arg == "-x" || arg == "--exclude-task") && i+1 < len(args) && isTestTask(args[i+1]) {
			return generr.NewSkipTestsForbidden(command, arg+" "+args[i+1])
		}
	}
	return nil
}

func isTestTask(task string) bool {
	task = task[strings.LastIndex(task, ":")+1:]
	return task == "test" || task == "check"
}

func splitCommand(key, command string) ([]string, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, generr.NewInvalidConfig(key, err.Error())
	}
	if len(args) == 0 {
		return nil, generr.NewInvalidConfig(key, "command is required")
	}
	return args, nil
}
