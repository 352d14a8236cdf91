package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	generr "github.com/conduit-lang/svcgen/internal/errors"
)

func TestCheckTestCommand(t *testing.T) {
	tests := []struct {
		command string
		wantErr bool
	}{
		{"mvn -B test", false},
		{"./gradlew test", false},
		{"mvn -B verify -DskipTests=false", false},
		{"mvn -B test -DskipTests", true},
		{"mvn -B test -DskipTests=true", true},
		{"mvn -B verify -Dmaven.test.skip=true", true},
		{"./gradlew build -x test", true},
		{"./gradlew build -x :inventory:test", true},
		{"./gradlew build --exclude-task check", true},
		{"./gradlew build -x javadoc", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			err := CheckTestCommand(tt.command)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			e, ok := generr.As(err)
			require.True(t, ok)
			assert.Equal(t, generr.ErrSkipTestsForbidden, e.Code)
			assert.Equal(t, generr.CategoryConfig, e.Category)
		})
	}
}

func TestNewCommandTool(t *testing.T) {
	_, err := NewCommandTool("", "mvn test")
	require.Error(t, err)
	e, ok := generr.As(err)
	require.True(t, ok)
	assert.Equal(t, "loop.build_command", e.Element)

	_, err = NewCommandTool("mvn compile", "mvn 'test")
	require.Error(t, err)

	_, err = NewCommandTool("mvn compile", "mvn test -DskipTests")
	require.Error(t, err)
}

func TestCommandToolInvoke(t *testing.T) {
	tool, err := NewCommandTool(`sh -c 'echo compiling; exit 3'`, `sh -c 'echo "$SVCGEN_PROFILE"'`, "SVCGEN_PROFILE=ci")
	require.NoError(t, err)

	outcome, err := tool.Invoke(PhaseBuild, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, "compiling\n", outcome.Output)

	outcome, err = tool.Invoke(PhaseTest, t.TempDir())
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "ci\n", outcome.Output)

	_, err = tool.Invoke(Phase("deploy"), t.TempDir())
	assert.Error(t, err)
}

func TestCommandToolMissingBinary(t *testing.T) {
	tool, err := NewCommandTool("svcgen-no-such-build-tool", "mvn test")
	require.NoError(t, err)

	_, err = tool.Invoke(PhaseBuild, t.TempDir())
	require.Error(t, err)
	e, ok := generr.As(err)
	require.True(t, ok)
	assert.Equal(t, generr.ErrToolFailed, e.Code)
}
