package loop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
	"go.uber.org/zap"

	"github.com/conduit-lang/svcgen/internal/templates"
)

// Fixer attempts a correction of the tree after a failed iteration. The loop
// only observes the next build, never how the fix was made.
type Fixer interface {
	Fix(ctx context.Context, dir string, result BuildResult) error
}

// NopFixer leaves the tree untouched
type NopFixer struct{}

// Fix does nothing
func (NopFixer) Fix(context.Context, string, BuildResult) error {
	return nil
}

// CommandFixer pipes the failed BuildResult as JSON to a command running in
// the tree. The command edits the tree itself.
type CommandFixer struct {
	args   []string
	logger *zap.Logger
}

// NewCommandFixer parses the fix command line
func NewCommandFixer(command string, logger *zap.Logger) (*CommandFixer, error) {
	args, err := splitCommand("loop.fix_command", command)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandFixer{args: args, logger: logger}, nil
}

// Fix runs the command with the failure records on stdin
func (f *CommandFixer) Fix(ctx context.Context, dir string, result BuildResult) error {
	output, err := runFixCommand(ctx, f.args, dir, result)
	if err != nil {
		return err
	}
	f.logger.Debug("fix command finished",
		zap.Int("iteration", result.Iteration),
		zap.Int("output_bytes", len(output)),
	)
	return nil
}

// PatchFixer runs a command that prints a unified diff for the failure
// records on stdin, then applies that diff inside the tree
type PatchFixer struct {
	args   []string
	logger *zap.Logger
}

// NewPatchFixer parses the patch command line
func NewPatchFixer(command string, logger *zap.Logger) (*PatchFixer, error) {
	args, err := splitCommand("loop.fix_command", command)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatchFixer{args: args, logger: logger}, nil
}

// Fix runs the command and applies the diff it prints
func (f *PatchFixer) Fix(ctx context.Context, dir string, result BuildResult) error {
	output, err := runFixCommand(ctx, f.args, dir, result)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(output)) == 0 {
		f.logger.Info("fix command produced no patch", zap.Int("iteration", result.Iteration))
		return nil
	}

	files, err := ApplyPatch(dir, output)
	if err != nil {
		return err
	}
	f.logger.Info("applied patch",
		zap.Int("iteration", result.Iteration),
		zap.Strings("files", files),
	)
	return nil
}

func runFixCommand(ctx context.Context, args []string, dir string, result BuildResult) ([]byte, error) {
	input, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode build result: %w", err)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}

// ApplyPatch applies a unified multi-file diff to the files under root and
// returns the tree-relative paths it changed. Every hunk is checked against
// the current content before anything is written.
func ApplyPatch(root string, patch []byte) ([]string, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("invalid diff: %w", err)
	}

	type change struct {
		rel, path string
		content   []byte
		remove    bool
	}

	changes := make([]change, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		name := strings.TrimPrefix(fd.NewName, "b/")
		remove := fd.NewName == "/dev/null"
		if remove {
			name = strings.TrimPrefix(fd.OrigName, "a/")
		}

		full, err := templates.SafeJoin(root, name)
		if err != nil {
			return nil, fmt.Errorf("patch: %w", err)
		}

		c := change{rel: filepath.ToSlash(name), path: full, remove: remove}
		if !remove {
			var original []byte
			if fd.OrigName != "/dev/null" {
				original, err = os.ReadFile(full)
				if err != nil {
					return nil, fmt.Errorf("patch %s: %w", name, err)
				}
			}
			c.content, err = applyHunks(original, fd.Hunks)
			if err != nil {
				return nil, fmt.Errorf("patch %s: %w", name, err)
			}
		}
		changes = append(changes, c)
	}

	changed := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.remove {
			if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
				return changed, fmt.Errorf("patch %s: %w", c.rel, err)
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
				return changed, fmt.Errorf("patch %s: %w", c.rel, err)
			}
			if err := os.WriteFile(c.path, c.content, 0o644); err != nil {
				return changed, fmt.Errorf("patch %s: %w", c.rel, err)
			}
		}
		changed = append(changed, c.rel)
	}
	return changed, nil
}

func applyHunks(original []byte, hunks []*diff.Hunk) ([]byte, error) {
	var orig []string
	if len(original) > 0 {
		orig = strings.SplitAfter(string(original), "\n")
		if orig[len(orig)-1] == "" {
			orig = orig[:len(orig)-1]
		}
	}

	var out []string
	idx := 0
	for _, h := range hunks {
		start := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			// pure insertion after line OrigStartLine
			start = int(h.OrigStartLine)
		}
		if start < idx || start > len(orig) {
			return nil, fmt.Errorf("hunk at line %d is out of range", h.OrigStartLine)
		}
		out = append(out, orig[idx:start]...)
		idx = start

		var last byte
		for _, line := range strings.SplitAfter(string(h.Body), "\n") {
			if line == "" {
				continue
			}
			op, text := line[0], line[1:]
			if line == "\n" {
				// blank context line with its leading space stripped
				op, text = ' ', line
			}
			switch op {
			case ' ', '-':
				if idx >= len(orig) || strings.TrimSuffix(orig[idx], "\n") != strings.TrimSuffix(text, "\n") {
					return nil, fmt.Errorf("hunk at line %d does not match line %d", h.OrigStartLine, idx+1)
				}
				if op == ' ' {
					out = append(out, orig[idx])
				}
				idx++
			case '+':
				// go-diff drops the newline of a final line marked
				// "\ No newline at end of file"
				if !strings.HasSuffix(text, "\n") && idx < len(orig) {
					text += "\n"
				}
				out = append(out, text)
			case '\\':
				// "\ No newline at end of file" applies to the previous line
				if (last == '+' || last == ' ') && len(out) > 0 {
					out[len(out)-1] = strings.TrimSuffix(out[len(out)-1], "\n")
				}
			default:
				return nil, fmt.Errorf("hunk at line %d has malformed line %q", h.OrigStartLine, strings.TrimSuffix(line, "\n"))
			}
			last = op
		}
	}
	out = append(out, orig[idx:]...)
	return []byte(strings.Join(out, "")), nil
}
