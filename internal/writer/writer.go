// Package writer applies rendered artifact sets to an output tree. Each
// Apply is all-or-nothing: on failure every path it touched is restored.
package writer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/render"
	"github.com/conduit-lang/svcgen/internal/templates"
)

// Status is the outcome for one artifact
type Status string

const (
	StatusCreated         Status = "created"
	StatusUpdated         Status = "updated"
	StatusUnchanged       Status = "unchanged"
	StatusSkippedExisting Status = "skipped-existing"
	StatusMerged          Status = "merged"
	StatusRoutePresent    Status = "route-present"
)

// Changed reports whether the status means the file was written
func (s Status) Changed() bool {
	return s == StatusCreated || s == StatusUpdated || s == StatusMerged
}

// Result is the outcome of applying one artifact
type Result struct {
	Path   string
	Step   string
	Policy render.Policy
	Status Status
}

// Report lists per-artifact outcomes in artifact order
type Report struct {
	Root    string
	Results []Result
}

// Count returns the number of results with a status
func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Changed reports whether any artifact was written
func (r *Report) Changed() bool {
	for _, res := range r.Results {
		if res.Status.Changed() {
			return true
		}
	}
	return false
}

// Options configures a Writer
type Options struct {
	// Locker adds cross-process exclusion on shared artifacts. Optional.
	Locker Locker
	Logger *zap.Logger
}

// Writer applies artifact sets. It is safe for concurrent use; Applies that
// share a create-only or append-route target are serialized.
type Writer struct {
	locks  *KeyedMutex
	locker Locker
	logger *zap.Logger
}

// New creates a writer
func New(opts Options) *Writer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		locks:  NewKeyedMutex(),
		locker: opts.Locker,
		logger: logger,
	}
}

type target struct {
	artifact render.Artifact
	path     string
}

// Apply writes set under root. Shared targets are locked in sorted order for
// the whole call. On any failure the tree is rolled back and the error
// returned; the report then covers the artifacts processed before the failure.
func (w *Writer) Apply(ctx context.Context, set render.ArtifactSet, root string) (*Report, error) {
	report := &Report{Root: root}

	targets := make([]target, 0, len(set))
	var shared []string
	seenShared := make(map[string]bool)
	for _, a := range set {
		full, err := templates.SafeJoin(root, a.Path)
		if err != nil {
			return report, generr.NewUnsafePath(a.Step, a.Path).WithCause(err)
		}
		targets = append(targets, target{artifact: a, path: full})
		if a.Policy != render.Overwrite && !seenShared[a.Path] {
			seenShared[a.Path] = true
			shared = append(shared, a.Path)
		}
	}
	sort.Strings(shared)

	unlock, err := w.lockAll(ctx, root, shared)
	if err != nil {
		return report, err
	}
	defer unlock()

	j := newJournal()
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return report, w.abort(j, err)
		}

		status, err := w.applyOne(j, t)
		if err != nil {
			return report, w.abort(j, err)
		}
		report.Results = append(report.Results, Result{
			Path:   t.artifact.Path,
			Step:   t.artifact.Step,
			Policy: t.artifact.Policy,
			Status: status,
		})
		w.logger.Debug("applied artifact",
			zap.String("path", t.artifact.Path),
			zap.String("policy", string(t.artifact.Policy)),
			zap.String("status", string(status)))
	}

	w.logger.Info("applied artifact set",
		zap.String("root", root),
		zap.Int("artifacts", len(report.Results)),
		zap.Bool("changed", report.Changed()))
	return report, nil
}

func (w *Writer) abort(j *journal, cause error) error {
	if err := j.rollback(); err != nil {
		w.logger.Error("rollback incomplete", zap.Error(err))
	}
	return cause
}

// lockAll takes the in-process lock and, when configured, the cross-process
// lock of every shared path in order. The in-process key is the absolute
// path; the cross-process key is the relative path scoped by lockKey.
func (w *Writer) lockAll(ctx context.Context, root string, shared []string) (func(), error) {
	var releases []func()
	unlock := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, rel := range shared {
		key := filepath.Join(filepath.Clean(root), filepath.FromSlash(rel))
		releases = append(releases, w.locks.Lock(key))

		if w.locker == nil {
			continue
		}
		release, err := w.locker.Acquire(ctx, lockKey(root, rel))
		if err != nil {
			unlock()
			return nil, generr.NewLockFailed(rel, err)
		}
		releases = append(releases, func() {
			// Release with a fresh context so a cancelled Apply still unlocks
			if err := release(context.Background()); err != nil {
				w.logger.Warn("failed to release shared artifact lock",
					zap.String("path", rel), zap.Error(err))
			}
		})
	}
	return unlock, nil
}

// lockKey scopes a shared path by a digest of the absolute output root, so
// only writers of the same tree contend for it
func lockKey(root, rel string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:8]) + ":" + rel
}

func (w *Writer) applyOne(j *journal, t target) (Status, error) {
	a := t.artifact
	switch a.Policy {
	case render.CreateOnly:
		if _, err := os.Stat(t.path); err == nil {
			return StatusSkippedExisting, nil
		} else if !os.IsNotExist(err) {
			return "", generr.NewWriteFailed(a.Path, err)
		}
		if err := w.write(j, t, []byte(a.Content)); err != nil {
			return "", err
		}
		return StatusCreated, nil

	case render.Overwrite:
		existing, err := os.ReadFile(t.path)
		switch {
		case err == nil:
			if bytes.Equal(existing, []byte(a.Content)) {
				return StatusUnchanged, nil
			}
			if err := w.write(j, t, []byte(a.Content)); err != nil {
				return "", err
			}
			return StatusUpdated, nil
		case os.IsNotExist(err):
			if err := w.write(j, t, []byte(a.Content)); err != nil {
				return "", err
			}
			return StatusCreated, nil
		default:
			return "", generr.NewWriteFailed(a.Path, err)
		}

	case render.AppendRoute:
		existing, err := os.ReadFile(t.path)
		if os.IsNotExist(err) {
			return "", generr.NewMergeTargetMissing(a.Path).WithStep(a.Step)
		}
		if err != nil {
			return "", generr.NewWriteFailed(a.Path, err)
		}
		merged, added, err := mergeRoute(existing, []byte(a.Content), a.RouteKey, templates.GatewayRoutesPath)
		if err != nil {
			return "", generr.NewMergeUnparsable(a.Path, err.Error()).WithStep(a.Step).WithCause(err)
		}
		if !added {
			return StatusRoutePresent, nil
		}
		if err := w.write(j, t, merged); err != nil {
			return "", err
		}
		return StatusMerged, nil

	default:
		return "", generr.NewWriteFailed(a.Path, errUnknownPolicy(a.Policy))
	}
}

func (w *Writer) write(j *journal, t target, data []byte) error {
	if err := j.record(t.path); err != nil {
		return generr.NewWriteFailed(t.artifact.Path, err)
	}
	if err := j.mkdirAll(filepath.Dir(t.path)); err != nil {
		return generr.NewWriteFailed(t.artifact.Path, err)
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(t.path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := atomicWrite(t.path, data, mode); err != nil {
		return generr.NewWriteFailed(t.artifact.Path, err)
	}
	return nil
}

type errUnknownPolicy render.Policy

func (e errUnknownPolicy) Error() string {
	return "unknown merge policy " + string(e)
}
