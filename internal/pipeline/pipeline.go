// Package pipeline wires the generation stages together: load, plan, render,
// apply and, optionally, the build-test-fix loop. Stages before the loop run
// once and fail fast; only the loop retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/history"
	"github.com/conduit-lang/svcgen/internal/loop"
	"github.com/conduit-lang/svcgen/internal/metadata"
	"github.com/conduit-lang/svcgen/internal/plan"
	"github.com/conduit-lang/svcgen/internal/render"
	"github.com/conduit-lang/svcgen/internal/templates"
	"github.com/conduit-lang/svcgen/internal/writer"
)

// Request is one generation request
type Request struct {
	// Metadata is the path of the metadata document
	Metadata string
	// Out is the output tree; the service is written to Out/<service name>
	Out string
	// SkipLoop writes the tree without building it
	SkipLoop bool
}

// Outcome is what a request produced. Fields are filled in as far as the
// pipeline got before an error.
type Outcome struct {
	Request   Request
	Model     *metadata.Model
	Plan      *plan.Plan
	Artifacts render.ArtifactSet
	Report    *writer.Report
	// Loop is nil when the loop did not run
	Loop       *loop.Result
	Tree       string
	StartedAt  time.Time
	FinishedAt time.Time
	// Err is the error the request ended with
	Err error
}

// Service returns the service name, or "" when loading failed
func (o *Outcome) Service() string {
	if o.Model == nil {
		return ""
	}
	return o.Model.Service.Name
}

// Recorder stores run history
type Recorder interface {
	Record(ctx context.Context, run *history.Run) error
}

// Options configures a Pipeline
type Options struct {
	Registry *templates.Registry
	Writer   *writer.Writer
	// Runner runs the build-test-fix loop. A nil Runner skips the loop.
	Runner *loop.Runner
	// History records every outcome when set
	History Recorder
	// Parallelism bounds GenerateAll; 0 means no limit
	Parallelism int
	Logger      *zap.Logger
}

// Pipeline runs generation requests
type Pipeline struct {
	renderer    *render.Renderer
	writer      *writer.Writer
	runner      *loop.Runner
	history     Recorder
	parallelism int
	logger      *zap.Logger
}

// New creates a pipeline. A nil Registry means the built-in templates and a
// nil Writer means an in-process-locked writer.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = templates.NewBuiltinRegistry()
	}
	w := opts.Writer
	if w == nil {
		w = writer.New(writer.Options{Logger: logger})
	}

	return &Pipeline{
		renderer:    render.New(registry, logger),
		writer:      w,
		runner:      opts.Runner,
		history:     opts.History,
		parallelism: opts.Parallelism,
		logger:      logger,
	}
}

// Load loads and validates a metadata document
func Load(path string) (*metadata.Model, error) {
	return metadata.LoadFile(path)
}

// Plan loads a metadata document and builds its generation plan
func Plan(path string) (*metadata.Model, *plan.Plan, error) {
	m, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := plan.Build(m)
	if err != nil {
		return m, nil, err
	}
	return m, p, nil
}

// Generate runs one request through every stage
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Outcome, error) {
	outcome := &Outcome{Request: req, StartedAt: time.Now()}

	m, err := Load(req.Metadata)
	if err != nil {
		return p.finish(ctx, outcome, err)
	}
	outcome.Model = m

	err = p.generate(ctx, outcome)
	return p.finish(ctx, outcome, err)
}

func (p *Pipeline) generate(ctx context.Context, outcome *Outcome) error {
	m := outcome.Model
	req := outcome.Request
	logger := p.logger.With(zap.String("service", m.Service.Name))

	pl, err := plan.Build(m)
	if err != nil {
		return err
	}
	outcome.Plan = pl
	logger.Debug("planned", zap.Int("steps", len(pl.Steps)))

	artifacts, err := p.renderer.RenderPlan(pl, m)
	if err != nil {
		return err
	}
	outcome.Artifacts = artifacts
	logger.Debug("rendered", zap.Int("artifacts", len(artifacts)))

	report, err := p.writer.Apply(ctx, artifacts, req.Out)
	outcome.Report = report
	if err != nil {
		return err
	}

	outcome.Tree = filepath.Join(req.Out, m.Service.Name)
	if req.SkipLoop || p.runner == nil {
		return nil
	}

	result, err := p.runner.Run(ctx, outcome.Tree)
	outcome.Loop = result
	return err
}

func (p *Pipeline) finish(ctx context.Context, outcome *Outcome, err error) (*Outcome, error) {
	outcome.FinishedAt = time.Now()
	outcome.Err = err

	fields := []zap.Field{
		zap.String("metadata", outcome.Request.Metadata),
		zap.String("service", outcome.Service()),
		zap.Duration("duration", outcome.FinishedAt.Sub(outcome.StartedAt)),
	}
	if err != nil {
		if category, ok := generr.CategoryOf(err); ok {
			fields = append(fields, zap.String("category", string(category)))
		}
		p.logger.Error("generation failed", append(fields, zap.Error(err))...)
	} else {
		p.logger.Info("generation finished", fields...)
	}

	if p.history != nil {
		run := runOf(outcome, err)
		if recErr := p.history.Record(ctx, run); recErr != nil {
			p.logger.Warn("failed to record run history", zap.Error(recErr))
		}
	}
	return outcome, err
}

// GenerateAll runs independent requests in parallel. Two requests may not
// target the same service directory. Every request runs to completion; the
// returned outcomes align with reqs and the error joins every failure.
func (p *Pipeline) GenerateAll(ctx context.Context, reqs []Request) ([]*Outcome, error) {
	outcomes, err := p.prepare(ctx, reqs)
	if err != nil {
		return outcomes, err
	}
	return outcomes, p.runAll(ctx, outcomes)
}

// prepare loads every request and rejects requests sharing a service
// directory. Requests that fail to load are finished with their error.
func (p *Pipeline) prepare(ctx context.Context, reqs []Request) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(reqs))
	targets := make(map[string]int)

	for i, req := range reqs {
		outcomes[i] = &Outcome{Request: req, StartedAt: time.Now()}
		m, err := Load(req.Metadata)
		if err != nil {
			p.finish(ctx, outcomes[i], err)
			continue
		}
		outcomes[i].Model = m

		dir, err := filepath.Abs(filepath.Join(req.Out, m.Service.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve output of %s: %w", req.Metadata, err)
		}
		if first, exists := targets[dir]; exists {
			return nil, generr.NewInvalidConfig("metadata", fmt.Sprintf(
				"%s and %s both generate %s", reqs[first].Metadata, req.Metadata, dir))
		}
		targets[dir] = i
	}
	return outcomes, nil
}

func (p *Pipeline) runAll(ctx context.Context, outcomes []*Outcome) error {
	var g errgroup.Group
	if p.parallelism > 0 {
		g.SetLimit(p.parallelism)
	}
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		o := o
		g.Go(func() error {
			p.finish(ctx, o, p.generate(ctx, o))
			return nil
		})
	}
	_ = g.Wait()

	errs := make([]error, 0, len(outcomes))
	for _, o := range outcomes {
		errs = append(errs, o.Err)
	}
	return errors.Join(errs...)
}

func runOf(o *Outcome, err error) *history.Run {
	run := &history.Run{
		Service:    o.Service(),
		Metadata:   o.Request.Metadata,
		OutputDir:  o.Request.Out,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if o.Report != nil {
		run.Artifacts = len(o.Report.Results)
		for _, r := range o.Report.Results {
			if r.Status.Changed() {
				run.Changed++
			}
		}
	}
	if o.Loop != nil {
		run.ID = o.Loop.RunID
		run.Iterations = o.Loop.Iterations
		run.Failures = o.Loop.History
	}

	switch {
	case err == nil && o.Loop != nil:
		run.Status = history.StatusSuccess
	case err == nil:
		run.Status = history.StatusGenerated
	case o.Loop != nil && o.Loop.State == loop.StateExhaustedRetries:
		run.Status = history.StatusExhaustedRetries
	default:
		run.Status = history.StatusFailed
	}
	if err != nil {
		run.Error = err.Error()
		if e, ok := generr.As(err); ok {
			run.Error = string(e.Code) + ": " + e.Message
		}
	}
	return run
}
