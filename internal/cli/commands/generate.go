package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/svcgen/internal/cli/config"
	"github.com/conduit-lang/svcgen/internal/cli/ui"
	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/history"
	"github.com/conduit-lang/svcgen/internal/loop"
	"github.com/conduit-lang/svcgen/internal/pipeline"
	"github.com/conduit-lang/svcgen/internal/templates"
	"github.com/conduit-lang/svcgen/internal/watch"
	"github.com/conduit-lang/svcgen/internal/writer"
)

var (
	generateMetadata      []string
	generateOut           string
	generateMaxIterations int
	generateSkipLoop      bool
	generateWatch         bool
	generateJSON          bool
	generateParallelism   int
)

// NewGenerateCommand creates the generate command
func NewGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"g", "gen"},
		Short:   "Generate services from metadata documents",
		Long: `Generate a Spring Boot service tree for each metadata document, then build
and test it, invoking the configured fixer on failure until the tree is green
or loop.max_iterations is reached.

Each document is written to <out>/<service name>. Several documents may be
given; they are generated in parallel and share the gateway and broker
configuration under <out>.

Exit codes:
  0  success
  1  other error
  2  metadata validation error
  3  plan error
  4  render error
  5  merge error
  6  build-test-fix loop exhausted its iterations

Examples:
  svcgen generate --metadata inventory.yml
  svcgen generate --metadata orders.yml --metadata inventory.yml --out services
  svcgen generate --metadata inventory.yml --skip-loop --json
  svcgen generate --metadata inventory.yml --watch`,
		Args: cobra.NoArgs,
		RunE: runGenerate,
	}

	cmd.Flags().StringArrayVarP(&generateMetadata, "metadata", "m", nil, "Metadata document (repeatable)")
	cmd.Flags().StringVarP(&generateOut, "out", "o", "", "Output directory (default: output from svcgen.yml)")
	cmd.Flags().IntVar(&generateMaxIterations, "max-iterations", 0, "Override loop.max_iterations")
	cmd.Flags().BoolVar(&generateSkipLoop, "skip-loop", false, "Write the tree without building it")
	cmd.Flags().BoolVarP(&generateWatch, "watch", "w", false, "Regenerate when a metadata document changes")
	cmd.Flags().BoolVar(&generateJSON, "json", false, "Print outcomes as JSON")
	cmd.Flags().IntVar(&generateParallelism, "parallel", 0, "Maximum documents generated at once (0 = no limit)")
	cmd.MarkFlagRequired("metadata")

	return cmd
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if generateOut != "" {
		cfg.Output = generateOut
	}
	if cmd.Flags().Changed("max-iterations") {
		cfg.Loop.MaxIterations = generateMaxIterations
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := buildPipeline(ctx, cfg, logger, generateSkipLoop)
	if err != nil {
		return err
	}
	defer cleanup()

	reqs := make([]pipeline.Request, len(generateMetadata))
	for i, path := range generateMetadata {
		reqs[i] = pipeline.Request{Metadata: path, Out: cfg.Output, SkipLoop: generateSkipLoop}
	}

	out := cmd.OutOrStdout()
	if generateWatch {
		color.New(color.FgCyan).Fprintf(out, "Watching %d metadata document(s), press Ctrl+C to stop\n", len(reqs))
		return p.Watch(ctx, reqs, watch.DefaultDelay, func(o *pipeline.Outcome, err error) {
			printOutcome(out, o, generateJSON)
		})
	}

	var outcomes []*pipeline.Outcome
	generate := func() error {
		outcomes, err = p.GenerateAll(ctx, reqs)
		return err
	}
	if generateJSON {
		err = generate()
	} else {
		err = ui.WithSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Generating %d service(s)", len(reqs)), noColor, generate)
	}

	if outcomes == nil {
		// the requests were rejected as a whole
		return err
	}
	if generateJSON {
		if jsonErr := writeOutcomesJSON(out, outcomes); jsonErr != nil {
			return jsonErr
		}
	} else {
		for _, o := range outcomes {
			printOutcome(out, o, false)
		}
	}
	if err != nil {
		return reportedError{err}
	}
	return nil
}

// buildPipeline wires the configured writer lock, history store, template
// overrides and loop into a pipeline. cleanup releases what was opened.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, skipLoop bool) (*pipeline.Pipeline, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("cleanup failed", zap.Error(err))
			}
		}
	}
	fail := func(err error) (*pipeline.Pipeline, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	registry := templates.NewBuiltinRegistry()
	if cfg.Templates.Dir != "" {
		overridden, err := registry.Override(cfg.Templates.Dir)
		if err != nil {
			return fail(generr.NewInvalidConfig("templates.dir", err.Error()))
		}
		logger.Info("using template overrides", zap.String("dir", cfg.Templates.Dir), zap.Strings("files", overridden))
	}

	writerOpts := writer.Options{Logger: logger}
	if cfg.Lock.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Lock.RedisURL)
		if err != nil {
			return fail(generr.NewInvalidConfig("lock.redis_url", err.Error()))
		}
		client := redis.NewClient(opts)
		closers = append(closers, client.Close)

		lockerCfg := writer.DefaultRedisLockerConfig(client)
		lockerCfg.TTL = cfg.Lock.TTL
		locker, err := writer.NewRedisLocker(lockerCfg)
		if err != nil {
			return fail(generr.NewInvalidConfig("lock.redis_url", err.Error()))
		}
		writerOpts.Locker = locker
		logger.Debug("using redis lock for shared artifacts", zap.String("addr", opts.Addr))
	}

	var recorder pipeline.Recorder
	if url := cfg.DatabaseURL(); url != "" {
		store, err := history.Open(ctx, url)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			return fail(err)
		}
		recorder = store
	}

	var runner *loop.Runner
	if !skipLoop {
		var err error
		runner, err = newRunner(cfg, logger)
		if err != nil {
			return fail(err)
		}
	}

	p := pipeline.New(pipeline.Options{
		Registry:    registry,
		Writer:      writer.New(writerOpts),
		Runner:      runner,
		History:     recorder,
		Parallelism: generateParallelism,
		Logger:      logger,
	})
	return p, cleanup, nil
}

func newRunner(cfg *config.Config, logger *zap.Logger) (*loop.Runner, error) {
	tool, err := loop.NewCommandTool(cfg.Loop.BuildCommand, cfg.Loop.TestCommand)
	if err != nil {
		return nil, err
	}

	var fixer loop.Fixer
	if cfg.Loop.FixCommand != "" {
		switch cfg.Loop.FixMode {
		case config.FixModePatch:
			fixer, err = loop.NewPatchFixer(cfg.Loop.FixCommand, logger)
		default:
			fixer, err = loop.NewCommandFixer(cfg.Loop.FixCommand, logger)
		}
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no loop.fix_command configured, failed iterations are retried without fixes")
	}

	return loop.NewRunner(loop.Config{
		MaxIterations: cfg.Loop.MaxIterations,
		Tool:          tool,
		Fixer:         fixer,
		Logger:        logger,
	})
}

func printOutcome(w io.Writer, o *pipeline.Outcome, asJSON bool) {
	if asJSON {
		if err := writeOutcomesJSON(w, []*pipeline.Outcome{o}); err != nil {
			fmt.Fprintln(w, err)
		}
		return
	}

	name := o.Service()
	if name == "" {
		name = o.Request.Metadata
	}
	if o.Err != nil {
		fmt.Fprint(w, ui.PipelineError(o.Err, noColor))
		if o.Loop != nil {
			printLoop(w, o.Loop)
		}
		return
	}

	ui.WriteSuccess(w, fmt.Sprintf("%s generated in %s", name, o.Tree), noColor)
	if o.Report != nil {
		table := ui.NewTable(w, []string{"STATUS", "STEP", "PATH"}, noColor)
		for _, r := range o.Report.Results {
			table.AddRow(string(r.Status), r.Step, r.Path)
		}
		table.Render()
	}
	if o.Loop != nil {
		printLoop(w, o.Loop)
	}
}

func printLoop(w io.Writer, result *loop.Result) {
	info := color.New(color.FgCyan)
	if noColor {
		info.DisableColor()
	}
	info.Fprintf(w, "Loop %s: %s after %d iteration(s) in %s\n",
		result.RunID, result.State, result.Iterations, result.Duration.Round(time.Millisecond))

	if len(result.History) == 0 {
		return
	}
	table := ui.NewTable(w, []string{"ITER", "PHASE", "CATEGORY", "LOCATION", "MESSAGE"}, noColor)
	for _, br := range result.History {
		for _, f := range br.Failures {
			location := f.Artifact
			if f.Line > 0 {
				location += ":" + strconv.Itoa(f.Line)
			}
			table.AddRow(strconv.Itoa(br.Iteration), string(br.Phase), string(f.Category), location, f.Message)
		}
	}
	table.Render()
}

type artifactJSON struct {
	Path   string `json:"path"`
	Step   string `json:"step"`
	Status string `json:"status"`
}

type loopJSON struct {
	RunID      string             `json:"run_id"`
	State      loop.State         `json:"state"`
	Iterations int                `json:"iterations"`
	History    []loop.BuildResult `json:"history"`
}

type outcomeJSON struct {
	Metadata  string          `json:"metadata"`
	Service   string          `json:"service,omitempty"`
	Tree      string          `json:"tree,omitempty"`
	Steps     []string        `json:"steps,omitempty"`
	Artifacts []artifactJSON  `json:"artifacts,omitempty"`
	Loop      *loopJSON       `json:"loop,omitempty"`
	ExitCode  int             `json:"exit_code"`
	Errors    []*generr.Error `json:"errors,omitempty"`
}

func writeOutcomesJSON(w io.Writer, outcomes []*pipeline.Outcome) error {
	docs := make([]outcomeJSON, 0, len(outcomes))
	for _, o := range outcomes {
		doc := outcomeJSON{
			Metadata: o.Request.Metadata,
			Service:  o.Service(),
			Tree:     o.Tree,
			ExitCode: generr.ExitCode(o.Err),
			Errors:   structuredErrors(o.Err),
		}
		if o.Plan != nil {
			for _, s := range o.Plan.Steps {
				doc.Steps = append(doc.Steps, s.ID)
			}
		}
		if o.Report != nil {
			for _, r := range o.Report.Results {
				doc.Artifacts = append(doc.Artifacts, artifactJSON{Path: r.Path, Step: r.Step, Status: string(r.Status)})
			}
		}
		if o.Loop != nil {
			doc.Loop = &loopJSON{
				RunID:      o.Loop.RunID.String(),
				State:      o.Loop.State,
				Iterations: o.Loop.Iterations,
				History:    o.Loop.History,
			}
		}
		docs = append(docs, doc)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}

// structuredErrors flattens err into structured errors. Unstructured errors
// carry only their message.
func structuredErrors(err error) []*generr.Error {
	if err == nil {
		return nil
	}
	var list generr.List
	if errors.As(err, &list) {
		return list
	}
	if e, ok := generr.As(err); ok {
		return []*generr.Error{e}
	}
	return []*generr.Error{{Type: "error", Message: err.Error()}}
}
