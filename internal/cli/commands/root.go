package commands

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/svcgen/internal/cli/config"
	"github.com/conduit-lang/svcgen/internal/cli/ui"
	"github.com/conduit-lang/svcgen/internal/logging"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	configPath string
	noColor    bool
	logLevel   string
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "svcgen",
		Short: "Generate event-driven Spring Boot services from metadata",
		Long: color.CyanString(`svcgen - service generator

svcgen turns a metadata document describing aggregates, events, commands
and policies into a Spring Boot service tree, then builds and tests it,
feeding failures to a fixer until the tree is green or the iteration
bound is reached.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to svcgen.yml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewGenerateCommand())
	rootCmd.AddCommand(NewPlanCommand())
	rootCmd.AddCommand(NewValidateCommand())
	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewHistoryCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the svcgen version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			out := cmd.OutOrStdout()
			titleColor := color.New(color.FgCyan, color.Bold)
			valueColor := color.New(color.FgWhite)

			titleColor.Fprint(out, "svcgen version: ")
			valueColor.Fprintln(out, Version)

			titleColor.Fprint(out, "Git commit: ")
			valueColor.Fprintln(out, GitCommit)

			titleColor.Fprint(out, "Build date: ")
			valueColor.Fprintln(out, BuildDate)

			titleColor.Fprint(out, "Go version: ")
			valueColor.Fprintln(out, goVer)
		},
	}
}

// reportedError marks an error whose details were already printed
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}

// Execute runs the root command and returns the error it failed with, if
// any, after printing it
func Execute() error {
	rootCmd := NewRootCommand()
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}

	var reported reportedError
	if !errors.As(err, &reported) {
		fmt.Fprint(rootCmd.ErrOrStderr(), ui.PipelineError(err, noColor))
	}
	return err
}

// setup loads the configuration and builds the logger shared by the
// commands. Logs go to the command's stderr.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.NewWriter(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if cfg.File != "" {
		logger.Debug("loaded configuration", zap.String("file", cfg.File))
	}
	return cfg, logger, nil
}
