package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/svcgen/internal/cli/ui"
	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/history"
)

var historyLimit int

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent generation runs",
		Long: `List recent generation runs from the history database configured by
history.database_url or DATABASE_URL.

Examples:
  svcgen history
  svcgen history --limit 50`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	url := cfg.DatabaseURL()
	if url == "" {
		return generr.NewInvalidConfig("history.database_url", "no history database configured").
			WithSuggestion("Set history.database_url in svcgen.yml or DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, err := history.Open(ctx, url)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	runs, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}

	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet")
		return
	}

	table := ui.NewTable(w, []string{"STARTED", "SERVICE", "STATUS", "ITER", "CHANGED", "DURATION", "ERROR"}, noColor)
	for _, r := range runs {
		table.AddRow(
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Service,
			string(r.Status),
			strconv.Itoa(r.Iterations),
			fmt.Sprintf("%d/%d", r.Changed, r.Artifacts),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			r.Error,
		)
	}
	table.Render()
}
