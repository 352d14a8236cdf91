package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/svcgen/internal/cli/ui"
	"github.com/conduit-lang/svcgen/internal/pipeline"
)

var (
	planMetadata string
	planJSON     bool

	validateMetadata []string
)

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the generation plan for a metadata document",
		Long: `Load a metadata document and print the ordered steps generate would run,
without rendering or writing anything.

Examples:
  svcgen plan --metadata inventory.yml
  svcgen plan --metadata inventory.yml --json`,
		Args: cobra.NoArgs,
		RunE: runPlan,
	}

	cmd.Flags().StringVarP(&planMetadata, "metadata", "m", "", "Metadata document")
	cmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
	cmd.MarkFlagRequired("metadata")

	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	m, p, err := pipeline.Plan(planMetadata)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if planJSON {
		type stepJSON struct {
			Index  int    `json:"index"`
			ID     string `json:"id"`
			Kind   string `json:"kind"`
			Ref    string `json:"ref"`
			Target string `json:"target"`
		}
		steps := make([]stepJSON, len(p.Steps))
		for i, s := range p.Steps {
			steps[i] = stepJSON{Index: s.Index, ID: s.ID, Kind: string(s.Kind), Ref: s.Ref, Target: string(s.Target)}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"service": m.Service.Name,
			"steps":   steps,
		})
	}

	fmt.Fprintf(out, "Plan for %s (%d steps)\n\n", m.Service.Name, len(p.Steps))
	table := ui.NewTable(out, []string{"#", "KIND", "REF", "TARGET"}, noColor)
	for _, s := range p.Steps {
		table.AddRow(strconv.Itoa(s.Index), string(s.Kind), s.Ref, string(s.Target))
	}
	table.Render()
	return nil
}

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate metadata documents",
		Long: `Load and validate metadata documents, reporting every problem found with
the element responsible and, for misspelled references, the closest match.

Examples:
  svcgen validate --metadata inventory.yml
  svcgen validate -m orders.yml -m inventory.yml`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}

	cmd.Flags().StringArrayVarP(&validateMetadata, "metadata", "m", nil, "Metadata document (repeatable)")
	cmd.MarkFlagRequired("metadata")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var firstErr error
	for _, path := range validateMetadata {
		m, err := pipeline.Load(path)
		if err != nil {
			fmt.Fprint(out, ui.PipelineError(err, noColor))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ui.WriteSuccess(out, fmt.Sprintf("%s: service %s is valid (%d aggregates, %d events, %d policies)",
			path, m.Service.Name, len(m.Aggregates), len(m.Events), len(m.Policies)), noColor)
	}

	if firstErr != nil {
		return reportedError{firstErr}
	}
	return nil
}
