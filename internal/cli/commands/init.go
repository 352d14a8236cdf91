package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/svcgen/internal/cli/config"
	"github.com/conduit-lang/svcgen/internal/metadata"
	strutil "github.com/conduit-lang/svcgen/internal/util/strings"
)

var (
	initInteractive   bool
	initService       string
	initPackage       string
	initPort          int
	initInclude       []string
	initOutput        string
	initMaxIterations int
	initDir           string
	initForce         bool
)

var serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// initAnswers holds what init writes
type initAnswers struct {
	Service       string
	Package       string
	Port          int
	Include       []string
	Output        string
	MaxIterations int
}

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter metadata document and svcgen.yml",
		Long: `Write a starter metadata document named <service>.yml and an svcgen.yml
configuration to the target directory. Existing files are kept unless --force
is given.

Examples:
  svcgen init
  svcgen init --service orders --package com.example.orders --port 8081
  svcgen init --interactive`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}

	cmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for every setting")
	cmd.Flags().StringVar(&initService, "service", "inventory", "Service name")
	cmd.Flags().StringVar(&initPackage, "package", "", "Java base package (default: com.example.<service>)")
	cmd.Flags().IntVar(&initPort, "port", 8080, "Service port")
	cmd.Flags().StringSliceVar(&initInclude, "include", []string{metadata.IncludeRest, metadata.IncludeBootstrap, metadata.IncludeBuild}, "Service-level step kinds to include")
	cmd.Flags().StringVar(&initOutput, "output", "out", "Output directory written to svcgen.yml")
	cmd.Flags().IntVar(&initMaxIterations, "max-iterations", 3, "Build-test-fix iteration bound written to svcgen.yml")
	cmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write the files to")
	cmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	answers := initAnswers{
		Service:       initService,
		Package:       initPackage,
		Port:          initPort,
		Include:       initInclude,
		Output:        initOutput,
		MaxIterations: initMaxIterations,
	}

	if initInteractive {
		if err := askInit(&answers); err != nil {
			return err
		}
	}
	if answers.Package == "" {
		answers.Package = defaultPackage(answers.Service)
	}
	if answers.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", answers.MaxIterations)
	}

	metadataPath := filepath.Join(initDir, answers.Service+".yml")
	doc := starterMetadata(answers)
	// the starter must load cleanly before anything is written
	if _, err := metadata.Load(strings.NewReader(doc), metadataPath); err != nil {
		return err
	}

	files := []struct {
		path    string
		content string
	}{
		{metadataPath, doc},
		{filepath.Join(initDir, config.FileName), config.Starter(answers.Output, answers.MaxIterations)},
	}

	if err := os.MkdirAll(initDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", initDir, err)
	}

	out := cmd.OutOrStdout()
	successColor := color.New(color.FgGreen, color.Bold)
	skipColor := color.New(color.FgYellow)
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil && !initForce {
			skipColor.Fprintf(out, "• %s exists, keeping it (use --force to overwrite)\n", f.path)
			continue
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		successColor.Fprintf(out, "✓ Wrote %s\n", f.path)
	}

	fmt.Fprintln(out)
	color.New(color.FgCyan).Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  svcgen plan --metadata %s\n", metadataPath)
	fmt.Fprintf(out, "  svcgen generate --metadata %s\n", metadataPath)
	return nil
}

func askInit(answers *initAnswers) error {
	questions := []*survey.Question{
		{
			Name: "service",
			Prompt: &survey.Input{
				Message: "Service name:",
				Default: answers.Service,
				Help:    "Lowercase letters, digits and dashes; also the output directory name",
			},
			Validate: survey.ComposeValidators(survey.Required, validateServiceName),
		},
		{
			Name: "port",
			Prompt: &survey.Input{
				Message: "Service port:",
				Default: strconv.Itoa(answers.Port),
			},
			Validate: validatePort,
		},
		{
			Name: "include",
			Prompt: &survey.MultiSelect{
				Message: "Service-level artifacts:",
				Options: metadata.IncludeKinds,
				Default: answers.Include,
			},
		},
		{
			Name: "output",
			Prompt: &survey.Input{
				Message: "Output directory:",
				Default: answers.Output,
			},
			Validate: survey.Required,
		},
		{
			Name: "maxIterations",
			Prompt: &survey.Input{
				Message: "Build-test-fix iteration bound:",
				Default: strconv.Itoa(answers.MaxIterations),
			},
			Validate: validatePositive,
		},
	}

	raw := struct {
		Service       string
		Port          string
		Include       []string
		Output        string
		MaxIterations string
	}{}
	if err := survey.Ask(questions, &raw); err != nil {
		return err
	}

	pkg := answers.Package
	if pkg == "" {
		pkg = defaultPackage(raw.Service)
	}
	if err := survey.AskOne(&survey.Input{Message: "Java package:", Default: pkg}, &pkg, survey.WithValidator(survey.Required)); err != nil {
		return err
	}

	answers.Service = raw.Service
	answers.Package = pkg
	answers.Include = raw.Include
	answers.Output = raw.Output
	answers.Port, _ = strconv.Atoi(raw.Port)
	answers.MaxIterations, _ = strconv.Atoi(raw.MaxIterations)
	return nil
}

func validateServiceName(val interface{}) error {
	s, _ := val.(string)
	if !serviceNamePattern.MatchString(s) {
		return fmt.Errorf("service name must match %s", serviceNamePattern)
	}
	return nil
}

func validatePort(val interface{}) error {
	s, _ := val.(string)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

func validatePositive(val interface{}) error {
	s, _ := val.(string)
	if n, err := strconv.Atoi(s); err != nil || n < 1 {
		return fmt.Errorf("must be a number of at least 1")
	}
	return nil
}

func defaultPackage(service string) string {
	return "com.example." + strings.ReplaceAll(service, "-", "")
}

func starterMetadata(a initAnswers) string {
	aggregate := strutil.ToPascalCase(a.Service)
	return fmt.Sprintf(`# %[1]s metadata
service:
  name: %[1]s
  package: %[2]s
  port: %[3]d
  version: 0.1.0
  include: [%[4]s]

aggregates:
  - name: %[5]s
    fields:
      - { name: id, type: Long }
      - { name: name, type: String }

commands:
  - name: Create%[5]s
    aggregate: %[5]s
    emits: %[5]sCreated

events:
  - name: %[5]sCreated
    aggregate: %[5]s
    fields:
      - { name: id, type: Long }
      - { name: name, type: String }

# policies react to events, including events published by other services:
# policies:
#   - name: ReactToSomething
#     on: SomethingHappened
#     aggregate: %[5]s
#     action: describe the effect
#     emits: [%[5]sUpdated]
`, a.Service, a.Package, a.Port, strings.Join(a.Include, ", "), aggregate)
}
