package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pglockguard/pglockguard/internal/config"
	"github.com/pglockguard/pglockguard/internal/errs"
)

// errFailedChecks is returned by runLintCmd/runTraceCmd when the report's
// own pass/fail bit is false and --accept-failures was not set; it carries
// no detail of its own since the rendered report already has it.
var errFailedChecks = errors.New("one or more blocking rules were triggered")

var version = "0.1.0"

// Shared flags, set on both lint and trace.
var (
	outputFormat string
	ignoreFlag   []string
	noColorFlag  bool
	quietFlag    bool
	noSuggestion bool
	varFlags     []string
	acceptFail   bool
	configFile   string

	dsnFlag    string
	commitFlag bool
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := buildRootCommand()
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		return determineExitCode(err)
	}
	return 0
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "pglockguard",
		Short:        "PostgreSQL schema-migration lock-safety analyzer",
		Version:      version,
		SilenceUsage: true,
	}

	addSharedFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, yaml")
		cmd.Flags().StringSliceVar(&ignoreFlag, "ignore", nil, "rule IDs to ignore globally")
		cmd.Flags().BoolVar(&noColorFlag, "no-color", false, "disable colored output")
		cmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress per-trigger effect/workaround detail")
		cmd.Flags().BoolVar(&noSuggestion, "no-suggestion", false, "disable safe migration suggestions")
		cmd.Flags().StringArrayVar(&varFlags, "var", nil, "name=value substitution for ${name} in the script, repeatable")
		cmd.Flags().BoolVar(&acceptFail, "accept-failures", false, "exit 0 even if a blocking rule was triggered")
		cmd.Flags().StringVar(&configFile, "config", "", "YAML config file")
	}

	lintCmd := &cobra.Command{
		Use:   "lint [FILE...]",
		Short: "statically analyze one or more SQL scripts",
		RunE:  runLintCmd,
	}
	addSharedFlags(lintCmd)

	traceCmd := &cobra.Command{
		Use:   "trace [FILE...]",
		Short: "run one or more SQL scripts against a live database and observe their effects",
		RunE:  runTraceCmd,
	}
	addSharedFlags(traceCmd)
	traceCmd.Flags().StringVar(&dsnFlag, "dsn", "", "PostgreSQL connection string")
	traceCmd.Flags().BoolVar(&commitFlag, "commit", false, "commit the traced transaction instead of rolling it back")

	root.AddCommand(lintCmd, traceCmd)
	return root
}

func parseVars(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("--var must be name=value, got %q", pair)
		}
		out[name] = value
	}
	return out, nil
}

func loadConfig() (config.Config, error) {
	layers := []config.Partial{config.FromEnv()}
	if configFile != "" {
		fromFile, err := config.FromFile(configFile)
		if err != nil {
			return config.Config{}, err
		}
		// File sits below env per §4.9; rebuild with file first, env second.
		layers = []config.Partial{fromFile, config.FromEnv()}
	}
	if outputFormat != "" {
		layers = append(layers, config.Partial{OutputFormat: &outputFormat})
	}
	if dsnFlag != "" {
		layers = append(layers, config.Partial{DSN: &dsnFlag})
	}
	return config.Resolve(config.Defaults(), layers...), nil
}

func determineExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errFailedChecks) {
		return 1
	}
	var parseErr *errs.ParseError
	var unknownVar *errs.UnknownVariableError
	var dbErr *errs.DatabaseError
	var invariantErr *errs.InvariantError
	if errors.As(err, &parseErr) || errors.As(err, &unknownVar) || errors.As(err, &dbErr) || errors.As(err, &invariantErr) {
		return 2
	}
	return 2
}
