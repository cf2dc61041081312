// Command cascade runs, validates, and scores declarative multi-model
// workflows.
package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cascade-run/cascade/internal/commands/evaluate"
	"github.com/cascade-run/cascade/internal/commands/run"
	"github.com/cascade-run/cascade/internal/commands/shared"
	"github.com/cascade-run/cascade/internal/commands/validate"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "cascade",
		Short: "Declarative workflow engine for multi-model pipelines",
		Long: `Cascade compiles YAML workflow definitions into dependency graphs and
executes them with parallel scheduling, conditional fan-out, model
failover, checkpointing, and rubric-based evaluation.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		run.NewCommand(version),
		validate.NewCommand(),
		evaluate.NewCommand(),
	)

	if err := root.Execute(); err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			os.Exit(shared.ExitOK)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(shared.CodeFor(err))
	}
}
