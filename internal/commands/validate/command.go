// Package validate implements the cascade validate command.
package validate

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cascade-run/cascade/internal/log"
	"github.com/cascade-run/cascade/pkg/expression"
	"github.com/cascade-run/cascade/pkg/model"
	"github.com/cascade-run/cascade/pkg/tool"
	"github.com/cascade-run/cascade/pkg/workflow"
	"github.com/cascade-run/cascade/schemas"
)

// NewCommand creates the validate command. A definition that parses,
// validates, and compiles exits 0; any problem exits 2.
func NewCommand() *cobra.Command {
	var printSchema bool

	cmd := &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Check a workflow definition without running it",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				fmt.Fprintln(cmd.OutOrStdout(), schemas.GetWorkflowSchemaString())
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one workflow file")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			wf, err := workflow.Parse(data)
			if err != nil {
				return err
			}
			if err := wf.Validate(); err != nil {
				return err
			}

			compiler := &workflow.StepCompiler{
				Models:        model.NewRegistry(),
				Tools:         tool.NewRegistry(),
				Deterministic: workflow.NewDeterministicRegistry(),
				Expressions:   expression.New(),
				Logger:        log.New(log.FromEnv()),
				ValidateOnly:  true,
			}
			graph, err := workflow.Compile(wf, compiler)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d steps, %d roots)\n",
				wf.Name, len(graph.Steps), len(graph.Roots))
			return nil
		},
	}
	cmd.Flags().BoolVar(&printSchema, "schema", false, "Print the workflow JSON Schema and exit")
	return cmd
}
