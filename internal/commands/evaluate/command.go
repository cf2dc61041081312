// Package evaluate implements the cascade eval command.
package evaluate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cascade-run/cascade/internal/commands/shared"
	"github.com/cascade-run/cascade/internal/log"
	"github.com/cascade-run/cascade/pkg/eval"
	"github.com/cascade-run/cascade/pkg/workflow"
)

// NewCommand creates the eval command. It scores a saved run result against
// the workflow's rubric and prints the scorecard as JSON.
func NewCommand() *cobra.Command {
	var (
		resultFile string
		sampleFile string
		outputFile string
		noEnforce  bool
	)

	cmd := &cobra.Command{
		Use:   "eval <workflow.yaml>",
		Short: "Score a saved run result against the workflow rubric",
		Long: `Eval replays the evaluation pipeline over a result produced by
cascade run --output. With enforcement on (the default) a hard-gate failure
grades F and the command exits 1.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			var result workflow.Result
			resultData, err := os.ReadFile(resultFile)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(resultData, &result); err != nil {
				return fmt.Errorf("parse result %s: %w", resultFile, err)
			}

			var sample *eval.Sample
			if sampleFile != "" {
				sampleData, err := os.ReadFile(sampleFile)
				if err != nil {
					return err
				}
				sample = &eval.Sample{}
				if err := json.Unmarshal(sampleData, sample); err != nil {
					return fmt.Errorf("parse sample %s: %w", sampleFile, err)
				}
			}

			opts := eval.DefaultOptions()
			opts.Enforce = !noEnforce
			opts.Logger = log.New(log.FromEnv())

			card, err := eval.Evaluate(cmd.Context(), wf, &result, sample, opts)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(card, "", "  ")
			if err != nil {
				return err
			}
			out = append(out, '\n')
			if outputFile == "" {
				if _, err := cmd.OutOrStdout().Write(out); err != nil {
					return err
				}
			} else if err := os.WriteFile(outputFile, out, 0o644); err != nil {
				return err
			}

			if opts.Enforce && card.Grade == eval.GradeF {
				return shared.Exit(shared.ExitRunFailure,
					fmt.Errorf("run %s graded F (failed gates: %v)", result.RunID, card.FailedGates()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&resultFile, "result", "", "Run result JSON to score (required)")
	cmd.Flags().StringVar(&sampleFile, "sample", "", "Dataset sample JSON with inputs and expected output")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the scorecard JSON to a file")
	cmd.Flags().BoolVar(&noEnforce, "no-enforce", false, "Report hard-gate failures without grading F")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}
