// Package run implements the cascade run command.
package run

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cascade-run/cascade/internal/commands/shared"
	"github.com/cascade-run/cascade/internal/loader"
	"github.com/cascade-run/cascade/internal/log"
	"github.com/cascade-run/cascade/internal/tracing"
	"github.com/cascade-run/cascade/pkg/checkpoint"
	"github.com/cascade-run/cascade/pkg/expression"
	"github.com/cascade-run/cascade/pkg/model"
	"github.com/cascade-run/cascade/pkg/tool"
	"github.com/cascade-run/cascade/pkg/workflow"
)

// NewCommand creates the run command.
func NewCommand(version string) *cobra.Command {
	var (
		inputs         []string
		inputFile      string
		outputFile     string
		validateOnly   bool
		maxConcurrency int
		checkpointDB   string
		threadID       string
		resume         bool
		traceFile      string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow",
		Long: `Run executes a workflow definition and prints the result as JSON.

Model tiers resolve through the CASCADE_MODEL_TIER_<N> environment
variables and provider credentials; steps on tier 0 run registered
deterministic functions. With --validate-only every step is replaced by a
no-op so the full graph exercises without model calls.

Checkpointing:
  --checkpoint <file>   Persist state snapshots to a SQLite database
  --thread <id>         Checkpoint thread (defaults to the run id)
  --resume              Continue the thread from its latest snapshot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())

			parsed, err := parseInputs(inputs, inputFile)
			if err != nil {
				return shared.Exit(shared.ExitInvalid, err)
			}

			dir := filepath.Dir(args[0])
			source, err := loader.NewFileSource(dir, logger)
			if err != nil {
				return err
			}
			defer source.Close()

			compiler := &workflow.StepCompiler{
				Models:        model.NewRegistry(),
				Tools:         tool.NewRegistry(),
				Deterministic: workflow.NewDeterministicRegistry(),
				Expressions:   expression.New().WithLogger(logger),
				Logger:        logger,
				ValidateOnly:  validateOnly,
			}
			runner := workflow.NewRunner(source, compiler)
			runner.Logger = logger
			runner.MaxConcurrency = maxConcurrency

			provider, err := tracing.NewProviderFromEnv(cmd.Context(), version)
			if err != nil {
				return err
			}
			defer provider.Shutdown(cmd.Context())

			sinks := []workflow.Sink{provider.NewSink()}
			if traceFile != "" {
				fileSink, err := workflow.NewFileSink(traceFile, logger)
				if err != nil {
					return err
				}
				defer fileSink.Close()
				sinks = append(sinks, fileSink)
			}
			runner.Sink = workflow.NewFanoutSink(workflow.CaptureSensitive(), sinks...)

			if checkpointDB != "" {
				store, err := checkpoint.NewSQLiteStore(checkpoint.SQLiteConfig{Path: checkpointDB})
				if err != nil {
					return err
				}
				defer store.Close()
				runner.Checkpoints = store
			} else if threadID != "" {
				runner.Checkpoints = checkpoint.NewMemoryStore()
			}

			result, runErr := runner.Run(cmd.Context(), args[0], parsed, workflow.RunOptions{
				ThreadID:       threadID,
				Resume:         resume,
				MaxConcurrency: maxConcurrency,
			})
			if result != nil {
				if err := writeResult(cmd, result, outputFile); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if result.Status != workflow.RunSuccess {
				return shared.Exit(shared.ExitRunFailure,
					fmt.Errorf("run %s finished with status %s", result.RunID, result.Status))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "Workflow input in key=value format")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "JSON file with inputs (use '-' for stdin)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the result JSON to a file")
	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "Compile and walk the graph without invoking models")
	cmd.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "Concurrent step ceiling (0 uses the default)")
	cmd.Flags().StringVar(&checkpointDB, "checkpoint", "", "SQLite database for state snapshots")
	cmd.Flags().StringVar(&threadID, "thread", "", "Checkpoint thread id")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume the thread from its latest snapshot")
	cmd.Flags().StringVar(&traceFile, "trace-file", "", "Append canonical run events to a JSONL file")
	return cmd
}

func writeResult(cmd *cobra.Command, result *workflow.Result, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
