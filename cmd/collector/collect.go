package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/pipeline"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
	"github.com/zgpcy/azure-billing-collector/internal/retry"
)

type collectOptions struct {
	output string
	task   string
	start  string
	end    string
}

func newCollectCommand(opts *rootOptions) *cobra.Command {
	co := &collectOptions{}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one collection and write canonical records as JSON lines",
		Long: "Run one collection task and write every canonical cost record as one JSON object per line.\n" +
			"The task defaults to task_options from the configuration file; --task takes the\n" +
			"task_options object of a task printed by the tasks command.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd.Context(), opts, co, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&co.output, "output", "o", "", "Write records to this file instead of stdout")
	cmd.Flags().StringVar(&co.task, "task", "", "Task options as JSON, overriding task_options")
	cmd.Flags().StringVar(&co.start, "start", "", "First month to collect (YYYY-MM)")
	cmd.Flags().StringVar(&co.end, "end", "", "Last month to collect (YYYY-MM)")
	return cmd
}

func (co *collectOptions) taskOptions(cfg *config.Config) (config.TaskOptions, error) {
	task := cfg.TaskOptions
	if co.task != "" {
		task = config.TaskOptions{}
		if err := json.Unmarshal([]byte(co.task), &task); err != nil {
			return task, fmt.Errorf("failed to parse --task: %w", err)
		}
	}
	if co.start != "" {
		task.Start = co.start
	}
	if co.end != "" {
		task.End = co.end
	}
	return task, nil
}

func runCollect(ctx context.Context, opts *rootOptions, co *collectOptions, stdout io.Writer) (err error) {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}
	task, err := co.taskOptions(cfg)
	if err != nil {
		return err
	}

	out := stdout
	if co.output != "" {
		f, createErr := os.Create(co.output)
		if createErr != nil {
			return fmt.Errorf("failed to create output file: %w", createErr)
		}
		defer func() {
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
		}()
		out = f
	}

	ctrl := retry.New(cfg.MaxRetries(), cfg.MinBackoff(), log)
	sess, err := session(ctx, cfg, ctrl, log)
	if err != nil {
		return err
	}
	p := pipeline.New(sess, cfg, ctrl, log)

	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	records := 0
	err = p.Collect(ctx, task, func(page []provider.CostRecord) error {
		for i := range page {
			if err := enc.Encode(&page[i]); err != nil {
				return err
			}
		}
		records += len(page)
		return w.Flush()
	})
	if err != nil {
		return err
	}

	log.Info("Collection finished", "records", records)
	return nil
}
