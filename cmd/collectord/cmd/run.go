package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/recollect/collector/internal/messages"
	"github.com/recollect/collector/internal/ocr"
	"github.com/recollect/collector/internal/sink"
	"github.com/recollect/collector/internal/supervisor"
)

var (
	runMode        string
	runBatchSize   int
	runMaxPosition int64
)

var runCmd = &cobra.Command{
	Use:   "run <collector>",
	Short: "Run a collector once and print the result",
	Long: `Run one collection pass for the named collector (messages or mail)
and print the run summary as JSON.

Examples:
  collectord run messages
  collectord run messages --mode backfill --batch-size 1000
  collectord run mail`,
	Args: cobra.ExactArgs(1),
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", messages.ModeIncremental, "run mode: incremental or backfill")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "rows per run (0 = configured default)")
	runCmd.Flags().Int64Var(&runMaxPosition, "max-position", 0, "stop at this row position (0 = head)")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	name := args[0]

	sk, err := sink.NewClient(cfg.Sink.Endpoint, cfg.Sink.APIKey, cfg.Sink.RateLimitQPS)
	if err != nil {
		return fmt.Errorf("create sink client: %w", err)
	}

	var rec ocr.Recognizer
	if cfg.OCR.Enabled {
		rec, err = ocr.NewClient(cfg.OCR.Endpoint)
		if err != nil {
			return fmt.Errorf("create recognizer client: %w", err)
		}
	}

	sup, err := supervisor.New(cfg, sk, rec, logger)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	if name == supervisor.NameMessages {
		if err := sup.BootMessages(cmd.Context()); err != nil {
			return fmt.Errorf("boot message collector: %w", err)
		}
	}

	res, err := sup.Run(cmd.Context(), name, supervisor.RunRequest{
		Mode:        runMode,
		BatchSize:   runBatchSize,
		MaxPosition: runMaxPosition,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
