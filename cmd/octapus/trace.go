package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/octapusprime/octapus/pkg/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Run trace file operations",
}

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl]",
	Short: "Verify trace file integrity (hash chain)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := trace.VerifyFile(args[0])
		if err != nil {
			return err
		}
		return reportVerify(cmd.OutOrStdout(), result)
	},
}

func reportVerify(w io.Writer, result *trace.VerifyResult) error {
	if !result.Valid {
		failColor.Fprintf(w, "✗ Chain broken at event %d\n", result.BrokenAt)
		if result.Error != "" {
			fmt.Fprintf(w, "  %s\n", result.Error)
		}
		return fmt.Errorf("chain verification failed")
	}
	okColor.Fprintf(w, "✓ Chain integrity: %d events, no breaks\n", result.EventCount)
	if result.ChainHash != "" {
		fmt.Fprintf(w, "  chain hash %s\n", result.ChainHash)
	}
	return nil
}

var traceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trace files in the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		files, err := filepath.Glob(filepath.Join(cfg.TraceDir(), "*.jsonl"))
		if err != nil {
			return fmt.Errorf("glob traces: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(files) == 0 {
			fmt.Fprintf(out, "No trace files found in %s\n", cfg.TraceDir())
			return nil
		}
		slices.Sort(files)
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "  %-40s %8d bytes\n", filepath.Base(f), info.Size())
		}
		return nil
	},
}

func init() {
	traceCmd.AddCommand(traceVerifyCmd, traceListCmd)
	rootCmd.AddCommand(traceCmd)
}
