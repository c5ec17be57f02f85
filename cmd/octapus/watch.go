package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/octapusprime/octapus/pkg/client"
	"github.com/octapusprime/octapus/pkg/tui"
)

var watchPlain bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the server's current run",
	Long: `Follow the server's current run in a terminal dashboard. With --plain,
new tool log lines are polled and printed instead.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if watchPlain {
		return pollLogs(ctx, c, cmd.OutOrStdout(), cfg.PollInterval.String())
	}

	events, err := c.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.BaseURL(), err)
	}
	return tui.Run(tui.Config{
		Events: events,
		Stop:   c.StopScenario,
		Source: c.BaseURL(),
	})
}

// pollLogs prints each batch of new log lines until ctx ends. Fetch
// errors are reported once per outage.
func pollLogs(ctx context.Context, c *client.Client, w io.Writer, every string) error {
	fmt.Fprintln(w, dimColor.Sprintf("polling %s every %s", c.BaseURL(), every))
	down := false
	err := c.Poll(ctx, func(lines []string, err error) {
		if err != nil {
			if !down {
				warnColor.Fprintf(w, "⚠ %v\n", err)
			}
			down = true
			return
		}
		if down {
			okColor.Fprintln(w, "✓ reconnected")
			down = false
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "Print polled log lines instead of the dashboard")
	rootCmd.AddCommand(watchCmd)
}
