package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/octapusprime/octapus/pkg/client"
	"github.com/octapusprime/octapus/pkg/editor"
	"github.com/octapusprime/octapus/pkg/scenario"
)

var (
	editExample string
	editOpen    string
	editOffline bool
)

var editCmd = &cobra.Command{
	Use:   "edit [scenario]",
	Short: "Build or edit a scenario interactively",
	Long: `Open the interactive scenario editor. A file argument loads a local
scenario, --open loads one stored on the server and --example starts from a
bundled example. Without --offline, save and run go to the configured server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEdit,
}

func runEdit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var (
		ed        *editor.Editor
		subscribe editor.SubscribeFunc
	)
	if editOffline {
		ed = editor.New(nil)
	} else {
		c, err := newClient(cfg)
		if err != nil {
			return err
		}
		ed = editor.New(c)
		subscribe = c.Subscribe
	}

	switch {
	case len(args) == 1:
		s, err := scenario.LoadFile(args[0])
		if err != nil {
			return err
		}
		if err := ed.Load(s); err != nil {
			return err
		}
	case editExample != "":
		if err := ed.LoadExample(editExample); err != nil {
			return err
		}
	case editOpen != "":
		err := ed.Open(ctx, editOpen)
		if errors.Is(err, client.ErrFromCache) {
			warnColor.Fprintf(os.Stderr, "⚠ %v\n", err)
		} else if err != nil {
			return err
		}
	}

	if !editOffline {
		fmt.Fprintln(os.Stderr, dimColor.Sprintf("server: %s", cfg.Server))
	}
	return editor.NewREPL(ed, subscribe).Run(ctx)
}

func init() {
	editCmd.Flags().StringVar(&editExample, "example", "", "Start from a bundled example")
	editCmd.Flags().StringVar(&editOpen, "open", "", "Open a scenario stored on the server")
	editCmd.Flags().BoolVar(&editOffline, "offline", false, "Edit without a server")
	rootCmd.AddCommand(editCmd)
}
