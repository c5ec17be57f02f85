package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/octapusprime/octapus/pkg/client"
	"github.com/octapusprime/octapus/pkg/nmap"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/settings"
)

// withClient runs fn against the configured server with a request timeout.
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, c)
}

// cacheNotice reports a cache fallback as a warning and clears it.
func cacheNotice(err error) error {
	if errors.Is(err, client.ErrFromCache) || errors.Is(err, client.ErrSavedLocally) {
		warnColor.Fprintf(os.Stderr, "⚠ %v\n", err)
		return nil
	}
	return err
}

var scenariosCmd = &cobra.Command{
	Use:     "scenarios",
	Aliases: []string{"sc"},
	Short:   "Manage scenarios stored on the server",
}

var scenariosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			names, err := c.ListScenarios(ctx)
			if err := cacheNotice(err); err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "  No saved scenarios.")
			}
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", n)
			}
			return nil
		})
	},
}

var scenariosPushCmd = &cobra.Command{
	Use:   "push [file]",
	Short: "Validate a local scenario and save it on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			name, err := c.SaveScenario(ctx, s)
			if err := cacheNotice(err); err != nil {
				return err
			}
			okColor.Printf("✓ saved %s\n", name)
			return nil
		})
	},
}

var scenariosPullCmd = &cobra.Command{
	Use:   "pull [name]",
	Short: "Print a stored scenario as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			s, err := c.LoadScenario(ctx, args[0])
			if err := cacheNotice(err); err != nil {
				return err
			}
			data, err := scenario.MarshalIndent(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		})
	},
}

var scenariosRmCmd = &cobra.Command{
	Use:   "rm [name]",
	Short: "Delete a stored scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if err := c.DeleteScenario(ctx, args[0]); err != nil {
				return err
			}
			okColor.Printf("✓ deleted %s\n", args[0])
			return nil
		})
	},
}

var startVars []string

var scenariosStartCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Run a stored scenario on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := parseVars(startVars)
		if err != nil {
			return err
		}
		return withClient(func(ctx context.Context, c *client.Client) error {
			id, err := c.RunScenario(ctx, args[0], overrides)
			if err != nil {
				return err
			}
			okColor.Printf("✓ started %s (run %s)\n", args[0], id)
			return nil
		})
	},
}

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan [target] [nmap args...]",
	Short: "Start an nmap scan with automatic follow-up tools",
	Long: `Start a dynamic sequence on the server: nmap runs first and the open
services it reports decide which follow-up tools are appended.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scripts := []nmap.Script{{Tool: "nmap", Args: append(slices.Clone(args[1:]), args[0])}}
		return withClient(func(ctx context.Context, c *client.Client) error {
			id, err := c.StartScan(ctx, scripts)
			if err != nil {
				return err
			}
			okColor.Printf("✓ scan started (run %s)\n", id)
			return nil
		})
	},
}

// --- stop / status ---

var stopCmd = &cobra.Command{
	Use:   "stop [run-id]",
	Short: "Stop the running scenario",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			if len(args) == 1 {
				return c.StopScenario(ctx, args[0])
			}
			return c.Stop(ctx)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's active or last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if st.ID == "" {
				fmt.Fprintf(out, "  %s\n", st.State)
				return nil
			}
			fmt.Fprintf(out, "  %s  %s  %s  step %d\n", statusIcon(string(st.State)), st.Name, st.State, st.Step+1)
			return nil
		})
	},
}

func statusIcon(state string) string {
	switch state {
	case "completed":
		return "✓"
	case "failed", "error":
		return "✗"
	case "stopped":
		return "■"
	default:
		return "▸"
	}
}

// --- network / settings ---

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Show the server's local network and interfaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			out := cmd.OutOrStdout()
			cidr, iface, err := c.LocalCIDR(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  local network: %s (%s)\n", cidr, iface)
			ifaces, err := c.Interfaces(ctx)
			if err != nil {
				return err
			}
			for _, i := range ifaces {
				fmt.Fprintf(out, "  %-10s %-15s %s\n", i.Name, i.IP, i.CIDR)
			}
			return nil
		})
	},
}

var settingsSet []string

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or update the dashboard settings",
	Long:  "Show the dashboard settings. --set field=value updates fields by their JSON name.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *client.Client) error {
			var (
				doc any
				err error
			)
			if len(settingsSet) == 0 {
				doc, err = c.Settings(ctx)
			} else {
				patch, perr := settingsPatch(settingsSet)
				if perr != nil {
					return perr
				}
				doc, err = c.UpdateSettings(ctx, patch)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		})
	},
}

// settingsPatch builds a partial settings document from field=value pairs.
func settingsPatch(pairs []string) (patch settings.Settings, err error) {
	raw := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return patch, fmt.Errorf("invalid --set %q: expected field=value", p)
		}
		switch v {
		case "true":
			raw[k] = true
		case "false":
			raw[k] = false
		default:
			raw[k] = v
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return patch, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		return patch, fmt.Errorf("invalid settings: %w", err)
	}
	return patch, nil
}

func init() {
	scenariosStartCmd.Flags().StringArrayVar(&startVars, "var", nil, "Variable override (key=value), repeatable")
	settingsCmd.Flags().StringArrayVar(&settingsSet, "set", nil, "Update a setting (field=value), repeatable")

	scenariosCmd.AddCommand(scenariosListCmd, scenariosPushCmd, scenariosPullCmd, scenariosRmCmd, scenariosStartCmd)
	rootCmd.AddCommand(scenariosCmd, scanCmd, stopCmd, statusCmd, networkCmd, settingsCmd)
}
