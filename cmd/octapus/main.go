package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/octapusprime/octapus/pkg/client"
	"github.com/octapusprime/octapus/pkg/config"
	"github.com/octapusprime/octapus/pkg/diagram"
	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/tui"
	"github.com/octapusprime/octapus/pkg/validate"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgHiRed)
	warnColor = color.New(color.Bold, color.FgYellow)
	dimColor  = color.New(color.Faint)
)

var (
	configPath string
	serverURL  string
	dataDir    string
	verbose    bool
)

func main() {
	_ = config.LoadDotEnv(".env")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "octapus",
	Short:         "Conditional scenario engine for pentest tooling",
	Long:          "octapus runs ordered pipelines of security tools where each step executes only when its condition holds.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// loadConfig reads the configuration file and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.Server = serverURL
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newClient builds an API client with the local scenario cache enabled.
func newClient(cfg *config.Config) (*client.Client, error) {
	return client.New(cfg.Server,
		client.WithCache(client.NewCache(cfg.CacheDir())),
		client.WithPollInterval(cfg.PollInterval),
	)
}

// loadScenario validates a scenario file and prints its findings.
func loadScenario(path string) (*scenario.Scenario, error) {
	s, errs := validate.ValidateFile(path)
	printFindings(errs)
	if validate.HasErrors(errs) {
		return nil, fmt.Errorf("validation failed")
	}
	return s, nil
}

func printFindings(errs []*validate.ValidationError) {
	if n := len(validate.Filter(errs, validate.SeverityError)); n > 0 {
		failColor.Fprintf(os.Stderr, "Validation failed: %d error(s)\n", n)
	}
	for _, e := range errs {
		if e.Severity == validate.SeverityError {
			fmt.Fprintf(os.Stderr, "  ✗ %s\n", e.Error())
		} else {
			warnColor.Fprintf(os.Stderr, "  ⚠ %s\n", e.Error())
		}
	}
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [scenario]",
	Short: "Validate a scenario file (JSON or YAML)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		okColor.Printf("✓ %s is valid (%d steps)\n", s.Name, len(s.Steps))
		return nil
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of scenario documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := scenario.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// --- examples ---

var examplesJSON bool

var examplesCmd = &cobra.Command{
	Use:   "examples [id]",
	Short: "List the bundled example scenarios or print one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			data, err := examples.Raw(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		}
		list, err := examples.List()
		if err != nil {
			return err
		}
		if examplesJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		for _, ex := range list {
			fmt.Fprintf(out, "  %-20s %s (%d steps)\n", ex.ID, ex.Scenario.Name, len(ex.Scenario.Steps))
		}
		return nil
	},
}

// --- diagram ---

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [scenario]",
	Short: "Render a scenario as a Mermaid flowchart or ASCII table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := diagram.ParseFormat(diagramFormat)
		if err != nil {
			return err
		}
		s, err := loadScenario(args[0])
		if err != nil {
			return err
		}
		out, err := diagram.Generate(s, format)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

// --- guide ---

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Show the scenario authoring guide",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), tui.RenderGuide(tui.Guide(), 80))
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "octapus %s (commit %s)\n", version, commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config file (default: user config dir)")
	pf.StringVar(&serverURL, "server", "", "Server URL for client commands")
	pf.StringVar(&dataDir, "data-dir", "", "Directory for scenarios, logs and run traces")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	examplesCmd.Flags().BoolVar(&examplesJSON, "json", false, "JSON output")
	diagramCmd.Flags().StringVar(&diagramFormat, "format", "ascii", "Output format: mermaid or ascii")

	rootCmd.AddCommand(validateCmd, schemaCmd, examplesCmd, diagramCmd, guideCmd, versionCmd)
}
