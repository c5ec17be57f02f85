package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/octapusprime/octapus/pkg/condition"
	"github.com/octapusprime/octapus/pkg/config"
	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/executor"
	"github.com/octapusprime/octapus/pkg/logging"
	"github.com/octapusprime/octapus/pkg/serve"
	"github.com/octapusprime/octapus/pkg/settings"
	"github.com/octapusprime/octapus/pkg/store"
	"github.com/octapusprime/octapus/pkg/trace"
)

var (
	serveListen  string
	serveNoTrace bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and event stream",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	log, syncLog, err := logging.New(cfg.LogLevel, cfg.LogDir(), os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = syncLog() }()

	toolLog, err := logging.OpenToolLog(cfg.LogDir())
	if err != nil {
		return err
	}
	defer toolLog.Close()

	st, err := store.New(cfg.ScenarioDir())
	if err != nil {
		return err
	}

	hub := trace.NewHub(0, log)
	runner, closeTrace, err := newRunner(cfg, hub, log, toolLog, !serveNoTrace)
	if err != nil {
		return err
	}
	defer closeTrace()

	srv := serve.New(serve.Options{
		Manager:  engine.NewManager(runner, cfg.Wordlists),
		Store:    st,
		Settings: settings.Open(cfg.SettingsPath()),
		Logs:     toolLog,
		Log:      log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("octapus server starting",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
	)
	okColor.Fprintf(os.Stderr, "octapus listening on %s\n", cfg.Listen)
	return srv.ListenAndServe(ctx, cfg.Listen)
}

// newRunner wires a scenario runner from the configuration. When withTrace
// is set, every hub event is also appended to a hash-chained file in the
// trace directory.
func newRunner(cfg *config.Config, hub *trace.Hub, log *zap.Logger, sink engine.LogSink, withTrace bool) (*engine.Runner, func(), error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}

	closeTrace := func() {}
	if withTrace {
		if err := os.MkdirAll(cfg.TraceDir(), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create trace dir: %w", err)
		}
		name := "session-" + time.Now().UTC().Format("20060102T150405Z") + ".jsonl"
		path := filepath.Join(cfg.TraceDir(), name)
		tw, err := trace.NewFileWriter(path, "session")
		if err != nil {
			return nil, nil, err
		}
		tw.SetRedactor(policy)
		detach := hub.Attach(tw)
		closeTrace = func() {
			detach()
			if err := tw.Close(); err != nil {
				log.Warn("close trace file", zap.String("path", path), zap.Error(err))
			}
		}
		log.Debug("trace file attached", zap.String("path", path))
	}

	runner := engine.New(engine.Config{
		Exec:           executor.New(policy, cfg.Tools.Paths),
		Hub:            hub,
		Log:            log,
		Sink:           sink,
		Redactor:       policy,
		FS:             condition.OSFS{},
		Prober:         condition.DialProber{},
		DefaultTimeout: cfg.StepTimeout,
	})
	return runner, closeTrace, nil
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoTrace, "no-trace", false, "Do not write a session trace file")
	rootCmd.AddCommand(serveCmd)
}
