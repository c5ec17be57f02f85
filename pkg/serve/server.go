// Package serve implements the octapus HTTP API and the WebSocket event
// stream consumed by the dashboard and the CLI client.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/logging"
	"github.com/octapusprime/octapus/pkg/netinfo"
	"github.com/octapusprime/octapus/pkg/settings"
	"github.com/octapusprime/octapus/pkg/store"
	"github.com/octapusprime/octapus/pkg/trace"
)

// maxBody bounds request documents.
const maxBody = 4 << 20

// Options wires the server's collaborators. Manager and Store are
// required; the rest degrade to 404/500 responses when nil.
type Options struct {
	Manager  *engine.Manager
	Store    *store.Store
	Settings *settings.File
	Logs     *logging.ToolLog
	Log      *zap.Logger

	// LocalCIDR and Interfaces default to the netinfo package.
	LocalCIDR  func() (cidr, iface string, err error)
	Interfaces func() ([]netinfo.Interface, error)
}

// Server routes the API onto a ServeMux.
type Server struct {
	opts     Options
	hub      *trace.Hub
	log      *zap.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

// New returns a server with every route registered.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.LocalCIDR == nil {
		opts.LocalCIDR = netinfo.LocalCIDR
	}
	if opts.Interfaces == nil {
		opts.Interfaces = netinfo.Interfaces
	}
	s := &Server{
		opts:    opts,
		hub:     opts.Manager.Runner().Hub(),
		log:     opts.Log.Named("serve"),
		mux:     http.NewServeMux(),
		closing: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /start", s.handleStart)
	s.mux.HandleFunc("POST /stop", s.handleStop)
	s.mux.HandleFunc("POST /start_scenario", s.handleStartScenario)
	s.mux.HandleFunc("POST /run_scenario", s.handleRunScenario)
	s.mux.HandleFunc("POST /stop_scenario", s.handleStopScenario)
	s.mux.HandleFunc("POST /save_scenario", s.handleSaveScenario)
	s.mux.HandleFunc("GET /load_scenario/{name}", s.handleLoadScenario)
	s.mux.HandleFunc("GET /list_scenarios", s.handleListScenarios)
	s.mux.HandleFunc("DELETE /scenario/{name}", s.handleDeleteScenario)
	s.mux.HandleFunc("GET /fetch_logs", s.handleFetchLogs)
	s.mux.HandleFunc("GET /fetch_latest_logs", s.handleFetchLatestLogs)
	s.mux.HandleFunc("GET /local_cidr", s.handleLocalCIDR)
	s.mux.HandleFunc("GET /network_interfaces", s.handleInterfaces)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	s.mux.HandleFunc("GET /api/examples", s.handleExamples)
	s.mux.HandleFunc("GET /api/examples/{id}", s.handleExample)
	s.mux.HandleFunc("POST /api/validate", s.handleValidate)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and stops any active run.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		if _, err := s.opts.Manager.Stop(""); err == nil {
			s.log.Info("stopping active run on shutdown")
		}
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
	return g.Wait()
}

// Close ends every open WebSocket stream. Hijacked connections are not
// covered by http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// response is the common envelope of every JSON reply.
type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("code", code), zap.String("message", msg))
	}
	s.writeJSON(w, code, response{Status: "error", Message: msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
