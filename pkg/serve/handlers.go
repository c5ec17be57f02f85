package serve

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/nmap"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/settings"
	"github.com/octapusprime/octapus/pkg/store"
	"github.com/octapusprime/octapus/pkg/validate"
)

// adhocName names scenarios posted without one.
const adhocName = "ad-hoc scenario"

type startRequest struct {
	Scripts  []nmap.Script `json:"scripts"`
	Scenario string        `json:"scenario"`
}

// runResponse answers the endpoints that launch a run.
type runResponse struct {
	Status     string `json:"status"`
	ScenarioID string `json:"scenario_id"`
	Message    string `json:"message,omitempty"`
}

// handleStart launches the dynamic scan sequence from posted scripts or
// from the steps of a stored scenario.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scripts := req.Scripts
	if req.Scenario != "" {
		sc, err := s.opts.Store.Load(req.Scenario)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		scripts = scripts[:0]
		for _, st := range sc.Steps {
			scripts = append(scripts, nmap.Script{Tool: st.Tool, Args: st.Args})
		}
	}
	if len(scripts) == 0 {
		s.writeError(w, http.StatusBadRequest, "No scripts provided")
		return
	}

	id, err := s.opts.Manager.StartScripts(scripts)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.log.Info("scan started", zap.String("run_id", id), zap.Int("scripts", len(scripts)))
	s.writeJSON(w, http.StatusOK, runResponse{Status: "scan started", ScenarioID: id})
}

// handleStop stops whatever is running. Stopping nothing is not an error.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	run, err := s.opts.Manager.Stop("")
	if errors.Is(err, engine.ErrNotRunning) {
		s.writeJSON(w, http.StatusOK, response{Status: "success", Message: "nothing running"})
		return
	}
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runResponse{Status: "success", ScenarioID: run.ID})
}

// handleStartScenario runs a posted document, which may carry only steps.
func (s *Server) handleStartScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := readScenario(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.launch(w, sc, nil)
}

type runRequest struct {
	Name      string            `json:"name"`
	Scenario  json.RawMessage   `json:"scenario"`
	Variables map[string]string `json:"variables"`
}

// handleRunScenario runs a stored scenario by name, or an inline document,
// with optional variable overrides.
func (s *Server) handleRunScenario(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var sc *scenario.Scenario
	switch {
	case !isNull(req.Scenario):
		parsed, err := scenario.Unmarshal(req.Scenario)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sc = parsed
	case req.Name != "":
		loaded, err := s.opts.Store.Load(examples.StripPrefix(req.Name))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		sc = loaded
	default:
		s.writeError(w, http.StatusBadRequest, "scenario name or document required")
		return
	}
	s.launch(w, sc, req.Variables)
}

func (s *Server) launch(w http.ResponseWriter, sc *scenario.Scenario, overrides map[string]string) {
	if len(sc.Steps) == 0 {
		s.writeError(w, http.StatusBadRequest, "No steps provided")
		return
	}
	if strings.TrimSpace(sc.Name) == "" {
		sc.Name = adhocName
	}
	id, err := s.opts.Manager.Start(sc, overrides)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.log.Info("scenario started", zap.String("run_id", id), zap.String("scenario", sc.Name))
	s.writeJSON(w, http.StatusOK, runResponse{Status: "scenario started", ScenarioID: id})
}

type stopRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (s *Server) handleStopScenario(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.opts.Manager.Stop(req.ScenarioID)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	s.log.Info("stop requested", zap.String("run_id", run.ID))
	s.writeJSON(w, http.StatusOK, runResponse{Status: "success", ScenarioID: run.ID})
}

type saveResponse struct {
	Status string `json:"status"`
	Name   string `json:"name"`
}

// handleSaveScenario accepts a full document or the legacy {name, scripts}
// shape. The name and at least one step are required.
func (s *Server) handleSaveScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := readScenario(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc.Name = strings.TrimSpace(examples.StripPrefix(sc.Name))
	if sc.Name == "" {
		s.writeError(w, http.StatusBadRequest, "Scenario name required")
		return
	}
	if len(sc.Steps) == 0 {
		s.writeError(w, http.StatusBadRequest, "No steps provided")
		return
	}
	name, err := s.opts.Store.Save(sc)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.log.Info("scenario saved", zap.String("name", name), zap.Int("steps", len(sc.Steps)))
	s.writeJSON(w, http.StatusOK, saveResponse{Status: "saved", Name: name})
}

// handleLoadScenario returns the stored document in its current form,
// upgrading legacy files on the way out.
func (s *Server) handleLoadScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := s.opts.Store.Load(r.PathValue("name"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sc)
}

type listResponse struct {
	Status    string   `json:"status"`
	Scenarios []string `json:"scenarios"`
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	names, err := s.opts.Store.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, listResponse{Status: "success", Scenarios: names})
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.opts.Store.Delete(name); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saveResponse{Status: "deleted", Name: store.Sanitize(name)})
}

type logsResponse struct {
	Status string   `json:"status"`
	Lines  []string `json:"lines"`
}

func (s *Server) handleFetchLogs(w http.ResponseWriter, r *http.Request) {
	s.writeLines(w, false)
}

func (s *Server) handleFetchLatestLogs(w http.ResponseWriter, r *http.Request) {
	s.writeLines(w, true)
}

func (s *Server) writeLines(w http.ResponseWriter, latest bool) {
	if s.opts.Logs == nil {
		s.writeError(w, http.StatusNotFound, "log file not configured")
		return
	}
	var (
		lines []string
		err   error
	)
	if latest {
		lines, err = s.opts.Logs.Latest()
	} else {
		lines, err = s.opts.Logs.All()
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if lines == nil {
		lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, logsResponse{Status: "success", Lines: lines})
}

type cidrResponse struct {
	CIDR      string `json:"cidr,omitempty"`
	Interface string `json:"interface,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleLocalCIDR(w http.ResponseWriter, r *http.Request) {
	cidr, iface, err := s.opts.LocalCIDR()
	if err != nil {
		s.log.Warn("local network detection", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, cidrResponse{Status: "error", Error: "Unable to detect local network"})
		return
	}
	s.writeJSON(w, http.StatusOK, cidrResponse{CIDR: cidr, Interface: iface})
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.opts.Interfaces()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "interfaces": ifaces})
}

type settingsResponse struct {
	Status string            `json:"status"`
	Data   settings.Settings `json:"data"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.opts.Settings == nil {
		s.writeJSON(w, http.StatusOK, settingsResponse{Status: "success", Data: settings.Defaults()})
		return
	}
	cur, err := s.opts.Settings.Load()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, settingsResponse{Status: "success", Data: cur})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.opts.Settings == nil {
		s.writeError(w, http.StatusNotFound, "settings are read-only")
		return
	}
	var patch settings.Settings
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := patch.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cur, err := s.opts.Settings.Update(patch)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, settingsResponse{Status: "success", Data: cur})
}

func (s *Server) handleExamples(w http.ResponseWriter, r *http.Request) {
	list, err := examples.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "examples": list})
}

func (s *Server) handleExample(w http.ResponseWriter, r *http.Request) {
	sc, err := examples.Get(r.PathValue("id"))
	if errors.Is(err, examples.ErrUnknown) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sc)
}

type validateResponse struct {
	Status string                      `json:"status"`
	Valid  bool                        `json:"valid"`
	Errors []*validate.ValidationError `json:"errors"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, findings := validate.ValidateBytes("", data)
	if findings == nil {
		findings = []*validate.ValidationError{}
	}
	s.writeJSON(w, http.StatusOK, validateResponse{
		Status: "success",
		Valid:  !validate.HasErrors(findings),
		Errors: findings,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Manager.Status())
}

// readScenario decodes a posted document. Both the current and the legacy
// {name, scripts} shapes are accepted; a body without either yields a
// scenario with no steps.
func readScenario(r *http.Request) (*scenario.Scenario, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	var probe struct {
		Name    string          `json:"name"`
		Steps   json.RawMessage `json:"steps"`
		Scripts json.RawMessage `json:"scripts"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if isNull(probe.Steps) && isNull(probe.Scripts) {
		return &scenario.Scenario{Name: probe.Name, Variables: map[string]string{}}, nil
	}
	return scenario.Unmarshal(data)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Scenario not found")
	case errors.Is(err, store.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, "Scenario name required")
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrUnknownRun):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
