// Package client talks to an octapus server. Scenario storage is
// server-first: when the server cannot be reached the scenario is kept in
// a local cache file instead, and reads fall back to that cache.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/octapusprime/octapus/pkg/engine"
	"github.com/octapusprime/octapus/pkg/examples"
	"github.com/octapusprime/octapus/pkg/netinfo"
	"github.com/octapusprime/octapus/pkg/nmap"
	"github.com/octapusprime/octapus/pkg/scenario"
	"github.com/octapusprime/octapus/pkg/settings"
	"github.com/octapusprime/octapus/pkg/validate"
)

// DefaultPollInterval is the log polling period used without WebSocket.
const DefaultPollInterval = 2 * time.Second

var (
	// ErrSavedLocally is returned by SaveScenario when the server could not
	// be reached and the scenario went to the local cache instead.
	ErrSavedLocally = errors.New("server unreachable, scenario saved locally")
	// ErrFromCache accompanies results served from the local cache.
	ErrFromCache = errors.New("server unreachable, using local cache")
	// ErrNotCached is returned when the cache has no such scenario.
	ErrNotCached = errors.New("scenario not in local cache")
	// ErrNotJSON is returned when a response is not application/json.
	ErrNotJSON = errors.New("response is not JSON")
)

// APIError is a non-2xx response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client is an octapus API client.
type Client struct {
	base  *url.URL
	http  *http.Client
	cache *Cache
	poll  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache enables the local scenario fallback.
func WithCache(cache *Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.poll = d
		}
	}
}

// New returns a client for the server at base, e.g. http://127.0.0.1:8080.
func New(base string, opts ...Option) (*Client, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 30 * time.Second},
		poll: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.base.String() }

// Unreachable reports whether err means the request never got a usable
// answer: a transport failure or a 5xx response.
func Unreachable(err error) bool {
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ae *APIError
	return errors.As(err, &ae) && ae.Code >= http.StatusInternalServerError
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	isJSON := false
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		isJSON = mt == "application/json"
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Code: resp.StatusCode}
		if isJSON {
			var env struct {
				Message string `json:"message"`
				Error   string `json:"error"`
			}
			if json.Unmarshal(data, &env) == nil {
				apiErr.Message = env.Message
				if apiErr.Message == "" {
					apiErr.Message = env.Error
				}
			}
		}
		return apiErr
	}
	if !isJSON {
		return fmt.Errorf("%s %s: %w (%s)", method, path, ErrNotJSON, resp.Header.Get("Content-Type"))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

type runReply struct {
	Status     string `json:"status"`
	ScenarioID string `json:"scenario_id"`
	Message    string `json:"message"`
}

// SaveScenario stores sc on the server and returns the name it was stored
// under. If the server is unreachable and a cache is configured, sc is
// cached and ErrSavedLocally is returned with sc's own name.
func (c *Client) SaveScenario(ctx context.Context, sc *scenario.Scenario) (string, error) {
	var reply struct {
		Name string `json:"name"`
	}
	err := c.do(ctx, http.MethodPost, "/save_scenario", sc, &reply)
	if err == nil {
		return reply.Name, nil
	}
	if c.cache == nil || !Unreachable(err) {
		return "", err
	}
	if cerr := c.cache.Put(sc); cerr != nil {
		return "", errors.Join(err, cerr)
	}
	return sc.Name, ErrSavedLocally
}

// LoadScenario fetches a stored scenario, falling back to the cache with
// ErrFromCache. The scenario is valid whenever err is nil or ErrFromCache.
func (c *Client) LoadScenario(ctx context.Context, name string) (*scenario.Scenario, error) {
	var sc scenario.Scenario
	err := c.do(ctx, http.MethodGet, "/load_scenario/"+url.PathEscape(name), nil, &sc)
	if err == nil {
		return &sc, nil
	}
	if c.cache == nil || !Unreachable(err) {
		return nil, err
	}
	cached, cerr := c.cache.Get(name)
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	return cached, ErrFromCache
}

// ListScenarios returns the stored names, falling back to the cache with
// ErrFromCache.
func (c *Client) ListScenarios(ctx context.Context) ([]string, error) {
	var reply struct {
		Scenarios []string `json:"scenarios"`
	}
	err := c.do(ctx, http.MethodGet, "/list_scenarios", nil, &reply)
	if err == nil {
		return reply.Scenarios, nil
	}
	if c.cache == nil || !Unreachable(err) {
		return nil, err
	}
	names, cerr := c.cache.Names()
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	return names, ErrFromCache
}

// DeleteScenario removes a stored scenario.
func (c *Client) DeleteScenario(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/scenario/"+url.PathEscape(name), nil, nil)
}

// StartScenario runs sc as posted and returns the run ID.
func (c *Client) StartScenario(ctx context.Context, sc *scenario.Scenario) (string, error) {
	var reply runReply
	if err := c.do(ctx, http.MethodPost, "/start_scenario", sc, &reply); err != nil {
		return "", err
	}
	return reply.ScenarioID, nil
}

// RunScenario runs a stored scenario with variable overrides.
func (c *Client) RunScenario(ctx context.Context, name string, overrides map[string]string) (string, error) {
	var reply runReply
	req := map[string]any{"name": name, "variables": overrides}
	if err := c.do(ctx, http.MethodPost, "/run_scenario", req, &reply); err != nil {
		return "", err
	}
	return reply.ScenarioID, nil
}

// StopScenario stops the run with the given ID; "" stops the active run.
func (c *Client) StopScenario(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/stop_scenario", map[string]string{"scenario_id": id}, nil)
}

// StartScan launches the dynamic scan sequence.
func (c *Client) StartScan(ctx context.Context, scripts []nmap.Script) (string, error) {
	var reply runReply
	if err := c.do(ctx, http.MethodPost, "/start", map[string]any{"scripts": scripts}, &reply); err != nil {
		return "", err
	}
	return reply.ScenarioID, nil
}

// Stop stops whatever is running.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", struct{}{}, nil)
}

// Status returns the active or last run.
func (c *Client) Status(ctx context.Context) (engine.Status, error) {
	var st engine.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

type linesReply struct {
	Lines []string `json:"lines"`
}

// FetchLogs returns the whole tool log.
func (c *Client) FetchLogs(ctx context.Context) ([]string, error) {
	var reply linesReply
	err := c.do(ctx, http.MethodGet, "/fetch_logs", nil, &reply)
	return reply.Lines, err
}

// FetchLatestLogs returns the lines logged since the previous call.
func (c *Client) FetchLatestLogs(ctx context.Context) ([]string, error) {
	var reply linesReply
	err := c.do(ctx, http.MethodGet, "/fetch_latest_logs", nil, &reply)
	return reply.Lines, err
}

// LocalCIDR asks the server for its local network.
func (c *Client) LocalCIDR(ctx context.Context) (cidr, iface string, err error) {
	var reply struct {
		CIDR      string `json:"cidr"`
		Interface string `json:"interface"`
	}
	err = c.do(ctx, http.MethodGet, "/local_cidr", nil, &reply)
	return reply.CIDR, reply.Interface, err
}

// Interfaces lists the server's network interfaces.
func (c *Client) Interfaces(ctx context.Context) ([]netinfo.Interface, error) {
	var reply struct {
		Interfaces []netinfo.Interface `json:"interfaces"`
	}
	err := c.do(ctx, http.MethodGet, "/network_interfaces", nil, &reply)
	return reply.Interfaces, err
}

type settingsReply struct {
	Data settings.Settings `json:"data"`
}

// Settings returns the dashboard settings.
func (c *Client) Settings(ctx context.Context) (settings.Settings, error) {
	var reply settingsReply
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &reply)
	return reply.Data, err
}

// UpdateSettings merges patch into the stored settings.
func (c *Client) UpdateSettings(ctx context.Context, patch settings.Settings) (settings.Settings, error) {
	var reply settingsReply
	err := c.do(ctx, http.MethodPost, "/api/settings", patch, &reply)
	return reply.Data, err
}

// Examples lists the bundled example scenarios.
func (c *Client) Examples(ctx context.Context) ([]examples.Example, error) {
	var reply struct {
		Examples []examples.Example `json:"examples"`
	}
	err := c.do(ctx, http.MethodGet, "/api/examples", nil, &reply)
	return reply.Examples, err
}

// Validate runs the server-side validator on sc.
func (c *Client) Validate(ctx context.Context, sc *scenario.Scenario) ([]*validate.ValidationError, error) {
	var reply struct {
		Errors []*validate.ValidationError `json:"errors"`
	}
	err := c.do(ctx, http.MethodPost, "/api/validate", sc, &reply)
	return reply.Errors, err
}
