// Package api is the REST client for the queue server: command dispatch,
// autocomplete search and session identity resolution. Every call re-reads
// the configuration; nothing here mutates it except through the resolver's
// explicit hand-off.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/domain/session"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/infra/configstore"
)

// Common errors
var (
	// ErrIncompleteConfig indicates a required identifier (group, or user
	// for play in manual mode) is missing; the call was never attempted.
	ErrIncompleteConfig = errors.New("incomplete configuration")

	// ErrIdentityUnavailable indicates the session identity could not be
	// retrieved; the overlay degrades to an unauthenticated state.
	ErrIdentityUnavailable = errors.New("session identity unavailable")
)

// Action is an idempotent server-side playback verb.
type Action string

const (
	ActionStop        Action = "stop"
	ActionSkip        Action = "skip"
	ActionTogglePause Action = "toggle_pause"
	ActionRestart     Action = "restart"
	ActionRepeat      Action = "repeat"
)

// DefaultTimeout bounds every REST call.
const DefaultTimeout = 15 * time.Second

// StatusFunc receives user-facing status lines (ok=false for failures).
type StatusFunc func(msg string, ok bool)

// ConfigSource is the read-only view of the configuration store.
type ConfigSource interface {
	Current() configstore.Config
	Mode() configstore.IdentityMode
}

// Identity is the server's answer to "who is this session".
type Identity struct {
	Authenticated bool   `json:"auth"`
	UserID        string `json:"id"`
	DisplayName   string `json:"username"`
}

// Client issues REST calls against the configured server endpoint. Calls
// are fire-and-forget from the overlay's perspective: at most one request
// per user action, no automatic retries.
type Client struct {
	cfg        ConfigSource
	httpClient *http.Client
	status     StatusFunc
	onRepeat   func(repeatAll bool)
	clientID   string
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithStatusFunc sets the status callback consumed by presentation.
func WithStatusFunc(fn StatusFunc) Option {
	return func(c *Client) { c.status = fn }
}

// WithRepeatChanged sets the callback fired when a repeat command reports
// the resulting repeat-all mode.
func WithRepeatChanged(fn func(repeatAll bool)) Option {
	return func(c *Client) { c.onRepeat = fn }
}

// NewClient creates a REST client reading its target from cfg. Cookies are
// kept in a jar so session credentials set by the server are forwarded on
// subsequent calls.
func NewClient(cfg ConfigSource, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Jar:     jar,
		},
		status:   func(msg string, ok bool) {},
		clientID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID is the per-process identifier attached to outgoing requests.
func (c *Client) ClientID() string {
	return c.clientID
}

// Dispatch issues one playback command scoped to the configured group. On
// missing group the request is skipped, not queued: a local status is
// reported and no network call happens. Failures are surfaced, never
// retried; the verbs are idempotent server-side but a duplicate is still
// user-visible.
func (c *Client) Dispatch(ctx context.Context, action Action) error {
	cfg := c.cfg.Current()
	if cfg.Group == "" {
		c.status("Config incomplete (server/group).", false)
		return fmt.Errorf("%w: group required for %s", ErrIncompleteConfig, action)
	}

	body := map[string]any{"guild_id": cfg.Group}
	resp, err := c.postJSON(ctx, cfg.Server+"/api/"+string(action), body)
	if err != nil {
		log.Warn().Err(err).Str("action", string(action)).Msg("Command failed")
		c.status(fmt.Sprintf("Command %s failed.", action), false)
		return err
	}

	if action == ActionRepeat && c.onRepeat != nil {
		var out struct {
			RepeatAll bool `json:"repeat_all"`
		}
		if err := json.Unmarshal(resp, &out); err == nil {
			c.onRepeat(out.RepeatAll)
		}
	}
	return nil
}

// Play submits text (a URL or free-form title) as a new queue entry. In
// manual identity mode a user identifier is required up front; in
// session-derived mode an empty one is omitted and the server resolves
// identity from the session, surfacing its own failure asynchronously.
func (c *Client) Play(ctx context.Context, text string) error {
	cfg := c.cfg.Current()
	if text == "" || cfg.Group == "" {
		c.status("Config incomplete (server/group).", false)
		return fmt.Errorf("%w: group required for play", ErrIncompleteConfig)
	}
	if c.cfg.Mode() == configstore.ManualIdentity && cfg.User == "" {
		c.status("Config incomplete (server/group/user).", false)
		return fmt.Errorf("%w: user required for play", ErrIncompleteConfig)
	}

	body := map[string]any{
		"title":    text,
		"url":      text,
		"guild_id": cfg.Group,
	}
	if cfg.User != "" {
		body["user_id"] = cfg.User
	}

	if _, err := c.postJSON(ctx, cfg.Server+"/api/play", body); err != nil {
		log.Warn().Err(err).Msg("Play failed")
		c.status("Adding track failed.", false)
		return err
	}
	return nil
}

// Autocomplete fetches ranked suggestions for a query. Any network or
// decoding failure yields an empty result, never an error the caller must
// branch on: the overlay has no error state for suggestions.
func (c *Client) Autocomplete(ctx context.Context, query string) []session.Suggestion {
	cfg := c.cfg.Current()
	endpoint := cfg.Server + "/autocomplete?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("query", query).Msg("Autocomplete failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var out struct {
		Results []session.Suggestion `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Debug().Err(err).Msg("Autocomplete decode failed")
		return nil
	}
	return out.Results
}

// ResolveIdentity asks the server who the current session belongs to
// (GET /api/me, credentials forwarded). Any failure maps to
// ErrIdentityUnavailable: cross-origin credential delivery is best-effort
// and the overlay renders a "session unavailable" state instead of failing.
func (c *Client) ResolveIdentity(ctx context.Context) (Identity, error) {
	cfg := c.cfg.Current()

	var id Identity
	if err := c.getJSON(ctx, cfg.Server+"/api/me", &id); err != nil {
		log.Debug().Err(err).Msg("Identity resolution failed")
		return Identity{}, fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	return id, nil
}

// ListGroups returns the groups the authenticated session may control.
func (c *Client) ListGroups(ctx context.Context) ([]session.Group, error) {
	cfg := c.cfg.Current()

	var groups []session.Group
	if err := c.getJSON(ctx, cfg.Server+"/api/guilds", &groups); err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", c.clientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return data, nil
}
