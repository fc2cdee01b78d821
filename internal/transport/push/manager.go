// Package push owns the single live push channel to the queue server. It
// subscribes to playlist_update events and projects connection state for
// presentation; it never touches the configuration.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/domain/session"
)

// State is the connection state projection. It is owned solely by the
// manager; presentation only observes it.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventPlaylistUpdate is the single subscribed event type. Envelopes with
// any other event name are ignored.
const EventPlaylistUpdate = "playlist_update"

// DefaultRetryInterval is the pause between redial attempts after transport
// loss.
const DefaultRetryInterval = 3 * time.Second

// envelope is the wire framing of one pushed event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Manager maintains at most one live websocket to the configured endpoint.
// Reconnect is the only path by which the target endpoint changes; the
// channel is never retargeted in place.
type Manager struct {
	onSnapshot func(session.Snapshot)
	onStatus   func(state State, detail string)
	dialer     *websocket.Dialer
	retry      time.Duration
	clientID   string

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption is a functional option for configuring the manager.
type ManagerOption func(*Manager)

// WithRetryInterval overrides the redial pause (useful for testing).
func WithRetryInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.retry = d }
}

// WithCookieJar forwards session cookies on the websocket handshake, so the
// push channel carries the same credentials as the REST client.
func WithCookieJar(jar http.CookieJar) ManagerOption {
	return func(m *Manager) { m.dialer.Jar = jar }
}

// NewManager creates a manager delivering snapshots to onSnapshot and state
// transitions to onStatus. Both callbacks run on the manager's goroutine.
func NewManager(onSnapshot func(session.Snapshot), onStatus func(State, string), opts ...ManagerOption) *Manager {
	m := &Manager{
		onSnapshot: onSnapshot,
		onStatus:   onStatus,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		retry:    DefaultRetryInterval,
		clientID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens a push channel to endpoint. A no-op when endpoint is empty.
// The channel dials asynchronously; the state moves to Connecting
// immediately and to Connected on transport acknowledgment. Transport loss
// flips back to Disconnected and redials until Close or Reconnect.
func (m *Manager) Connect(endpoint string) {
	if endpoint == "" {
		return
	}

	wsURL, err := channelURL(endpoint, m.clientID)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("Bad push endpoint")
		m.mu.Lock()
		m.teardownLocked()
		m.mu.Unlock()
		m.setState(Disconnected, "invalid endpoint")
		return
	}

	m.mu.Lock()
	m.teardownLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.setState(Connecting, "connecting to "+endpoint)
	go m.run(ctx, done, wsURL, endpoint)
}

// Reconnect tears down any existing channel and dials endpoint. Safe to
// call with no active channel. The superseded channel is fully released
// before the new dial, so a stale socket can never deliver snapshots.
func (m *Manager) Reconnect(endpoint string) {
	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()

	m.setState(Disconnected, "reconnecting")
	m.Connect(endpoint)
}

// Close releases the channel. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.teardownLocked()
	m.mu.Unlock()

	m.setState(Disconnected, "closed")
	return nil
}

// teardownLocked cancels the running session and waits for its goroutine to
// finish so no callback from the old channel straddles a new one. The lock
// is released during the wait, so a concurrent Connect may install a fresh
// session in the window; the loop tears that one down too and returns only
// once no session remains.
func (m *Manager) teardownLocked() {
	for m.cancel != nil {
		m.cancel()
		m.cancel = nil
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
		}
		done := m.done
		m.done = nil

		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}
}

// run is the channel session: dial, read until loss, redial.
func (m *Manager) run(ctx context.Context, done chan struct{}, wsURL, endpoint string) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := m.dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("Push channel dial failed")
			m.setState(Disconnected, "connection failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.retry):
			}
			continue
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.conn = conn
		m.mu.Unlock()

		m.setState(Connected, "connected to "+endpoint)
		m.readLoop(ctx, conn)

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		m.setState(Disconnected, "disconnected from "+endpoint)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retry):
		}
	}
}

// readLoop delivers snapshots in arrival order until transport loss. No
// reordering happens here: a snapshot lagging a fast user action renders
// as-is and is superseded by the next one.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Msg("Push channel read failed")
			}
			return
		}
		if env.Event != EventPlaylistUpdate {
			continue
		}

		var snap session.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			log.Debug().Err(err).Msg("Bad snapshot payload")
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if m.onSnapshot != nil {
			m.onSnapshot(snap)
		}
	}
}

func (m *Manager) setState(s State, detail string) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if changed {
		log.Info().Str("state", s.String()).Str("detail", detail).Msg("Push channel state")
	}
	if m.onStatus != nil {
		m.onStatus(s, detail)
	}
}

// channelURL converts an http(s) origin into the websocket endpoint.
func channelURL(endpoint, clientID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("client", clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
