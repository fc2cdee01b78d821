// Package configstore persists the overlay configuration (server endpoint,
// group identifier, user identifier) in a SQLite key-value table and owns
// all mutations of it. Collaborators hold the store and re-read the current
// configuration on every operation.
package configstore

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

// Persisted keys. Absent keys imply compiled-in defaults.
const (
	keyServer = "server"
	keyGroup  = "group"
	keyUser   = "user"
)

// ErrInvalidEndpoint indicates the endpoint input could not be parsed as an
// absolute origin, even after the https-prefix retry.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// IdentityMode selects how the user identifier is sourced.
type IdentityMode int

const (
	// ManualIdentity takes the user identifier from the configuration URL
	// (?user=...) and requires it for the play action.
	ManualIdentity IdentityMode = iota

	// SessionDerivedIdentity leaves the user identifier to the server-side
	// session; the resolver fills it in when available and its absence is
	// forwarded as omission.
	SessionDerivedIdentity
)

// Config is the persisted overlay configuration. Group and User may be
// empty; Server is always a valid origin or the compiled-in default.
type Config struct {
	Server string
	Group  string
	User   string
}

// Store owns the configuration. It is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	path          string
	defaultServer string
	mode          IdentityMode
	current       Config
	reconnect     func(endpoint string)
}

// New creates a store persisting to the SQLite database at path. The
// defaultServer origin is used whenever no endpoint has been saved yet.
func New(path, defaultServer string, mode IdentityMode) *Store {
	return &Store{
		path:          path,
		defaultServer: defaultServer,
		mode:          mode,
		current:       Config{Server: defaultServer},
	}
}

// Mode returns the identity mode the store was constructed with.
func (s *Store) Mode() IdentityMode {
	return s.mode
}

// SetReconnectHook registers the callback invoked when a Save requires the
// push channel to re-establish. Must be called before Save.
func (s *Store) SetReconnectHook(fn func(endpoint string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnect = fn
}

// Open opens the database, initializes the schema and loads the last
// persisted configuration.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open config database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize config schema: %w", err)
	}

	s.db = db
	s.current = s.loadLocked()

	log.Info().
		Str("path", s.path).
		Str("server", s.current.Server).
		Str("group", s.current.Group).
		Bool("user_set", s.current.User != "").
		Msg("Config store opened")
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Current returns the configuration as of this call. Callers must not cache
// the result across user actions.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// loadLocked reads the persisted keys, falling back to compiled-in defaults
// for absent ones.
func (s *Store) loadLocked() Config {
	cfg := Config{Server: s.defaultServer}
	if s.db == nil {
		return cfg
	}

	rows, err := s.db.Query(`SELECT key, value FROM config`)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		return cfg
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		switch key {
		case keyServer:
			if value != "" {
				cfg.Server = value
			}
		case keyGroup:
			cfg.Group = value
		case keyUser:
			cfg.User = value
		}
	}
	return cfg
}

// Save persists all three fields and, when required, asks the connection
// manager to re-establish the push channel: in manual mode every save
// reconnects (the endpoint input and the identifiers arrive as one URL); in
// session-derived mode reconnection is endpoint-scoped and group/user-only
// changes leave the channel alone.
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()

	if cfg.Server == "" {
		cfg.Server = s.defaultServer
	}

	endpointChanged := cfg.Server != s.current.Server

	if s.db != nil {
		err := s.persistLocked(cfg)
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}

	s.current = cfg
	reconnect := s.reconnect
	mode := s.mode
	s.mu.Unlock()

	log.Info().
		Str("server", cfg.Server).
		Str("group", cfg.Group).
		Bool("user_set", cfg.User != "").
		Msg("Config saved")

	if reconnect != nil && (mode == ManualIdentity || endpointChanged) {
		reconnect(cfg.Server)
	}
	return nil
}

// SetUser updates only the user identifier. Used by the identity resolver
// in session-derived mode; never triggers a reconnect.
func (s *Store) SetUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if _, err := s.db.Exec(
			`INSERT INTO config (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			keyUser, id,
		); err != nil {
			return fmt.Errorf("failed to persist user: %w", err)
		}
	}
	s.current.User = id
	return nil
}

func (s *Store) persistLocked(cfg Config) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin config tx: %w", err)
	}
	defer tx.Rollback()

	stmt := `INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	for _, kv := range [][2]string{
		{keyServer, cfg.Server},
		{keyGroup, cfg.Group},
		{keyUser, cfg.User},
	} {
		if _, err := tx.Exec(stmt, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to persist %s: %w", kv[0], err)
		}
	}
	return tx.Commit()
}

// ParseConfigURL parses free-form configuration input as an absolute URL.
// Input without a scheme is retried with an https:// prefix after stripping
// leading slashes, so "example.com/?guild=42" parses like
// "https://example.com/?guild=42". The query parameters are preserved for
// identifier derivation.
func ParseConfigURL(input string) (*url.URL, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrInvalidEndpoint
	}

	if u, ok := absolute(input); ok {
		return u, nil
	}
	if u, ok := absolute("https://" + strings.TrimLeft(input, "/")); ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, input)
}

// ParseEndpoint normalizes free-form input to an absolute origin
// (scheme://host[:port], no path or query).
func ParseEndpoint(input string) (string, error) {
	u, err := ParseConfigURL(input)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

func absolute(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}

// DeriveIdentifiers reads the group and user identifiers from the query
// parameters of a configuration URL (?guild=...&user=..., with ?g= and ?u=
// as aliases). A parameter absent from the URL never clears a previously
// known value. In session-derived mode the user field belongs to the
// identity resolver and is passed through unchanged.
func (s *Store) DeriveIdentifiers(u *url.URL) (group, user string) {
	cur := s.Current()
	q := u.Query()

	group = firstNonEmpty(q.Get("guild"), q.Get("g"), cur.Group)
	if s.mode == SessionDerivedIdentity {
		return group, cur.User
	}
	user = firstNonEmpty(q.Get("user"), q.Get("u"), cur.User)
	return group, user
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
