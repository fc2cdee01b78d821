package configstore

import (
	"errors"
	"net/url"
	"path/filepath"
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"full https url", "https://bot.example.com", "https://bot.example.com", false},
		{"url with path and query", "https://bot.example.com/overlay?guild=42", "https://bot.example.com", false},
		{"http preserved", "http://localhost:8080/x", "http://localhost:8080", false},
		{"scheme-less host", "example.com", "https://example.com", false},
		{"scheme-less with port", "example.com:3000", "https://example.com:3000", false},
		{"leading slashes stripped", "//example.com", "https://example.com", false},
		{"garbage", "not a url", "", true},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Fatalf("ParseEndpoint(%q) error = %v, want ErrInvalidEndpoint", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func openTestStore(t *testing.T, mode IdentityMode) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "gamebar.db"), "https://default.test", mode)
	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeriveIdentifiers(t *testing.T) {
	s := openTestStore(t, ManualIdentity)

	u, _ := url.Parse("https://x.test/?guild=42&user=7")
	group, user := s.DeriveIdentifiers(u)
	if group != "42" || user != "7" {
		t.Errorf("DeriveIdentifiers() = (%q, %q), want (42, 7)", group, user)
	}

	// Aliases g and u.
	u, _ = url.Parse("https://x.test/?g=9&u=8")
	group, user = s.DeriveIdentifiers(u)
	if group != "9" || user != "8" {
		t.Errorf("DeriveIdentifiers() aliases = (%q, %q), want (9, 8)", group, user)
	}
}

func TestDeriveIdentifiersKeepsKnownValues(t *testing.T) {
	s := openTestStore(t, ManualIdentity)
	if err := s.Save(Config{Server: "https://x.test", Group: "42", User: "7"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// A new endpoint URL omitting the params must not clear them.
	u, _ := url.Parse("https://y.test/")
	group, user := s.DeriveIdentifiers(u)
	if group != "42" || user != "7" {
		t.Errorf("DeriveIdentifiers() = (%q, %q), want previous (42, 7)", group, user)
	}
}

func TestDeriveIdentifiersSessionModeIgnoresUserParam(t *testing.T) {
	s := openTestStore(t, SessionDerivedIdentity)
	if err := s.SetUser("resolved-user"); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}

	u, _ := url.Parse("https://x.test/?guild=42&user=7")
	group, user := s.DeriveIdentifiers(u)
	if group != "42" {
		t.Errorf("group = %q, want 42", group)
	}
	if user != "resolved-user" {
		t.Errorf("user = %q, want resolver-owned value", user)
	}
}

func TestSavePersistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gamebar.db")

	s := New(path, "https://default.test", ManualIdentity)
	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Save(Config{Server: "https://x.test", Group: "42", User: "7"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	// A fresh store against the same file sees the saved values.
	s2 := New(path, "https://default.test", ManualIdentity)
	if err := s2.Open(); err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	defer s2.Close()

	got := s2.Current()
	want := Config{Server: "https://x.test", Group: "42", User: "7"}
	if got != want {
		t.Errorf("Current() after reload = %+v, want %+v", got, want)
	}
}

func TestFirstRunUsesDefaults(t *testing.T) {
	s := openTestStore(t, ManualIdentity)
	if got := s.Current().Server; got != "https://default.test" {
		t.Errorf("Current().Server = %q, want compiled-in default", got)
	}
}

func TestSaveTriggersExactlyOneReconnect(t *testing.T) {
	s := openTestStore(t, ManualIdentity)

	var calls []string
	s.SetReconnectHook(func(endpoint string) { calls = append(calls, endpoint) })

	if err := s.Save(Config{Server: "https://x.test", Group: "42", User: "7"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(calls) != 1 || calls[0] != "https://x.test" {
		t.Errorf("reconnect calls = %v, want exactly one for https://x.test", calls)
	}
}

func TestSessionModeSkipsReconnectWithoutEndpointChange(t *testing.T) {
	s := openTestStore(t, SessionDerivedIdentity)
	if err := s.Save(Config{Server: "https://x.test", Group: "1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	var calls int
	s.SetReconnectHook(func(string) { calls++ })

	// Group-only change: reconnection is endpoint-scoped in this mode.
	if err := s.Save(Config{Server: "https://x.test", Group: "2"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("reconnect calls = %d after group-only change, want 0", calls)
	}

	if err := s.Save(Config{Server: "https://y.test", Group: "2"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("reconnect calls = %d after endpoint change, want 1", calls)
	}
}

func TestSetUserDoesNotReconnect(t *testing.T) {
	s := openTestStore(t, SessionDerivedIdentity)

	var calls int
	s.SetReconnectHook(func(string) { calls++ })

	if err := s.SetUser("123"); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("reconnect calls = %d after SetUser, want 0", calls)
	}
	if got := s.Current().User; got != "123" {
		t.Errorf("Current().User = %q, want 123", got)
	}
}
