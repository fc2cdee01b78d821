package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/infra/configstore"
)

type fakeConfig struct {
	cfg  configstore.Config
	mode configstore.IdentityMode
}

func (f *fakeConfig) Current() configstore.Config    { return f.cfg }
func (f *fakeConfig) Mode() configstore.IdentityMode { return f.mode }

func TestDispatchPostsToActionEndpoint(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{cfg: configstore.Config{Server: srv.URL, Group: "42"}})
	if err := c.Dispatch(context.Background(), ActionSkip); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if gotPath != "/api/skip" {
		t.Errorf("path = %q, want /api/skip", gotPath)
	}
	if gotBody["guild_id"] != "42" {
		t.Errorf("guild_id = %v, want 42", gotBody["guild_id"])
	}
}

func TestDispatchSkipsWithoutGroup(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer srv.Close()

	var statusMsg string
	var statusOK bool
	c := NewClient(
		&fakeConfig{cfg: configstore.Config{Server: srv.URL}},
		WithStatusFunc(func(msg string, ok bool) { statusMsg, statusOK = msg, ok }),
	)

	err := c.Dispatch(context.Background(), ActionStop)
	if !errors.Is(err, ErrIncompleteConfig) {
		t.Fatalf("Dispatch() error = %v, want ErrIncompleteConfig", err)
	}
	if n := atomic.LoadInt32(&requests); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
	if statusMsg == "" || statusOK {
		t.Errorf("status = (%q, %v), want a failure status", statusMsg, statusOK)
	}
}

func TestDispatchRepeatReportsRepeatAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"repeat_all": true}`))
	}))
	defer srv.Close()

	var gotRepeat bool
	c := NewClient(
		&fakeConfig{cfg: configstore.Config{Server: srv.URL, Group: "42"}},
		WithRepeatChanged(func(on bool) { gotRepeat = on }),
	)
	if err := c.Dispatch(context.Background(), ActionRepeat); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !gotRepeat {
		t.Error("repeat callback not fired with repeat_all=true")
	}
}

func TestDispatchRemoteFailureIsNotRetried(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{cfg: configstore.Config{Server: srv.URL, Group: "42"}})
	if err := c.Dispatch(context.Background(), ActionSkip); err == nil {
		t.Fatal("Dispatch() error = nil, want failure")
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("server saw %d requests, want exactly 1", n)
	}
}

func TestPlayManualModeRequiresUser(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{
		cfg:  configstore.Config{Server: srv.URL, Group: "42"},
		mode: configstore.ManualIdentity,
	})

	err := c.Play(context.Background(), "never gonna give you up")
	if !errors.Is(err, ErrIncompleteConfig) {
		t.Fatalf("Play() error = %v, want ErrIncompleteConfig", err)
	}
	if n := atomic.LoadInt32(&requests); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestPlaySessionModeOmitsEmptyUser(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{
		cfg:  configstore.Config{Server: srv.URL, Group: "42"},
		mode: configstore.SessionDerivedIdentity,
	})
	if err := c.Play(context.Background(), "https://yt.test/v"); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	if _, present := gotBody["user_id"]; present {
		t.Errorf("body = %v, want user_id omitted", gotBody)
	}
	if gotBody["title"] != "https://yt.test/v" || gotBody["url"] != "https://yt.test/v" {
		t.Errorf("body = %v, want submitted text as title and url", gotBody)
	}
}

func TestPlaySendsUserWhenKnown(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{
		cfg:  configstore.Config{Server: srv.URL, Group: "42", User: "7"},
		mode: configstore.ManualIdentity,
	})
	if err := c.Play(context.Background(), "some song"); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if gotBody["user_id"] != "7" {
		t.Errorf("user_id = %v, want 7", gotBody["user_id"])
	}
}

func TestAutocompleteParsesResults(t *testing.T) {
	var gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/autocomplete" {
			t.Errorf("path = %q, want /autocomplete", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "daft punk" {
			t.Errorf("q = %q, want daft punk", q)
		}
		gotClientID = r.Header.Get("X-Client-Id")
		w.Write([]byte(`{"results":[{"title":"One More Time","url":"https://yt.test/omt"}]}`))
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{cfg: configstore.Config{Server: srv.URL}})
	got := c.Autocomplete(context.Background(), "daft punk")
	if len(got) != 1 || got[0].Title != "One More Time" {
		t.Errorf("Autocomplete() = %+v, want one result", got)
	}
	if gotClientID != c.ClientID() {
		t.Errorf("X-Client-Id = %q, want %q", gotClientID, c.ClientID())
	}
}

func TestAutocompleteFailureYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{cfg: configstore.Config{Server: srv.URL}})
	if got := c.Autocomplete(context.Background(), "query"); len(got) != 0 {
		t.Errorf("Autocomplete() = %+v, want empty on failure", got)
	}
}

func TestResolveIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/me" {
			t.Errorf("path = %q, want /api/me", r.URL.Path)
		}
		w.Write([]byte(`{"auth":true,"id":"7","username":"greg"}`))
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{cfg: configstore.Config{Server: srv.URL}})
	id, err := c.ResolveIdentity(context.Background())
	if err != nil {
		t.Fatalf("ResolveIdentity() error = %v", err)
	}
	if !id.Authenticated || id.UserID != "7" || id.DisplayName != "greg" {
		t.Errorf("ResolveIdentity() = %+v", id)
	}
}

func TestResolveIdentityUnavailableOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{cfg: configstore.Config{Server: srv.URL}})
	if _, err := c.ResolveIdentity(context.Background()); !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("ResolveIdentity() error = %v, want ErrIdentityUnavailable", err)
	}
}

func TestListGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/guilds" {
			t.Errorf("path = %q, want /api/guilds", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"42","name":"The Crypt"}]`))
	}))
	defer srv.Close()

	c := NewClient(&fakeConfig{cfg: configstore.Config{Server: srv.URL}})
	groups, err := c.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups() error = %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "42" || groups[0].Name != "The Crypt" {
		t.Errorf("ListGroups() = %+v", groups)
	}
}
