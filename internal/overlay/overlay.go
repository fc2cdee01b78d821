// Package overlay composes the configuration store, REST client, push
// channel and suggestion pipeline into one object with an explicit
// lifecycle: constructed at startup, reconfigured through
// ApplyConfigInput, torn down with Close. Rendering stays outside; the
// overlay only emits view models and status lines through callbacks.
package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/domain/session"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/domain/suggest"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/infra/api"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/infra/configstore"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/transport/push"
)

// Channel is the push-channel surface the overlay drives.
type Channel interface {
	Connect(endpoint string)
	Reconnect(endpoint string)
	Close() error
	State() push.State
}

// Commander is the REST surface the overlay drives.
type Commander interface {
	Dispatch(ctx context.Context, action api.Action) error
	Play(ctx context.Context, text string) error
	ResolveIdentity(ctx context.Context) (api.Identity, error)
	ListGroups(ctx context.Context) ([]session.Group, error)
}

// Callbacks fan overlay output out to the presentation layer. Nil fields
// are skipped.
type Callbacks struct {
	OnViewModel   func(session.ViewModel)
	OnSuggestions func([]session.Suggestion)
	OnStatus      func(msg string, ok bool)
	OnIdentity    func(api.Identity)
}

// Overlay is the client core. All methods are safe for concurrent use.
type Overlay struct {
	store     *configstore.Store
	commander Commander
	channel   Channel
	pipeline  *suggest.Pipeline
	callbacks Callbacks

	mu       sync.Mutex
	identity api.Identity
	lastSnap *session.Snapshot
}

// New wires an overlay together. The store must be open. The suggestion
// pipeline is created here so selection and direct submit share one play
// path.
func New(store *configstore.Store, commander Commander, channel Channel, searcher suggest.Searcher, cb Callbacks) *Overlay {
	o := &Overlay{
		store:     store,
		commander: commander,
		channel:   channel,
		callbacks: cb,
	}
	o.pipeline = suggest.NewPipeline(searcher, func(results []session.Suggestion) {
		if cb.OnSuggestions != nil {
			cb.OnSuggestions(results)
		}
	})

	// Endpoint changes re-resolve identity before the channel comes back:
	// the play action needs the user id the session carries.
	store.SetReconnectHook(func(endpoint string) {
		o.resolveIdentity(context.Background())
		channel.Reconnect(endpoint)
	})

	return o
}

// Run resolves the session identity and opens the initial push channel.
func (o *Overlay) Run(ctx context.Context) {
	o.resolveIdentity(ctx)
	cfg := o.store.Current()
	o.channel.Connect(cfg.Server)
	o.status(fmt.Sprintf("Ready (server: %s)", cfg.Server), true)
}

// Close tears down the pipeline and the push channel. Pending suggestion
// and command calls are abandoned, not cancelled; late results are ignored.
func (o *Overlay) Close() error {
	o.pipeline.Stop()
	return o.channel.Close()
}

// ApplyConfigInput parses a free-form configuration URL, derives the
// identifiers, persists everything and lets the store decide whether the
// channel must re-establish. Invalid input reports a status and changes
// nothing.
func (o *Overlay) ApplyConfigInput(raw string) error {
	u, err := configstore.ParseConfigURL(raw)
	if err != nil {
		o.status("Invalid URL.", false)
		return err
	}

	endpoint := u.Scheme + "://" + u.Host
	group, user := o.store.DeriveIdentifiers(u)

	cfg := configstore.Config{Server: endpoint, Group: group, User: user}
	if err := o.store.Save(cfg); err != nil {
		o.status("Saving configuration failed.", false)
		return err
	}

	o.status(fmt.Sprintf("Config OK — server: %s | group: %s | user: %s",
		endpoint, orDash(group), orDash(user)), true)
	return nil
}

// HandleSnapshot projects a pushed snapshot against the current group and
// emits the view model. Snapshots are applied in arrival order; a stale one
// is rendered as-is and superseded by the next.
func (o *Overlay) HandleSnapshot(snap session.Snapshot) {
	o.mu.Lock()
	o.lastSnap = &snap
	o.mu.Unlock()

	o.emitViewModel(snap)
}

// HandleChannelState forwards connection-state transitions as status lines.
func (o *Overlay) HandleChannelState(state push.State, detail string) {
	o.status(detail, state != push.Disconnected)
}

// Dispatch forwards one transport action. Precondition failures have
// already been reported as a status by the commander.
func (o *Overlay) Dispatch(ctx context.Context, action api.Action) error {
	return o.commander.Dispatch(ctx, action)
}

// Submit adds text (typed or a selected suggestion's submit text) to the
// queue and clears the suggestion list.
func (o *Overlay) Submit(ctx context.Context, text string) error {
	o.pipeline.Input("") // clear suggestions
	return o.commander.Play(ctx, text)
}

// Select submits a suggestion through the same path as direct input.
func (o *Overlay) Select(ctx context.Context, s session.Suggestion) error {
	return o.Submit(ctx, s.SubmitText())
}

// Search feeds one keystroke's query text into the suggestion pipeline.
func (o *Overlay) Search(query string) {
	o.pipeline.Input(query)
}

// Groups lists the groups the current session may control.
func (o *Overlay) Groups(ctx context.Context) ([]session.Group, error) {
	return o.commander.ListGroups(ctx)
}

// Identity returns the last resolved session identity.
func (o *Overlay) Identity() api.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

// RefreshView re-projects the last snapshot, if any. Used after a group
// change so control enablement tracks the new configuration.
func (o *Overlay) RefreshView() {
	o.mu.Lock()
	snap := o.lastSnap
	o.mu.Unlock()

	if snap != nil {
		o.emitViewModel(*snap)
	}
}

// resolveIdentity asks the server who this session is and hands the user
// id to the store. Only meaningful in session-derived mode; failure
// degrades to an unauthenticated overlay, never an error.
func (o *Overlay) resolveIdentity(ctx context.Context) {
	if o.store.Mode() != configstore.SessionDerivedIdentity {
		return
	}

	id, err := o.commander.ResolveIdentity(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Session unavailable")
		o.setIdentity(api.Identity{})
		o.status("Session unavailable.", false)
		return
	}

	o.setIdentity(id)
	if id.Authenticated {
		if err := o.store.SetUser(id.UserID); err != nil {
			log.Warn().Err(err).Msg("Failed to persist resolved user")
		}
		o.status(fmt.Sprintf("Signed in as %s.", id.DisplayName), true)
	}
}

func (o *Overlay) setIdentity(id api.Identity) {
	o.mu.Lock()
	o.identity = id
	o.mu.Unlock()

	if o.callbacks.OnIdentity != nil {
		o.callbacks.OnIdentity(id)
	}
}

func (o *Overlay) emitViewModel(snap session.Snapshot) {
	if o.callbacks.OnViewModel == nil {
		return
	}
	o.callbacks.OnViewModel(session.Project(snap, o.store.Current().Group))
}

func (o *Overlay) status(msg string, ok bool) {
	if o.callbacks.OnStatus != nil {
		o.callbacks.OnStatus(msg, ok)
	}
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
