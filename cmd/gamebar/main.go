// Package main is the entry point for the Gamebar overlay client.
package main

import (
	"bufio"
	"context"
	"flag"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/domain/session"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/infra/api"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/infra/configstore"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/overlay"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/transport/push"
	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/version"
)

// DefaultServer is the compiled-in fallback endpoint used until the user
// configures one.
const DefaultServer = "https://greg-le-consanguin.up.railway.app"

func main() {
	// Command line flags
	dbPath := flag.String("db", "data/gamebar.db", "Path to the configuration database")
	server := flag.String("server", DefaultServer, "Default server endpoint (origin)")
	configURL := flag.String("config-url", "", "Configuration URL to apply at startup (?guild=...&user=...)")
	sessionIdentity := flag.Bool("session-identity", false, "Derive the user identity from the server session instead of the configuration URL")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Queue Overlay Client")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	mode := configstore.ManualIdentity
	if *sessionIdentity {
		mode = configstore.SessionDerivedIdentity
	}

	// Open the configuration store
	store := configstore.New(*dbPath, *server, mode)
	if err := store.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open config store")
	}
	defer store.Close()

	// One cookie jar shared by REST and push so session credentials are
	// forwarded on both.
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create cookie jar")
	}

	apiClient := api.NewClient(store,
		api.WithHTTPClient(&http.Client{Timeout: api.DefaultTimeout, Jar: jar}),
		api.WithStatusFunc(printStatus),
		api.WithRepeatChanged(func(on bool) {
			log.Info().Bool("repeat_all", on).Msg("Repeat mode changed")
		}),
	)

	// The manager fires into the overlay; the overlay needs the manager.
	// Bind late: nothing fires before Connect below.
	var ov *overlay.Overlay
	manager := push.NewManager(
		func(snap session.Snapshot) { ov.HandleSnapshot(snap) },
		func(state push.State, detail string) { ov.HandleChannelState(state, detail) },
		push.WithCookieJar(jar),
	)
	defer manager.Close()

	ov = overlay.New(store, apiClient, manager, apiClient, overlay.Callbacks{
		OnViewModel:   printViewModel,
		OnSuggestions: printSuggestions,
		OnStatus:      printStatus,
		OnIdentity: func(id api.Identity) {
			log.Info().Bool("auth", id.Authenticated).Str("user", id.DisplayName).Msg("Identity")
		},
	})
	defer ov.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *configURL != "" {
		if err := ov.ApplyConfigInput(*configURL); err != nil {
			log.Warn().Err(err).Msg("Startup config URL rejected")
		}
	}

	ov.Run(ctx)

	// Interactive loop: one command per line.
	go readCommands(ctx, ov)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	cancel()
}

// readCommands maps stdin lines onto overlay operations until EOF.
func readCommands(ctx context.Context, ov *overlay.Overlay) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		switch cmd {
		case "config":
			ov.ApplyConfigInput(rest)
		case "play":
			ov.Submit(callCtx, rest)
		case "search":
			ov.Search(rest)
		case "stop":
			ov.Dispatch(callCtx, api.ActionStop)
		case "skip":
			ov.Dispatch(callCtx, api.ActionSkip)
		case "pause":
			ov.Dispatch(callCtx, api.ActionTogglePause)
		case "restart":
			ov.Dispatch(callCtx, api.ActionRestart)
		case "repeat":
			ov.Dispatch(callCtx, api.ActionRepeat)
		case "groups":
			if groups, err := ov.Groups(callCtx); err == nil {
				for _, g := range groups {
					log.Info().Str("id", g.ID).Str("name", g.Name).Msg("Group")
				}
			} else {
				log.Warn().Err(err).Msg("Listing groups failed")
			}
		default:
			log.Info().Str("input", cmd).Msg("Unknown command (config, play, search, stop, skip, pause, restart, repeat, groups)")
		}
		cancel()
	}
}

func printStatus(msg string, ok bool) {
	if ok {
		log.Info().Msg(msg)
	} else {
		log.Warn().Msg(msg)
	}
}

func printViewModel(vm session.ViewModel) {
	log.Info().
		Str("elapsed", vm.Elapsed).
		Str("duration", vm.Duration).
		Bool("paused", vm.Paused).
		Bool("repeat_all", vm.RepeatAll).
		Bool("controls", vm.ControlsEnabled).
		Int("queue", len(vm.Rows)).
		Msg("Playlist update")
	for _, row := range vm.Rows {
		event := log.Info().Int("pos", row.Index).Str("track", row.Label)
		if row.Playing {
			event = event.Bool("playing", true)
		}
		event.Send()
	}
}

func printSuggestions(items []session.Suggestion) {
	if len(items) == 0 {
		return
	}
	for i, it := range items {
		log.Info().Int("n", i+1).Str("title", it.Title).Str("url", it.URL).Msg("Suggestion")
	}
}
