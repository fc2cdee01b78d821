// Package suggest turns free-text input into a bounded, ranked suggestion
// list with input coalescing. One pipeline serves one input stream.
package suggest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Paul-Berdier/GregLeConsanguin-gamebar/internal/domain/session"
)

const (
	// DefaultWindow is the quiet period after the last keystroke before a
	// search is issued.
	DefaultWindow = 250 * time.Millisecond

	// MinQueryLength is the shortest query that may reach the network.
	MinQueryLength = 3

	// MaxSuggestions bounds the rendered suggestion list.
	MaxSuggestions = 3
)

// Searcher issues the autocomplete call. Implementations return an empty
// slice on any failure.
type Searcher interface {
	Autocomplete(ctx context.Context, query string) []session.Suggestion
}

// Pipeline debounces keystrokes into at most one in-flight search per input
// stream. Each keystroke cancels and restarts a single shared timer; a
// response whose request has been superseded by a newer keystroke is
// discarded so stale suggestions never overwrite newer ones.
type Pipeline struct {
	searcher  Searcher
	window    time.Duration
	onResults func([]session.Suggestion)

	mu      sync.Mutex
	timer   *time.Timer
	seq     uint64
	stopped bool
}

// PipelineOption is a functional option for configuring the pipeline.
type PipelineOption func(*Pipeline)

// WithWindow overrides the debounce window (useful for testing).
func WithWindow(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.window = d }
}

// NewPipeline creates a pipeline delivering result sets to onResults. The
// callback runs on the pipeline's own goroutine and must not call back into
// the pipeline.
func NewPipeline(searcher Searcher, onResults func([]session.Suggestion), opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		searcher:  searcher,
		window:    DefaultWindow,
		onResults: onResults,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Input records one keystroke's worth of query text. Queries shorter than
// MinQueryLength clear the suggestion list immediately and never reach the
// network; longer ones restart the debounce timer.
func (p *Pipeline) Input(query string) {
	query = strings.TrimSpace(query)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}

	// Any new input supersedes whatever request may be in flight.
	p.seq++

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	if len(query) < MinQueryLength {
		p.deliverLocked(p.seq, nil)
		return
	}

	seq := p.seq
	p.timer = time.AfterFunc(p.window, func() { p.fire(seq, query) })
}

// fire runs the search for the query captured at timer-arm time.
func (p *Pipeline) fire(seq uint64, query string) {
	p.mu.Lock()
	if p.stopped || seq != p.seq {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	results := p.searcher.Autocomplete(context.Background(), query)
	if len(results) > MaxSuggestions {
		results = results[:MaxSuggestions]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliverLocked(seq, results)
}

// deliverLocked hands results to the callback iff seq is still current.
// Holding the lock across the callback keeps deliveries ordered.
func (p *Pipeline) deliverLocked(seq uint64, results []session.Suggestion) {
	if p.stopped || seq != p.seq {
		return
	}
	if p.onResults != nil {
		p.onResults(results)
	}
}

// Stop cancels any pending timer and prevents further deliveries. In-flight
// searches are not interrupted; their results are ignored.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
