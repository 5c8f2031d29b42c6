// Package qa implements the QA Orchestrator (spec.md §4.10): the
// Idle → Retrieving → Generating state machine that turns one question
// into an ordered, lazy sequence of Events. There is no close teacher
// precedent for a channel-based progress stream — the teacher's
// internal/async status tracker is a polling snapshot, not a producer
// of ordered events — so this state machine is original to the
// generalized domain, built in the teacher's error-wrapping and
// context-propagation idiom rather than copied from one file.
package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/obsidianrag/obsidianrag/internal/errcat"
	"github.com/obsidianrag/obsidianrag/internal/ollamaclient"
	"github.com/obsidianrag/obsidianrag/internal/retrieve"
)

// Config wires an Orchestrator to its retrieval and generation
// dependencies, plus the runtime knobs spec.md §9 names.
type Config struct {
	Retriever     *retrieve.HybridRetriever
	Reranker      retrieve.Reranker
	UseReranker   bool
	RerankerTopN  int
	MinScore      float64
	GraphExpander *retrieve.GraphExpander

	Generator   ollamaclient.Client
	Model       string
	Temperature float64

	// IdleTimeout bounds the gap between successive tokens during
	// generation (spec.md §5 "idle-between-tokens timeout"). Zero or a
	// negative value falls back to defaultIdleTimeout; there is no way to disable it
	// through New, since the spec names it as always-on.
	IdleTimeout time.Duration
}

const (
	defaultTemperature = 0.1
	// defaultIdleTimeout is spec.md §5's "e.g. 30s" idle-between-tokens
	// abort, used when Config.IdleTimeout is left unset.
	defaultIdleTimeout = 30 * time.Second
)

// Orchestrator runs one question session at a time per call to Ask;
// callers invoke Ask concurrently for concurrent sessions (spec.md §5
// "Question Sessions: each is owned by the request-handling task").
type Orchestrator struct {
	config Config
}

// New constructs an Orchestrator. Temperature defaults to spec.md
// §4.10's "≈ 0.1" when unset.
func New(cfg Config) *Orchestrator {
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Orchestrator{config: cfg}
}

// Ask runs one question session and returns a channel of Events in
// the strict order spec.md §5 names. The channel is unbuffered: a
// slow reader applies backpressure all the way to the generator's
// token stream (spec.md §5 "Backpressure"), and is always closed
// exactly once, whether the session ends in done or error. ctx
// cancellation (client disconnect, request timeout) aborts any
// in-flight upstream call and tears the session down promptly.
func (o *Orchestrator) Ask(ctx context.Context, sessionID, question string) <-chan Event {
	events := make(chan Event)
	go o.run(ctx, sessionID, question, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, sessionID, question string, events chan<- Event) {
	defer close(events)

	if !o.send(ctx, events, Event{Kind: EventStart, Payload: StartPayload{SessionID: sessionID}}) {
		return
	}

	candidates, ok := o.retrieving(ctx, question, events)
	if !ok {
		return
	}

	o.generating(ctx, question, candidates, events)
}

// retrieving runs the Retrieving state: Hybrid Retriever, optional
// Reranker, then Graph Expander, emitting phase/retrieval_info/
// context_info in order (spec.md §4.10, §5).
func (o *Orchestrator) retrieving(ctx context.Context, question string, events chan<- Event) ([]retrieve.Candidate, bool) {
	if !o.send(ctx, events, Event{Kind: EventPhase, Payload: PhasePayload{Phase: PhaseRetrieve, Message: "searching your notes"}}) {
		return nil, false
	}

	candidates, err := o.config.Retriever.Retrieve(ctx, question)
	if err != nil {
		o.fail(ctx, events, errcat.EmbedderUnavailable, fmt.Sprintf("retrieval failed: %v", err))
		return nil, false
	}
	totalFound := len(candidates)

	if o.config.UseReranker && o.config.Reranker != nil && len(candidates) > 0 {
		if !o.send(ctx, events, Event{Kind: EventPhase, Payload: PhasePayload{Phase: PhaseRerank, Message: "ranking the best matches"}}) {
			return nil, false
		}
		topN := o.config.RerankerTopN
		if topN <= 0 {
			topN = retrieve.DefaultRerankerTopN
		}
		reranked, err := o.config.Reranker.Rerank(ctx, question, candidates, topN)
		if err != nil {
			o.fail(ctx, events, errcat.LLMUnavailable, fmt.Sprintf("reranking failed: %v", err))
			return nil, false
		}
		candidates = reranked
	}

	minScore := o.config.MinScore
	if minScore == 0 {
		minScore = retrieve.DefaultMinScore
	}
	candidates = retrieve.ApplyMinScoreThreshold(candidates, minScore)
	afterFilter := len(candidates)

	if o.config.GraphExpander != nil {
		candidates = o.config.GraphExpander.Expand(ctx, candidates)
	}

	if !o.send(ctx, events, Event{Kind: EventRetrievalInfo, Payload: RetrievalInfoPayload{TotalFound: totalFound, AfterFilter: afterFilter}}) {
		return nil, false
	}

	totalChars := 0
	for _, c := range candidates {
		totalChars += len(c.Text)
	}
	if !o.send(ctx, events, Event{Kind: EventContextInfo, Payload: ContextInfoPayload{NumDocs: len(candidates), TotalChars: totalChars}}) {
		return nil, false
	}

	return candidates, true
}

// generating runs the Generating state: build the prompt, stream
// tokens from the generator, then emit sources and done (spec.md
// §4.10).
func (o *Orchestrator) generating(ctx context.Context, question string, candidates []retrieve.Candidate, events chan<- Event) {
	if !o.send(ctx, events, Event{Kind: EventPhase, Payload: PhasePayload{Phase: PhaseGenerate, Message: "writing an answer"}}) {
		return
	}

	docs := make([]contextDoc, len(candidates))
	for i, c := range candidates {
		docs[i] = contextDoc{SourcePath: c.SourcePath, Text: c.Text}
	}
	prompt := buildPrompt(docs, question)

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	firstToken := true
	idleTimer := newIdleTimer(o.config.IdleTimeout, cancel)
	defer idleTimer.stop()

	genErr := o.config.Generator.Generate(genCtx, o.config.Model, prompt, o.config.Temperature, func(token string) error {
		idleTimer.reset()
		if firstToken {
			firstToken = false
			if !o.send(ctx, events, Event{Kind: EventTTFT, Payload: TTFTPayload{Seconds: time.Since(start).Seconds()}}) {
				return context.Canceled
			}
		}
		if !o.send(ctx, events, Event{Kind: EventToken, Payload: TokenPayload{Content: token}}) {
			return context.Canceled
		}
		return nil
	})

	if genErr != nil {
		if ctx.Err() != nil {
			return // client disconnected; no error event, session already gone
		}
		category := errcat.LLMUnavailable
		if !firstToken {
			category = errcat.GenerationStreamBroken
		}
		o.fail(ctx, events, category, fmt.Sprintf("generation failed: %v", genErr))
		return
	}

	sources := make([]Source, len(candidates))
	for i, c := range candidates {
		sources[i] = Source{Source: c.SourcePath, Score: c.Score(), RetrievalType: string(c.Provenance)}
	}
	if !o.send(ctx, events, Event{Kind: EventSources, Payload: SourcesPayload{Sources: sources}}) {
		return
	}
	o.send(ctx, events, Event{Kind: EventDone, Payload: DonePayload{}})
}

// fail emits the error event then done, the Any→Failed transition
// (spec.md §4.10).
func (o *Orchestrator) fail(ctx context.Context, events chan<- Event, category errcat.Category, message string) {
	if !o.send(ctx, events, Event{Kind: EventError, Payload: ErrorPayload{Message: message, Category: string(category)}}) {
		return
	}
	o.send(ctx, events, Event{Kind: EventDone, Payload: DonePayload{}})
}

// send delivers event unless ctx is already done, in which case it
// returns false so callers can unwind without blocking on a reader
// that disconnected.
func (o *Orchestrator) send(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// idleTimer cancels genCtx if reset is not called within d of the
// previous reset, implementing spec.md §5's idle-between-tokens
// timeout. A zero duration disables it.
type idleTimer struct {
	timer    *time.Timer
	duration time.Duration
}

func newIdleTimer(d time.Duration, cancel context.CancelFunc) *idleTimer {
	if d <= 0 {
		return &idleTimer{}
	}
	return &idleTimer{timer: time.AfterFunc(d, cancel), duration: d}
}

func (t *idleTimer) reset() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer.Reset(t.duration)
	}
}

func (t *idleTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}
