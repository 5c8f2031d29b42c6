package qa

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/retrieve"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

// fakeGenerator implements ollamaclient.Client, replaying a fixed
// token list or failing, without a network dependency. delay, if set,
// is waited out (respecting ctx cancellation) before each token, so
// tests can simulate an idle gap between tokens.
type fakeGenerator struct {
	tokens  []string
	failErr error
	delay   time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, _, _ string, _ float64, onToken func(string) error) error {
	if f.failErr != nil {
		return f.failErr
	}
	for _, tok := range f.tokens {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGenerator) Available(context.Context) bool { return f.failErr == nil }

func newTestRetriever(t *testing.T) *retrieve.HybridRetriever {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	vectorStore, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	lexicalStore, err := store.NewBleveLexicalStore()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vectorStore.Close()
		_ = lexicalStore.Close()
	})

	vec, err := embedder.Embed(context.Background(), "garden tomatoes grow in summer")
	require.NoError(t, err)
	require.NoError(t, vectorStore.Upsert(context.Background(), []store.Record{
		{ID: "a-0", SourcePath: "a.md", Text: "garden tomatoes grow in summer", Vector: vec},
	}))
	require.NoError(t, lexicalStore.Index(context.Background(), []store.Document{
		{ID: "a-0", Content: "garden tomatoes grow in summer"},
	}))

	return retrieve.NewHybridRetriever(embedder, vectorStore, lexicalStore, retrieve.DefaultFusionConfig())
}

func newTestOrchestrator(t *testing.T, gen *fakeGenerator) *Orchestrator {
	t.Helper()
	return New(Config{
		Retriever:   newTestRetriever(t),
		UseReranker: false,
		MinScore:    0,
		Generator:   gen,
		Model:       "test-model",
	})
}

func newTestOrchestratorWithIdleTimeout(t *testing.T, gen *fakeGenerator, idleTimeout time.Duration) *Orchestrator {
	t.Helper()
	return New(Config{
		Retriever:   newTestRetriever(t),
		UseReranker: false,
		MinScore:    0,
		Generator:   gen,
		Model:       "test-model",
		IdleTimeout: idleTimeout,
	})
}

func collectEvents(events <-chan Event) []Event {
	var collected []Event
	for e := range events {
		collected = append(collected, e)
	}
	return collected
}

func kinds(events []Event) []EventKind {
	ks := make([]EventKind, len(events))
	for i, e := range events {
		ks[i] = e.Kind
	}
	return ks
}

// TS01: a successful session emits the exact ordered event sequence
// spec.md §5 names.
func TestOrchestrator_SuccessfulSessionEventOrder(t *testing.T) {
	gen := &fakeGenerator{tokens: []string{"The ", "answer."}}
	o := newTestOrchestrator(t, gen)

	events := collectEvents(o.Ask(context.Background(), "sess-1", "garden tomatoes"))

	assert.Equal(t, []EventKind{
		EventStart,
		EventPhase,
		EventRetrievalInfo,
		EventContextInfo,
		EventPhase,
		EventTTFT,
		EventToken,
		EventToken,
		EventSources,
		EventDone,
	}, kinds(events))
}

// TS02: token payload content concatenates to the full generated text.
func TestOrchestrator_TokenContentConcatenates(t *testing.T) {
	gen := &fakeGenerator{tokens: []string{"Hello", ", ", "world."}}
	o := newTestOrchestrator(t, gen)

	events := collectEvents(o.Ask(context.Background(), "sess-2", "garden tomatoes"))

	var full string
	for _, e := range events {
		if e.Kind == EventToken {
			full += e.Payload.(TokenPayload).Content
		}
	}
	assert.Equal(t, "Hello, world.", full)
}

// TS03: a generator failure before any token emits error with
// llm_unavailable, then done, with no sources event.
func TestOrchestrator_GeneratorUnavailableEmitsError(t *testing.T) {
	gen := &fakeGenerator{failErr: fmt.Errorf("connection refused")}
	o := newTestOrchestrator(t, gen)

	events := collectEvents(o.Ask(context.Background(), "sess-3", "garden tomatoes"))

	assert.Equal(t, []EventKind{
		EventStart,
		EventPhase,
		EventRetrievalInfo,
		EventContextInfo,
		EventPhase,
		EventError,
		EventDone,
	}, kinds(events))

	errEvent := events[len(events)-2]
	payload := errEvent.Payload.(ErrorPayload)
	assert.Equal(t, "llm_unavailable", payload.Category)
}

// TS04: sources event carries one entry per retrieved candidate with
// its provenance tagged as retrieval_type.
func TestOrchestrator_SourcesCarryRetrievalType(t *testing.T) {
	gen := &fakeGenerator{tokens: []string{"ok"}}
	o := newTestOrchestrator(t, gen)

	events := collectEvents(o.Ask(context.Background(), "sess-4", "garden tomatoes"))

	var sources SourcesPayload
	found := false
	for _, e := range events {
		if e.Kind == EventSources {
			sources = e.Payload.(SourcesPayload)
			found = true
		}
	}
	require.True(t, found)
	require.Len(t, sources.Sources, 1)
	assert.Equal(t, "a.md", sources.Sources[0].Source)
	assert.NotEmpty(t, sources.Sources[0].RetrievalType)
}

// TS05: cancelling the context before the session completes tears
// the session down without panicking or hanging.
func TestOrchestrator_ContextCancellationStopsSession(t *testing.T) {
	gen := &fakeGenerator{tokens: []string{"a", "b", "c"}}
	o := newTestOrchestrator(t, gen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		for range o.Ask(ctx, "sess-5", "garden tomatoes") {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not terminate after context cancellation")
	}
}

// TS06: a gap between tokens longer than IdleTimeout aborts the
// session with an error, then done, per spec.md §5's
// idle-between-tokens timeout.
func TestOrchestrator_IdleTimeoutAbortsSession(t *testing.T) {
	gen := &fakeGenerator{tokens: []string{"a", "b"}, delay: 200 * time.Millisecond}
	o := newTestOrchestratorWithIdleTimeout(t, gen, 20*time.Millisecond)

	done := make(chan []Event)
	go func() {
		done <- collectEvents(o.Ask(context.Background(), "sess-6", "garden tomatoes"))
	}()

	var events []Event
	select {
	case events = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not terminate after idle timeout")
	}

	assert.Equal(t, []EventKind{
		EventStart,
		EventPhase,
		EventRetrievalInfo,
		EventContextInfo,
		EventPhase,
		EventError,
		EventDone,
	}, kinds(events))

	errEvent := events[len(events)-2]
	assert.Equal(t, "llm_unavailable", errEvent.Payload.(ErrorPayload).Category)
}
