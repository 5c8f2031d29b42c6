package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	proseTokenizerName  = "obsidianrag_prose_tokenizer"
	proseStopFilterName = "obsidianrag_prose_stop"
	proseAnalyzerName   = "obsidianrag_prose_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(proseTokenizerName, proseTokenizerConstructor)
	_ = registry.RegisterTokenFilter(proseStopFilterName, proseStopFilterConstructor)
}

// BleveLexicalStore implements LexicalStore using bleve/v2's in-memory
// index for BM25 keyword search over chunk text (spec.md §4.4).
type BleveLexicalStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

type bleveDocument struct {
	Content string `json:"content"`
}

var _ LexicalStore = (*BleveLexicalStore)(nil)

// NewBleveLexicalStore creates an empty in-memory BM25 index.
func NewBleveLexicalStore() (*BleveLexicalStore, error) {
	idx, err := bleve.NewMemOnly(mustProseMapping())
	if err != nil {
		return nil, fmt.Errorf("store: create lexical index: %w", err)
	}
	return &BleveLexicalStore{index: idx}, nil
}

func proseIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(proseAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": proseTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			proseStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = proseAnalyzerName
	return indexMapping, nil
}

func mustProseMapping() *mapping.IndexMappingImpl {
	m, err := proseIndexMapping()
	if err != nil {
		panic(err) // analyzer registration is static; cannot fail at runtime
	}
	return m
}

// Rebuild replaces the index's entire contents with docs (spec.md
// §4.4, §4.6 step 6).
func (b *BleveLexicalStore) Rebuild(ctx context.Context, docs []Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("store: lexical store is closed")
	}

	fresh, err := bleve.NewMemOnly(mustProseMapping())
	if err != nil {
		return fmt.Errorf("store: rebuild lexical index: %w", err)
	}

	if len(docs) > 0 {
		batch := fresh.NewBatch()
		for _, doc := range docs {
			if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
				return fmt.Errorf("store: batch document %s: %w", doc.ID, err)
			}
		}
		if err := fresh.Batch(batch); err != nil {
			return fmt.Errorf("store: execute rebuild batch: %w", err)
		}
	}

	_ = b.index.Close()
	b.index = fresh
	return nil
}

// Index incrementally adds or replaces docs (spec.md §4.4
// "incrementally kept in sync").
func (b *BleveLexicalStore) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("store: lexical store is closed")
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return fmt.Errorf("store: index document %s: %w", doc.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Delete removes documents by ID.
func (b *BleveLexicalStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("store: lexical store is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Query returns the top `limit` BM25 matches for text (spec.md §4.7).
func (b *BleveLexicalStore) Query(ctx context.Context, text string, limit int) ([]BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("store: lexical store is closed")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit
	req.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("store: lexical search: %w", err)
	}

	results := make([]BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		terms := make(map[string]struct{})
		for field, locations := range hit.Locations {
			if field != "content" {
				continue
			}
			for term := range locations {
				terms[term] = struct{}{}
			}
		}
		matched := make([]string, 0, len(terms))
		for term := range terms {
			matched = append(matched, term)
		}

		results = append(results, BM25Result{DocID: hit.ID, Score: hit.Score, MatchedTerms: matched})
	}

	return results, nil
}

// Stats reports index size.
func (b *BleveLexicalStore) Stats() IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return IndexStats{}
	}
	count, _ := b.index.DocCount()
	return IndexStats{DocumentCount: int(count)}
}

// Close releases the underlying bleve index.
func (b *BleveLexicalStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func proseTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &proseTokenizer{}, nil
}

type proseTokenizer struct{}

func (t *proseTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeProse(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func proseStopFilterConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	return &proseStopFilter{stopWords: BuildStopWordMap(DefaultProseStopWords)}, nil
}

type proseStopFilter struct {
	stopWords map[string]struct{}
}

func (f *proseStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
