package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultChunkSize and DefaultChunkOverlap mirror spec.md §4.1's
// documented defaults.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 300
)

// wikiLinkPattern matches `[[target]]` and `[[target|display]]`.
var wikiLinkPattern = regexp.MustCompile(`\[\[([^\]|]+)(?:\|[^\]]*)?\]\]`)

// Options configures the Chunker's window size and overlap.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultOptions returns spec.md §4.1's documented defaults.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// Chunker splits Markdown documents into overlapping character
// windows, preferring to split on structural boundaries.
type Chunker struct {
	opts Options
}

// New constructs a Chunker. A zero Options value falls back to
// DefaultOptions.
func New(opts Options) *Chunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	return &Chunker{opts: opts}
}

// Chunk splits sourcePath's bytes into an ordered list of Chunks.
//
// Empty input produces zero chunks. Input shorter than one window
// produces exactly one chunk covering the whole file. There is no
// upper bound on the number of chunks produced for long input.
func (c *Chunker) Chunk(sourcePath string, content []byte) []*Chunk {
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	windows := c.split(text)
	chunks := make([]*Chunk, 0, len(windows))
	now := time.Now()

	for ordinal, window := range windows {
		chunks = append(chunks, &Chunk{
			ID:         deterministicID(sourcePath, ordinal, window),
			SourcePath: sourcePath,
			Ordinal:    ordinal,
			Content:    window,
			Links:      extractLinks(window),
			Metadata:   map[string]string{},
			CreatedAt:  now,
		})
	}

	return chunks
}

// split breaks text into overlapping windows of at most ChunkSize
// runes, each window's end preferring a paragraph break, then a
// sentence break, then any whitespace, before forcing a split
// mid-word.
func (c *Chunker) split(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n <= c.opts.ChunkSize {
		return []string{text}
	}

	var windows []string
	start := 0
	for start < n {
		end := start + c.opts.ChunkSize
		if end >= n {
			windows = append(windows, strings.TrimRight(string(runes[start:n]), "\n"))
			break
		}

		splitAt := findBoundary(runes, start, end)
		windows = append(windows, strings.TrimRight(string(runes[start:splitAt]), "\n"))

		next := splitAt - c.opts.ChunkOverlap
		if next <= start {
			next = splitAt
		}
		start = next
	}

	return windows
}

// findBoundary searches backward from `end` (exclusive) within
// [start, end] for the preferred split point: a paragraph break
// ("\n\n"), then a sentence break (". ", "! ", "? "), then any
// whitespace. If none is found within the window, `end` itself is
// returned (a mid-word split).
func findBoundary(runes []rune, start, end int) int {
	window := string(runes[start:end])
	// strings.LastIndex* report byte offsets; convert them to rune offsets.
	runeOffset := func(byteIdx int) int { return len([]rune(window[:byteIdx])) }

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return start + runeOffset(idx) + 2
	}

	lastSentence := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > lastSentence {
			lastSentence = idx + len(sep)
		}
	}
	if lastSentence > 0 {
		return start + runeOffset(lastSentence)
	}

	if idx := strings.LastIndexFunc(window, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n'
	}); idx > 0 {
		return start + runeOffset(idx) + 1
	}

	return end
}

// extractLinks returns the deduplicated, case-preserved wiki-link
// targets in text, in first-seen order.
func extractLinks(text string) []string {
	matches := wikiLinkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var links []string
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		links = append(links, target)
	}
	return links
}

// deterministicID hashes (relative source path, ordinal, chunk text)
// so that identical content produces identical IDs across runs
// (spec.md §4.1, §8 property 6).
func deterministicID(sourcePath string, ordinal int, content string) string {
	h := sha256.New()
	h.Write([]byte(sourcePath))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
