// Package errcat provides the error categories surfaced across process
// boundaries (SSE error events, HTTP status codes, log fields) and the
// retry policy shared by components that call out to the embedder and
// the generative model host.
package errcat

// Category classifies a terminal failure the way the client is told
// about it, matching the error table in the specification.
type Category string

const (
	// VaultMissing indicates the configured vault path does not exist
	// or is not a directory. Server startup aborts.
	VaultMissing Category = "vault_missing"

	// EmbedderUnavailable indicates an embedding call failed after
	// exhausting retries.
	EmbedderUnavailable Category = "embedder_unavailable"

	// LLMUnavailable indicates the generator endpoint refused the
	// connection or returned a non-2xx status before the first byte.
	LLMUnavailable Category = "llm_unavailable"

	// GenerationStreamBroken indicates the generator's stream
	// terminated abnormally after it had already begun.
	GenerationStreamBroken Category = "generation_stream_broken"

	// IndexingFileFailed indicates a single file could not be read,
	// chunked, or embedded during an indexing pass.
	IndexingFileFailed Category = "indexing_file_failed"

	// MalformedRequest indicates a bad request body (invalid JSON,
	// empty question).
	MalformedRequest Category = "malformed_request"

	// ClientCancelled indicates the client disconnected; no event is
	// emitted for this category since the connection is already gone.
	ClientCancelled Category = "client_cancelled"
)

// Error wraps an underlying error with a Category, so handlers can
// translate it into an SSE `error` event or an HTTP status without
// re-deriving the category from string matching.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a categorized error.
func New(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Err: cause}
}

// HTTPStatus maps a category to the status code the spec's HTTP
// surface uses for it.
func (c Category) HTTPStatus() int {
	switch c {
	case LLMUnavailable:
		return 503
	case MalformedRequest:
		return 400
	default:
		return 500
	}
}
