// Package logging provides structured, size-rotating file logging for
// the server. Logs are written to ~/.obsidianrag/logs/server.log as
// JSON via log/slog, with an optional stderr tee for interactive use.
package logging
