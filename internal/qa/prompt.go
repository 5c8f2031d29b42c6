package qa

import (
	"fmt"
	"strings"
)

// promptTemplate is the fixed two-slot template named by spec.md
// §4.10: formatted context, then the question. The instruction to
// answer "I could not find this in your notes" covers the
// empty-context edge case explicitly.
const promptTemplate = `You are answering questions using only the notes provided below as context. If the context is insufficient to answer, say "I could not find this in your notes."

%s

Question: %s
Answer:`

// contextDoc is the minimal shape the prompt builder needs from a
// Retrieval Candidate, kept separate from retrieve.Candidate so this
// package doesn't need to import retrieve just to format text.
type contextDoc struct {
	SourcePath string
	Text       string
}

// formatContext renders each candidate as "--- From: <path> ---\n<text>"
// joined by blank lines (spec.md §4.10).
func formatContext(docs []contextDoc) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = "--- From: " + d.SourcePath + " ---\n" + d.Text
	}
	return strings.Join(parts, "\n\n")
}

func buildPrompt(docs []contextDoc, question string) string {
	return fmt.Sprintf(promptTemplate, formatContext(docs), question)
}
