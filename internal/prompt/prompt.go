// Package prompt builds the text sent to the generation backend.
package prompt

import "strings"

const (
	contextSeparator   = "\n---\n"
	closingInstruction = "Answer concisely. If unsure, say you are unsure."
)

// Compose assembles the prompt: optional custom prefix, retrieved context,
// web search hints, the question and a closing instruction. Empty optional
// blocks are left out entirely.
func Compose(question string, context, webSnippets []string, customPrefix string) string {
	parts := make([]string, 0, 5)
	if strings.TrimSpace(customPrefix) != "" {
		parts = append(parts, customPrefix)
	}
	if len(context) > 0 {
		parts = append(parts, "Context:\n"+strings.Join(context, contextSeparator))
	}
	if len(webSnippets) > 0 {
		parts = append(parts, "Web search hints:\n"+strings.Join(webSnippets, "\n"))
	}
	parts = append(parts, "Question: "+question, closingInstruction)
	return strings.Join(parts, "\n\n")
}
