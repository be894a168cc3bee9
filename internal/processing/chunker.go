// Package processing turns extracted text into chunks and embedding vectors.
package processing

import "strings"

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 80
)

// Chunk splits text into a sliding window of size runes, each window starting
// overlap runes before the previous one ended. Line breaks are flattened so
// chunks embed as prose.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	cleaned := []rune(strings.NewReplacer("\r", " ", "\n", " ").Replace(text))
	var out []string
	for start := 0; start < len(cleaned); start += step {
		end := start + size
		if end > len(cleaned) {
			end = len(cleaned)
		}
		if c := strings.TrimSpace(string(cleaned[start:end])); c != "" {
			out = append(out, c)
		}
		if end == len(cleaned) {
			break
		}
	}
	return out
}
