// Package textsplitter splits text into bounded chunks at deterministic
// boundaries. The same input always yields the same chunks, which keeps
// chunk-level content hashes stable across re-indexing runs.
package textsplitter

import (
	"strings"
	"unicode"
)

// Config controls chunk sizing. Sizes are in runes, not bytes.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultConfig matches the default embedding model input budget.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    2000,
		ChunkOverlap: 0,
	}
}

// separators in preference order: paragraph, line, sentence, word.
var separators = []string{"\n\n", "\n", ". ", " "}

// Split breaks text into chunks no longer than cfg.ChunkSize, preferring
// paragraph and sentence boundaries over mid-word cuts. Returns nil for
// empty or whitespace-only input.
func Split(text string, cfg Config) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	return split(text, separators, cfg)
}

func split(text string, seps []string, cfg Config) []string {
	if runeLen(text) <= cfg.ChunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}
	if len(seps) == 0 {
		return splitHard(text, cfg)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return split(text, seps[1:], cfg)
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		tail := overlapTail(current.String(), cfg.ChunkOverlap)
		current.Reset()
		current.WriteString(tail)
		currentLen = runeLen(tail)
	}

	for i, part := range parts {
		piece := part
		if i < len(parts)-1 {
			piece += sep
		}
		pieceLen := runeLen(piece)

		if currentLen > 0 && currentLen+pieceLen > cfg.ChunkSize {
			flush()
		}
		current.WriteString(piece)
		currentLen += pieceLen
	}
	if currentLen > 0 {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}

	// Oversized pieces (no usable separator at this level) recurse down.
	var out []string
	for _, c := range chunks {
		if runeLen(c) > cfg.ChunkSize {
			out = append(out, split(c, seps[1:], cfg)...)
		} else {
			out = append(out, c)
		}
	}
	return out
}

// splitHard cuts at exact rune offsets, backing up to the nearest space
// when one exists inside the window.
func splitHard(text string, cfg Config) []string {
	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		end := start + cfg.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			cut := end
			for cut > start && !unicode.IsSpace(runes[cut]) {
				cut--
			}
			if cut > start {
				end = cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == start {
			end = start + cfg.ChunkSize
		}
		start = end
	}
	return chunks
}

// overlapTail returns the trailing overlap carried into the next chunk,
// aligned to a word boundary.
func overlapTail(text string, size int) string {
	if size <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= size {
		return text
	}
	start := len(runes) - size
	for start < len(runes) && !unicode.IsSpace(runes[start]) {
		start++
	}
	for start < len(runes) && unicode.IsSpace(runes[start]) {
		start++
	}
	if start >= len(runes) {
		return ""
	}
	return string(runes[start:])
}

func runeLen(s string) int {
	return len([]rune(s))
}
