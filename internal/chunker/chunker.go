// Package chunker splits extracted document text into fixed-size chunks
// suitable for embedding and vector storage.
package chunker

import "unicode/utf8"

// Chunk splits text into consecutive, non-overlapping slices of size runes
// each, preserving order. The final slice may be shorter. Chunks are sliced
// from the original string on rune boundaries, so multi-byte UTF-8 sequences
// stay intact, bytes that are not valid UTF-8 pass through unchanged
// (counted one rune per byte), and concatenating the result reproduces text
// exactly.
//
// Returns nil for empty text. Panics if size is not positive, since a
// non-positive chunk size is a configuration bug, not a runtime condition.
func Chunk(text string, size int) []string {
	if size <= 0 {
		panic("chunker: chunk size must be positive")
	}
	if text == "" {
		return nil
	}

	runeCount := utf8.RuneCountInString(text)
	chunks := make([]string, 0, (runeCount+size-1)/size)

	start := 0
	count := 0
	for i := 0; i < len(text); {
		_, width := utf8.DecodeRuneInString(text[i:])
		i += width
		count++
		if count == size {
			chunks = append(chunks, text[start:i])
			start = i
			count = 0
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
