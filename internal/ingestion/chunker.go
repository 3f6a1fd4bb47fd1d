// Package ingestion implements the Ingestion Pipeline (component J, §4.11):
// chunking source text, extracting concepts/relationships/claims via the
// ModelRouter, and upserting them into the graph under a run_id.
package ingestion

import (
	"strings"
	"unicode"
)

const (
	defaultWindowSize = 1200
	defaultOverlap    = 150
	sentenceLookback  = 200
	whitespaceLookback = 100
)

// Chunk is one text window produced by Chunk, matching the shape
// "[{text, index, page_numbers?, page_range?}]" from §4.11 step 1.
type Chunk struct {
	Text        string
	Index       int
	PageNumbers []int
	PageRange   string
}

// PageRef optionally associates character offsets in the source text with
// page numbers, for callers that pre-computed page boundaries (§4.11: "a
// source_id, ..., (optional) pre-computed chunks with page references").
type PageRef struct {
	StartOffset int
	PageNumber  int
}

// Chunk implements §4.11 step 1: greedy windows of ~1200 chars with ~150
// char overlap, preferring to break at sentence-ending punctuation within
// the last 200 chars of the window, else at whitespace within the last 100
// chars, else at the hard window boundary.
func Chunk(text string, pageRefs []PageRef) []Chunk {
	return ChunkWithSize(text, pageRefs, defaultWindowSize, defaultOverlap)
}

// ChunkWithSize parameterizes window/overlap for tests and callers needing
// non-default sizing; production call sites should use Chunk.
func ChunkWithSize(text string, pageRefs []PageRef, windowSize, overlap int) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	index := 0
	for start < n {
		end := start + windowSize
		if end >= n {
			end = n
		} else {
			end = findBreakpoint(runes, start, end)
		}
		if end <= start {
			end = start + windowSize
			if end > n {
				end = n
			}
		}

		chunkText := strings.TrimSpace(string(runes[start:end]))
		if chunkText != "" {
			chunks = append(chunks, Chunk{
				Text:        chunkText,
				Index:       index,
				PageNumbers: pagesInRange(pageRefs, start, end),
			})
			index++
		}

		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// findBreakpoint looks for a sentence boundary within the last
// sentenceLookback runes of [start,end), else a whitespace boundary within
// the last whitespaceLookback runes, else returns end unchanged.
func findBreakpoint(runes []rune, start, end int) int {
	lookbackStart := end - sentenceLookback
	if lookbackStart < start {
		lookbackStart = start
	}
	for i := end - 1; i >= lookbackStart; i-- {
		if isSentenceEnd(runes[i]) {
			return i + 1
		}
	}

	wsLookbackStart := end - whitespaceLookback
	if wsLookbackStart < start {
		wsLookbackStart = start
	}
	for i := end - 1; i >= wsLookbackStart; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}

	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func pagesInRange(refs []PageRef, start, end int) []int {
	if len(refs) == 0 {
		return nil
	}
	var pages []int
	seen := make(map[int]bool)
	for _, ref := range refs {
		if ref.StartOffset >= start && ref.StartOffset < end && !seen[ref.PageNumber] {
			pages = append(pages, ref.PageNumber)
			seen[ref.PageNumber] = true
		}
	}
	return pages
}
