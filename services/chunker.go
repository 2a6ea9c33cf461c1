package services

import (
	"strings"

	"research-insight-platform/models"
)

// Separators tried coarsest-first: paragraph, line, sentence, word, rune.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits extracted document text into overlapping segments sized
// for the model's context window. Splitting is recursive: the coarsest
// separator that yields segments at or below the target size wins.
type Chunker struct {
	maxSize int
	overlap int
	minSize int
}

func NewChunker(maxSize, overlap, minSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = 700
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = maxSize / 7
	}
	if minSize < 0 || minSize >= maxSize {
		minSize = 0
	}
	return &Chunker{maxSize: maxSize, overlap: overlap, minSize: minSize}
}

// Split chunks a document's text. Every chunk carries the provenance
// triple (document id, citation, position); empty text yields no chunks.
// Fragments below the minimum size are dropped unless they are the whole
// document.
func (c *Chunker) Split(doc models.Document, text string) []models.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	pieces := c.splitText(text, chunkSeparators)

	chunks := make([]models.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if len(piece) < c.minSize && len(pieces) > 1 {
			continue
		}
		chunks = append(chunks, models.Chunk{
			DocumentID: doc.ArxivID,
			Citation:   doc.Citation,
			Position:   len(chunks),
			Text:       piece,
		})
	}
	return chunks
}

func (c *Chunker) splitText(text string, seps []string) []string {
	if len(text) <= c.maxSize {
		return []string{text}
	}

	sep := seps[0]
	if sep == "" {
		// Last resort: fixed-size rune windows with overlap.
		return c.splitRunes(text)
	}

	parts := strings.Split(text, sep)

	var final []string
	var good []string
	for _, part := range parts {
		if len(part) <= c.maxSize {
			good = append(good, part)
			continue
		}
		// Oversized part: flush what we have, then recurse with the next
		// finer separator.
		if len(good) > 0 {
			final = append(final, c.mergeSplits(good, sep)...)
			good = nil
		}
		final = append(final, c.splitText(part, seps[1:])...)
	}
	if len(good) > 0 {
		final = append(final, c.mergeSplits(good, sep)...)
	}
	return final
}

// mergeSplits packs small splits into chunks up to maxSize, carrying the
// trailing splits (up to the overlap budget) into the next chunk.
func (c *Chunker) mergeSplits(splits []string, sep string) []string {
	sepLen := len(sep)

	var chunks []string
	var current []string
	currentLen := 0

	for _, s := range splits {
		addLen := len(s)
		if len(current) > 0 {
			addLen += sepLen
		}

		if currentLen+addLen > c.maxSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, sep))

			// Drop leading splits until the carried tail fits the overlap
			// budget and leaves room for the incoming split.
			for len(current) > 0 &&
				(currentLen > c.overlap || currentLen+len(s)+sepLen > c.maxSize) {
				currentLen -= len(current[0])
				if len(current) > 1 {
					currentLen -= sepLen
				}
				current = current[1:]
			}
		}

		if len(current) > 0 {
			currentLen += sepLen
		}
		current = append(current, s)
		currentLen += len(s)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, sep))
	}
	return chunks
}

func (c *Chunker) splitRunes(text string) []string {
	runes := []rune(text)
	stride := c.maxSize - c.overlap
	if stride <= 0 {
		stride = c.maxSize
	}

	var out []string
	for start := 0; start < len(runes); start += stride {
		end := start + c.maxSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
