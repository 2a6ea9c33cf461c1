package services

import (
	"fmt"
	"strings"
	"testing"

	"research-insight-platform/models"
)

func testDoc() models.Document {
	return models.Document{
		ArxivID:  "2401.00001",
		Citation: "[Nguyen et al., 2024, arXiv:2401.00001]",
	}
}

func TestSplitEmptyTextYieldsNoChunks(t *testing.T) {
	c := NewChunker(700, 100, 50)

	for _, text := range []string{"", "   ", "\n\n\t"} {
		if chunks := c.Split(testDoc(), text); len(chunks) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", text, len(chunks))
		}
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker(700, 100, 50)

	chunks := c.Split(testDoc(), "A short abstract about solid state batteries.")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "A short abstract about solid state batteries." {
		t.Errorf("chunk text altered: %q", chunks[0].Text)
	}
}

func TestSplitRespectsMaxSize(t *testing.T) {
	c := NewChunker(700, 100, 50)

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "Sentence number %03d reports a measured capacity value. ", i)
	}

	chunks := c.Split(testDoc(), b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk.Text) > 700 {
			t.Errorf("chunk %d has %d chars, max 700", chunk.Position, len(chunk.Text))
		}
	}
}

func TestSplitPreservesProvenance(t *testing.T) {
	c := NewChunker(700, 100, 50)
	doc := testDoc()

	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "Paragraph %d describes the experimental setup in detail.\n\n", i)
	}

	chunks := c.Split(doc, b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.DocumentID != doc.ArxivID {
			t.Errorf("chunk %d document id = %q, want %q", i, chunk.DocumentID, doc.ArxivID)
		}
		if chunk.Citation != doc.Citation {
			t.Errorf("chunk %d citation = %q, want %q", i, chunk.Citation, doc.Citation)
		}
		if chunk.Position != i {
			t.Errorf("chunk %d position = %d", i, chunk.Position)
		}
	}
}

func TestSplitConsecutiveChunksOverlap(t *testing.T) {
	c := NewChunker(700, 100, 50)

	var b strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&b, "w%03d ", i)
	}

	chunks := c.Split(testDoc(), b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		firstWord := strings.Fields(chunks[i].Text)[0]
		if !strings.Contains(chunks[i-1].Text, firstWord) {
			t.Errorf("chunk %d does not overlap chunk %d: leading word %q missing from previous chunk",
				i, i-1, firstWord)
		}
	}
}

func TestSplitHandlesUnbrokenText(t *testing.T) {
	c := NewChunker(700, 100, 50)

	// No separators at all; falls through to rune windows.
	text := strings.Repeat("x", 3000)
	chunks := c.Split(testDoc(), text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk.Text) > 700 {
			t.Errorf("chunk %d has %d chars, max 700", chunk.Position, len(chunk.Text))
		}
	}
}

func TestSplitDropsSubMinimumFragments(t *testing.T) {
	c := NewChunker(40, 0, 15)

	chunks := c.Split(testDoc(), "This paragraph is long enough to keep.\n\nTiny.")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1: %+v", len(chunks), chunks)
	}
	if strings.Contains(chunks[0].Text, "Tiny") {
		t.Errorf("sub-minimum fragment survived: %q", chunks[0].Text)
	}
}

func TestSplitKeepsWholeShortDocument(t *testing.T) {
	c := NewChunker(700, 100, 50)

	chunks := c.Split(testDoc(), "Brief note.")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "Brief note." {
		t.Errorf("chunk text altered: %q", chunks[0].Text)
	}
}

func TestNewChunkerDefaults(t *testing.T) {
	c := NewChunker(0, -1, -1)
	if c.maxSize != 700 {
		t.Errorf("default maxSize = %d, want 700", c.maxSize)
	}
	if c.overlap <= 0 || c.overlap >= c.maxSize {
		t.Errorf("default overlap = %d out of range", c.overlap)
	}
	if c.minSize != 0 {
		t.Errorf("default minSize = %d, want 0", c.minSize)
	}
}
