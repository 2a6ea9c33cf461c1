package services

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"time"

	"research-insight-platform/models"
)

// fakeLLM answers prompts through a caller-supplied function.
type fakeLLM struct {
	reply func(prompt string) (string, error)
	calls []string
}

func (f *fakeLLM) GenerateText(_ context.Context, prompt string) (string, error) {
	f.calls = append(f.calls, prompt)
	return f.reply(prompt)
}

// scriptedLLM routes prompts to canned answers by recognizable markers in
// the agents' prompt templates.
func scriptedLLM() *fakeLLM {
	return &fakeLLM{reply: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Classify the relationship"):
			return "CATEGORY: COMPLEMENTARY\nJUSTIFICATION: Both papers study electrolytes with compatible results.", nil
		case strings.Contains(prompt, "List every concrete metric"):
			return "Energy Density: 450 Wh/kg\nCycle Life: 1200 cycles", nil
		case strings.Contains(prompt, "bullet points"):
			return "- Solid electrolytes are gaining adoption [Nguyen et al., 2024, arXiv:2401.00001]", nil
		case strings.Contains(prompt, "executive summary"):
			return "The literature broadly agrees on electrolyte performance.", nil
		case strings.Contains(prompt, "comparison of these reported metrics"):
			return "Reported energy densities are consistent across papers.", nil
		default:
			return "The paper reports a measurable improvement in ionic conductivity.", nil
		}
	}}
}

// fakeEmbedder returns deterministic unit-free vectors derived from the
// text, so similar strings hash apart but identical strings collide.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	h := fnv.New32a()
	for i := range vec {
		h.Write([]byte(text))
		vec[i] = float32(h.Sum32()%1000) / 1000
	}
	return vec, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// fakeSource serves a fixed paper list and writes dummy PDF files.
type fakeSource struct {
	papers []PaperMeta
}

func (f *fakeSource) Search(_ context.Context, _ string, maxResults int) ([]PaperMeta, error) {
	if maxResults > len(f.papers) {
		maxResults = len(f.papers)
	}
	return f.papers[:maxResults], nil
}

func (f *fakeSource) DownloadPDF(_ context.Context, _, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("%PDF-1.4 fake"), 0o644)
}

// fakeExtractor returns per-path canned text without touching real PDFs.
type fakeExtractor struct {
	text string
}

func (f *fakeExtractor) ExtractText(_ context.Context, _ string) (*ExtractionResult, error) {
	return &ExtractionResult{
		Text:           f.text,
		Pages:          1,
		Method:         "fake",
		QualityScore:   1,
		ProcessingTime: time.Millisecond,
	}, nil
}

func twoTestPapers() []PaperMeta {
	published := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	return []PaperMeta{
		{
			ArxivID:   "2401.00001",
			Title:     "Solid State Electrolytes for Lithium Batteries",
			Authors:   []string{"An Nguyen", "Bo Chen"},
			Published: published,
			PDFURL:    "http://arxiv.org/pdf/2401.00001",
		},
		{
			ArxivID:   "2401.00002",
			Title:     "Polymer Electrolyte Cycling Behavior",
			Authors:   []string{"Dana Ortiz"},
			Published: published,
			PDFURL:    "http://arxiv.org/pdf/2401.00002",
		},
	}
}

func paperText() string {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The measured ionic conductivity exceeded expectations across all test cells, ")
		b.WriteString("and cycling stability remained above ninety percent after one thousand cycles. ")
		b.WriteString("These results indicate the electrolyte composition is viable at scale.\n\n")
	}
	return b.String()
}

func successfulDocs() []models.Document {
	return []models.Document{
		{
			JobID:            "job-1",
			ArxivID:          "2401.00001",
			Citation:         "[Nguyen et al., 2024, arXiv:2401.00001]",
			ExtractionStatus: models.ExtractionSuccess,
		},
		{
			JobID:            "job-1",
			ArxivID:          "2401.00002",
			Citation:         "[Ortiz, 2024, arXiv:2401.00002]",
			ExtractionStatus: models.ExtractionSuccess,
		},
	}
}
