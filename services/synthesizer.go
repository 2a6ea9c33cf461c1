package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/models"
)

// NoContradictionsFound is the exact phrase the report uses when the
// analysis produced zero contradictions. Downstream consumers match on it.
const NoContradictionsFound = "No contradictions found"

// Synthesizer runs the final pipeline stage: derive trends and gaps from
// the corpus, write the narrative report and emit the output artifacts.
type Synthesizer struct {
	config   *config.Config
	llm      TextGenerator
	embedder Embedder
}

func NewSynthesizer(cfg *config.Config, llm TextGenerator, embedder Embedder) *Synthesizer {
	return &Synthesizer{config: cfg, llm: llm, embedder: embedder}
}

func (s *Synthesizer) Run(ctx context.Context, job *models.Job, index *VectorIndex, docs []models.Document) (*models.Report, error) {
	analysis := job.Analysis
	if analysis == nil {
		analysis = &models.Analysis{}
	}
	comparison := job.Comparison
	if comparison == nil {
		comparison = &models.Comparison{}
	}

	trends := s.thematicBullets(ctx, index, job.Topic,
		"emerging trends and future directions",
		"List the research trends visible in these excerpts.")
	gaps := s.thematicBullets(ctx, index, job.Topic,
		"limitations, open problems and unanswered questions",
		"List the research gaps and open problems visible in these excerpts.")

	report := &models.Report{
		JobID:          job.ID,
		Topic:          job.Topic,
		GeneratedAt:    time.Now(),
		Findings:       analysis.KeyFindings,
		Contradictions: analysis.Contradictions,
		Complementary:  analysis.Complementary,
		Comparison:     *comparison,
		Trends:         trends,
		Gaps:           gaps,
		References:     referenceList(docs),
		PapersAnalyzed: job.PapersAnalyzed,
		PapersFailed:   job.PapersFailed,
	}
	report.ExecutiveSummary = s.executiveSummary(ctx, report)
	report.Narrative = RenderMarkdown(report)

	if err := s.writeArtifacts(report); err != nil {
		return nil, err
	}

	logger.Info("Synthesis stage complete", "job_id", job.ID,
		"trends", len(trends), "gaps", len(gaps))
	return report, nil
}

// thematicBullets retrieves chunks for a theme and asks the model for
// cited bullet points. Bullets without a citation are dropped rather than
// repaired; an uncited claim is worse than a missing one.
func (s *Synthesizer) thematicBullets(ctx context.Context, index *VectorIndex, topic, query, instruction string) []string {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("Theme query embedding failed", "query", query, "error", err)
		return nil
	}

	hits := index.Search(vec, 6)
	if len(hits) == 0 {
		return nil
	}

	var excerpts strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&excerpts, "%s %s\n\n", hit.Chunk.Citation, hit.Chunk.Text)
	}

	prompt := fmt.Sprintf(`You are synthesizing research excerpts on %q. Each excerpt starts with
its citation in square brackets.

%s
%s Write at most 4 bullet points. Every bullet MUST end with the citation
of the excerpt supporting it, copied verbatim including the brackets.
Report only what the excerpts say. Reply with the bullets only, one per
line, starting with "- ".`, topic, excerpts.String(), instruction)

	resp, err := s.llm.GenerateText(ctx, prompt)
	if err != nil {
		logger.Warn("Theme synthesis call failed", "query", query, "error", err)
		return nil
	}

	var bullets []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" {
			continue
		}
		// Keep only bullets that carry a citation.
		if !strings.Contains(line, "[") || !strings.HasSuffix(line, "]") {
			continue
		}
		bullets = append(bullets, line)
	}
	return bullets
}

func (s *Synthesizer) executiveSummary(ctx context.Context, report *models.Report) string {
	prompt := fmt.Sprintf(`Write a 3-4 sentence executive summary of a research review on %q.
Papers analyzed: %d. Key findings: %d. Contradictions found: %d.
Complementary findings: %d. Metrics compared: %d.

Top findings:
%s

Summarize what the literature agrees on and whether any contradictions
were found. State facts only; no recommendations.`,
		report.Topic, report.PapersAnalyzed, len(report.Findings),
		len(report.Contradictions), len(report.Complementary),
		len(report.Comparison.MetricNames), findingLines(report.Findings, 5))

	resp, err := s.llm.GenerateText(ctx, prompt)
	if err != nil || strings.TrimSpace(resp) == "" {
		if err != nil {
			logger.Warn("Executive summary call failed, using fallback", "error", err)
		}
		return fmt.Sprintf("Analyzed %d papers on %q, extracting %d key findings, %d contradictions and %d complementary findings.",
			report.PapersAnalyzed, report.Topic, len(report.Findings),
			len(report.Contradictions), len(report.Complementary))
	}
	return strings.TrimSpace(resp)
}

// RenderMarkdown renders the human-readable report. Section order is fixed;
// an analysis with zero contradictions states that in so many words.
func RenderMarkdown(report *models.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Report: %s\n\n", report.Topic)
	fmt.Fprintf(&b, "Generated %s. Papers analyzed: %d", report.GeneratedAt.Format("2006-01-02 15:04 MST"), report.PapersAnalyzed)
	if report.PapersFailed > 0 {
		fmt.Fprintf(&b, " (%d excluded after extraction failures)", report.PapersFailed)
	}
	b.WriteString(".\n\n")

	b.WriteString("## Executive Summary\n\n")
	b.WriteString(report.ExecutiveSummary)
	b.WriteString("\n\n")

	b.WriteString("## Key Findings\n\n")
	if len(report.Findings) == 0 {
		b.WriteString("No key findings were extracted.\n")
	}
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "- %s %s\n", f.Statement, f.Citation)
	}
	b.WriteString("\n")

	b.WriteString("## Contradictions\n\n")
	if len(report.Contradictions) == 0 {
		b.WriteString(NoContradictionsFound + ".\n")
	}
	for _, v := range report.Contradictions {
		fmt.Fprintf(&b, "- %s vs %s: %s\n", v.CitationA, v.CitationB, v.Justification)
		fmt.Fprintf(&b, "  - A: %q\n", v.ExcerptA)
		fmt.Fprintf(&b, "  - B: %q\n", v.ExcerptB)
	}
	b.WriteString("\n")

	b.WriteString("## Complementary Findings\n\n")
	if len(report.Complementary) == 0 {
		b.WriteString("No complementary findings were identified.\n")
	}
	for _, v := range report.Complementary {
		fmt.Fprintf(&b, "- %s and %s: %s\n", v.CitationA, v.CitationB, v.Justification)
	}
	b.WriteString("\n")

	b.WriteString("## Metric Comparison\n\n")
	renderTable(&b, report.Comparison.Table)
	if report.Comparison.Summary != "" {
		b.WriteString(report.Comparison.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("## Trends\n\n")
	if len(report.Trends) == 0 {
		b.WriteString("No clear trends emerged from the analyzed papers.\n")
	}
	for _, t := range report.Trends {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	b.WriteString("\n")

	b.WriteString("## Research Gaps\n\n")
	if len(report.Gaps) == 0 {
		b.WriteString("No research gaps were identified.\n")
	}
	for _, g := range report.Gaps {
		fmt.Fprintf(&b, "- %s\n", g)
	}
	b.WriteString("\n")

	b.WriteString("## References\n\n")
	for _, ref := range report.References {
		fmt.Fprintf(&b, "- %s\n", ref)
	}

	return b.String()
}

func renderTable(b *strings.Builder, table models.MetricTable) {
	if len(table.Rows) == 0 {
		b.WriteString("No comparable metrics were reported.\n\n")
		return
	}

	fmt.Fprintf(b, "| Metric | %s |\n", strings.Join(table.Citations, " | "))
	b.WriteString("|---")
	for range table.Documents {
		b.WriteString("|---")
	}
	b.WriteString("|\n")

	for _, row := range table.Rows {
		fmt.Fprintf(b, "| %s ", row.Metric)
		for _, docID := range table.Documents {
			fmt.Fprintf(b, "| %s ", row.Cells[docID].Display())
		}
		b.WriteString("|\n")
	}
	b.WriteString("\n")
}

// writeArtifacts emits report.md, insights.json and metrics.xlsx into the
// job's output directory.
func (s *Synthesizer) writeArtifacts(report *models.Report) error {
	outDir := s.config.JobOutputDir(report.JobID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(outDir, "report.md"), []byte(report.Narrative), 0o644); err != nil {
		return fmt.Errorf("writing report.md: %w", err)
	}

	insights, err := json.MarshalIndent(models.BuildInsights(report), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding insights: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "insights.json"), insights, 0o644); err != nil {
		return fmt.Errorf("writing insights.json: %w", err)
	}

	if err := writeMetricsWorkbook(filepath.Join(outDir, "metrics.xlsx"), report); err != nil {
		return fmt.Errorf("writing metrics.xlsx: %w", err)
	}
	return nil
}

// writeMetricsWorkbook renders the metric table as a spreadsheet, one
// column per paper.
func writeMetricsWorkbook(path string, report *models.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Metrics"
	f.SetSheetName("Sheet1", sheet)

	headers := append([]string{"Metric"}, report.Comparison.Table.Citations...)
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}

	for rowIdx, row := range report.Comparison.Table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, row.Metric); err != nil {
			return err
		}
		for colIdx, docID := range report.Comparison.Table.Documents {
			cell, err := excelize.CoordinatesToCellName(colIdx+2, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, row.Cells[docID].Display()); err != nil {
				return err
			}
		}
	}

	return f.SaveAs(path)
}

func referenceList(docs []models.Document) []string {
	refs := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc.ExtractionStatus != models.ExtractionSuccess {
			continue
		}
		refs = append(refs, fmt.Sprintf("%s %s", doc.Citation, doc.Title))
	}
	sort.Strings(refs)
	return refs
}

func findingLines(findings []models.Finding, max int) string {
	var b strings.Builder
	for i, f := range findings {
		if i >= max {
			break
		}
		fmt.Fprintf(&b, "- %s %s\n", f.Statement, f.Citation)
	}
	if b.Len() == 0 {
		return "- none extracted\n"
	}
	return b.String()
}
