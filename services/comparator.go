package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/models"
)

const noMetricsSentinel = "NO_METRICS"

// metricQuery retrieves the chunks most likely to carry quantitative
// results for one document.
const metricQuery = "reported performance metrics, measurements and quantitative results"

// metricSynonyms folds common phrasing variants onto one canonical name so
// papers land in the same table row. Keys and values are lowercase.
var metricSynonyms = map[string]string{
	"specific energy":         "energy density",
	"gravimetric energy":      "energy density",
	"cycling stability":       "cycle life",
	"cycle stability":         "cycle life",
	"capacity retention":      "cycle life",
	"charge rate":             "c-rate",
	"charging rate":           "c-rate",
	"classification accuracy": "accuracy",
	"top-1 accuracy":          "accuracy",
	"inference speed":         "inference time",
	"inference latency":       "inference time",
	"model size":              "parameter count",
	"number of parameters":    "parameter count",
}

// metricLine matches "Name: value unit" with the unit optional. The value
// is kept as text; papers report ranges, approximations and percentages.
var metricLine = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 ()/%.-]*?):\s*([~<>≈]?\s*-?\d[\d,.]*(?:\s*[-–]\s*\d[\d,.]*)?%?)\s*(.*)$`)

// Comparator runs the third pipeline stage: extract reported metrics per
// document and assemble the normalized cross-document table.
type Comparator struct {
	config   *config.Config
	llm      TextGenerator
	embedder Embedder
}

func NewComparator(cfg *config.Config, llm TextGenerator, embedder Embedder) *Comparator {
	return &Comparator{config: cfg, llm: llm, embedder: embedder}
}

func (c *Comparator) Run(ctx context.Context, job *models.Job, index *VectorIndex, docs []models.Document) (*models.Comparison, error) {
	usable := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ExtractionStatus == models.ExtractionSuccess {
			usable = append(usable, doc)
		}
	}

	records, err := c.extractMetrics(ctx, index, usable)
	if err != nil {
		return nil, err
	}

	table := BuildMetricTable(usable, records)

	names := make([]string, 0, len(table.Rows))
	for _, row := range table.Rows {
		names = append(names, row.Metric)
	}

	summary := c.summarize(ctx, job.Topic, table)

	logger.Info("Comparison stage complete", "job_id", job.ID,
		"documents", len(usable), "metrics", len(names))

	return &models.Comparison{
		Table:       table,
		MetricNames: names,
		Summary:     summary,
	}, nil
}

// extractMetrics pulls quantitative results per document. A document with
// no extractable metrics is fine; its column just reads "not reported".
func (c *Comparator) extractMetrics(ctx context.Context, index *VectorIndex, docs []models.Document) ([]models.MetricRecord, error) {
	queryVec, err := c.embedder.Embed(ctx, metricQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding metric query: %w", err)
	}

	perDoc := make(map[string][]models.Chunk)
	for _, hit := range index.Search(queryVec, index.Len()) {
		chunk := hit.Chunk
		if len(perDoc[chunk.DocumentID]) >= chunksPerQuery {
			continue
		}
		perDoc[chunk.DocumentID] = append(perDoc[chunk.DocumentID], chunk)
	}

	var records []models.MetricRecord
	for _, doc := range docs {
		chunks := perDoc[doc.ArxivID]
		if len(chunks) == 0 {
			continue
		}

		records = append(records, c.extractDocumentMetrics(ctx, doc, chunks)...)
	}
	return records, nil
}

// extractDocumentMetrics runs the line protocol against one document. A
// reply that matches no lines and is not the sentinel gets one stricter
// retry; a second miss means the document reports nothing usable.
func (c *Comparator) extractDocumentMetrics(ctx context.Context, doc models.Document, chunks []models.Chunk) []models.MetricRecord {
	prompt := metricPrompt(doc, chunks)

	for attempt := 0; attempt <= formatRetries(c.config); attempt++ {
		resp, err := c.llm.GenerateText(ctx, prompt)
		if err != nil {
			logger.Warn("Metric extraction call failed", "arxiv_id", doc.ArxivID, "error", err)
			return nil
		}

		records := parseMetricResponse(resp, doc)
		if len(records) > 0 || strings.EqualFold(strings.TrimSpace(resp), noMetricsSentinel) {
			return records
		}

		logger.Warn("Metric extraction output did not match the line format, retrying",
			"arxiv_id", doc.ArxivID, "attempt", attempt+1)
		prompt += "\n\nYour previous reply did not follow the required format. Answer with " +
			"only `<metric name>: <value> <unit>` lines or exactly " + noMetricsSentinel + "."
	}
	return nil
}

func metricPrompt(doc models.Document, chunks []models.Chunk) string {
	return fmt.Sprintf(`You are extracting quantitative results from excerpts of the paper %s.

Excerpts:
%s

List every concrete metric the excerpts report, one per line, in exactly
this format:
<metric name>: <value> <unit>

Use the unit the paper uses; omit the unit if there is none. Report only
values stated in the excerpts. If the excerpts report no quantitative
metrics, reply with exactly %s.`, doc.Citation, joinChunks(chunks), noMetricsSentinel)
}

// parseMetricResponse reads "Name: value unit" lines out of a model reply,
// skipping anything that does not match.
func parseMetricResponse(resp string, doc models.Document) []models.MetricRecord {
	resp = strings.TrimSpace(resp)
	if resp == "" || strings.EqualFold(resp, noMetricsSentinel) {
		return nil
	}

	var records []models.MetricRecord
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" || strings.EqualFold(line, noMetricsSentinel) {
			continue
		}

		m := metricLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		rawName := strings.TrimSpace(m[1])
		records = append(records, models.MetricRecord{
			Name:       normalizeMetricName(rawName),
			RawName:    rawName,
			Value:      strings.TrimSpace(m[2]),
			Unit:       strings.TrimSpace(m[3]),
			DocumentID: doc.ArxivID,
			Citation:   doc.Citation,
		})
	}
	return records
}

// normalizeMetricName lowercases, collapses whitespace and folds known
// synonyms onto a canonical name. Unknown names pass through unchanged so
// genuinely distinct metrics stay separate rows.
func normalizeMetricName(name string) string {
	name = strings.ToLower(strings.Join(strings.Fields(name), " "))
	if canonical, ok := metricSynonyms[name]; ok {
		return canonical
	}
	return name
}

// BuildMetricTable assembles the cross-document table. Columns are sorted
// by arxiv id and rows by metric name, so the same corpus always yields the
// same table regardless of processing order. Cells with no record are
// explicit "not reported" placeholders.
func BuildMetricTable(docs []models.Document, records []models.MetricRecord) models.MetricTable {
	sorted := append([]models.Document{}, docs...)
	sort.Slice(sorted, func(a, b int) bool {
		return sorted[a].ArxivID < sorted[b].ArxivID
	})

	table := models.MetricTable{
		Documents: make([]string, len(sorted)),
		Citations: make([]string, len(sorted)),
	}
	for i, doc := range sorted {
		table.Documents[i] = doc.ArxivID
		table.Citations[i] = doc.Citation
	}

	byMetric := make(map[string]map[string]models.MetricCell)
	for _, rec := range records {
		cells, ok := byMetric[rec.Name]
		if !ok {
			cells = make(map[string]models.MetricCell)
			byMetric[rec.Name] = cells
		}
		// First value per (metric, document) wins.
		if _, exists := cells[rec.DocumentID]; exists {
			continue
		}
		cells[rec.DocumentID] = models.MetricCell{
			Value:    rec.Value,
			Unit:     rec.Unit,
			Citation: rec.Citation,
			Reported: true,
		}
	}

	names := make([]string, 0, len(byMetric))
	for name := range byMetric {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		row := models.MetricRow{
			Metric: name,
			Cells:  make(map[string]models.MetricCell, len(table.Documents)),
		}
		for _, docID := range table.Documents {
			if cell, ok := byMetric[name][docID]; ok {
				row.Cells[docID] = cell
			} else {
				row.Cells[docID] = models.MetricCell{Value: models.NotReported}
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// summarize asks the model for a short comparison narrative, falling back
// to a deterministic summary when the call fails.
func (c *Comparator) summarize(ctx context.Context, topic string, table models.MetricTable) string {
	if len(table.Rows) == 0 {
		return "No comparable quantitative metrics were reported across the analyzed papers."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Metric comparison across %d papers on %q:\n", len(table.Documents), topic)
	for _, row := range table.Rows {
		fmt.Fprintf(&b, "%s:", row.Metric)
		for i, docID := range table.Documents {
			fmt.Fprintf(&b, " %s=%s", table.Citations[i], row.Cells[docID].Display())
		}
		b.WriteString("\n")
	}

	prompt := fmt.Sprintf(`%s
Write a 2-3 sentence comparison of these reported metrics. Mention only
values present in the table above; say "not reported" where a paper has no
value. No speculation.`, b.String())

	resp, err := c.llm.GenerateText(ctx, prompt)
	if err != nil || strings.TrimSpace(resp) == "" {
		if err != nil {
			logger.Warn("Comparison summary call failed, using fallback", "error", err)
		}
		return fallbackSummary(table)
	}
	return strings.TrimSpace(resp)
}

func fallbackSummary(table models.MetricTable) string {
	reported := 0
	for _, row := range table.Rows {
		for _, cell := range row.Cells {
			if cell.Reported {
				reported++
			}
		}
	}
	return fmt.Sprintf("%d metrics were extracted across %d papers (%d reported values); see the metrics table for details.",
		len(table.Rows), len(table.Documents), reported)
}
