package services

import (
	"context"
	"testing"

	"research-insight-platform/internal/config"
	"research-insight-platform/models"
)

func TestParseMetricResponse(t *testing.T) {
	doc := successfulDocs()[0]

	records := parseMetricResponse(`Energy Density: 450 Wh/kg
- Cycle Life: 1200 cycles
Accuracy: 95.2%
Some commentary line that should be ignored.
Coulombic Efficiency: 99.9 %`, doc)

	if len(records) != 4 {
		t.Fatalf("parsed %d records, want 4: %+v", len(records), records)
	}
	if records[0].Name != "energy density" || records[0].Value != "450" || records[0].Unit != "Wh/kg" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Value != "1200" || records[1].Unit != "cycles" {
		t.Errorf("second record = %+v", records[1])
	}
	if records[2].Value != "95.2%" {
		t.Errorf("percent value = %+v", records[2])
	}
	for _, rec := range records {
		if rec.DocumentID != doc.ArxivID || rec.Citation != doc.Citation {
			t.Errorf("provenance missing on %+v", rec)
		}
	}
}

func TestParseMetricResponseNoMetrics(t *testing.T) {
	doc := successfulDocs()[0]

	for _, resp := range []string{"NO_METRICS", "no_metrics", "", "  \n "} {
		if records := parseMetricResponse(resp, doc); len(records) != 0 {
			t.Errorf("parseMetricResponse(%q) = %d records, want 0", resp, len(records))
		}
	}
}

func TestNormalizeMetricName(t *testing.T) {
	cases := map[string]string{
		"Specific Energy":         "energy density",
		"cycling   stability":     "cycle life",
		"Capacity Retention":      "cycle life",
		"Top-1 Accuracy":          "accuracy",
		"Ionic Conductivity":      "ionic conductivity",
		"  Inference   Latency  ": "inference time",
	}
	for in, want := range cases {
		if got := normalizeMetricName(in); got != want {
			t.Errorf("normalizeMetricName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildMetricTableDeterministicOrder(t *testing.T) {
	docs := successfulDocs()
	records := []models.MetricRecord{
		{Name: "energy density", Value: "450", Unit: "Wh/kg", DocumentID: docs[1].ArxivID, Citation: docs[1].Citation},
		{Name: "cycle life", Value: "1200", Unit: "cycles", DocumentID: docs[0].ArxivID, Citation: docs[0].Citation},
	}

	table := BuildMetricTable(docs, records)

	reversed := []models.Document{docs[1], docs[0]}
	reversedRecords := []models.MetricRecord{records[1], records[0]}
	table2 := BuildMetricTable(reversed, reversedRecords)

	if len(table.Documents) != 2 || table.Documents[0] != "2401.00001" {
		t.Errorf("columns not sorted by arxiv id: %v", table.Documents)
	}
	if len(table.Rows) != 2 || table.Rows[0].Metric != "cycle life" {
		t.Errorf("rows not sorted by metric: %+v", table.Rows)
	}

	if len(table2.Documents) != len(table.Documents) {
		t.Fatal("tables differ in shape")
	}
	for i := range table.Documents {
		if table.Documents[i] != table2.Documents[i] {
			t.Errorf("column order depends on input order: %v vs %v", table.Documents, table2.Documents)
		}
	}
	for i := range table.Rows {
		if table.Rows[i].Metric != table2.Rows[i].Metric {
			t.Errorf("row order depends on input order")
		}
	}
}

func TestBuildMetricTableNotReportedCells(t *testing.T) {
	docs := successfulDocs()
	records := []models.MetricRecord{
		{Name: "energy density", Value: "450", Unit: "Wh/kg", DocumentID: docs[0].ArxivID, Citation: docs[0].Citation},
	}

	table := BuildMetricTable(docs, records)
	if len(table.Rows) != 1 {
		t.Fatalf("got %d rows", len(table.Rows))
	}

	reported := table.Rows[0].Cells[docs[0].ArxivID]
	if !reported.Reported || reported.Display() != "450 Wh/kg" {
		t.Errorf("reported cell = %+v", reported)
	}

	missing := table.Rows[0].Cells[docs[1].ArxivID]
	if missing.Reported {
		t.Error("missing cell marked reported")
	}
	if missing.Display() != models.NotReported {
		t.Errorf("missing cell displays %q, want %q", missing.Display(), models.NotReported)
	}
}

func TestExtractDocumentMetricsRetriesOnce(t *testing.T) {
	doc := successfulDocs()[0]
	chunks := []models.Chunk{{DocumentID: doc.ArxivID, Citation: doc.Citation, Text: "450 Wh/kg"}}

	llm := &fakeLLM{reply: nil}
	llm.reply = func(string) (string, error) {
		if len(llm.calls) == 1 {
			return "I could not find structured metrics but the paper seems strong.", nil
		}
		return "Energy Density: 450 Wh/kg", nil
	}

	c := NewComparator(&config.Config{}, llm, fakeEmbedder{})
	records := c.extractDocumentMetrics(context.Background(), doc, chunks)

	if len(llm.calls) != 2 {
		t.Fatalf("made %d calls, want 2 (one retry)", len(llm.calls))
	}
	if len(records) != 1 || records[0].Name != "energy density" {
		t.Errorf("records = %+v", records)
	}
}

func TestExtractDocumentMetricsSentinelStops(t *testing.T) {
	doc := successfulDocs()[0]
	chunks := []models.Chunk{{DocumentID: doc.ArxivID, Citation: doc.Citation, Text: "no numbers here"}}

	llm := &fakeLLM{reply: func(string) (string, error) { return "NO_METRICS", nil }}
	c := NewComparator(&config.Config{}, llm, fakeEmbedder{})

	if records := c.extractDocumentMetrics(context.Background(), doc, chunks); len(records) != 0 {
		t.Errorf("sentinel reply produced records: %+v", records)
	}
	if len(llm.calls) != 1 {
		t.Errorf("sentinel reply retried: %d calls", len(llm.calls))
	}
}

func TestComparatorRun(t *testing.T) {
	cfg := &config.Config{}
	c := NewComparator(cfg, scriptedLLM(), fakeEmbedder{})

	docs := successfulDocs()
	index := NewVectorIndex()
	embedder := fakeEmbedder{}
	for _, doc := range docs {
		text := "Results: the cell delivered 450 Wh/kg and survived 1200 cycles."
		vec, _ := embedder.Embed(context.Background(), text+doc.ArxivID)
		if err := index.Insert(models.Chunk{
			DocumentID: doc.ArxivID,
			Citation:   doc.Citation,
			Text:       text,
		}, vec); err != nil {
			t.Fatal(err)
		}
	}

	job := &models.Job{ID: "job-1", Topic: "batteries"}
	comparison, err := c.Run(context.Background(), job, index, docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(comparison.MetricNames) == 0 {
		t.Fatal("no metric names extracted")
	}
	if comparison.Summary == "" {
		t.Error("empty comparison summary")
	}
	if len(comparison.Table.Documents) != 2 {
		t.Errorf("table has %d columns, want 2", len(comparison.Table.Documents))
	}
}
