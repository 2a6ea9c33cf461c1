package models

import "time"

// Classification is the strict categorical output of the contradiction
// protocol. No other values are accepted from the model.
type Classification string

const (
	ClassContradiction Classification = "CONTRADICTION"
	ClassComplementary Classification = "COMPLEMENTARY"
	ClassUnrelated     Classification = "UNRELATED"
)

// Valid reports whether c is one of the three accepted categories.
func (c Classification) Valid() bool {
	switch c {
	case ClassContradiction, ClassComplementary, ClassUnrelated:
		return true
	}
	return false
}

// Finding is a natural-language statement extracted from the corpus with its
// supporting citation.
type Finding struct {
	Statement  string `bson:"statement" json:"finding"`
	Citation   string `bson:"citation" json:"citation"`
	DocumentID string `bson:"document_id" json:"arxiv_id"`
}

// ContradictionVerdict classifies the relationship between claims from two
// documents. A CONTRADICTION verdict always carries non-empty excerpts from
// both sides; verdicts that cannot meet that bar are downgraded.
type ContradictionVerdict struct {
	Classification Classification `bson:"classification" json:"classification"`
	DocumentA      string         `bson:"document_a" json:"document_a"`
	DocumentB      string         `bson:"document_b" json:"document_b"`
	CitationA      string         `bson:"citation_a" json:"citation_a"`
	CitationB      string         `bson:"citation_b" json:"citation_b"`
	ExcerptA       string         `bson:"excerpt_a,omitempty" json:"excerpt_a,omitempty"`
	ExcerptB       string         `bson:"excerpt_b,omitempty" json:"excerpt_b,omitempty"`
	Justification  string         `bson:"justification" json:"justification"`
}

// Analysis is the analyzer stage output, persisted on the job so partial
// progress stays queryable if a later stage fails.
type Analysis struct {
	KeyFindings    []Finding              `bson:"key_findings" json:"key_findings"`
	Contradictions []ContradictionVerdict `bson:"contradictions" json:"contradictions"`
	Complementary  []ContradictionVerdict `bson:"complementary" json:"complementary_findings"`
}

// MetricRecord is one extracted (metric, value, unit) tuple with provenance.
type MetricRecord struct {
	Name       string `bson:"name" json:"name"`             // normalized name
	RawName    string `bson:"raw_name" json:"raw_name"`     // as reported by the paper
	Value      string `bson:"value" json:"value"`
	Unit       string `bson:"unit,omitempty" json:"unit,omitempty"`
	DocumentID string `bson:"document_id" json:"document_id"`
	Citation   string `bson:"citation" json:"citation"`
}

// NotReported is the explicit placeholder for a metric a document does not
// report. Never zero, never blank.
const NotReported = "not reported"

// MetricCell is one table cell: a document's reported value for a metric.
type MetricCell struct {
	Value    string `bson:"value" json:"value"`
	Unit     string `bson:"unit,omitempty" json:"unit,omitempty"`
	Citation string `bson:"citation,omitempty" json:"citation,omitempty"`
	Reported bool   `bson:"reported" json:"reported"`
}

// Display renders the cell for human-readable output.
func (c MetricCell) Display() string {
	if !c.Reported {
		return NotReported
	}
	if c.Unit == "" {
		return c.Value
	}
	return c.Value + " " + c.Unit
}

// MetricRow is one table row: a normalized metric across all documents,
// keyed by document identifier.
type MetricRow struct {
	Metric string                `bson:"metric" json:"metric"`
	Cells  map[string]MetricCell `bson:"cells" json:"cells"`
}

// MetricTable is the normalized cross-document comparison. Rows are sorted
// by metric name and Documents fixes the column order, so the table is
// identical regardless of document processing order.
type MetricTable struct {
	Documents []string    `bson:"documents" json:"documents"` // arxiv ids, column order
	Citations []string    `bson:"citations" json:"citations"` // column headers, same order
	Rows      []MetricRow `bson:"rows" json:"rows"`
}

// Comparison is the comparator stage output.
type Comparison struct {
	Table       MetricTable `bson:"table" json:"metrics_table"`
	MetricNames []string    `bson:"metric_names" json:"metric_names"`
	Summary     string      `bson:"summary" json:"comparison_summary"`
}

// Report is the synthesizer output. Created once, owned by its job,
// immutable after creation.
type Report struct {
	JobID            string                 `bson:"job_id" json:"job_id"`
	Topic            string                 `bson:"topic" json:"topic"`
	GeneratedAt      time.Time              `bson:"generated_at" json:"generated_at"`
	ExecutiveSummary string                 `bson:"executive_summary" json:"executive_summary"`
	Findings         []Finding              `bson:"findings" json:"key_findings"`
	Contradictions   []ContradictionVerdict `bson:"contradictions" json:"contradictions"`
	Complementary    []ContradictionVerdict `bson:"complementary" json:"complementary_findings"`
	Comparison       Comparison             `bson:"comparison" json:"comparison"`
	Trends           []string               `bson:"trends" json:"trends"`
	Gaps             []string               `bson:"gaps" json:"gaps"`
	References       []string               `bson:"references" json:"references"`
	PapersAnalyzed   int                    `bson:"papers_analyzed" json:"papers_analyzed"`
	PapersFailed     int                    `bson:"papers_failed" json:"papers_failed"`
	Narrative        string                 `bson:"narrative" json:"-"`
}

// Insights is the machine-readable output artifact. Its schema is the stable
// external contract; every field is present even when the list is empty.
type Insights struct {
	JobID          string                 `json:"job_id"`
	Topic          string                 `json:"topic"`
	Timestamp      time.Time              `json:"timestamp"`
	PapersAnalyzed int                    `json:"papers_analyzed"`
	PapersFailed   int                    `json:"papers_failed"`
	KeyFindings    []Finding              `json:"key_findings"`
	Contradictions []ContradictionVerdict `json:"contradictions"`
	Complementary  []ContradictionVerdict `json:"complementary_findings"`
	Trends         []string               `json:"trends"`
	Gaps           []string               `json:"gaps"`
	Comparison     Comparison             `json:"comparison"`
}

// BuildInsights derives the structured artifact from a report, normalizing
// nil slices so field presence is guaranteed.
func BuildInsights(r *Report) Insights {
	in := Insights{
		JobID:          r.JobID,
		Topic:          r.Topic,
		Timestamp:      r.GeneratedAt,
		PapersAnalyzed: r.PapersAnalyzed,
		PapersFailed:   r.PapersFailed,
		KeyFindings:    r.Findings,
		Contradictions: r.Contradictions,
		Complementary:  r.Complementary,
		Trends:         r.Trends,
		Gaps:           r.Gaps,
		Comparison:     r.Comparison,
	}
	if in.KeyFindings == nil {
		in.KeyFindings = []Finding{}
	}
	if in.Contradictions == nil {
		in.Contradictions = []ContradictionVerdict{}
	}
	if in.Complementary == nil {
		in.Complementary = []ContradictionVerdict{}
	}
	if in.Trends == nil {
		in.Trends = []string{}
	}
	if in.Gaps == nil {
		in.Gaps = []string{}
	}
	if in.Comparison.MetricNames == nil {
		in.Comparison.MetricNames = []string{}
	}
	if in.Comparison.Table.Rows == nil {
		in.Comparison.Table.Rows = []MetricRow{}
	}
	if in.Comparison.Table.Documents == nil {
		in.Comparison.Table.Documents = []string{}
	}
	if in.Comparison.Table.Citations == nil {
		in.Comparison.Table.Citations = []string{}
	}
	return in
}
