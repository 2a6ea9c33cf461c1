package models

import "time"

// Extraction status values recorded per document during the research stage.
const (
	ExtractionSuccess        = "success"
	ExtractionFailedDownload = "failed_download"
	ExtractionFailedParse    = "failed_parse"
)

// Document is one fetched paper. Owned exclusively by its job; never shared
// across jobs.
type Document struct {
	JobID            string    `bson:"job_id" json:"-"`
	ArxivID          string    `bson:"arxiv_id" json:"arxiv_id"`
	Title            string    `bson:"title" json:"title"`
	Authors          []string  `bson:"authors" json:"authors"`
	Published        time.Time `bson:"published" json:"published"`
	Summary          string    `bson:"summary,omitempty" json:"summary,omitempty"`
	Citation         string    `bson:"citation" json:"citation"`
	PDFPath          string    `bson:"pdf_path,omitempty" json:"-"`
	ExtractionStatus string    `bson:"extraction_status" json:"extraction_status"`
	ChunkCount       int       `bson:"chunk_count" json:"chunk_count"`
}

// Chunk is a bounded text segment of a source document. The
// (DocumentID, Citation, Position) triple is provenance and must survive
// every transformation between extraction and retrieval.
type Chunk struct {
	DocumentID string `bson:"document_id" json:"document_id"`
	Citation   string `bson:"citation" json:"citation"`
	Position   int    `bson:"position" json:"position"`
	Text       string `bson:"text" json:"text"`
}

// ScoredChunk is a retrieval hit: a chunk and its similarity to the query.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}
