package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/models"
	"research-insight-platform/utils"
)

// Embedder is the embedding contract consumed by the research stages.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Researcher runs the first pipeline stage: fetch papers for the topic,
// cache and extract their PDFs, chunk the text and build the job's vector
// index. Individual document failures are recorded and skipped; only an
// empty corpus fails the stage.
type Researcher struct {
	config    *config.Config
	source    PaperSource
	extractor TextExtractor
	chunker   *Chunker
	embedder  Embedder
}

func NewResearcher(cfg *config.Config, source PaperSource, extractor TextExtractor, embedder Embedder) *Researcher {
	return &Researcher{
		config:    cfg,
		source:    source,
		extractor: extractor,
		chunker:   NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize),
		embedder:  embedder,
	}
}

// ResearchResult is what the researcher hands back to the pipeline.
type ResearchResult struct {
	Documents []models.Document
	IndexPath string
	Analyzed  int
	Failed    int
}

func (r *Researcher) Run(ctx context.Context, job *models.Job) (*ResearchResult, error) {
	papers, err := r.source.Search(ctx, job.Topic, job.MaxPapers)
	if err != nil {
		return nil, fmt.Errorf("searching papers for %q: %w", job.Topic, err)
	}
	if len(papers) == 0 {
		return nil, fmt.Errorf("no papers found for %q: %w", job.Topic, utils.ErrEmptyCorpus)
	}

	index := NewVectorIndex()
	documents := make([]models.Document, 0, len(papers))
	failed := 0

	for _, paper := range papers {
		doc := models.Document{
			JobID:     job.ID,
			ArxivID:   paper.ArxivID,
			Title:     paper.Title,
			Authors:   paper.Authors,
			Published: paper.Published,
			Summary:   paper.Summary,
			Citation:  FormatCitation(paper.Authors, paper.Published.Year(), paper.ArxivID),
		}

		chunks, err := r.processPaper(ctx, job.ID, paper, &doc)
		if err != nil {
			logger.Warn("Excluding paper from corpus", "job_id", job.ID,
				"arxiv_id", paper.ArxivID, "error", err)
			failed++
			documents = append(documents, doc)
			continue
		}

		if err := r.indexChunks(ctx, index, chunks); err != nil {
			return nil, fmt.Errorf("indexing %s: %w", paper.ArxivID, err)
		}

		doc.ExtractionStatus = models.ExtractionSuccess
		doc.ChunkCount = len(chunks)
		documents = append(documents, doc)
	}

	if index.Len() == 0 {
		return nil, fmt.Errorf("no usable documents for %q (%d fetched, %d failed): %w",
			job.Topic, len(papers), failed, utils.ErrEmptyCorpus)
	}

	indexPath := filepath.Join(r.config.JobIndexDir(job.ID), SnapshotFileName)
	if err := index.SaveSnapshot(indexPath); err != nil {
		return nil, fmt.Errorf("persisting index: %w", err)
	}

	analyzed := len(documents) - failed
	logger.Info("Research stage complete", "job_id", job.ID,
		"papers", analyzed, "failed", failed, "chunks", index.Len())

	return &ResearchResult{
		Documents: documents,
		IndexPath: indexPath,
		Analyzed:  analyzed,
		Failed:    failed,
	}, nil
}

// processPaper downloads, extracts and chunks one paper. On failure the
// document's extraction status records which step broke.
func (r *Researcher) processPaper(ctx context.Context, jobID string, paper PaperMeta, doc *models.Document) ([]models.Chunk, error) {
	pdfPath := filepath.Join(r.config.JobPDFDir(jobID), sanitizeFileName(paper.ArxivID)+".pdf")

	if err := r.source.DownloadPDF(ctx, paper.PDFURL, pdfPath); err != nil {
		doc.ExtractionStatus = models.ExtractionFailedDownload
		return nil, fmt.Errorf("download: %w", err)
	}
	doc.PDFPath = pdfPath

	extraction, err := r.extractor.ExtractText(ctx, pdfPath)
	if err != nil {
		doc.ExtractionStatus = models.ExtractionFailedParse
		return nil, fmt.Errorf("extract: %w", err)
	}

	chunks := r.chunker.Split(*doc, extraction.Text)
	if len(chunks) == 0 {
		doc.ExtractionStatus = models.ExtractionFailedParse
		return nil, fmt.Errorf("extracted text produced no chunks: %w", utils.ErrExtractionFailure)
	}
	return chunks, nil
}

func (r *Researcher) indexChunks(ctx context.Context, index *VectorIndex, chunks []models.Chunk) error {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	for i, chunk := range chunks {
		if err := index.Insert(chunk, vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeFileName keeps arxiv ids safe as file names (old-style ids
// contain a slash, e.g. "math/0211159").
func sanitizeFileName(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(id)
}
