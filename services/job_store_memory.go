package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"research-insight-platform/models"
	"research-insight-platform/utils"
)

// MemoryJobStore is an in-memory JobStore for tests and local development
// without MongoDB. Same state machine semantics as the Mongo store.
type MemoryJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	documents map[string][]models.Document
	reports   map[string]*models.Report
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:      make(map[string]*models.Job),
		documents: make(map[string][]models.Document),
		reports:   make(map[string]*models.Report),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, utils.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryJobStore) List(_ context.Context) ([]models.JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]models.JobSummary, 0, len(s.jobs))
	for _, job := range s.jobs {
		summaries = append(summaries, models.JobSummary{
			ID:             job.ID,
			Topic:          job.Topic,
			Status:         job.Status,
			Progress:       job.Progress,
			PapersAnalyzed: job.PapersAnalyzed,
			Error:          job.Error,
			CreatedAt:      job.CreatedAt,
			UpdatedAt:      job.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(a, b int) bool {
		return summaries[a].CreatedAt.After(summaries[b].CreatedAt)
	})
	return summaries, nil
}

func (s *MemoryJobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, id)
	delete(s.documents, id)
	delete(s.reports, id)
	return nil
}

func (s *MemoryJobStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return utils.ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return utils.ErrStageConflict
	}
	job.CancelRequested = true
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryJobStore) MarkCancelled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return nil
	}
	now := time.Now()
	job.Status = models.StatusCancelled
	job.StageRunning = false
	job.Message = "cancelled by request"
	job.UpdatedAt = now
	job.CompletedAt = &now
	return nil
}

func (s *MemoryJobStore) ClaimStage(_ context.Context, id string, expected, to models.JobStatus) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, utils.ErrJobNotFound
	}
	if job.Status != expected || job.StageRunning || job.CancelRequested {
		return nil, utils.ErrStageConflict
	}
	job.Status = to
	job.StageRunning = true
	job.UpdatedAt = time.Now()
	clone := *job
	return &clone, nil
}

func (s *MemoryJobStore) FinishStage(_ context.Context, id string, next models.JobStatus, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || !job.StageRunning {
		return utils.ErrStageConflict
	}
	job.Status = next
	job.StageRunning = false
	job.Progress = progress
	job.Message = message
	job.UpdatedAt = time.Now()
	if next.IsTerminal() {
		now := time.Now()
		job.CompletedAt = &now
	}
	return nil
}

func (s *MemoryJobStore) Fail(_ context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return nil
	}
	now := time.Now()
	job.Status = models.StatusFailed
	job.StageRunning = false
	job.Error = cause.Error()
	job.UpdatedAt = now
	job.CompletedAt = &now
	return nil
}

func (s *MemoryJobStore) SaveDocuments(_ context.Context, docs []models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		s.documents[doc.JobID] = append(s.documents[doc.JobID], doc)
	}
	return nil
}

func (s *MemoryJobStore) Documents(_ context.Context, jobID string) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := append([]models.Document{}, s.documents[jobID]...)
	sort.Slice(docs, func(a, b int) bool {
		return docs[a].ArxivID < docs[b].ArxivID
	})
	return docs, nil
}

func (s *MemoryJobStore) SetResearchOutput(_ context.Context, id, indexPath string, analyzed, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return utils.ErrJobNotFound
	}
	job.IndexPath = indexPath
	job.PapersAnalyzed = analyzed
	job.PapersFailed = failed
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryJobStore) SaveAnalysis(_ context.Context, id string, analysis *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return utils.ErrJobNotFound
	}
	job.Analysis = analysis
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryJobStore) SaveComparison(_ context.Context, id string, comparison *models.Comparison) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return utils.ErrJobNotFound
	}
	job.Comparison = comparison
	job.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryJobStore) SaveReport(_ context.Context, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *report
	s.reports[report.JobID] = &clone
	return nil
}

func (s *MemoryJobStore) Report(_ context.Context, jobID string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report, ok := s.reports[jobID]
	if !ok {
		return nil, utils.ErrNotReady
	}
	clone := *report
	return &clone, nil
}

func (s *MemoryJobStore) PurgeOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(s.jobs, id)
		delete(s.documents, id)
		delete(s.reports, id)
	}
	sort.Strings(ids)
	return ids, nil
}
