package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/internal/telemetry"
	"research-insight-platform/models"
	"research-insight-platform/utils"
)

// Pipeline advances research jobs through the stage state machine. Each
// Advance call executes exactly one stage under an atomic claim, then
// enqueues the next advance. Duplicate or out-of-order advances are
// rejected by the claim and surface as ErrStageConflict.
type Pipeline struct {
	config      *config.Config
	store       JobStore
	researcher  *Researcher
	analyzer    *Analyzer
	comparator  *Comparator
	synthesizer *Synthesizer
	metrics     *telemetry.Metrics
	enqueue     func(ctx context.Context, jobID string) error
}

func NewPipeline(
	cfg *config.Config,
	store JobStore,
	researcher *Researcher,
	analyzer *Analyzer,
	comparator *Comparator,
	synthesizer *Synthesizer,
	metrics *telemetry.Metrics,
	enqueue func(ctx context.Context, jobID string) error,
) *Pipeline {
	return &Pipeline{
		config:      cfg,
		store:       store,
		researcher:  researcher,
		analyzer:    analyzer,
		comparator:  comparator,
		synthesizer: synthesizer,
		metrics:     metrics,
		enqueue:     enqueue,
	}
}

// stageSpec describes one stage: the status that triggers it, the status
// held while it runs, and where a successful run lands.
type stageSpec struct {
	expected models.JobStatus
	running  models.JobStatus
	next     models.JobStatus
	progress int
	message  string
	run      func(ctx context.Context, job *models.Job) error
}

// Advance executes the single stage a job is due for. A terminal job is a
// no-op; a pending cancel request turns the job cancelled instead of
// running anything further.
func (p *Pipeline) Advance(ctx context.Context, jobID string) error {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		logger.Debug("Advance on terminal job ignored", "job_id", jobID, "status", job.Status)
		return nil
	}

	if job.CancelRequested {
		logger.Info("Cancelling job", "job_id", jobID, "status", job.Status)
		return p.store.MarkCancelled(ctx, jobID)
	}

	spec, ok := p.stageFor(job.Status)
	if !ok {
		// Status names a stage already running elsewhere.
		return fmt.Errorf("job %s in status %s: %w", jobID, job.Status, utils.ErrStageConflict)
	}

	claimed, err := p.store.ClaimStage(ctx, jobID, spec.expected, spec.running)
	if err != nil {
		return err
	}

	stageCtx, cancel := context.WithTimeout(ctx, p.config.StageTimeout)
	defer cancel()

	start := time.Now()
	logger.Info("Running pipeline stage", "job_id", jobID, "stage", spec.running)

	if err := spec.run(stageCtx, claimed); err != nil {
		p.metrics.RecordStage(string(spec.running), "failure", time.Since(start).Seconds())
		cause := err
		if stageCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			cause = fmt.Errorf("stage %s exceeded %s: %w", spec.running, p.config.StageTimeout, utils.ErrTimeout)
		}
		logger.Error("Pipeline stage failed", "job_id", jobID, "stage", spec.running, "error", cause)
		if failErr := p.store.Fail(ctx, jobID, cause); failErr != nil {
			logger.Error("Recording job failure failed", "job_id", jobID, "error", failErr)
		}
		return cause
	}

	p.metrics.RecordStage(string(spec.running), "success", time.Since(start).Seconds())

	if err := p.store.FinishStage(ctx, jobID, spec.next, spec.progress, spec.message); err != nil {
		return err
	}

	if spec.next.IsTerminal() {
		logger.Info("Job completed", "job_id", jobID)
		return nil
	}
	return p.enqueue(ctx, jobID)
}

func (p *Pipeline) stageFor(status models.JobStatus) (stageSpec, bool) {
	switch status {
	case models.StatusPending:
		return stageSpec{
			expected: models.StatusPending,
			running:  models.StatusResearching,
			next:     models.StatusAnalyzing,
			progress: 40,
			message:  "corpus built, analyzing findings",
			run:      p.runResearch,
		}, true
	case models.StatusAnalyzing:
		return stageSpec{
			expected: models.StatusAnalyzing,
			running:  models.StatusAnalyzing,
			next:     models.StatusComparing,
			progress: 60,
			message:  "analysis complete, comparing metrics",
			run:      p.runAnalysis,
		}, true
	case models.StatusComparing:
		return stageSpec{
			expected: models.StatusComparing,
			running:  models.StatusComparing,
			next:     models.StatusSynthesizing,
			progress: 80,
			message:  "comparison complete, synthesizing report",
			run:      p.runComparison,
		}, true
	case models.StatusSynthesizing:
		return stageSpec{
			expected: models.StatusSynthesizing,
			running:  models.StatusSynthesizing,
			next:     models.StatusCompleted,
			progress: 100,
			message:  "report ready",
			run:      p.runSynthesis,
		}, true
	}
	return stageSpec{}, false
}

func (p *Pipeline) runResearch(ctx context.Context, job *models.Job) error {
	result, err := p.researcher.Run(ctx, job)
	if err != nil {
		return err
	}

	if err := p.store.SaveDocuments(ctx, result.Documents); err != nil {
		return fmt.Errorf("persisting documents: %w", err)
	}
	if err := p.store.SetResearchOutput(ctx, job.ID, result.IndexPath, result.Analyzed, result.Failed); err != nil {
		return fmt.Errorf("persisting research output: %w", err)
	}

	p.metrics.RecordPapers("analyzed", int64(result.Analyzed))
	p.metrics.RecordPapers("failed", int64(result.Failed))
	return nil
}

func (p *Pipeline) runAnalysis(ctx context.Context, job *models.Job) error {
	index, docs, err := p.loadCorpus(ctx, job)
	if err != nil {
		return err
	}

	analysis, err := p.analyzer.Run(ctx, job, index, docs)
	if err != nil {
		return err
	}
	return p.store.SaveAnalysis(ctx, job.ID, analysis)
}

func (p *Pipeline) runComparison(ctx context.Context, job *models.Job) error {
	index, docs, err := p.loadCorpus(ctx, job)
	if err != nil {
		return err
	}

	comparison, err := p.comparator.Run(ctx, job, index, docs)
	if err != nil {
		return err
	}
	return p.store.SaveComparison(ctx, job.ID, comparison)
}

func (p *Pipeline) runSynthesis(ctx context.Context, job *models.Job) error {
	index, docs, err := p.loadCorpus(ctx, job)
	if err != nil {
		return err
	}

	report, err := p.synthesizer.Run(ctx, job, index, docs)
	if err != nil {
		return err
	}
	return p.store.SaveReport(ctx, report)
}

// loadCorpus reloads the job's persisted index and document list for the
// post-research stages. A corrupted snapshot fails the job.
func (p *Pipeline) loadCorpus(ctx context.Context, job *models.Job) (*VectorIndex, []models.Document, error) {
	if job.IndexPath == "" {
		return nil, nil, fmt.Errorf("job %s has no index: %w", job.ID, utils.ErrEmptyCorpus)
	}

	index, err := LoadIndexSnapshot(job.IndexPath)
	if err != nil {
		return nil, nil, err
	}

	docs, err := p.store.Documents(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	return index, docs, nil
}
