package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/telemetry"
	"research-insight-platform/models"
	"research-insight-platform/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		MaxPapers:      10,
		DefaultPapers:  5,
		MaxChunkSize:   700,
		ChunkOverlap:   100,
		MaxPairChecks:  6,
		StageTimeout:   time.Minute,
		FileStorageDir: t.TempDir(),
	}
}

type pipelineFixture struct {
	cfg      *config.Config
	store    *MemoryJobStore
	pipeline *Pipeline
	enqueued []string
}

func newPipelineFixture(t *testing.T, source PaperSource) *pipelineFixture {
	t.Helper()

	cfg := testConfig(t)
	store := NewMemoryJobStore()
	metrics, err := telemetry.InitMetrics()
	if err != nil {
		t.Fatal(err)
	}

	f := &pipelineFixture{cfg: cfg, store: store}

	llm := scriptedLLM()
	embedder := fakeEmbedder{}
	f.pipeline = NewPipeline(
		cfg,
		store,
		NewResearcher(cfg, source, &fakeExtractor{text: paperText()}, embedder),
		NewAnalyzer(cfg, llm, embedder),
		NewComparator(cfg, llm, embedder),
		NewSynthesizer(cfg, llm, embedder),
		metrics,
		func(_ context.Context, jobID string) error {
			f.enqueued = append(f.enqueued, jobID)
			return nil
		},
	)
	return f
}

func (f *pipelineFixture) createJob(t *testing.T) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:        "job-1",
		Topic:     "solid state batteries",
		MaxPapers: 2,
		Status:    models.StatusPending,
	}
	if err := f.store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestPipelineFullLifecycle(t *testing.T) {
	f := newPipelineFixture(t, &fakeSource{papers: twoTestPapers()})
	job := f.createJob(t)
	ctx := context.Background()

	wantAfter := []models.JobStatus{
		models.StatusAnalyzing,
		models.StatusComparing,
		models.StatusSynthesizing,
		models.StatusCompleted,
	}
	for i, want := range wantAfter {
		if err := f.pipeline.Advance(ctx, job.ID); err != nil {
			t.Fatalf("advance %d: %v", i+1, err)
		}
		got, err := f.store.Get(ctx, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != want {
			t.Fatalf("after advance %d status = %s, want %s", i+1, got.Status, want)
		}
		if got.StageRunning {
			t.Fatalf("stage still marked running after advance %d", i+1)
		}
	}

	// Each non-terminal finish enqueues exactly one follow-up.
	if len(f.enqueued) != 3 {
		t.Errorf("enqueued %d advances, want 3", len(f.enqueued))
	}

	final, _ := f.store.Get(ctx, job.ID)
	if final.Progress != 100 {
		t.Errorf("final progress = %d", final.Progress)
	}
	if final.PapersAnalyzed != 2 || final.PapersFailed != 0 {
		t.Errorf("paper counts = %d/%d", final.PapersAnalyzed, final.PapersFailed)
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	report, err := f.store.Report(ctx, job.ID)
	if err != nil {
		t.Fatalf("report missing after completion: %v", err)
	}
	if report.Topic != job.Topic {
		t.Errorf("report topic = %q", report.Topic)
	}

	// Advancing a completed job is a silent no-op.
	if err := f.pipeline.Advance(ctx, job.ID); err != nil {
		t.Errorf("advance on completed job errored: %v", err)
	}
}

func TestPipelineRejectsDuplicateAdvance(t *testing.T) {
	f := newPipelineFixture(t, &fakeSource{papers: twoTestPapers()})
	job := f.createJob(t)
	ctx := context.Background()

	// Simulate a concurrent worker holding the stage claim.
	if _, err := f.store.ClaimStage(ctx, job.ID, models.StatusPending, models.StatusResearching); err != nil {
		t.Fatal(err)
	}

	err := f.pipeline.Advance(ctx, job.ID)
	if !errors.Is(err, utils.ErrStageConflict) {
		t.Errorf("duplicate advance err = %v, want ErrStageConflict", err)
	}

	got, _ := f.store.Get(ctx, job.ID)
	if got.Status != models.StatusResearching || !got.StageRunning {
		t.Errorf("rejected advance mutated job: %+v", got)
	}
}

func TestPipelineCancellation(t *testing.T) {
	f := newPipelineFixture(t, &fakeSource{papers: twoTestPapers()})
	job := f.createJob(t)
	ctx := context.Background()

	if err := f.pipeline.Advance(ctx, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.store.RequestCancel(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.pipeline.Advance(ctx, job.ID); err != nil {
		t.Fatalf("cancelling advance errored: %v", err)
	}

	got, _ := f.store.Get(ctx, job.ID)
	if got.Status != models.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("cancelled job has no completed_at")
	}

	// A cancelled job never advances again.
	if err := f.pipeline.Advance(ctx, job.ID); err != nil {
		t.Errorf("advance on cancelled job errored: %v", err)
	}
	final, _ := f.store.Get(ctx, job.ID)
	if final.Status != models.StatusCancelled {
		t.Errorf("terminal status changed to %s", final.Status)
	}
}

func TestPipelineEmptyCorpusFailsJob(t *testing.T) {
	f := newPipelineFixture(t, &fakeSource{})
	job := f.createJob(t)
	ctx := context.Background()

	err := f.pipeline.Advance(ctx, job.ID)
	if !errors.Is(err, utils.ErrEmptyCorpus) {
		t.Fatalf("advance err = %v, want ErrEmptyCorpus", err)
	}

	got, _ := f.store.Get(ctx, job.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("failure cause not recorded on job")
	}
	if len(f.enqueued) != 0 {
		t.Errorf("failed stage enqueued %d advances", len(f.enqueued))
	}
}

func TestPipelineUnknownJob(t *testing.T) {
	f := newPipelineFixture(t, &fakeSource{papers: twoTestPapers()})

	err := f.pipeline.Advance(context.Background(), "missing")
	if !errors.Is(err, utils.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}
