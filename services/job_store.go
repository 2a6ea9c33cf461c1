package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"research-insight-platform/models"
	"research-insight-platform/utils"
)

// JobStore is the persistence contract for research jobs, their documents
// and their reports. The pipeline mutates jobs only through the stage
// claim/finish pair, which enforces the state machine at the store level.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context) ([]models.JobSummary, error)
	Delete(ctx context.Context, id string) error

	RequestCancel(ctx context.Context, id string) error
	MarkCancelled(ctx context.Context, id string) error

	// ClaimStage atomically moves a job from expected to to and marks a
	// stage as running. Returns ErrStageConflict when the job is not in
	// the expected state, already has a stage running, or has a pending
	// cancel request.
	ClaimStage(ctx context.Context, id string, expected, to models.JobStatus) (*models.Job, error)

	// FinishStage releases the running stage and advances the job to next.
	FinishStage(ctx context.Context, id string, next models.JobStatus, progress int, message string) error

	// Fail moves a job to the failed terminal state recording the cause.
	Fail(ctx context.Context, id string, cause error) error

	SaveDocuments(ctx context.Context, docs []models.Document) error
	Documents(ctx context.Context, jobID string) ([]models.Document, error)

	SetResearchOutput(ctx context.Context, id, indexPath string, analyzed, failed int) error
	SaveAnalysis(ctx context.Context, id string, analysis *models.Analysis) error
	SaveComparison(ctx context.Context, id string, comparison *models.Comparison) error

	SaveReport(ctx context.Context, report *models.Report) error
	Report(ctx context.Context, jobID string) (*models.Report, error)

	// PurgeOlderThan removes terminal jobs last updated before cutoff and
	// returns their ids so callers can clean up on-disk artifacts.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// MongoJobStore is the production JobStore backed by MongoDB.
type MongoJobStore struct {
	jobs      *mongo.Collection
	documents *mongo.Collection
	reports   *mongo.Collection
}

func NewMongoJobStore(db *mongo.Database) *MongoJobStore {
	return &MongoJobStore{
		jobs:      db.Collection("jobs"),
		documents: db.Collection("documents"),
		reports:   db.Collection("reports"),
	}
}

func (s *MongoJobStore) Create(ctx context.Context, job *models.Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := s.jobs.InsertOne(ctx, job)
	return err
}

func (s *MongoJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MongoJobStore) List(ctx context.Context) ([]models.JobSummary, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1})
	cursor, err := s.jobs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	summaries := []models.JobSummary{}
	if err := cursor.All(ctx, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Delete removes the job and everything it owns. Idempotent: deleting an
// unknown job is not an error.
func (s *MongoJobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.documents.DeleteMany(ctx, bson.M{"job_id": id}); err != nil {
		return err
	}
	if _, err := s.reports.DeleteMany(ctx, bson.M{"job_id": id}); err != nil {
		return err
	}
	_, err := s.jobs.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// RequestCancel flags a non-terminal job for cancellation. The running
// stage finishes; the next advance observes the flag and stops the job.
func (s *MongoJobStore) RequestCancel(ctx context.Context, id string) error {
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$nin": terminalStatuses()}},
		bson.M{"$set": bson.M{"cancel_requested": true, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either unknown or already terminal; distinguish for the caller.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return utils.ErrStageConflict
	}
	return nil
}

func (s *MongoJobStore) MarkCancelled(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$nin": terminalStatuses()}},
		bson.M{"$set": bson.M{
			"status":        models.StatusCancelled,
			"stage_running": false,
			"message":       "cancelled by request",
			"updated_at":    now,
			"completed_at":  now,
		}},
	)
	return err
}

func (s *MongoJobStore) ClaimStage(ctx context.Context, id string, expected, to models.JobStatus) (*models.Job, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var job models.Job
	err := s.jobs.FindOneAndUpdate(ctx,
		bson.M{
			"_id":              id,
			"status":           expected,
			"stage_running":    false,
			"cancel_requested": false,
		},
		bson.M{"$set": bson.M{
			"status":        to,
			"stage_running": true,
			"updated_at":    time.Now(),
		}},
		opts,
	).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Not in the expected state: unknown job, duplicate advance, or a
		// concurrent claim. The caller treats all three as a rejection.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, utils.ErrStageConflict
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *MongoJobStore) FinishStage(ctx context.Context, id string, next models.JobStatus, progress int, message string) error {
	set := bson.M{
		"status":        next,
		"stage_running": false,
		"progress":      progress,
		"message":       message,
		"updated_at":    time.Now(),
	}
	if next.IsTerminal() {
		set["completed_at"] = time.Now()
	}
	res, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": id, "stage_running": true},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrStageConflict
	}
	return nil
}

func (s *MongoJobStore) Fail(ctx context.Context, id string, cause error) error {
	now := time.Now()
	_, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$nin": terminalStatuses()}},
		bson.M{"$set": bson.M{
			"status":        models.StatusFailed,
			"stage_running": false,
			"error":         cause.Error(),
			"updated_at":    now,
			"completed_at":  now,
		}},
	)
	return err
}

func (s *MongoJobStore) SaveDocuments(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	payload := make([]interface{}, len(docs))
	for i := range docs {
		payload[i] = docs[i]
	}
	_, err := s.documents.InsertMany(ctx, payload)
	return err
}

func (s *MongoJobStore) Documents(ctx context.Context, jobID string) ([]models.Document, error) {
	opts := options.Find().SetSort(bson.M{"arxiv_id": 1})
	cursor, err := s.documents.Find(ctx, bson.M{"job_id": jobID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := []models.Document{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *MongoJobStore) SetResearchOutput(ctx context.Context, id, indexPath string, analyzed, failed int) error {
	_, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"index_path":      indexPath,
			"papers_analyzed": analyzed,
			"papers_failed":   failed,
			"updated_at":      time.Now(),
		}},
	)
	return err
}

func (s *MongoJobStore) SaveAnalysis(ctx context.Context, id string, analysis *models.Analysis) error {
	_, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"analysis": analysis, "updated_at": time.Now()}},
	)
	return err
}

func (s *MongoJobStore) SaveComparison(ctx context.Context, id string, comparison *models.Comparison) error {
	_, err := s.jobs.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"comparison": comparison, "updated_at": time.Now()}},
	)
	return err
}

func (s *MongoJobStore) SaveReport(ctx context.Context, report *models.Report) error {
	// Upsert keyed by job id keeps the unique index happy if a synthesize
	// stage is re-run after a crash between write and finish.
	opts := options.Replace().SetUpsert(true)
	_, err := s.reports.ReplaceOne(ctx, bson.M{"job_id": report.JobID}, report, opts)
	return err
}

func (s *MongoJobStore) Report(ctx context.Context, jobID string) (*models.Report, error) {
	var report models.Report
	err := s.reports.FindOne(ctx, bson.M{"job_id": jobID}).Decode(&report)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotReady
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *MongoJobStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	filter := bson.M{
		"status":     bson.M{"$in": terminalStatuses()},
		"updated_at": bson.M{"$lt": cutoff},
	}

	cursor, err := s.jobs.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := s.Delete(ctx, row.ID); err != nil {
			return ids, err
		}
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func terminalStatuses() []models.JobStatus {
	return []models.JobStatus{models.StatusCompleted, models.StatusFailed, models.StatusCancelled}
}
