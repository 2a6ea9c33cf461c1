package models

import "time"

// JobStatus is the state machine tag for a research job.
type JobStatus string

const (
	StatusPending      JobStatus = "pending"
	StatusResearching  JobStatus = "researching"
	StatusAnalyzing    JobStatus = "analyzing"
	StatusComparing    JobStatus = "comparing"
	StatusSynthesizing JobStatus = "synthesizing"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
	StatusCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stage names the pipeline stage an active status corresponds to; empty
// for pending and terminal states.
func (s JobStatus) Stage() string {
	switch s {
	case StatusResearching, StatusAnalyzing, StatusComparing, StatusSynthesizing:
		return string(s)
	}
	return ""
}

// Job is one end-to-end research request. Mutated only by the pipeline;
// immutable once terminal.
type Job struct {
	ID              string      `bson:"_id" json:"job_id"`
	Topic           string      `bson:"topic" json:"topic"`
	MaxPapers       int         `bson:"max_papers" json:"max_papers"`
	Status          JobStatus   `bson:"status" json:"status"`
	StageRunning    bool        `bson:"stage_running" json:"-"`
	CancelRequested bool        `bson:"cancel_requested" json:"-"`
	Progress        int         `bson:"progress" json:"progress"`
	Message         string      `bson:"message,omitempty" json:"message,omitempty"`
	Error           string      `bson:"error,omitempty" json:"error,omitempty"`
	PapersAnalyzed  int         `bson:"papers_analyzed" json:"papers_analyzed"`
	PapersFailed    int         `bson:"papers_failed" json:"papers_failed"`
	IndexPath       string      `bson:"index_path,omitempty" json:"-"`
	Analysis        *Analysis   `bson:"analysis,omitempty" json:"-"`
	Comparison      *Comparison `bson:"comparison,omitempty" json:"-"`
	CreatedAt       time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time   `bson:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time  `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// JobSummary is the list-view projection of a Job.
type JobSummary struct {
	ID             string    `bson:"_id" json:"job_id"`
	Topic          string    `bson:"topic" json:"topic"`
	Status         JobStatus `bson:"status" json:"status"`
	Progress       int       `bson:"progress" json:"progress"`
	PapersAnalyzed int       `bson:"papers_analyzed" json:"papers_analyzed"`
	Error          string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}
