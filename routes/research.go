package routes

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"research-insight-platform/internal/config"
	"research-insight-platform/internal/logger"
	"research-insight-platform/models"
	"research-insight-platform/services"
	"research-insight-platform/utils"
)

const (
	minTopicLength = 3
	maxTopicLength = 200
)

// ResearchHandler exposes the research job API.
type ResearchHandler struct {
	config  *config.Config
	store   services.JobStore
	enqueue func(c *gin.Context, jobID string) error
}

func NewResearchHandler(cfg *config.Config, store services.JobStore, enqueue func(c *gin.Context, jobID string) error) *ResearchHandler {
	return &ResearchHandler{config: cfg, store: store, enqueue: enqueue}
}

// Register mounts the research routes on the router group.
func (h *ResearchHandler) Register(api *gin.RouterGroup) {
	api.POST("/research", h.Submit)
	api.GET("/research", h.List)
	api.GET("/research/:id/status", h.Status)
	api.GET("/research/:id/result", h.Result)
	api.POST("/research/:id/cancel", h.Cancel)
	api.DELETE("/research/:id", h.Delete)
}

type submitRequest struct {
	Topic     string `json:"topic" binding:"required"`
	MaxPapers int    `json:"max_papers"`
}

// Submit validates a research request, creates the job and enqueues its
// first pipeline stage. Returns 202 with the job id.
func (h *ResearchHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if len(topic) < minTopicLength || len(topic) > maxTopicLength {
		utils.RespondWithBadRequest(c, "Topic must be between 3 and 200 characters", gin.H{
			"topic_length": len(topic),
		})
		return
	}

	maxPapers := req.MaxPapers
	if maxPapers == 0 {
		maxPapers = h.config.DefaultPapers
	}
	if maxPapers < 1 || maxPapers > h.config.MaxPapers {
		utils.RespondWithBadRequest(c, "max_papers out of range", gin.H{
			"min": 1,
			"max": h.config.MaxPapers,
		})
		return
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		Topic:     topic,
		MaxPapers: maxPapers,
		Status:    models.StatusPending,
		Message:   "queued",
	}

	if err := h.store.Create(c.Request.Context(), job); err != nil {
		logger.Error("Creating job failed", "error", err)
		utils.RespondWithInternalError(c, "Failed to create research job", nil)
		return
	}

	if err := h.enqueue(c, job.ID); err != nil {
		logger.Error("Enqueueing job failed", "job_id", job.ID, "error", err)
		failErr := errors.New("failed to enqueue research pipeline")
		_ = h.store.Fail(c.Request.Context(), job.ID, failErr)
		utils.RespondWithInternalError(c, "Failed to start research job", nil)
		return
	}

	logger.Info("Research job submitted", "job_id", job.ID, "topic", topic, "max_papers", maxPapers)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// Status returns the job's current state, progress and error if any.
func (h *ResearchHandler) Status(c *gin.Context) {
	job, ok := h.lookup(c)
	if !ok {
		return
	}

	resp := gin.H{
		"job_id":          job.ID,
		"topic":           job.Topic,
		"status":          job.Status,
		"current_stage":   job.Status.Stage(),
		"progress":        job.Progress,
		"message":         job.Message,
		"papers_analyzed": job.PapersAnalyzed,
		"papers_failed":   job.PapersFailed,
		"created_at":      job.CreatedAt,
		"updated_at":      job.UpdatedAt,
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if job.CompletedAt != nil {
		resp["completed_at"] = job.CompletedAt
	}
	c.JSON(http.StatusOK, resp)
}

// Result returns the completed report. A job that is not yet completed
// answers 409 so clients can distinguish "in flight" from "gone".
func (h *ResearchHandler) Result(c *gin.Context) {
	job, ok := h.lookup(c)
	if !ok {
		return
	}

	if job.Status != models.StatusCompleted {
		utils.RespondWithNotReady(c, "Research job has not completed", gin.H{
			"status":   job.Status,
			"progress": job.Progress,
			"error":    job.Error,
		})
		return
	}

	report, err := h.store.Report(c.Request.Context(), job.ID)
	if err != nil {
		if errors.Is(err, utils.ErrNotReady) {
			utils.RespondWithNotReady(c, "Report not available yet", nil)
			return
		}
		logger.Error("Loading report failed", "job_id", job.ID, "error", err)
		utils.RespondWithInternalError(c, "Failed to load report", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":   job.ID,
		"insights": models.BuildInsights(report),
		"report":   report.Narrative,
	})
}

// List returns summaries of all jobs, newest first.
func (h *ResearchHandler) List(c *gin.Context) {
	summaries, err := h.store.List(c.Request.Context())
	if err != nil {
		logger.Error("Listing jobs failed", "error", err)
		utils.RespondWithInternalError(c, "Failed to list research jobs", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  summaries,
		"count": len(summaries),
	})
}

// Cancel flags a job for cancellation. The running stage finishes; the
// pipeline stops before the next one. Terminal jobs answer 409.
func (h *ResearchHandler) Cancel(c *gin.Context) {
	id := c.Param("id")

	err := h.store.RequestCancel(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{
			"job_id": id,
			"status": "cancel_requested",
		})
	case errors.Is(err, utils.ErrJobNotFound):
		utils.RespondWithNotFound(c, "Research job not found")
	case errors.Is(err, utils.ErrStageConflict):
		utils.RespondWithError(c, http.StatusConflict, "already_terminal",
			"Research job has already finished", nil)
	default:
		logger.Error("Cancel request failed", "job_id", id, "error", err)
		utils.RespondWithInternalError(c, "Failed to cancel research job", nil)
	}
}

// Delete removes a job and every artifact it owns. Idempotent: deleting an
// unknown job still answers 204.
func (h *ResearchHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		logger.Error("Deleting job failed", "job_id", id, "error", err)
		utils.RespondWithInternalError(c, "Failed to delete research job", nil)
		return
	}

	if err := os.RemoveAll(h.config.JobDir(id)); err != nil {
		logger.Warn("Removing job artifacts failed", "job_id", id, "error", err)
	}

	c.Status(http.StatusNoContent)
}

func (h *ResearchHandler) lookup(c *gin.Context) (*models.Job, bool) {
	job, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, utils.ErrJobNotFound) {
			utils.RespondWithNotFound(c, "Research job not found")
		} else {
			logger.Error("Loading job failed", "job_id", c.Param("id"), "error", err)
			utils.RespondWithInternalError(c, "Failed to load research job", nil)
		}
		return nil, false
	}
	return job, true
}
