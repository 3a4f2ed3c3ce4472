package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"teletriage/internal/bulksend"
	"teletriage/internal/jobs"
	"teletriage/internal/store"
)

type bulkRequest struct {
	ConversationUUIDs []string `json:"conversation_uuids"`
	Template          string   `json:"template"`
	ConfirmationCode  string   `json:"confirmation_code"`
}

func (s *Server) validateBulkRequest(c *gin.Context) (*bulkRequest, bool) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if len(req.ConversationUUIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_uuids is required"})
		return nil, false
	}
	if req.Template == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template is required"})
		return nil, false
	}
	if limit := s.deps.Config.BulkSendMaxPerJob; len(req.ConversationUUIDs) > limit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "too many recipients",
			"max":   limit,
		})
		return nil, false
	}
	return &req, true
}

func (s *Server) handleBulkPreview(c *gin.Context) {
	req, ok := s.validateBulkRequest(c)
	if !ok {
		return
	}

	preview, err := s.deps.Orchestrator.Prepare(req.ConversationUUIDs, req.Template)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(preview.Recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no known conversations among recipients"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recipients":        preview.Recipients,
		"recipient_count":   len(preview.Recipients),
		"delay_seconds":     preview.DelaySeconds,
		"confirmation_code": bulksend.ConfirmationCode(len(preview.Recipients)),
	})
}

func (s *Server) handleBulkExecute(c *gin.Context) {
	req, ok := s.validateBulkRequest(c)
	if !ok {
		return
	}

	preview, err := s.deps.Orchestrator.Prepare(req.ConversationUUIDs, req.Template)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(preview.Recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no known conversations among recipients"})
		return
	}
	if err := bulksend.Confirm(len(preview.Recipients), req.ConfirmationCode); err != nil {
		if errors.Is(err, bulksend.ErrConfirmationMismatch) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    err.Error(),
				"expected": bulksend.ConfirmationCode(len(preview.Recipients)),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Gate.TryAcquire(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "another operation is running"})
		return
	}

	bulkJob, err := s.deps.Orchestrator.CreateJob(preview)
	if err != nil {
		s.deps.Gate.Release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job := s.deps.Jobs.Create(jobs.TypeBulkSend)
	s.runJob(job, func(onProgress func(int, int, string)) (any, error) {
		result, err := s.deps.Orchestrator.Execute(context.Background(), bulkJob.ID, onProgress)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"bulk_job_id": result.JobID,
			"total":       result.Total,
			"sent":        result.Sent,
			"failed":      result.Failed,
			"errors":      result.Errors,
		}, nil
	})

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":      job.ID,
		"bulk_job_id": bulkJob.ID,
		"total":       bulkJob.TotalCount,
	})
}

type bulkJobView struct {
	ID         int64  `json:"id"`
	CreatedAt  string `json:"created_at"`
	Template   string `json:"template"`
	TotalCount int    `json:"total_count"`
	SentCount  int    `json:"sent_count"`
	Status     string `json:"status"`
}

func bulkJobViewOf(j *store.BulkSendJob) bulkJobView {
	return bulkJobView{
		ID:         j.ID,
		CreatedAt:  time.UnixMilli(j.CreatedAt).UTC().Format(time.RFC3339),
		Template:   j.Template,
		TotalCount: j.TotalCount,
		SentCount:  j.SentCount,
		Status:     j.Status,
	}
}

func (s *Server) handleListBulkJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	jobsList, err := s.deps.DB.Session().ListBulkJobs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]bulkJobView, 0, len(jobsList))
	for i := range jobsList {
		views = append(views, bulkJobViewOf(&jobsList[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleGetBulkJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	sess := s.deps.DB.Session()
	job, err := sess.GetBulkJob(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "bulk send job not found"})
		return
	}

	items, err := sess.ListBulkItems(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type itemView struct {
		ConversationUUID string `json:"conversation_uuid"`
		Status           string `json:"status"`
		SentAt           string `json:"sent_at,omitempty"`
		Error            string `json:"error,omitempty"`
	}
	itemViews := make([]itemView, 0, len(items))
	for _, it := range items {
		v := itemView{
			ConversationUUID: it.ConversationUUID,
			Status:           it.Status,
			Error:            it.Error,
		}
		if it.SentAt != 0 {
			v.SentAt = time.UnixMilli(it.SentAt).UTC().Format(time.RFC3339)
		}
		itemViews = append(itemViews, v)
	}

	view := bulkJobViewOf(job)
	c.JSON(http.StatusOK, gin.H{"job": view, "items": itemViews})
}
