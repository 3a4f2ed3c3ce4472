package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"teletriage/internal/jobs"
)

type jobView struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	ProgressCurrent int    `json:"progress_current"`
	ProgressTotal   int    `json:"progress_total"`
	ProgressMessage string `json:"progress_message,omitempty"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       string `json:"created_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

func jobViewOf(j jobs.Job) jobView {
	v := jobView{
		ID:              j.ID,
		Type:            string(j.Type),
		Status:          string(j.Status),
		ProgressCurrent: j.ProgressCurrent,
		ProgressTotal:   j.ProgressTotal,
		ProgressMessage: j.ProgressMessage,
		Result:          j.Result,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !j.CompletedAt.IsZero() {
		v.CompletedAt = j.CompletedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// runJob owns the gate for the job's duration and maps the outcome onto the
// tracker. The gate must already be held by the caller.
func (s *Server) runJob(job jobs.Job, fn func(onProgress func(int, int, string)) (any, error)) {
	go func() {
		defer s.deps.Gate.Release()
		s.deps.Jobs.Start(job.ID)

		result, err := fn(func(current, total int, message string) {
			s.deps.Jobs.UpdateProgress(job.ID, current, total, message)
		})
		if err != nil {
			s.deps.Logger.Error("job failed",
				zap.String("job", job.ID),
				zap.String("type", string(job.Type)),
				zap.Error(err))
			s.deps.Jobs.Fail(job.ID, err.Error())
			return
		}
		s.deps.Jobs.Complete(job.ID, result)
	}()
}

func (s *Server) handleStartSync(c *gin.Context) {
	if err := s.deps.Gate.TryAcquire(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "another operation is running"})
		return
	}

	job := s.deps.Jobs.Create(jobs.TypeSync)
	s.runJob(job, func(onProgress func(int, int, string)) (any, error) {
		ctx := context.Background()
		result, err := s.deps.Engine.SyncDialogs(ctx, onProgress)
		if err != nil {
			return nil, err
		}
		// Second phase: refresh member rosters for the active groups and
		// 1:1 chats the dialog pass just reconciled.
		participants, err := s.deps.Engine.SyncRosters(ctx, s.deps.Config.ParticipantFetchLimit, onProgress)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"new":          result.New,
			"updated":      result.Updated,
			"unchanged":    result.Unchanged,
			"participants": participants,
			"errors":       result.Errors,
		}, nil
	})

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	recent := s.deps.Jobs.Recent(limit)
	views := make([]jobView, 0, len(recent))
	for _, j := range recent {
		views = append(views, jobViewOf(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleGetJob(c *gin.Context) {
	j, ok := s.deps.Jobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, jobViewOf(j))
}
