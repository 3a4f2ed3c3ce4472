package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"teletriage/internal/jobs"
	"teletriage/internal/store"
)

func (s *Server) handleGenerateReport(c *gin.Context) {
	var req struct {
		Since string `json:"since"`
	}
	// Empty body means "since the caught-up marker".
	_ = c.ShouldBindJSON(&req)

	var since time.Time
	if req.Since != "" {
		parsed, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since, expected RFC3339"})
			return
		}
		since = parsed
	}

	if err := s.deps.Gate.TryAcquire(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "another operation is running"})
		return
	}

	job := s.deps.Jobs.Create(jobs.TypeReport)
	s.runJob(job, func(onProgress func(int, int, string)) (any, error) {
		rep, err := s.deps.Composer.Generate(context.Background(), since, onProgress)
		if err != nil {
			return nil, err
		}
		return gin.H{"report_id": rep.ID}, nil
	})

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

func reportBody(c *gin.Context, rep *store.Report) {
	var payload json.RawMessage
	if err := json.Unmarshal([]byte(rep.JSON), &payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "corrupt report payload"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           rep.ID,
		"created_at":   time.UnixMilli(rep.CreatedAt).UTC().Format(time.RFC3339),
		"covers_since": time.UnixMilli(rep.CoversSince).UTC().Format(time.RFC3339),
		"report":       payload,
	})
}

func (s *Server) handleListReports(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	reports, err := s.deps.DB.Session().ListReports(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type reportView struct {
		ID          int64  `json:"id"`
		CreatedAt   string `json:"created_at"`
		CoversSince string `json:"covers_since"`
	}
	views := make([]reportView, 0, len(reports))
	for _, r := range reports {
		views = append(views, reportView{
			ID:          r.ID,
			CreatedAt:   time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339),
			CoversSince: time.UnixMilli(r.CoversSince).UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"reports": views})
}

func (s *Server) handleGetReport(c *gin.Context) {
	if c.Param("id") == "latest" {
		rep, err := s.deps.DB.Session().LatestReport()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if rep == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reports yet"})
			return
		}
		reportBody(c, rep)
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report id"})
		return
	}
	rep, err := s.deps.DB.Session().GetReport(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	reportBody(c, rep)
}
