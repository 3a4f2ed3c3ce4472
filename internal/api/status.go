package api

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"teletriage/internal/store"
)

func (s *Server) handleStatus(c *gin.Context) {
	sess := s.deps.DB.Session()

	count, unread, err := sess.ConversationStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	caughtUp, _, err := sess.GetState(store.StateCaughtUpAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	lastReport, _, err := sess.GetState(store.StateLastReportAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pid":            os.Getpid(),
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"conversations":  count,
		"unread_total":   unread,
		"caught_up_at":   caughtUp,
		"last_report_at": lastReport,
		"active_jobs":    len(s.deps.Jobs.Active()),
		"llm_enabled":    s.deps.Config.LLMEnabled(),
	})
}

func (s *Server) handleGetCaughtUp(c *gin.Context) {
	value, ok, err := s.deps.DB.Session().GetState(store.StateCaughtUpAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"caught_up_at": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"caught_up_at": value})
}

func (s *Server) handleSetCaughtUp(c *gin.Context) {
	var req struct {
		At string `json:"at"`
	}
	// Empty body means "now".
	_ = c.ShouldBindJSON(&req)

	at := time.Now().UTC()
	if req.At != "" {
		parsed, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid at, expected RFC3339"})
			return
		}
		at = parsed.UTC()
	}

	if err := s.deps.DB.Session().SetCaughtUpAt(at); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"caught_up_at": at.Format(time.RFC3339)})
}
