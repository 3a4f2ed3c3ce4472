// Package api exposes the daemon's HTTP control surface. Handlers are thin:
// they validate input, take the operation gate where the operation mutates
// shared state, and hand the work to a background job.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"teletriage/internal/bulksend"
	"teletriage/internal/config"
	"teletriage/internal/jobs"
	"teletriage/internal/provider"
	"teletriage/internal/ratelimit"
	"teletriage/internal/report"
	"teletriage/internal/store"
	intsync "teletriage/internal/sync"
)

// Deps bundles everything the handlers need.
type Deps struct {
	Config       *config.Config
	DB           *store.DB
	Client       provider.Client
	Limiter      *ratelimit.Limiter
	Engine       *intsync.Engine
	Orchestrator *bulksend.Orchestrator
	Composer     *report.Composer
	Jobs         *jobs.Manager
	Gate         *jobs.Gate
	Logger       *zap.Logger
}

// Server is the HTTP server wrapping the gin router.
type Server struct {
	deps      Deps
	router    *gin.Engine
	http      *http.Server
	startedAt time.Time
}

// NewServer builds the router and registers all routes.
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		deps:      deps,
		router:    router,
		startedAt: time.Now(),
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/caught-up", s.handleGetCaughtUp)
		apiGroup.POST("/caught-up", s.handleSetCaughtUp)
		apiGroup.GET("/conversations", s.handleListConversations)
		apiGroup.GET("/conversations/:uuid", s.handleGetConversation)
		apiGroup.GET("/conversations/:uuid/messages", s.handleConversationMessages)
		apiGroup.POST("/conversations/:uuid/reply", s.handleReply)
		apiGroup.PUT("/conversations/:uuid/metadata", s.handlePutMetadata)

		apiGroup.POST("/sync", s.handleStartSync)
		apiGroup.GET("/jobs", s.handleListJobs)
		apiGroup.GET("/jobs/:id", s.handleGetJob)

		apiGroup.POST("/bulk-send/preview", s.handleBulkPreview)
		apiGroup.POST("/bulk-send/execute", s.handleBulkExecute)
		apiGroup.GET("/bulk-send/jobs", s.handleListBulkJobs)
		apiGroup.GET("/bulk-send/jobs/:id", s.handleGetBulkJob)

		apiGroup.POST("/reports/generate", s.handleGenerateReport)
		apiGroup.GET("/reports", s.handleListReports)
		// "latest" is resolved inside the handler; gin rejects a static
		// sibling of the :id segment.
		apiGroup.GET("/reports/:id", s.handleGetReport)
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the HTTP server on the given listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.http = &http.Server{Handler: s.router}
	err := s.http.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
