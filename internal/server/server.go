// Package server exposes the REST and WebSocket surface.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AkhileshMalthi/taskflow/internal/broadcast"
	"github.com/AkhileshMalthi/taskflow/internal/orchestrator"
	"github.com/AkhileshMalthi/taskflow/internal/task"
)

// Server handles API requests against the orchestrator.
type Server struct {
	orch     *orchestrator.Orchestrator
	hub      *broadcast.Hub
	registry *prometheus.Registry
	log      *slog.Logger
}

// New builds a server. A nil registry disables the metrics endpoint.
func New(orch *orchestrator.Orchestrator, hub *broadcast.Hub, registry *prometheus.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orch: orch, hub: hub, registry: registry, log: log}
}

// Router assembles the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/health", s.health)
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1/tasks")
	{
		api.POST("", s.createTask)
		api.GET("/:id", s.getTask)
		api.POST("/:id/approve", s.approveTask)
	}

	r.GET("/ws/tasks/:id", s.watchTask)
	return r
}

type createTaskRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type taskRefResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type approveRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// createTask accepts a prompt and queues the workflow, answering 202
// before any work happens.
func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	t, err := s.orch.Submit(c.Request.Context(), req.Prompt)
	if err != nil {
		s.log.Error("submit task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task"})
		return
	}
	c.JSON(http.StatusAccepted, taskRefResponse{
		TaskID: t.ID.String(),
		Status: string(t.Status),
	})
}

func (s *Server) getTask(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}

	t, err := s.orch.Get(c.Request.Context(), id)
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task with id " + id.String() + " not found"})
		return
	}
	if err != nil {
		s.log.Error("get task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// approveTask records the human decision for a suspended task. Only a
// task sitting at AWAITING_APPROVAL accepts one.
func (s *Server) approveTask(c *gin.Context) {
	id, ok := s.taskID(c)
	if !ok {
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid approval payload"})
		return
	}

	t, err := s.orch.Approve(c.Request.Context(), id, req.Approved, req.Feedback)
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task with id " + id.String() + " not found"})
		return
	}
	if errors.Is(err, orchestrator.ErrNotAwaitingApproval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.log.Error("approve task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply approval"})
		return
	}
	c.JSON(http.StatusOK, taskRefResponse{
		TaskID: t.ID.String(),
		Status: string(t.Status),
	})
}

func (s *Server) taskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return uuid.Nil, false
	}
	return id, true
}
