package api

import (
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/stratopt/internal/config"
	"github.com/ajitpratap0/stratopt/internal/db"
	"github.com/ajitpratap0/stratopt/pkg/genetic"
	"github.com/ajitpratap0/stratopt/pkg/optimizer"
)

// StatusResponse describes the optimizer's current run
type StatusResponse struct {
	State          string                 `json:"state"`
	RunID          string                 `json:"run_id,omitempty"`
	Generation     int                    `json:"generation"`
	Completed      int64                  `json:"completed"`
	Planned        int64                  `json:"planned"`
	Progress       float64                `json:"progress"`
	BestFitness    *float64               `json:"best_fitness,omitempty"`
	BestParameters map[string]interface{} `json:"best_parameters,omitempty"`
	LastError      string                 `json:"last_error,omitempty"`
	StreamClients  int                    `json:"stream_clients"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "stratopt",
		"version": config.GetVersion(),
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth returns a simple health check (for load balancers)
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"time":       time.Now().UTC(),
		"uptime":     time.Since(s.startedAt).Seconds(),
		"goroutines": runtime.NumGoroutine(),
	})
}

// ============================================================================
// OPTIMIZER CONTROL
// ============================================================================

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		State:      s.optimizer.State().String(),
		RunID:      s.optimizer.RunID(),
		Generation: s.optimizer.Generation(),
	}

	resp.Completed, resp.Planned = s.optimizer.Progress()
	if resp.Planned > 0 {
		resp.Progress = float64(resp.Completed) / float64(resp.Planned)
	}

	if params, fitness, ok := s.optimizer.Best(); ok && fitness > genetic.MinFitness {
		resp.BestFitness = &fitness
		resp.BestParameters = params
	}
	if err := s.optimizer.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if s.hub != nil {
		resp.StreamClients = s.hub.ClientCount()
	}
	return resp
}

func (s *Server) handleGetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleSuspend(c *gin.Context) {
	s.control(c, "suspend", s.optimizer.Suspend)
}

func (s *Server) handleResume(c *gin.Context) {
	s.control(c, "resume", s.optimizer.Resume)
}

func (s *Server) handleStop(c *gin.Context) {
	s.control(c, "stop", s.optimizer.Stop)
}

// control runs a lifecycle call; a call made in the wrong state answers 409
func (s *Server) control(c *gin.Context, action string, fn func() error) {
	if err := fn(); err != nil {
		if errors.Is(err, optimizer.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{
				"error": err.Error(),
				"state": s.optimizer.State().String(),
			})
			return
		}
		log.Error().Err(err).Str("action", action).Msg("Optimizer control failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info().Str("action", action).Str("run_id", s.optimizer.RunID()).Msg("Optimizer control accepted")
	c.JSON(http.StatusAccepted, s.status())
}

// ============================================================================
// RUN HISTORY
// ============================================================================

func (s *Server) requireRuns(c *gin.Context) bool {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history requires a database"})
		return false
	}
	return true
}

func (s *Server) handleListRuns(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// runID extracts and validates the :id path parameter
func runID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return "", false
	}
	return id, true
}

func (s *Server) handleGetRun(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		log.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListGenerations(c *gin.Context) {
	if !s.requireRuns(c) {
		return
	}
	id, ok := runID(c)
	if !ok {
		return
	}

	generations, err := s.runs.ListGenerations(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("run_id", id).Msg("Failed to list generations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list generations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":      id,
		"generations": generations,
		"count":       len(generations),
	})
}
