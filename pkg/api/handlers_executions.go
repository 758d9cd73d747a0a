package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"trendharvest/pkg/models"
	"trendharvest/pkg/storage"
)

// --- Execution Handlers ---

// getExecution handles GET /api/v1/executions/:id
func (s *Server) getExecution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution ID"})
		return
	}

	exec, err := s.execStore.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution"})
		return
	}

	c.JSON(http.StatusOK, exec)
}

// cancelExecution handles POST /api/v1/executions/:id/cancel
func (s *Server) cancelExecution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution ID"})
		return
	}

	exec, err := s.execStore.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load execution"})
		return
	}

	switch exec.Status {
	case models.ExecutionSuccess, models.ExecutionFailed, models.ExecutionCancelled:
		c.JSON(http.StatusConflict, gin.H{"error": "execution already finished", "status": exec.Status})
		return
	}

	if err := s.execStore.UpdateResult(c.Request.Context(), id, models.ExecutionCancelled, -1, "", ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel execution"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "execution cancelled",
		"id":      id,
	})
}

// --- Cluster Handlers ---

// listNodes handles GET /api/v1/cluster/nodes
func (s *Server) listNodes(c *gin.Context) {
	nodes, err := s.coordinator.GetActiveNodes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get nodes: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nodes": nodes,
		"count": len(nodes),
	})
}

// getLeader handles GET /api/v1/cluster/leader
func (s *Server) getLeader(c *gin.Context) {
	if s.election == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "leader election not available"})
		return
	}

	leader, err := s.election.Leader(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no leader elected"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"leader": leader})
}
