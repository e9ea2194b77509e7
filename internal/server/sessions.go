package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleListSessions is GET /api/sessions.
func (h *Handlers) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.List())
}

// handleGetSession is GET /api/session/:id.
func (h *Handlers) handleGetSession(c *gin.Context) {
	detail, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// handleDeleteSession is DELETE /api/session/:id.
func (h *Handlers) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Session %s deleted successfully", id),
	})
}
