package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ovokpus/regcopilot/internal/docparse"
	"github.com/ovokpus/regcopilot/internal/regulatory"
	"github.com/ovokpus/regcopilot/pkg/version"
)

// handleRoot is GET /: the service banner.
func (h *Handlers) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":          "Regulatory Reporting Copilot API",
		"version":          version.Short(),
		"global_kb_status": h.kb.Info().Status,
	})
}

// handleHealth is GET /health: liveness plus knowledge base and query
// telemetry summaries.
func (h *Handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":                   "healthy",
		"global_kb":                h.kb.Info(),
		"active_sessions":          h.sessions.Len(),
		"supported_document_types": docparse.SupportedExtensions(),
		"queries":                  h.metrics.Stats(),
	})
}

type roleInfo struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

type regulatoryRolesResponse struct {
	Roles      []roleInfo        `json:"roles"`
	Frameworks map[string]string `json:"frameworks"`
}

// handleRegulatoryRoles is GET /api/regulatory-roles: the role and
// framework vocabulary the regulatory chat endpoint understands.
func (h *Handlers) handleRegulatoryRoles(c *gin.Context) {
	roles := make([]roleInfo, 0)
	for _, role := range regulatory.SupportedRoles() {
		roles = append(roles, roleInfo{Role: string(role), Name: regulatory.RoleName(role)})
	}
	c.JSON(http.StatusOK, regulatoryRolesResponse{
		Roles:      roles,
		Frameworks: regulatory.Frameworks(),
	})
}
