package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/dbscada/internal/types"
)

// GET /api/v1/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.provider.GetCurrentStatus())
}

// GET /api/v1/groups
func (s *Server) listGroups(c *gin.Context) {
	status := s.provider.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"groups": status.Groups,
		"count":  len(status.Groups),
	})
}

// GET /api/v1/groups/:name
func (s *Server) getGroup(c *gin.Context) {
	name := c.Param("name")

	group, ok := s.provider.GroupStatus(name)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("GROUP_404", "Device group not found", name))
		return
	}

	c.JSON(http.StatusOK, group)
}
