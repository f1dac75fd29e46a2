package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) InspectCode(c *gin.Context) {
	inspection, err := s.codeSvc.Inspect(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inspection})
}

func (s *Server) DisableCode(c *gin.Context) {
	code, err := s.codeSvc.Disable(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": code})
}
