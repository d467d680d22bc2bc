package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	rolloverdomain "github.com/scolarium/scolarium/internal/rollover/domain"
)

func (s *Server) GraduateYear(c *gin.Context) {
	var req rolloverdomain.CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.rolloverSvc.CloseGraduating(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) PromoteYear(c *gin.Context) {
	var req rolloverdomain.PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.rolloverSvc.Promote(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
