package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	importerdomain "github.com/scolarium/scolarium/internal/importer/domain"
)

func (s *Server) RunImport(c *gin.Context) {
	var req importerdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	report, err := s.importerSvc.Run(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": report})
}

func (s *Server) GetImport(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	if reference == "" {
		AbortWithError(c, newValidationError("reference", "invalid_reference", "invalid reference"))
		return
	}

	job, err := s.importerSvc.GetByReference(c.Request.Context(), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}
