package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SweepInstallments runs one synchronization pass over every active
// record. The scheduled job runs the same operation; this endpoint lets
// operators force it.
func (s *Server) SweepInstallments(c *gin.Context) {
	result, err := s.syncSvc.Sweep(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
