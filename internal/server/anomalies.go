package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
)

func (s *Server) ListAnomalies(c *gin.Context) {
	req := anomalydomain.ListRequest{
		Status: anomalydomain.AnomalyStatus(c.Query("status")),
		Type:   anomalydomain.AnomalyType(c.Query("type")),
	}

	anomalies, err := s.anomalySvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": anomalies})
}

func (s *Server) ScanAnomalies(c *gin.Context) {
	result, err := s.anomalySvc.Scan(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ResolveAnomaly(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.anomalySvc.Resolve(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "status": anomalydomain.AnomalyStatusResolved}})
}

func (s *Server) IgnoreAnomaly(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.anomalySvc.Ignore(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "status": anomalydomain.AnomalyStatusIgnored}})
}
