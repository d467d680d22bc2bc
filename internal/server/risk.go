package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	riskdomain "github.com/scolarium/scolarium/internal/risk/domain"
)

func (s *Server) EvaluateRisk(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	evaluation, err := s.riskSvc.Evaluate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": evaluation})
}

// GetLatestRisk returns the most recent stored evaluation without
// triggering a new scoring run.
func (s *Server) GetLatestRisk(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var stored riskdomain.RiskEvaluation
	if err := s.db.WithContext(c.Request.Context()).
		Where("billing_record_id = ?", id).
		Order("evaluated_on DESC").
		First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortWithError(c, gorm.ErrRecordNotFound)
			return
		}
		AbortWithError(c, err)
		return
	}

	var factors []riskdomain.FactorHit
	if len(stored.Factors) > 0 {
		_ = json.Unmarshal(stored.Factors, &factors)
	}

	c.JSON(http.StatusOK, gin.H{"data": riskdomain.Evaluation{
		BillingRecordID: stored.BillingRecordID,
		Score:           stored.Score,
		Level:           stored.Level,
		Factors:         factors,
		Recommendation:  stored.Recommendation,
		EvaluatedOn:     stored.EvaluatedOn,
	}})
}
