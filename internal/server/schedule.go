package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	scheduledomain "github.com/scolarium/scolarium/internal/schedule/domain"
)

func (s *Server) ListInstallments(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var count int64
	if err := s.db.WithContext(c.Request.Context()).Model(&billingdomain.BillingRecord{}).
		Where("id = ?", id).Count(&count).Error; err != nil {
		AbortWithError(c, err)
		return
	}
	if count == 0 {
		AbortWithError(c, billingdomain.ErrRecordNotFound)
		return
	}

	var installments []billingdomain.Installment
	if err := s.db.WithContext(c.Request.Context()).
		Where("billing_record_id = ?", id).
		Order("due_at ASC, id ASC").
		Find(&installments).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": installments})
}

func (s *Server) GenerateSchedule(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	force, err := parseOptionalBool(c.Query("force"))
	if err != nil {
		AbortWithError(c, newValidationError("force", "invalid_force", "invalid force flag"))
		return
	}

	result, err := s.scheduleSvc.Generate(c.Request.Context(), scheduledomain.GenerateRequest{
		RecordID: id,
		Force:    force,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}
