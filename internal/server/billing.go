package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	ledgerdomain "github.com/scolarium/scolarium/internal/ledger/domain"
)

type billingRecordView struct {
	billingdomain.BillingRecord
	Summary *ledgerdomain.Summary `json:"summary,omitempty"`
}

func (s *Server) ListBillingRecords(c *gin.Context) {
	req := billingdomain.ListRecordsRequest{
		Status:    billingdomain.RecordStatus(c.Query("status")),
		YearLabel: c.Query("year_label"),
	}

	records, err := s.billingSvc.ListRecords(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]billingRecordView, 0, len(records))
	for _, record := range records {
		view := billingRecordView{BillingRecord: record}
		summary, err := s.ledgerSvc.Summarize(c.Request.Context(), record.ID)
		if err == nil {
			view.Summary = &summary
		}
		items = append(items, view)
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetBillingRecord(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	record, err := s.billingSvc.GetRecord(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.ledgerSvc.Summarize(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": billingRecordView{BillingRecord: record, Summary: &summary}})
}

func (s *Server) GetBalance(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	summary, err := s.ledgerSvc.Summarize(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) CloseBillingRecord(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	terminate, err := parseOptionalBool(c.Query("terminate"))
	if err != nil {
		AbortWithError(c, newValidationError("terminate", "invalid_terminate", "invalid terminate flag"))
		return
	}

	cancelled, err := s.billingSvc.CloseRecord(c.Request.Context(), id, terminate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := billingdomain.RecordStatusClosed
	if terminate {
		status = billingdomain.RecordStatusTerminated
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"billing_record_id":      id,
		"status":                 status,
		"installments_cancelled": cancelled,
	}})
}

type createPaymentRequest struct {
	BillingRecordID string `json:"billing_record_id"`
	AmountCents     int64  `json:"amount_cents"`
	PaidAt          string `json:"paid_at,omitempty"`
	Method          string `json:"method"`
	Status          string `json:"status,omitempty"`
	Reference       string `json:"reference,omitempty"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	var body createPaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	recordID, err := parsePathID(body.BillingRecordID)
	if err != nil {
		AbortWithError(c, newValidationError("billing_record_id", "invalid_id", "invalid id"))
		return
	}

	paidAt, err := parseOptionalTime(body.PaidAt)
	if err != nil {
		AbortWithError(c, newValidationError("paid_at", "invalid_time", "invalid paid_at"))
		return
	}

	req := billingdomain.CreatePaymentRequest{
		BillingRecordID: recordID,
		AmountCents:     body.AmountCents,
		Method:          billingdomain.PaymentMethod(body.Method),
		Status:          billingdomain.PaymentStatus(body.Status),
		Reference:       body.Reference,
	}
	if paidAt != nil {
		req.PaidAt = *paidAt
	}

	payment, err := s.billingSvc.CreatePayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

type transitionPaymentRequest struct {
	Status string `json:"status"`
}

func (s *Server) TransitionPayment(c *gin.Context) {
	id, err := parsePathID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var body transitionPaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payment, err := s.billingSvc.TransitionPayment(c.Request.Context(), id, billingdomain.PaymentStatus(body.Status))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}
