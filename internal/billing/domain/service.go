package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreatePaymentRequest struct {
	BillingRecordID snowflake.ID
	AmountCents     int64
	PaidAt          time.Time
	Method          PaymentMethod
	// Status defaults to pending when empty.
	Status    PaymentStatus
	Reference string
}

type ListRecordsRequest struct {
	Status    RecordStatus
	YearLabel string
}

// Service is the manual-entry surface over records and payments. Every
// mutation re-derives downstream state instead of patching it: payment
// transitions go through the status synchronizer, record closure cancels
// the schedule.
type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (Payment, error)
	// TransitionPayment moves a payment to a new status and re-syncs
	// the installment it settles. Payments are never deleted.
	TransitionPayment(ctx context.Context, paymentID snowflake.ID, status PaymentStatus) (Payment, error)
	GetRecord(ctx context.Context, id snowflake.ID) (BillingRecord, error)
	ListRecords(ctx context.Context, req ListRecordsRequest) ([]BillingRecord, error)
	// CloseRecord closes (or terminates) a record and cancels its live
	// installments, returning how many were cancelled.
	CloseRecord(ctx context.Context, id snowflake.ID, terminate bool) (int, error)
}
