// Package domain defines the installment status synchronization contract.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// SweepResult reports what a sweep actually changed. Repeated sweeps
// converge: a second run right after the first reports zero changes.
type SweepResult struct {
	RecordsScanned            int `json:"records_scanned"`
	InstallmentsMarkedOverdue int `json:"installments_marked_overdue"`
	InstallmentsMarkedPaid    int `json:"installments_marked_paid"`
	RecordsChanged            int `json:"records_changed"`
	RecordErrors              int `json:"record_errors"`
}

// Service keeps installment lifecycle consistent with payment state and
// the current date.
type Service interface {
	Sweep(ctx context.Context) (SweepResult, error)
	// OnPaymentStatusChanged re-syncs the installment settled by the
	// given payment after its status changed, in both directions: a
	// demoted payment reverts its installment, a validated payment
	// settles it.
	OnPaymentStatusChanged(ctx context.Context, paymentID snowflake.ID) error
	// CancelForRecord cancels every non-cancelled installment of a
	// closing record and returns how many were cancelled.
	CancelForRecord(ctx context.Context, recordID snowflake.ID) (int, error)
}
