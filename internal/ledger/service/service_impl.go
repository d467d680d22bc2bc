package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	ledgerdomain "github.com/scolarium/scolarium/internal/ledger/domain"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ledger.service"),
	}
}

// Summarize pulls the record and its valid payments and derives the
// balance. It never writes; every caller that mutates payment state
// re-derives through here instead of patching balances incrementally.
func (s *Service) Summarize(ctx context.Context, recordID snowflake.ID) (ledgerdomain.Summary, error) {
	var record billingdomain.BillingRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.Summary{}, billingdomain.ErrRecordNotFound
		}
		return ledgerdomain.Summary{}, err
	}

	var payments []billingdomain.Payment
	if err := s.db.WithContext(ctx).
		Where("billing_record_id = ? AND status = ?", recordID, billingdomain.PaymentStatusValid).
		Order("paid_at ASC").
		Find(&payments).Error; err != nil {
		return ledgerdomain.Summary{}, err
	}

	summary := ledgerdomain.Summary{
		BillingRecordID: recordID,
		PaymentCount:    len(payments),
	}
	for _, p := range payments {
		summary.TotalPaidCents += p.AmountCents
		paidAt := p.PaidAt
		if summary.LastPaymentAt == nil || paidAt.After(*summary.LastPaymentAt) {
			summary.LastPaymentAt = ptrTime(paidAt)
		}
	}
	summary.BalanceCents = record.ExpectedTotalCents() - summary.TotalPaidCents

	state, err := s.classify(ctx, record, summary.BalanceCents)
	if err != nil {
		return ledgerdomain.Summary{}, err
	}
	summary.State = state

	return summary, nil
}

func (s *Service) classify(ctx context.Context, record billingdomain.BillingRecord, balanceCents int64) (billingdomain.PaymentState, error) {
	switch {
	case balanceCents < billingdomain.CreditorThresholdCents:
		return billingdomain.PaymentStateCreditor, nil
	case balanceCents <= billingdomain.BalanceToleranceCents:
		// Settled, including small credits above the creditor threshold.
		return billingdomain.PaymentStateCurrent, nil
	}

	// Positive balance: late when any installment is overdue, otherwise
	// the schedule is simply still running.
	var overdue int64
	if err := s.db.WithContext(ctx).
		Model(&billingdomain.Installment{}).
		Where("billing_record_id = ? AND status = ?", record.ID, billingdomain.InstallmentStatusOverdue).
		Count(&overdue).Error; err != nil {
		return "", err
	}
	if overdue > 0 {
		return billingdomain.PaymentStateLate, nil
	}
	return billingdomain.PaymentStateInProgress, nil
}

func ptrTime(t time.Time) *time.Time { return &t }
