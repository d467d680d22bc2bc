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
	"github.com/scolarium/scolarium/internal/clock"
	"github.com/scolarium/scolarium/internal/config"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	scheduledomain "github.com/scolarium/scolarium/internal/schedule/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Obs    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	policy config.InstallmentPolicy
	obs    *obsmetrics.Metrics
}

func NewService(p Params) scheduledomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("schedule.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		policy: p.Config.Installments,
		obs:    p.Obs,
	}
}

// Generate builds the installment schedule for one billing record: one
// installment per historical valid payment, plus the unpaid remainder
// spread over future monthly due dates. The resulting non-cancelled
// installments must sum to tariff+arrears; a mismatch aborts the whole
// operation.
func (s *Service) Generate(ctx context.Context, req scheduledomain.GenerateRequest) (scheduledomain.GenerateResult, error) {
	today := s.clock.Now()

	var created int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record billingdomain.BillingRecord
		if err := tx.First(&record, "id = ?", req.RecordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingdomain.ErrRecordNotFound
			}
			return err
		}
		if record.Status != billingdomain.RecordStatusActive {
			return billingdomain.ErrRecordNotActive
		}
		if record.TariffCents <= 0 {
			return scheduledomain.ErrInvalidTariff
		}

		var existing int64
		if err := tx.Model(&billingdomain.Installment{}).
			Where("billing_record_id = ? AND status <> ?", record.ID, billingdomain.InstallmentStatusCancelled).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			if !req.Force {
				return scheduledomain.ErrAlreadyScheduled
			}
			if err := tx.Model(&billingdomain.Installment{}).
				Where("billing_record_id = ? AND status <> ?", record.ID, billingdomain.InstallmentStatusCancelled).
				Updates(map[string]any{
					"status":     billingdomain.InstallmentStatusCancelled,
					"updated_at": today,
				}).Error; err != nil {
				return err
			}
		}

		var payments []billingdomain.Payment
		if err := tx.
			Where("billing_record_id = ? AND status = ?", record.ID, billingdomain.PaymentStatusValid).
			Order("paid_at ASC").
			Find(&payments).Error; err != nil {
			return err
		}

		installments := make([]billingdomain.Installment, 0, len(payments)+s.policy.MaxCount)
		var paidTotal int64
		var lastPaidAt time.Time
		for i := range payments {
			p := &payments[i]
			paidTotal += p.AmountCents
			if p.PaidAt.After(lastPaidAt) {
				lastPaidAt = p.PaidAt
			}

			status := billingdomain.InstallmentStatusUpcoming
			if !p.PaidAt.After(today) {
				status = billingdomain.InstallmentStatusPaid
			}
			inst := billingdomain.Installment{
				ID:              s.genID.Generate(),
				BillingRecordID: record.ID,
				AmountCents:     p.AmountCents,
				DueAt:           p.PaidAt,
				Status:          status,
				PaymentID:       &p.ID,
				CreatedAt:       today,
				UpdatedAt:       today,
			}
			installments = append(installments, inst)
			if err := tx.Model(&billingdomain.Payment{}).
				Where("id = ?", p.ID).
				Updates(map[string]any{"installment_id": inst.ID, "updated_at": today}).Error; err != nil {
				return err
			}
		}

		remaining := record.ExpectedTotalCents() - paidTotal
		if remaining > billingdomain.BalanceToleranceCents {
			anchor := today
			if lastPaidAt.After(anchor) {
				anchor = lastPaidAt
			}
			amounts := splitRemaining(remaining, s.policy)
			for i, amount := range amounts {
				installments = append(installments, billingdomain.Installment{
					ID:              s.genID.Generate(),
					BillingRecordID: record.ID,
					AmountCents:     amount,
					DueAt:           dueDate(anchor, i+1, s.policy.DayOfMonth),
					Status:          billingdomain.InstallmentStatusUpcoming,
					CreatedAt:       today,
					UpdatedAt:       today,
				})
			}
		}

		if len(installments) == 0 {
			return nil
		}

		if err := verifyTotals(record, installments, paidTotal); err != nil {
			if s.obs != nil {
				s.obs.ScheduleMismatch.Inc()
			}
			return err
		}

		if err := tx.Create(&installments).Error; err != nil {
			return err
		}
		created = len(installments)
		return nil
	})
	if err != nil {
		return scheduledomain.GenerateResult{}, err
	}

	if created > 0 {
		if s.obs != nil {
			s.obs.SchedulesBuilt.Inc()
		}
		s.log.Info("installment schedule generated",
			zap.String("billing_record_id", req.RecordID.String()),
			zap.Int("installments_created", created),
			zap.Bool("force", req.Force),
		)
	}
	return scheduledomain.GenerateResult{InstallmentsCreated: created}, nil
}

// splitRemaining spreads the remainder evenly; the last installment
// absorbs the rounding so the amounts sum to remaining exactly.
func splitRemaining(remaining int64, policy config.InstallmentPolicy) []int64 {
	count := int((remaining + policy.MinChunkCents - 1) / policy.MinChunkCents)
	if count < 1 {
		count = 1
	}
	if count > policy.MaxCount {
		count = policy.MaxCount
	}

	base := remaining / int64(count)
	amounts := make([]int64, count)
	var allocated int64
	for i := 0; i < count-1; i++ {
		amounts[i] = base
		allocated += base
	}
	amounts[count-1] = remaining - allocated
	return amounts
}

// dueDate is monthsAhead calendar months after anchor, normalized to the
// policy's day-of-month.
func dueDate(anchor time.Time, monthsAhead, dayOfMonth int) time.Time {
	anchor = anchor.UTC()
	year, month, _ := anchor.Date()
	return time.Date(year, month+time.Month(monthsAhead), dayOfMonth, 0, 0, 0, 0, time.UTC)
}

// verifyTotals enforces the scheduler contract before anything commits:
// non-cancelled installments cover tariff+arrears (or the full paid total
// when the record is overpaid).
func verifyTotals(record billingdomain.BillingRecord, installments []billingdomain.Installment, paidTotal int64) error {
	var sum int64
	for _, inst := range installments {
		sum += inst.AmountCents
	}
	expected := record.ExpectedTotalCents()
	if paidTotal > expected {
		expected = paidTotal
	}
	if !billingdomain.WithinTolerance(sum - expected) {
		return scheduledomain.ErrScheduleMismatch
	}
	return nil
}
