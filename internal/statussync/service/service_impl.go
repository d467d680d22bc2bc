package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/clock"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	syncdomain "github.com/scolarium/scolarium/internal/statussync/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Obs   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	obs   *obsmetrics.Metrics
}

func NewService(p Params) syncdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("statussync.service"),
		clock: p.Clock,
		obs:   p.Obs,
	}
}

// Sweep walks every active record's installments and converges their
// statuses against the current date and payment linkage. A record that
// cannot be processed is counted as an error and skipped.
func (s *Service) Sweep(ctx context.Context) (syncdomain.SweepResult, error) {
	var recordIDs []snowflake.ID
	if err := s.db.WithContext(ctx).
		Model(&billingdomain.BillingRecord{}).
		Where("status = ?", billingdomain.RecordStatusActive).
		Pluck("id", &recordIDs).Error; err != nil {
		return syncdomain.SweepResult{}, err
	}

	result := syncdomain.SweepResult{RecordsScanned: len(recordIDs)}
	for _, recordID := range recordIDs {
		overdue, paid, err := s.syncRecord(ctx, recordID)
		if err != nil {
			result.RecordErrors++
			s.log.Warn("sweep skipped record",
				zap.String("billing_record_id", recordID.String()),
				zap.Error(err),
			)
			continue
		}
		result.InstallmentsMarkedOverdue += overdue
		result.InstallmentsMarkedPaid += paid
		if overdue+paid > 0 {
			result.RecordsChanged++
		}
	}

	if s.obs != nil {
		s.obs.SweepTransitions.WithLabelValues("overdue").Add(float64(result.InstallmentsMarkedOverdue))
		s.obs.SweepTransitions.WithLabelValues("paid").Add(float64(result.InstallmentsMarkedPaid))
	}
	return result, nil
}

func (s *Service) syncRecord(ctx context.Context, recordID snowflake.ID) (overdue, paid int, err error) {
	today := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var installments []billingdomain.Installment
		if err := tx.
			Where("billing_record_id = ? AND status IN ?", recordID, []billingdomain.InstallmentStatus{
				billingdomain.InstallmentStatusUpcoming,
				billingdomain.InstallmentStatusOverdue,
			}).
			Find(&installments).Error; err != nil {
			return err
		}

		for i := range installments {
			inst := &installments[i]
			settled, err := s.hasValidSettlingPayment(tx, inst)
			if err != nil {
				return err
			}

			var next billingdomain.InstallmentStatus
			switch {
			case settled:
				next = billingdomain.InstallmentStatusPaid
			case inst.DueAt.Before(today) && inst.Status == billingdomain.InstallmentStatusUpcoming:
				next = billingdomain.InstallmentStatusOverdue
			default:
				continue
			}
			if next == inst.Status {
				continue
			}

			if err := tx.Model(&billingdomain.Installment{}).
				Where("id = ?", inst.ID).
				Updates(map[string]any{"status": next, "updated_at": today}).Error; err != nil {
				return err
			}
			switch next {
			case billingdomain.InstallmentStatusPaid:
				paid++
			case billingdomain.InstallmentStatusOverdue:
				overdue++
			}
		}
		return nil
	})
	return overdue, paid, err
}

func (s *Service) hasValidSettlingPayment(tx *gorm.DB, inst *billingdomain.Installment) (bool, error) {
	if inst.PaymentID == nil {
		return false, nil
	}
	var count int64
	if err := tx.Model(&billingdomain.Payment{}).
		Where("id = ? AND status = ?", *inst.PaymentID, billingdomain.PaymentStatusValid).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// OnPaymentStatusChanged keeps the linked installment consistent after a
// payment transition. Demotion from valid reverts a paid installment to
// upcoming or overdue depending on its due date.
func (s *Service) OnPaymentStatusChanged(ctx context.Context, paymentID snowflake.ID) error {
	today := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment billingdomain.Payment
		if err := tx.First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return billingdomain.ErrPaymentNotFound
			}
			return err
		}

		var inst billingdomain.Installment
		err := tx.First(&inst, "payment_id = ?", payment.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if inst.Status == billingdomain.InstallmentStatusCancelled {
			return nil
		}

		var next billingdomain.InstallmentStatus
		if payment.Status == billingdomain.PaymentStatusValid {
			next = billingdomain.InstallmentStatusPaid
		} else if inst.DueAt.Before(today) {
			next = billingdomain.InstallmentStatusOverdue
		} else {
			next = billingdomain.InstallmentStatusUpcoming
		}
		if next == inst.Status {
			return nil
		}

		s.log.Info("installment re-synced after payment transition",
			zap.String("installment_id", inst.ID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.String("payment_status", string(payment.Status)),
			zap.String("installment_status", string(next)),
		)
		return tx.Model(&billingdomain.Installment{}).
			Where("id = ?", inst.ID).
			Updates(map[string]any{"status": next, "updated_at": today}).Error
	})
}

// CancelForRecord moves every live installment of a record to cancelled.
func (s *Service) CancelForRecord(ctx context.Context, recordID snowflake.ID) (int, error) {
	today := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&billingdomain.Installment{}).
		Where("billing_record_id = ? AND status <> ?", recordID, billingdomain.InstallmentStatusCancelled).
		Updates(map[string]any{"status": billingdomain.InstallmentStatusCancelled, "updated_at": today})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
