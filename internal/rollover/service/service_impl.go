package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/clock"
	ledgerdomain "github.com/scolarium/scolarium/internal/ledger/domain"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	rolloverdomain "github.com/scolarium/scolarium/internal/rollover/domain"
	studentdomain "github.com/scolarium/scolarium/internal/student/domain"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	LedgerSvc ledgerdomain.Service
	Obs       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
	obs       *obsmetrics.Metrics
}

func NewService(p Params) rolloverdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("rollover.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
		obs:       p.Obs,
	}
}

func (s *Service) CloseGraduating(ctx context.Context, req rolloverdomain.CloseRequest) (rolloverdomain.BatchResult, error) {
	year := strings.TrimSpace(req.YearLabel)
	if year == "" {
		return rolloverdomain.BatchResult{}, rolloverdomain.ErrInvalidYear
	}

	candidates, err := s.candidates(ctx, year)
	if err != nil {
		return rolloverdomain.BatchResult{}, err
	}

	result := rolloverdomain.BatchResult{Total: len(candidates)}
	for i := range candidates {
		record := &candidates[i]
		if err := s.closeOne(ctx, record, true); err != nil {
			result.Errors++
			s.rowFailed("close_graduating", record.ID, err)
			continue
		}
		result.Success++
		s.rowDone("close_graduating")
	}

	s.log.Info("graduating records closed",
		zap.String("year_label", year),
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

func (s *Service) Promote(ctx context.Context, req rolloverdomain.PromoteRequest) (rolloverdomain.BatchResult, error) {
	fromYear := strings.TrimSpace(req.FromYear)
	toYear := strings.TrimSpace(req.ToYear)
	if fromYear == "" || toYear == "" {
		return rolloverdomain.BatchResult{}, rolloverdomain.ErrInvalidYear
	}
	if fromYear == toYear {
		return rolloverdomain.BatchResult{}, rolloverdomain.ErrSameYear
	}

	candidates, err := s.candidates(ctx, fromYear)
	if err != nil {
		return rolloverdomain.BatchResult{}, err
	}

	result := rolloverdomain.BatchResult{Total: len(candidates)}
	for i := range candidates {
		record := &candidates[i]
		if err := s.promoteOne(ctx, record, toYear); err != nil {
			result.Errors++
			s.rowFailed("promote", record.ID, err)
			continue
		}
		result.Success++
		s.rowDone("promote")
	}

	s.log.Info("records promoted",
		zap.String("from_year", fromYear),
		zap.String("to_year", toYear),
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

func (s *Service) candidates(ctx context.Context, yearLabel string) ([]billingdomain.BillingRecord, error) {
	var records []billingdomain.BillingRecord
	err := s.db.WithContext(ctx).
		Where("year_label = ? AND status = ?", yearLabel, billingdomain.RecordStatusActive).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// closeOne closes a record and cancels its live schedule; graduate also
// flips the student's status.
func (s *Service) closeOne(ctx context.Context, record *billingdomain.BillingRecord, graduate bool) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&billingdomain.Installment{}).
			Where("billing_record_id = ? AND status <> ?", record.ID, billingdomain.InstallmentStatusCancelled).
			Updates(map[string]any{"status": billingdomain.InstallmentStatusCancelled, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Model(&billingdomain.BillingRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{"status": billingdomain.RecordStatusClosed, "updated_at": now}).Error; err != nil {
			return err
		}
		if !graduate {
			return nil
		}
		return tx.Model(&studentdomain.Student{}).
			Where("id = ?", record.StudentID).
			Updates(map[string]any{"status": studentdomain.StudentStatusGraduated, "updated_at": now}).Error
	})
}

// promoteOne derives the outstanding balance before closing and carries
// it into the next year's record as arrears.
func (s *Service) promoteOne(ctx context.Context, record *billingdomain.BillingRecord, toYear string) error {
	summary, err := s.ledgerSvc.Summarize(ctx, record.ID)
	if err != nil {
		return err
	}
	arrears := summary.BalanceCents
	if arrears < 0 {
		arrears = 0
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&billingdomain.Installment{}).
			Where("billing_record_id = ? AND status <> ?", record.ID, billingdomain.InstallmentStatusCancelled).
			Updates(map[string]any{"status": billingdomain.InstallmentStatusCancelled, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := tx.Model(&billingdomain.BillingRecord{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{"status": billingdomain.RecordStatusClosed, "updated_at": now}).Error; err != nil {
			return err
		}
		next := billingdomain.BillingRecord{
			ID:           s.genID.Generate(),
			StudentID:    record.StudentID,
			YearLabel:    toYear,
			TariffCents:  record.TariffCents,
			ArrearsCents: arrears,
			Status:       billingdomain.RecordStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Create(&next).Error
	})
}

func (s *Service) rowFailed(operation string, recordID snowflake.ID, err error) {
	s.log.Warn("rollover row failed",
		zap.String("operation", operation),
		zap.String("billing_record_id", recordID.String()),
		zap.Error(err),
	)
	if s.obs != nil {
		s.obs.RolloverRows.WithLabelValues(operation, "error").Inc()
	}
}

func (s *Service) rowDone(operation string) {
	if s.obs != nil {
		s.obs.RolloverRows.WithLabelValues(operation, "success").Inc()
	}
}
