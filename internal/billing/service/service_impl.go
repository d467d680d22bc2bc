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
	"github.com/scolarium/scolarium/internal/notify"
	scheduledomain "github.com/scolarium/scolarium/internal/schedule/domain"
	syncdomain "github.com/scolarium/scolarium/internal/statussync/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	SyncSvc     syncdomain.Service
	ScheduleSvc scheduledomain.Service
	Tasks       *notify.Tasks
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	syncSvc     syncdomain.Service
	scheduleSvc scheduledomain.Service
	tasks       *notify.Tasks
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("billing.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		syncSvc:     p.SyncSvc,
		scheduleSvc: p.ScheduleSvc,
		tasks:       p.Tasks,
	}
}

func (s *Service) CreatePayment(ctx context.Context, req billingdomain.CreatePaymentRequest) (billingdomain.Payment, error) {
	if req.AmountCents <= 0 {
		return billingdomain.Payment{}, billingdomain.ErrInvalidAmount
	}
	if !billingdomain.ValidMethod(req.Method) {
		return billingdomain.Payment{}, billingdomain.ErrInvalidMethod
	}
	status := req.Status
	if status == "" {
		status = billingdomain.PaymentStatusPending
	}
	if !billingdomain.ValidPaymentStatus(status) {
		return billingdomain.Payment{}, billingdomain.ErrInvalidStatus
	}

	var record billingdomain.BillingRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", req.BillingRecordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billingdomain.Payment{}, billingdomain.ErrRecordNotFound
		}
		return billingdomain.Payment{}, err
	}
	if record.Status != billingdomain.RecordStatusActive {
		return billingdomain.Payment{}, billingdomain.ErrRecordNotActive
	}

	now := s.clock.Now()
	paidAt := req.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	payment := billingdomain.Payment{
		ID:              s.genID.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     req.AmountCents,
		PaidAt:          paidAt.UTC(),
		Method:          req.Method,
		Status:          status,
		Reference:       req.Reference,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
		return billingdomain.Payment{}, err
	}

	if status == billingdomain.PaymentStatusValid {
		s.submitScheduleRepair(ctx, record.ID)
	}

	s.log.Info("payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("billing_record_id", record.ID.String()),
		zap.Int64("amount_cents", payment.AmountCents),
		zap.String("status", string(status)),
	)
	return payment, nil
}

func (s *Service) TransitionPayment(ctx context.Context, paymentID snowflake.ID, status billingdomain.PaymentStatus) (billingdomain.Payment, error) {
	if !billingdomain.ValidPaymentStatus(status) {
		return billingdomain.Payment{}, billingdomain.ErrInvalidStatus
	}

	var payment billingdomain.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billingdomain.Payment{}, billingdomain.ErrPaymentNotFound
		}
		return billingdomain.Payment{}, err
	}
	if payment.Status == status {
		return payment, nil
	}

	now := s.clock.Now()
	if err := s.db.WithContext(ctx).Model(&billingdomain.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{"status": status, "updated_at": now}).Error; err != nil {
		return billingdomain.Payment{}, err
	}
	previous := payment.Status
	payment.Status = status
	payment.UpdatedAt = now

	// The linked installment must follow the payment in both directions.
	if err := s.syncSvc.OnPaymentStatusChanged(ctx, payment.ID); err != nil {
		return billingdomain.Payment{}, err
	}

	s.log.Info("payment transitioned",
		zap.String("payment_id", payment.ID.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
	)
	return payment, nil
}

func (s *Service) GetRecord(ctx context.Context, id snowflake.ID) (billingdomain.BillingRecord, error) {
	var record billingdomain.BillingRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return billingdomain.BillingRecord{}, billingdomain.ErrRecordNotFound
		}
		return billingdomain.BillingRecord{}, err
	}
	return record, nil
}

func (s *Service) ListRecords(ctx context.Context, req billingdomain.ListRecordsRequest) ([]billingdomain.BillingRecord, error) {
	q := s.db.WithContext(ctx).Model(&billingdomain.BillingRecord{})
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.YearLabel != "" {
		q = q.Where("year_label = ?", req.YearLabel)
	}
	var records []billingdomain.BillingRecord
	if err := q.Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) CloseRecord(ctx context.Context, id snowflake.ID, terminate bool) (int, error) {
	var record billingdomain.BillingRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, billingdomain.ErrRecordNotFound
		}
		return 0, err
	}
	if record.Status != billingdomain.RecordStatusActive {
		return 0, billingdomain.ErrRecordNotActive
	}

	next := billingdomain.RecordStatusClosed
	if terminate {
		next = billingdomain.RecordStatusTerminated
	}
	if err := s.db.WithContext(ctx).Model(&billingdomain.BillingRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": next, "updated_at": s.clock.Now()}).Error; err != nil {
		return 0, err
	}
	return s.syncSvc.CancelForRecord(ctx, id)
}

// submitScheduleRepair regenerates the record's schedule best-effort so a
// new valid payment is reflected in the installment plan.
func (s *Service) submitScheduleRepair(ctx context.Context, recordID snowflake.ID) {
	s.tasks.Submit(ctx, "schedule_repair", func(ctx context.Context) error {
		_, err := s.scheduleSvc.Generate(ctx, scheduledomain.GenerateRequest{RecordID: recordID, Force: true})
		if errors.Is(err, scheduledomain.ErrInvalidTariff) {
			return nil
		}
		return err
	})
}
