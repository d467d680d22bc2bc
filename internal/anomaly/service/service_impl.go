package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/clock"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	studentdomain "github.com/scolarium/scolarium/internal/student/domain"
	"github.com/scolarium/scolarium/pkg/db"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Obs   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	obs   *obsmetrics.Metrics
}

func NewService(p Params) anomalydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("anomaly.service"),
		genID: p.GenID,
		clock: p.Clock,
		obs:   p.Obs,
	}
}

// Scan walks the population item by item: duplicate identity groups
// first, then every active billing record. A failing item increments the
// error count and is skipped.
func (s *Service) Scan(ctx context.Context) (anomalydomain.ScanResult, error) {
	result := anomalydomain.ScanResult{}

	groups, err := s.duplicateNameGroups(ctx)
	if err != nil {
		return result, err
	}
	for _, key := range groups {
		result.Total++
		opened, err := s.flagDuplicateGroup(ctx, key)
		if err != nil {
			result.Errors++
			s.log.Warn("duplicate scan item failed", zap.String("name_key", key), zap.Error(err))
			continue
		}
		result.Success++
		result.AnomaliesOpened += opened
	}

	var records []billingdomain.BillingRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return result, err
	}
	for i := range records {
		record := &records[i]
		result.Total++
		opened, err := s.scanRecord(ctx, record)
		if err != nil {
			result.Errors++
			s.log.Warn("record scan item failed",
				zap.String("billing_record_id", record.ID.String()),
				zap.Error(err),
			)
			continue
		}
		result.Success++
		result.AnomaliesOpened += opened
	}

	return result, nil
}

func (s *Service) duplicateNameGroups(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&studentdomain.Student{}).
		Select("name_key").
		Group("name_key").
		Having("COUNT(*) > 1").
		Pluck("name_key", &keys).Error
	return keys, err
}

func (s *Service) flagDuplicateGroup(ctx context.Context, nameKey string) (int, error) {
	var students []studentdomain.Student
	if err := s.db.WithContext(ctx).
		Where("name_key = ?", nameKey).
		Order("created_at ASC").
		Find(&students).Error; err != nil {
		return 0, err
	}
	if len(students) < 2 {
		return 0, nil
	}

	emails := make([]string, 0, len(students))
	for _, st := range students {
		emails = append(emails, st.Email)
	}
	return s.open(ctx, anomalydomain.Anomaly{
		Type:      anomalydomain.AnomalyTypeDuplicateStudent,
		Severity:  anomalydomain.SeverityWarning,
		DedupeKey: fmt.Sprintf("duplicate_student:%s", nameKey),
		Detail: datatypes.JSONMap{
			"name_key": nameKey,
			"count":    len(students),
			"emails":   emails,
		},
	})
}

func (s *Service) scanRecord(ctx context.Context, record *billingdomain.BillingRecord) (int, error) {
	opened := 0

	if record.Status != billingdomain.RecordStatusActive {
		var orphans int64
		if err := s.db.WithContext(ctx).Model(&billingdomain.Payment{}).
			Where("billing_record_id = ? AND status = ?", record.ID, billingdomain.PaymentStatusPending).
			Count(&orphans).Error; err != nil {
			return opened, err
		}
		if orphans > 0 {
			n, err := s.open(ctx, anomalydomain.Anomaly{
				Type:            anomalydomain.AnomalyTypeOrphanPayment,
				Severity:        anomalydomain.SeverityCritical,
				BillingRecordID: &record.ID,
				DedupeKey:       fmt.Sprintf("orphan_payment:%s", record.ID.String()),
				Detail: datatypes.JSONMap{
					"billing_record_id": record.ID.String(),
					"pending_payments":  orphans,
					"record_status":     string(record.Status),
				},
			})
			if err != nil {
				return opened, err
			}
			opened += n
		}
		return opened, nil
	}

	// Active record: the non-cancelled schedule must cover tariff+arrears.
	var count int64
	if err := s.db.WithContext(ctx).Model(&billingdomain.Installment{}).
		Where("billing_record_id = ? AND status <> ?", record.ID, billingdomain.InstallmentStatusCancelled).
		Count(&count).Error; err != nil {
		return opened, err
	}
	if count == 0 {
		return opened, nil
	}
	var sum *int64
	if err := s.db.WithContext(ctx).Model(&billingdomain.Installment{}).
		Where("billing_record_id = ? AND status <> ?", record.ID, billingdomain.InstallmentStatusCancelled).
		Select("SUM(amount_cents)").Scan(&sum).Error; err != nil {
		return opened, err
	}
	total := int64(0)
	if sum != nil {
		total = *sum
	}
	if !billingdomain.WithinTolerance(total-record.ExpectedTotalCents()) && total < record.ExpectedTotalCents() {
		n, err := s.open(ctx, anomalydomain.Anomaly{
			Type:            anomalydomain.AnomalyTypeScheduleMismatch,
			Severity:        anomalydomain.SeverityWarning,
			BillingRecordID: &record.ID,
			DedupeKey:       fmt.Sprintf("schedule_mismatch:%s", record.ID.String()),
			Detail: datatypes.JSONMap{
				"billing_record_id": record.ID.String(),
				"schedule_total":    total,
				"expected_total":    record.ExpectedTotalCents(),
			},
		})
		if err != nil {
			return opened, err
		}
		opened += n
	}
	return opened, nil
}

// open inserts the anomaly unless one with the same dedupe key already
// exists; a prior resolved/ignored finding stays closed.
func (s *Service) open(ctx context.Context, a anomalydomain.Anomaly) (int, error) {
	now := s.clock.Now()
	a.ID = s.genID.Generate()
	a.Status = anomalydomain.AnomalyStatusOpen
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(&a).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return 0, nil
		}
		return 0, err
	}
	if s.obs != nil {
		s.obs.AnomaliesOpened.WithLabelValues(string(a.Type)).Inc()
	}
	return 1, nil
}

func (s *Service) Resolve(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id, anomalydomain.AnomalyStatusResolved)
}

func (s *Service) Ignore(ctx context.Context, id snowflake.ID) error {
	return s.transition(ctx, id, anomalydomain.AnomalyStatusIgnored)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, next anomalydomain.AnomalyStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a anomalydomain.Anomaly
		if err := tx.First(&a, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return anomalydomain.ErrAnomalyNotFound
			}
			return err
		}
		if a.Status != anomalydomain.AnomalyStatusOpen {
			return anomalydomain.ErrAnomalyClosed
		}
		return tx.Model(&anomalydomain.Anomaly{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": next, "updated_at": s.clock.Now()}).Error
	})
}

func (s *Service) List(ctx context.Context, req anomalydomain.ListRequest) ([]anomalydomain.Anomaly, error) {
	q := s.db.WithContext(ctx).Model(&anomalydomain.Anomaly{})
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.Type != "" {
		q = q.Where("type = ?", req.Type)
	}
	var anomalies []anomalydomain.Anomaly
	if err := q.Order("created_at DESC").Find(&anomalies).Error; err != nil {
		return nil, err
	}
	return anomalies, nil
}
