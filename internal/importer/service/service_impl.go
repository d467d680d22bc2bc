package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/clock"
	importerdomain "github.com/scolarium/scolarium/internal/importer/domain"
	"github.com/scolarium/scolarium/internal/notify"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	scheduledomain "github.com/scolarium/scolarium/internal/schedule/domain"
	studentdomain "github.com/scolarium/scolarium/internal/student/domain"
	"github.com/scolarium/scolarium/pkg/db"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	ScheduleSvc scheduledomain.Service
	Tasks       *notify.Tasks
	Obs         *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	scheduleSvc scheduledomain.Service
	tasks       *notify.Tasks
	obs         *obsmetrics.Metrics
	validate    *validator.Validate
}

func NewService(p Params) importerdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("importer.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		scheduleSvc: p.ScheduleSvc,
		tasks:       p.Tasks,
		obs:         p.Obs,
		validate:    validator.New(),
	}
}

// Run ingests a parsed row set under a content fingerprint. Row failures
// are recorded and never abort the batch; only an unreachable store
// fails the job as a whole.
func (s *Service) Run(ctx context.Context, req importerdomain.Request) (importerdomain.Report, error) {
	if err := s.validate.StructPartial(req, "Fingerprint"); err != nil {
		return importerdomain.Report{}, importerdomain.ErrMissingFingerprint
	}
	if len(req.Rows) == 0 {
		return importerdomain.Report{}, importerdomain.ErrEmptyImport
	}

	if !req.Override {
		var done int64
		if err := s.db.WithContext(ctx).
			Model(&importerdomain.ImportJob{}).
			Where("fingerprint = ? AND status = ?", req.Fingerprint, importerdomain.ImportStatusDone).
			Count(&done).Error; err != nil {
			return importerdomain.Report{}, err
		}
		if done > 0 {
			return importerdomain.Report{}, importerdomain.ErrDuplicateImport
		}
	}

	now := s.clock.Now()
	job := importerdomain.ImportJob{
		ID:          s.genID.Generate(),
		Reference:   ulid.Make().String(),
		Fingerprint: req.Fingerprint,
		Status:      importerdomain.ImportStatusRunning,
		RowsSeen:    len(req.Rows),
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return importerdomain.Report{}, err
	}

	report := importerdomain.Report{
		JobReference: job.Reference,
		RowsSeen:     len(req.Rows),
		Outcomes:     make([]importerdomain.RowOutcome, 0, len(req.Rows)),
	}
	affected := make(map[snowflake.ID]struct{})

	for _, row := range req.Rows {
		outcome := s.processRow(ctx, row, affected)
		report.Outcomes = append(report.Outcomes, outcome)
		switch outcome.Outcome {
		case importerdomain.OutcomePersisted:
			report.RowsValid++
			report.RowsPersisted++
		case importerdomain.OutcomeRejected:
			report.RowsRejected++
		case importerdomain.OutcomeInsertFailed:
			report.RowsValid++
			report.RowsFailed++
		}
		if s.obs != nil {
			s.obs.ImportRows.WithLabelValues(outcome.Outcome).Inc()
		}
	}

	if err := s.finalizeJob(ctx, &job, report); err != nil {
		return importerdomain.Report{}, err
	}

	// Schedule regeneration is a best-effort follow-up: its failure is
	// logged but never rolls back the import.
	for recordID := range affected {
		id := recordID
		s.tasks.Submit(ctx, "schedule_regeneration", func(ctx context.Context) error {
			_, err := s.scheduleSvc.Generate(ctx, scheduledomain.GenerateRequest{RecordID: id, Force: true})
			if errors.Is(err, scheduledomain.ErrInvalidTariff) {
				return nil
			}
			return err
		})
	}

	s.log.Info("import finished",
		zap.String("job_reference", job.Reference),
		zap.Int("rows_seen", report.RowsSeen),
		zap.Int("rows_valid", report.RowsValid),
		zap.Int("rows_persisted", report.RowsPersisted),
		zap.Int("rows_rejected", report.RowsRejected),
		zap.Int("rows_failed", report.RowsFailed),
	)
	return report, nil
}

// processRow handles one source line in isolation: validate, match the
// student by normalized email, upsert the billing record, insert the
// payment. Validation and conflict problems reject the row; store
// problems during persist count as insert failures.
func (s *Service) processRow(ctx context.Context, row importerdomain.Row, affected map[snowflake.ID]struct{}) importerdomain.RowOutcome {
	identity := studentdomain.NormalizeEmail(row.Email)
	outcome := importerdomain.RowOutcome{Line: row.Line, Identity: identity}

	if reason := s.validateRow(row); reason != "" {
		outcome.Outcome = importerdomain.OutcomeRejected
		outcome.Reason = reason
		return outcome
	}

	var recordID snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		student, reason, err := s.matchOrCreateStudent(tx, row, identity)
		if err != nil {
			return err
		}
		if reason != "" {
			return rowRejection(reason)
		}

		record, err := s.upsertRecord(tx, student.ID, row)
		if err != nil {
			return err
		}
		recordID = record.ID

		if !row.HasPayment() {
			return nil
		}
		return s.insertPayment(tx, record.ID, row)
	})

	var rejection *rejectionError
	switch {
	case err == nil:
		outcome.Outcome = importerdomain.OutcomePersisted
		affected[recordID] = struct{}{}
	case errors.As(err, &rejection):
		outcome.Outcome = importerdomain.OutcomeRejected
		outcome.Reason = rejection.reason
	default:
		outcome.Outcome = importerdomain.OutcomeInsertFailed
		outcome.Reason = err.Error()
		s.log.Warn("import row insert failed",
			zap.Int("line", row.Line),
			zap.String("identity", identity),
			zap.Error(err),
		)
	}
	return outcome
}

func (s *Service) validateRow(row importerdomain.Row) string {
	if err := s.validate.Struct(row); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Sprintf("invalid_%s", fieldErrs[0].Field())
		}
		return "invalid_row"
	}
	if row.HasPayment() {
		if row.AmountCents <= 0 {
			return "invalid_amount"
		}
		if row.PaidAt == nil {
			return "missing_paid_at"
		}
		if !billingdomain.ValidMethod(billingdomain.PaymentMethod(row.Method)) {
			return "invalid_method"
		}
	}
	return ""
}

func (s *Service) matchOrCreateStudent(tx *gorm.DB, row importerdomain.Row, identity string) (studentdomain.Student, string, error) {
	now := s.clock.Now()
	var student studentdomain.Student
	err := tx.First(&student, "email = ?", identity).Error
	if err == nil {
		// Matched: update, never duplicate.
		if student.FirstName != row.FirstName || student.LastName != row.LastName {
			updates := map[string]any{
				"first_name": row.FirstName,
				"last_name":  row.LastName,
				"name_key":   studentdomain.NameKeyFor(row.FirstName, row.LastName),
				"updated_at": now,
			}
			if err := tx.Model(&studentdomain.Student{}).Where("id = ?", student.ID).Updates(updates).Error; err != nil {
				return studentdomain.Student{}, "", err
			}
		}
		return student, "", nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return studentdomain.Student{}, "", err
	}

	nameKey := studentdomain.NameKeyFor(row.FirstName, row.LastName)
	var sameName int64
	if err := tx.Model(&studentdomain.Student{}).
		Where("name_key = ? AND email <> ?", nameKey, identity).
		Count(&sameName).Error; err != nil {
		return studentdomain.Student{}, "", err
	}
	if sameName > 0 {
		return studentdomain.Student{}, "duplicate_student", nil
	}

	student = studentdomain.Student{
		ID:        s.genID.Generate(),
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Email:     identity,
		NameKey:   nameKey,
		Status:    studentdomain.StudentStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(&student).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return studentdomain.Student{}, "duplicate_student", nil
		}
		return studentdomain.Student{}, "", err
	}
	return student, "", nil
}

func (s *Service) upsertRecord(tx *gorm.DB, studentID snowflake.ID, row importerdomain.Row) (billingdomain.BillingRecord, error) {
	now := s.clock.Now()
	var record billingdomain.BillingRecord
	err := tx.First(&record, "student_id = ? AND year_label = ?", studentID, row.YearLabel).Error
	if err == nil {
		if row.TariffCents > 0 && row.TariffCents != record.TariffCents {
			if err := tx.Model(&billingdomain.BillingRecord{}).
				Where("id = ?", record.ID).
				Updates(map[string]any{"tariff_cents": row.TariffCents, "updated_at": now}).Error; err != nil {
				return billingdomain.BillingRecord{}, err
			}
			record.TariffCents = row.TariffCents
		}
		return record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return billingdomain.BillingRecord{}, err
	}

	if row.TariffCents <= 0 {
		return billingdomain.BillingRecord{}, rowRejection("missing_tariff")
	}
	record = billingdomain.BillingRecord{
		ID:          s.genID.Generate(),
		StudentID:   studentID,
		YearLabel:   row.YearLabel,
		TariffCents: row.TariffCents,
		Status:      billingdomain.RecordStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.Create(&record).Error; err != nil {
		return billingdomain.BillingRecord{}, err
	}
	return record, nil
}

func (s *Service) insertPayment(tx *gorm.DB, recordID snowflake.ID, row importerdomain.Row) error {
	now := s.clock.Now()
	if row.Reference != "" {
		var dup int64
		if err := tx.Model(&billingdomain.Payment{}).
			Where("billing_record_id = ? AND reference = ?", recordID, row.Reference).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return rowRejection("duplicate_payment_reference")
		}
	}

	payment := billingdomain.Payment{
		ID:              s.genID.Generate(),
		BillingRecordID: recordID,
		AmountCents:     row.AmountCents,
		PaidAt:          row.PaidAt.UTC(),
		Method:          billingdomain.PaymentMethod(row.Method),
		Status:          billingdomain.PaymentStatusValid,
		Reference:       row.Reference,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return tx.Create(&payment).Error
}

func (s *Service) finalizeJob(ctx context.Context, job *importerdomain.ImportJob, report importerdomain.Report) error {
	raw, err := json.Marshal(report.Outcomes)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	return s.db.WithContext(ctx).Model(&importerdomain.ImportJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":         importerdomain.ImportStatusDone,
			"rows_valid":     report.RowsValid,
			"rows_persisted": report.RowsPersisted,
			"rows_rejected":  report.RowsRejected,
			"rows_failed":    report.RowsFailed,
			"report":         datatypes.JSON(raw),
			"finished_at":    now,
		}).Error
}

// GetByReference returns a finished or running job by its operator-facing
// reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (importerdomain.ImportJob, error) {
	var job importerdomain.ImportJob
	if err := s.db.WithContext(ctx).First(&job, "reference = ?", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return importerdomain.ImportJob{}, importerdomain.ErrJobNotFound
		}
		return importerdomain.ImportJob{}, err
	}
	return job, nil
}

type rejectionError struct {
	reason string
}

func (e *rejectionError) Error() string { return e.reason }

func rowRejection(reason string) error {
	return &rejectionError{reason: reason}
}
