package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/clock"
	ledgerservice "github.com/scolarium/scolarium/internal/ledger/service"
	rolloverdomain "github.com/scolarium/scolarium/internal/rollover/domain"
	studentdomain "github.com/scolarium/scolarium/internal/student/domain"
)

func newTestService(t *testing.T, now time.Time) (rolloverdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&studentdomain.Student{},
		&billingdomain.BillingRecord{},
		&billingdomain.Payment{},
		&billingdomain.Installment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	logger := zap.NewNop()
	svc := NewService(Params{
		DB:        conn,
		Log:       logger,
		GenID:     node,
		Clock:     clock.NewFakeClock(now),
		LedgerSvc: ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: logger}),
	})
	return svc, conn, node
}

func enroll(t *testing.T, conn *gorm.DB, node *snowflake.Node, email, year string, tariff int64) (studentdomain.Student, billingdomain.BillingRecord) {
	t.Helper()
	student := studentdomain.Student{
		ID:        node.Generate(),
		FirstName: "Test",
		LastName:  "Student",
		Email:     email,
		NameKey:   studentdomain.NameKeyFor("Test", email),
		Status:    studentdomain.StudentStatusActive,
	}
	require.NoError(t, conn.Create(&student).Error)
	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   student.ID,
		YearLabel:   year,
		TariffCents: tariff,
		Status:      billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&record).Error)
	return student, record
}

func TestPromote_CarriesBalanceAsArrears(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)

	student, record := enroll(t, conn, node, "amelie.durand@example.org", "2025-2026", 850000)
	require.NoError(t, conn.Create(&billingdomain.Payment{
		ID:              node.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     200000,
		PaidAt:          now.AddDate(0, -3, 0),
		Method:          billingdomain.PaymentMethodTransfer,
		Status:          billingdomain.PaymentStatusValid,
	}).Error)
	require.NoError(t, conn.Create(&billingdomain.Installment{
		ID:              node.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     650000,
		DueAt:           now.AddDate(0, 1, 0),
		Status:          billingdomain.InstallmentStatusUpcoming,
	}).Error)

	result, err := svc.Promote(context.Background(), rolloverdomain.PromoteRequest{
		FromYear: "2025-2026",
		ToYear:   "2026-2027",
	})
	require.NoError(t, err)
	assert.Equal(t, rolloverdomain.BatchResult{Total: 1, Success: 1, Errors: 0}, result)

	var old billingdomain.BillingRecord
	require.NoError(t, conn.First(&old, "id = ?", record.ID).Error)
	assert.Equal(t, billingdomain.RecordStatusClosed, old.Status)

	var cancelled int64
	require.NoError(t, conn.Model(&billingdomain.Installment{}).
		Where("billing_record_id = ? AND status = ?", record.ID, billingdomain.InstallmentStatusCancelled).
		Count(&cancelled).Error)
	assert.Equal(t, int64(1), cancelled)

	var next billingdomain.BillingRecord
	require.NoError(t, conn.First(&next, "student_id = ? AND year_label = ?", student.ID, "2026-2027").Error)
	assert.Equal(t, int64(850000), next.TariffCents)
	assert.Equal(t, int64(650000), next.ArrearsCents)
	assert.Equal(t, billingdomain.RecordStatusActive, next.Status)
}

func TestPromote_CreditBalanceDoesNotBecomeArrears(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)

	student, record := enroll(t, conn, node, "karim.benali@example.org", "2025-2026", 500000)
	require.NoError(t, conn.Create(&billingdomain.Payment{
		ID:              node.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     520000,
		PaidAt:          now.AddDate(0, -1, 0),
		Method:          billingdomain.PaymentMethodCash,
		Status:          billingdomain.PaymentStatusValid,
	}).Error)

	_, err := svc.Promote(context.Background(), rolloverdomain.PromoteRequest{
		FromYear: "2025-2026",
		ToYear:   "2026-2027",
	})
	require.NoError(t, err)

	var next billingdomain.BillingRecord
	require.NoError(t, conn.First(&next, "student_id = ? AND year_label = ?", student.ID, "2026-2027").Error)
	assert.Equal(t, int64(0), next.ArrearsCents)
}

func TestPromote_RowFailureDoesNotAbortTheBatch(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)

	enroll(t, conn, node, "ok.student@example.org", "2025-2026", 600000)

	// This student already holds the target-year record: the unique
	// (student, year) index makes their promotion fail.
	conflicted, _ := enroll(t, conn, node, "conflict.student@example.org", "2025-2026", 600000)
	require.NoError(t, conn.Create(&billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   conflicted.ID,
		YearLabel:   "2026-2027",
		TariffCents: 600000,
		Status:      billingdomain.RecordStatusActive,
	}).Error)

	result, err := svc.Promote(context.Background(), rolloverdomain.PromoteRequest{
		FromYear: "2025-2026",
		ToYear:   "2026-2027",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, result.Total, result.Success+result.Errors)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Success)

	// The failed row rolled back whole: its source record is still active.
	var stillActive int64
	require.NoError(t, conn.Model(&billingdomain.BillingRecord{}).
		Where("student_id = ? AND year_label = ? AND status = ?", conflicted.ID, "2025-2026", billingdomain.RecordStatusActive).
		Count(&stillActive).Error)
	assert.Equal(t, int64(1), stillActive)
}

func TestCloseGraduating_GraduatesStudents(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)

	studentA, recordA := enroll(t, conn, node, "a@example.org", "2025-2026", 700000)
	studentB, _ := enroll(t, conn, node, "b@example.org", "2025-2026", 700000)
	require.NoError(t, conn.Create(&billingdomain.Installment{
		ID:              node.Generate(),
		BillingRecordID: recordA.ID,
		AmountCents:     700000,
		DueAt:           now.AddDate(0, 1, 0),
		Status:          billingdomain.InstallmentStatusUpcoming,
	}).Error)

	result, err := svc.CloseGraduating(context.Background(), rolloverdomain.CloseRequest{YearLabel: "2025-2026"})
	require.NoError(t, err)
	assert.Equal(t, rolloverdomain.BatchResult{Total: 2, Success: 2, Errors: 0}, result)

	for _, id := range []snowflake.ID{studentA.ID, studentB.ID} {
		var student studentdomain.Student
		require.NoError(t, conn.First(&student, "id = ?", id).Error)
		assert.Equal(t, studentdomain.StudentStatusGraduated, student.Status)
	}

	var open int64
	require.NoError(t, conn.Model(&billingdomain.BillingRecord{}).
		Where("year_label = ? AND status = ?", "2025-2026", billingdomain.RecordStatusActive).
		Count(&open).Error)
	assert.Equal(t, int64(0), open)
}

func TestRollover_RequestGuards(t *testing.T) {
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.CloseGraduating(ctx, rolloverdomain.CloseRequest{})
	assert.ErrorIs(t, err, rolloverdomain.ErrInvalidYear)

	_, err = svc.Promote(ctx, rolloverdomain.PromoteRequest{FromYear: "2025-2026"})
	assert.ErrorIs(t, err, rolloverdomain.ErrInvalidYear)

	_, err = svc.Promote(ctx, rolloverdomain.PromoteRequest{FromYear: "2025-2026", ToYear: "2025-2026"})
	assert.ErrorIs(t, err, rolloverdomain.ErrSameYear)
}
