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

	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/clock"
	studentdomain "github.com/scolarium/scolarium/internal/student/domain"
)

func newTestService(t *testing.T, now time.Time) (anomalydomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&studentdomain.Student{},
		&billingdomain.BillingRecord{},
		&billingdomain.Payment{},
		&billingdomain.Installment{},
		&anomalydomain.Anomaly{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(now),
	})
	return svc, conn, node
}

func newStudent(t *testing.T, conn *gorm.DB, node *snowflake.Node, first, last, email string) studentdomain.Student {
	t.Helper()
	student := studentdomain.Student{
		ID:        node.Generate(),
		FirstName: first,
		LastName:  last,
		Email:     email,
		NameKey:   studentdomain.NameKeyFor(first, last),
		Status:    studentdomain.StudentStatusActive,
	}
	require.NoError(t, conn.Create(&student).Error)
	return student
}

func TestScan_OrphanPendingPaymentOnClosedRecord(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)
	ctx := context.Background()

	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2024-2025",
		TariffCents: 700000,
		Status:      billingdomain.RecordStatusClosed,
	}
	require.NoError(t, conn.Create(&record).Error)
	require.NoError(t, conn.Create(&billingdomain.Payment{
		ID:              node.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     50000,
		PaidAt:          now,
		Method:          billingdomain.PaymentMethodTransfer,
		Status:          billingdomain.PaymentStatusPending,
	}).Error)

	result, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 1, result.AnomaliesOpened)

	anomalies, err := svc.List(ctx, anomalydomain.ListRequest{Type: anomalydomain.AnomalyTypeOrphanPayment})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, anomalydomain.SeverityCritical, anomalies[0].Severity)
	assert.Equal(t, anomalydomain.AnomalyStatusOpen, anomalies[0].Status)

	// A rescan finds the same inconsistency but opens nothing new.
	result, err = svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.AnomaliesOpened)
	anomalies, err = svc.List(ctx, anomalydomain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, anomalies, 1)
}

func TestScan_DuplicateStudents(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)

	newStudent(t, conn, node, "Amelie", "Durand", "amelie.durand@example.org")
	newStudent(t, conn, node, "Amelie", "Durand", "a.durand@other.org")
	newStudent(t, conn, node, "Karim", "Benali", "karim.benali@example.org")

	result, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.AnomaliesOpened)

	anomalies, err := svc.List(context.Background(), anomalydomain.ListRequest{Type: anomalydomain.AnomalyTypeDuplicateStudent})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Equal(t, anomalydomain.SeverityWarning, anomalies[0].Severity)
}

func TestScan_UnderfundedSchedule(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)

	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2025-2026",
		TariffCents: 850000,
		Status:      billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&record).Error)
	require.NoError(t, conn.Create(&billingdomain.Installment{
		ID:              node.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     500000,
		DueAt:           now.AddDate(0, 1, 0),
		Status:          billingdomain.InstallmentStatusUpcoming,
	}).Error)

	// A record with no schedule at all is not flagged.
	bare := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2025-2026",
		TariffCents: 850000,
		Status:      billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&bare).Error)

	result, err := svc.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.AnomaliesOpened)

	anomalies, err := svc.List(context.Background(), anomalydomain.ListRequest{Type: anomalydomain.AnomalyTypeScheduleMismatch})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.NotNil(t, anomalies[0].BillingRecordID)
	assert.Equal(t, record.ID, *anomalies[0].BillingRecordID)
}

func TestResolveAndIgnore_AreOneWay(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, now)
	ctx := context.Background()

	newStudent(t, conn, node, "Sofia", "Martins", "sofia.martins@example.org")
	newStudent(t, conn, node, "Sofia", "Martins", "s.martins@other.org")

	_, err := svc.Scan(ctx)
	require.NoError(t, err)
	anomalies, err := svc.List(ctx, anomalydomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	id := anomalies[0].ID

	require.NoError(t, svc.Resolve(ctx, id))
	assert.ErrorIs(t, svc.Resolve(ctx, id), anomalydomain.ErrAnomalyClosed)
	assert.ErrorIs(t, svc.Ignore(ctx, id), anomalydomain.ErrAnomalyClosed)

	// Resolved findings stay closed across rescans.
	result, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.AnomaliesOpened)

	open, err := svc.List(ctx, anomalydomain.ListRequest{Status: anomalydomain.AnomalyStatusOpen})
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.ErrorIs(t, svc.Resolve(ctx, snowflake.ID(4242)), anomalydomain.ErrAnomalyNotFound)
}
