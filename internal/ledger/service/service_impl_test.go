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
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&billingdomain.BillingRecord{},
		&billingdomain.Payment{},
		&billingdomain.Installment{},
	))
	return conn
}

func seedRecord(t *testing.T, conn *gorm.DB, node *snowflake.Node, tariff, arrears int64) billingdomain.BillingRecord {
	t.Helper()
	record := billingdomain.BillingRecord{
		ID:           node.Generate(),
		StudentID:    node.Generate(),
		YearLabel:    "2025-2026",
		TariffCents:  tariff,
		ArrearsCents: arrears,
		Status:       billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&record).Error)
	return record
}

func seedPayment(t *testing.T, conn *gorm.DB, node *snowflake.Node, recordID snowflake.ID, amount int64, status billingdomain.PaymentStatus, paidAt time.Time) billingdomain.Payment {
	t.Helper()
	payment := billingdomain.Payment{
		ID:              node.Generate(),
		BillingRecordID: recordID,
		AmountCents:     amount,
		PaidAt:          paidAt,
		Method:          billingdomain.PaymentMethodTransfer,
		Status:          status,
	}
	require.NoError(t, conn.Create(&payment).Error)
	return payment
}

func TestSummarize_OnlyValidPaymentsCount(t *testing.T) {
	conn := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: conn, Log: zap.NewNop()})

	record := seedRecord(t, conn, node, 850000, 0)
	paidAt := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	seedPayment(t, conn, node, record.ID, 200000, billingdomain.PaymentStatusValid, paidAt)
	seedPayment(t, conn, node, record.ID, 100000, billingdomain.PaymentStatusRefused, paidAt)
	seedPayment(t, conn, node, record.ID, 50000, billingdomain.PaymentStatusCancelled, paidAt)
	seedPayment(t, conn, node, record.ID, 25000, billingdomain.PaymentStatusPending, paidAt)

	summary, err := svc.Summarize(context.Background(), record.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(200000), summary.TotalPaidCents)
	assert.Equal(t, int64(650000), summary.BalanceCents)
	assert.Equal(t, 1, summary.PaymentCount)
	require.NotNil(t, summary.LastPaymentAt)
	assert.True(t, paidAt.Equal(*summary.LastPaymentAt))
	assert.Equal(t, billingdomain.PaymentStateInProgress, summary.State)
}

func TestSummarize_ArrearsRaiseTheExpectedTotal(t *testing.T) {
	conn := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: conn, Log: zap.NewNop()})

	record := seedRecord(t, conn, node, 850000, 120000)
	seedPayment(t, conn, node, record.ID, 850000, billingdomain.PaymentStatusValid, time.Now().UTC())

	summary, err := svc.Summarize(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120000), summary.BalanceCents)
}

func TestSummarize_StateClassification(t *testing.T) {
	conn := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: conn, Log: zap.NewNop()})
	ctx := context.Background()
	now := time.Now().UTC()

	// Fully paid: current.
	settled := seedRecord(t, conn, node, 500000, 0)
	seedPayment(t, conn, node, settled.ID, 500000, billingdomain.PaymentStatusValid, now)
	summary, err := svc.Summarize(ctx, settled.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.PaymentStateCurrent, summary.State)

	// Small credit within the creditor threshold still reads current.
	slightlyOver := billingdomain.BillingRecord{
		ID: node.Generate(), StudentID: node.Generate(), YearLabel: "2025-2026",
		TariffCents: 500000, Status: billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&slightlyOver).Error)
	seedPayment(t, conn, node, slightlyOver.ID, 500500, billingdomain.PaymentStatusValid, now)
	summary, err = svc.Summarize(ctx, slightlyOver.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-500), summary.BalanceCents)
	assert.Equal(t, billingdomain.PaymentStateCurrent, summary.State)

	// Overpaid past the threshold: creditor.
	creditor := billingdomain.BillingRecord{
		ID: node.Generate(), StudentID: node.Generate(), YearLabel: "2025-2026",
		TariffCents: 500000, Status: billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&creditor).Error)
	seedPayment(t, conn, node, creditor.ID, 550000, billingdomain.PaymentStatusValid, now)
	summary, err = svc.Summarize(ctx, creditor.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.PaymentStateCreditor, summary.State)

	// Outstanding balance with an overdue installment: late.
	late := billingdomain.BillingRecord{
		ID: node.Generate(), StudentID: node.Generate(), YearLabel: "2025-2026",
		TariffCents: 500000, Status: billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&late).Error)
	require.NoError(t, conn.Create(&billingdomain.Installment{
		ID:              node.Generate(),
		BillingRecordID: late.ID,
		AmountCents:     100000,
		DueAt:           now.Add(-72 * time.Hour),
		Status:          billingdomain.InstallmentStatusOverdue,
	}).Error)
	summary, err = svc.Summarize(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.PaymentStateLate, summary.State)
}

func TestSummarize_RecordNotFound(t *testing.T) {
	conn := newTestDB(t)
	svc := NewService(Params{DB: conn, Log: zap.NewNop()})

	_, err := svc.Summarize(context.Background(), snowflake.ID(12345))
	assert.ErrorIs(t, err, billingdomain.ErrRecordNotFound)
}
