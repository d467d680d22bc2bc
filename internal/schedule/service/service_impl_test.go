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
	"github.com/scolarium/scolarium/internal/config"
	scheduledomain "github.com/scolarium/scolarium/internal/schedule/domain"
)

func newTestService(t *testing.T, policy config.InstallmentPolicy, now time.Time) (scheduledomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&billingdomain.BillingRecord{},
		&billingdomain.Payment{},
		&billingdomain.Installment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(now),
		Config: config.Config{Installments: policy},
	})
	return svc, conn, node
}

func defaultPolicy() config.InstallmentPolicy {
	return config.InstallmentPolicy{MinChunkCents: 50000, MaxCount: 10, DayOfMonth: 5}
}

func nonCancelled(t *testing.T, conn *gorm.DB, recordID snowflake.ID) []billingdomain.Installment {
	t.Helper()
	var installments []billingdomain.Installment
	require.NoError(t, conn.
		Where("billing_record_id = ? AND status <> ?", recordID, billingdomain.InstallmentStatusCancelled).
		Order("due_at ASC").
		Find(&installments).Error)
	return installments
}

func TestGenerate_ScheduleCoversExpectedTotal(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, defaultPolicy(), now)

	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2025-2026",
		TariffCents: 850000,
		Status:      billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&record).Error)

	paidAt := now.AddDate(0, -1, 0)
	payment := billingdomain.Payment{
		ID:              node.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     200000,
		PaidAt:          paidAt,
		Method:          billingdomain.PaymentMethodTransfer,
		Status:          billingdomain.PaymentStatusValid,
	}
	require.NoError(t, conn.Create(&payment).Error)

	result, err := svc.Generate(context.Background(), scheduledomain.GenerateRequest{RecordID: record.ID})
	require.NoError(t, err)

	// One historical installment plus the 650000 remainder split into the
	// policy maximum of 10 chunks.
	assert.Equal(t, 11, result.InstallmentsCreated)

	installments := nonCancelled(t, conn, record.ID)
	require.Len(t, installments, 11)

	var sum int64
	paidCount := 0
	for _, inst := range installments {
		sum += inst.AmountCents
		if inst.Status == billingdomain.InstallmentStatusPaid {
			paidCount++
			require.NotNil(t, inst.PaymentID)
			assert.Equal(t, payment.ID, *inst.PaymentID)
		} else {
			assert.Equal(t, billingdomain.InstallmentStatusUpcoming, inst.Status)
			assert.Equal(t, int64(65000), inst.AmountCents)
			assert.Equal(t, 5, inst.DueAt.Day())
			assert.True(t, inst.DueAt.After(now))
		}
	}
	assert.Equal(t, record.TariffCents, sum)
	assert.Equal(t, 1, paidCount)

	// Backlink on the payment.
	var reloaded billingdomain.Payment
	require.NoError(t, conn.First(&reloaded, "id = ?", payment.ID).Error)
	require.NotNil(t, reloaded.InstallmentID)
}

func TestGenerate_PolicyControlsChunking(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	policy := config.InstallmentPolicy{MinChunkCents: 100000, MaxCount: 10, DayOfMonth: 5}
	svc, conn, node := newTestService(t, policy, now)

	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2025-2026",
		TariffCents: 650000,
		Status:      billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&record).Error)

	result, err := svc.Generate(context.Background(), scheduledomain.GenerateRequest{RecordID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, 7, result.InstallmentsCreated)

	installments := nonCancelled(t, conn, record.ID)
	var sum int64
	for _, inst := range installments {
		sum += inst.AmountCents
	}
	assert.Equal(t, record.TariffCents, sum)
}

func TestGenerate_SecondCallRequiresForce(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, defaultPolicy(), now)

	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2025-2026",
		TariffCents: 500000,
		Status:      billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&record).Error)

	_, err := svc.Generate(context.Background(), scheduledomain.GenerateRequest{RecordID: record.ID})
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), scheduledomain.GenerateRequest{RecordID: record.ID})
	assert.ErrorIs(t, err, scheduledomain.ErrAlreadyScheduled)

	result, err := svc.Generate(context.Background(), scheduledomain.GenerateRequest{RecordID: record.ID, Force: true})
	require.NoError(t, err)
	assert.Equal(t, 10, result.InstallmentsCreated)

	// The replaced schedule stays on file as cancelled rows.
	var cancelled int64
	require.NoError(t, conn.Model(&billingdomain.Installment{}).
		Where("billing_record_id = ? AND status = ?", record.ID, billingdomain.InstallmentStatusCancelled).
		Count(&cancelled).Error)
	assert.Equal(t, int64(10), cancelled)

	installments := nonCancelled(t, conn, record.ID)
	var sum int64
	for _, inst := range installments {
		sum += inst.AmountCents
	}
	assert.Equal(t, record.TariffCents, sum)
}

func TestGenerate_RejectsBadRecords(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, defaultPolicy(), now)
	ctx := context.Background()

	_, err := svc.Generate(ctx, scheduledomain.GenerateRequest{RecordID: snowflake.ID(999)})
	assert.ErrorIs(t, err, billingdomain.ErrRecordNotFound)

	zeroTariff := billingdomain.BillingRecord{
		ID:        node.Generate(),
		StudentID: node.Generate(),
		YearLabel: "2025-2026",
		Status:    billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&zeroTariff).Error)
	_, err = svc.Generate(ctx, scheduledomain.GenerateRequest{RecordID: zeroTariff.ID})
	assert.ErrorIs(t, err, scheduledomain.ErrInvalidTariff)

	closed := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2025-2026",
		TariffCents: 500000,
		Status:      billingdomain.RecordStatusClosed,
	}
	require.NoError(t, conn.Create(&closed).Error)
	_, err = svc.Generate(ctx, scheduledomain.GenerateRequest{RecordID: closed.ID})
	assert.ErrorIs(t, err, billingdomain.ErrRecordNotActive)
}

func TestGenerate_FullyPaidRecordNeedsNoFutureInstallments(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	svc, conn, node := newTestService(t, defaultPolicy(), now)

	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   node.Generate(),
		YearLabel:   "2025-2026",
		TariffCents: 400000,
		Status:      billingdomain.RecordStatusActive,
	}
	require.NoError(t, conn.Create(&record).Error)
	require.NoError(t, conn.Create(&billingdomain.Payment{
		ID:              node.Generate(),
		BillingRecordID: record.ID,
		AmountCents:     400000,
		PaidAt:          now.AddDate(0, -2, 0),
		Method:          billingdomain.PaymentMethodCash,
		Status:          billingdomain.PaymentStatusValid,
	}).Error)

	result, err := svc.Generate(context.Background(), scheduledomain.GenerateRequest{RecordID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.InstallmentsCreated)

	installments := nonCancelled(t, conn, record.ID)
	require.Len(t, installments, 1)
	assert.Equal(t, billingdomain.InstallmentStatusPaid, installments[0].Status)
	assert.Equal(t, record.TariffCents, installments[0].AmountCents)
}

func TestSplitRemaining_LastChunkAbsorbsRounding(t *testing.T) {
	amounts := splitRemaining(100001, defaultPolicy())
	require.Len(t, amounts, 3)
	var sum int64
	for _, a := range amounts {
		sum += a
	}
	assert.Equal(t, int64(100001), sum)
	assert.Equal(t, int64(33335), amounts[2])
}
