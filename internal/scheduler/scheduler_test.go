package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
	"github.com/scolarium/scolarium/internal/clock"
	syncdomain "github.com/scolarium/scolarium/internal/statussync/domain"
)

type syncStub struct {
	sweeps int
	err    error
}

func (s *syncStub) Sweep(context.Context) (syncdomain.SweepResult, error) {
	s.sweeps++
	return syncdomain.SweepResult{RecordsScanned: 3}, s.err
}

func (s *syncStub) OnPaymentStatusChanged(context.Context, snowflake.ID) error { return nil }

func (s *syncStub) CancelForRecord(context.Context, snowflake.ID) (int, error) { return 0, nil }

type anomalyStub struct {
	scans int
	err   error
}

func (a *anomalyStub) Scan(context.Context) (anomalydomain.ScanResult, error) {
	a.scans++
	return anomalydomain.ScanResult{Total: 2, Success: 2}, a.err
}

func (a *anomalyStub) Resolve(context.Context, snowflake.ID) error { return nil }

func (a *anomalyStub) Ignore(context.Context, snowflake.ID) error { return nil }

func (a *anomalyStub) List(context.Context, anomalydomain.ListRequest) ([]anomalydomain.Anomaly, error) {
	return nil, nil
}

func newTestScheduler(t *testing.T, sync *syncStub, anomaly *anomalyStub) *Scheduler {
	t.Helper()
	s, err := New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)),
		SyncSvc:    sync,
		AnomalySvc: anomaly,
	})
	require.NoError(t, err)
	return s
}

func TestRunOnce_RunsEveryJob(t *testing.T) {
	sync := &syncStub{}
	anomaly := &anomalyStub{}
	s := newTestScheduler(t, sync, anomaly)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, sync.sweeps)
	assert.Equal(t, 1, anomaly.scans)
}

func TestRunOnce_JobFailureDoesNotStopTheOthers(t *testing.T) {
	sync := &syncStub{err: errors.New("boom")}
	anomaly := &anomalyStub{}
	s := newTestScheduler(t, sync, anomaly)

	err := s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, sync.sweeps)
	assert.Equal(t, 1, anomaly.scans)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
