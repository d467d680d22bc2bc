// Package notify models the best-effort collaborators: outbound
// notifications and follow-up tasks whose failure must never fail the
// enclosing ledger operation.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
)

// Module provides the notifier and the best-effort task runner.
var Module = fx.Module("notify",
	fx.Provide(NewLogNotifier),
	fx.Provide(NewTasks),
)

type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// Notifier sends operator/student notifications. Implementations are
// external collaborators; the core only ever calls them best-effort.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a Notifier that records the notification in the
// logs. The real delivery channel lives outside this service.
func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notify")}
}

func (n *logNotifier) Send(_ context.Context, msg Notification) error {
	n.log.Info("notification dispatched",
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	)
	return nil
}

type TasksParams struct {
	fx.In

	Log *zap.Logger
	Obs *obsmetrics.Metrics `optional:"true"`
}

// Tasks runs follow-up work submitted by the engines. Failures are
// logged and counted, never propagated to the submitter.
type Tasks struct {
	log *zap.Logger
	obs *obsmetrics.Metrics
}

func NewTasks(p TasksParams) *Tasks {
	return &Tasks{log: p.Log.Named("notify.tasks"), obs: p.Obs}
}

// Submit executes fn, isolating the caller from both errors and panics.
func (t *Tasks) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			t.dropped(name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(ctx); err != nil {
		t.dropped(name, err)
	}
}

func (t *Tasks) dropped(name string, err error) {
	t.log.Warn("best-effort task failed",
		zap.String("task", name),
		zap.Error(err),
	)
	if t.obs != nil {
		t.obs.BestEffortDropped.Inc()
	}
}
