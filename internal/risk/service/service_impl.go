package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	"github.com/scolarium/scolarium/internal/clock"
	"github.com/scolarium/scolarium/internal/config"
	ledgerdomain "github.com/scolarium/scolarium/internal/ledger/domain"
	"github.com/scolarium/scolarium/internal/notify"
	obsmetrics "github.com/scolarium/scolarium/internal/observability/metrics"
	riskdomain "github.com/scolarium/scolarium/internal/risk/domain"
	"github.com/scolarium/scolarium/pkg/db"
)

const dayFormat = "2006-01-02"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	LedgerSvc ledgerdomain.Service
	Notifier  notify.Notifier
	Tasks     *notify.Tasks
	Obs       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	policy    config.RiskPolicy
	ledgerSvc ledgerdomain.Service
	notifier  notify.Notifier
	tasks     *notify.Tasks
	obs       *obsmetrics.Metrics
}

func NewService(p Params) riskdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("risk.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		policy:    p.Config.Risk,
		ledgerSvc: p.LedgerSvc,
		notifier:  p.Notifier,
		tasks:     p.Tasks,
		obs:       p.Obs,
	}
}

// Evaluate scores one billing record. A second call on the same calendar
// day returns the persisted evaluation unchanged.
func (s *Service) Evaluate(ctx context.Context, recordID snowflake.ID) (riskdomain.Evaluation, error) {
	today := s.clock.Now().Format(dayFormat)

	if eval, found, err := s.existing(ctx, recordID, today); err != nil {
		return riskdomain.Evaluation{}, err
	} else if found {
		return eval, nil
	}

	var record billingdomain.BillingRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return riskdomain.Evaluation{}, billingdomain.ErrRecordNotFound
		}
		return riskdomain.Evaluation{}, err
	}

	summary, err := s.ledgerSvc.Summarize(ctx, recordID)
	if err != nil {
		return riskdomain.Evaluation{}, err
	}

	hits, err := s.collectFactors(ctx, record, summary)
	if err != nil {
		return riskdomain.Evaluation{}, err
	}

	score := 0
	for _, hit := range hits {
		score += hit.Points
	}
	if score > 100 {
		score = 100
	}
	level := s.levelFor(score)

	eval := riskdomain.Evaluation{
		BillingRecordID: recordID,
		Score:           score,
		Level:           level,
		Factors:         hits,
		Recommendation:  recommendationFor(level),
		EvaluatedOn:     today,
	}

	raw, err := json.Marshal(hits)
	if err != nil {
		return riskdomain.Evaluation{}, err
	}
	row := riskdomain.RiskEvaluation{
		ID:              s.genID.Generate(),
		BillingRecordID: recordID,
		Score:           score,
		Level:           level,
		Factors:         datatypes.JSON(raw),
		Recommendation:  eval.Recommendation,
		EvaluatedOn:     today,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Concurrent evaluation won the race; return its result.
			if existing, found, err := s.existing(ctx, recordID, today); err == nil && found {
				return existing, nil
			}
		}
		return riskdomain.Evaluation{}, err
	}

	if s.obs != nil {
		s.obs.RiskEvaluations.WithLabelValues(string(level)).Inc()
	}
	if level == riskdomain.RiskLevelHigh || level == riskdomain.RiskLevelCritical {
		s.tasks.Submit(ctx, "risk_notification", func(ctx context.Context) error {
			return s.notifier.Send(ctx, notify.Notification{
				Recipient: "billing-operations",
				Subject:   fmt.Sprintf("billing record %s scored %s", recordID.String(), level),
				Body:      eval.Recommendation,
			})
		})
	}

	return eval, nil
}

func (s *Service) existing(ctx context.Context, recordID snowflake.ID, day string) (riskdomain.Evaluation, bool, error) {
	var row riskdomain.RiskEvaluation
	err := s.db.WithContext(ctx).
		First(&row, "billing_record_id = ? AND evaluated_on = ?", recordID, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return riskdomain.Evaluation{}, false, nil
	}
	if err != nil {
		return riskdomain.Evaluation{}, false, err
	}

	var hits []riskdomain.FactorHit
	if len(row.Factors) > 0 {
		if err := json.Unmarshal(row.Factors, &hits); err != nil {
			return riskdomain.Evaluation{}, false, err
		}
	}
	return riskdomain.Evaluation{
		BillingRecordID: recordID,
		Score:           row.Score,
		Level:           row.Level,
		Factors:         hits,
		Recommendation:  row.Recommendation,
		EvaluatedOn:     row.EvaluatedOn,
	}, true, nil
}

// collectFactors applies the fixed rule list in order. Weights come from
// the operator policy; a zero weight disables a factor.
func (s *Service) collectFactors(ctx context.Context, record billingdomain.BillingRecord, summary ledgerdomain.Summary) ([]riskdomain.FactorHit, error) {
	now := s.clock.Now()
	hits := make([]riskdomain.FactorHit, 0, 7)

	overdueCount, oldestOverdue, err := s.overdueStats(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	if overdueCount > 0 && !oldestOverdue.IsZero() && now.Sub(oldestOverdue) >= 30*24*time.Hour {
		hits = s.appendHit(hits, riskdomain.FactorOverdue30Days, "installment overdue for 30 days or more")
	}
	if overdueCount >= 2 {
		hits = s.appendHit(hits, riskdomain.FactorMultipleOverdue, "two or more overdue installments")
	}
	if record.TariffCents > 0 {
		if summary.BalanceCents*2 > record.TariffCents {
			hits = s.appendHit(hits, riskdomain.FactorBalanceOverHalf, "balance above half the tariff")
		}
		if summary.BalanceCents*10 > record.TariffCents*9 {
			hits = s.appendHit(hits, riskdomain.FactorBalanceOverNinety, "balance above 90% of the tariff")
		}
	}
	if record.ArrearsCents > 0 {
		hits = s.appendHit(hits, riskdomain.FactorCarriedArrears, "arrears carried over from a prior year")
	}
	if summary.BalanceCents > billingdomain.BalanceToleranceCents {
		if summary.LastPaymentAt == nil || now.Sub(*summary.LastPaymentAt) >= 90*24*time.Hour {
			hits = s.appendHit(hits, riskdomain.FactorNoPayment90Days, "no valid payment in the last 90 days")
		}
	}

	refused, err := s.recentRefused(ctx, record.ID, now.Add(-60*24*time.Hour))
	if err != nil {
		return nil, err
	}
	if refused {
		hits = s.appendHit(hits, riskdomain.FactorRefusedRecent, "refused payment in the last 60 days")
	}

	return hits, nil
}

func (s *Service) appendHit(hits []riskdomain.FactorHit, code riskdomain.FactorCode, label string) []riskdomain.FactorHit {
	points := s.policy.Weights[string(code)]
	if points <= 0 {
		return hits
	}
	return append(hits, riskdomain.FactorHit{Code: code, Label: label, Points: points})
}

func (s *Service) overdueStats(ctx context.Context, recordID snowflake.ID) (count int64, oldest time.Time, err error) {
	var rows []billingdomain.Installment
	if err := s.db.WithContext(ctx).
		Where("billing_record_id = ? AND status = ?", recordID, billingdomain.InstallmentStatusOverdue).
		Order("due_at ASC").
		Find(&rows).Error; err != nil {
		return 0, time.Time{}, err
	}
	if len(rows) > 0 {
		oldest = rows[0].DueAt
	}
	return int64(len(rows)), oldest, nil
}

func (s *Service) recentRefused(ctx context.Context, recordID snowflake.ID, since time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&billingdomain.Payment{}).
		Where("billing_record_id = ? AND status = ? AND updated_at >= ?", recordID, billingdomain.PaymentStatusRefused, since).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) levelFor(score int) riskdomain.RiskLevel {
	switch {
	case score < s.policy.MediumThreshold:
		return riskdomain.RiskLevelLow
	case score < s.policy.HighThreshold:
		return riskdomain.RiskLevelMedium
	case score < s.policy.CriticalThreshold:
		return riskdomain.RiskLevelHigh
	default:
		return riskdomain.RiskLevelCritical
	}
}

func recommendationFor(level riskdomain.RiskLevel) string {
	switch level {
	case riskdomain.RiskLevelLow:
		return "No action needed; account in good standing."
	case riskdomain.RiskLevelMedium:
		return "Send a payment reminder and monitor the next installment."
	case riskdomain.RiskLevelHigh:
		return "Contact the family to agree on a payment plan."
	default:
		return "Escalate to the bursar; consider suspending optional services."
	}
}
