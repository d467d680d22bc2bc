// Package domain defines the balance computation contract.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
)

// Summary is the authoritative balance view of one billing record.
// balance = tariff + arrears - sum(valid payments).
type Summary struct {
	BillingRecordID snowflake.ID               `json:"billing_record_id"`
	TotalPaidCents  int64                      `json:"total_paid_cents"`
	BalanceCents    int64                      `json:"balance_cents"`
	PaymentCount    int                        `json:"payment_count"`
	LastPaymentAt   *time.Time                 `json:"last_payment_at,omitempty"`
	State           billingdomain.PaymentState `json:"state"`
}

// Service derives balances. Read-only; safe for concurrent use.
type Service interface {
	Summarize(ctx context.Context, recordID snowflake.ID) (Summary, error)
}
