// Package domain defines the installment scheduling contract.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type GenerateRequest struct {
	RecordID snowflake.ID
	// Force replaces an existing schedule: prior installments are
	// cancelled before regeneration.
	Force bool
}

type GenerateResult struct {
	InstallmentsCreated int `json:"installments_created"`
}

// Service builds and repairs installment schedules.
type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

var (
	ErrAlreadyScheduled = errors.New("already_scheduled")
	ErrInvalidTariff    = errors.New("invalid_tariff")
	ErrScheduleMismatch = errors.New("schedule_mismatch")
)
