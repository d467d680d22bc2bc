// Package domain defines the year-end rollover contract.
package domain

import (
	"context"
	"errors"
)

// BatchResult accounts for every candidate row: Success+Errors == Total.
type BatchResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Errors  int `json:"errors"`
}

type CloseRequest struct {
	YearLabel string `json:"year_label"`
}

type PromoteRequest struct {
	FromYear string `json:"from_year"`
	ToYear   string `json:"to_year"`
}

// Service performs the end-of-year bulk transitions. Both operations run
// row by row; an individual failure is counted and skipped, never
// aborting the batch.
type Service interface {
	// CloseGraduating closes every active record of the terminal year
	// and marks its student graduated.
	CloseGraduating(ctx context.Context, req CloseRequest) (BatchResult, error)
	// Promote closes every active record of FromYear and opens the
	// ToYear record carrying the outstanding balance forward as arrears.
	Promote(ctx context.Context, req PromoteRequest) (BatchResult, error)
}

var (
	ErrInvalidYear = errors.New("invalid_year_label")
	ErrSameYear    = errors.New("same_year_labels")
)
