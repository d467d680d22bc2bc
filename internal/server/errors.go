package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	anomalydomain "github.com/scolarium/scolarium/internal/anomaly/domain"
	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	importerdomain "github.com/scolarium/scolarium/internal/importer/domain"
	rolloverdomain "github.com/scolarium/scolarium/internal/rollover/domain"
	scheduledomain "github.com/scolarium/scolarium/internal/schedule/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billingdomain.ErrInvalidAmount),
		errors.Is(err, billingdomain.ErrInvalidMethod),
		errors.Is(err, billingdomain.ErrInvalidStatus),
		errors.Is(err, billingdomain.ErrInvalidYearLabel),
		errors.Is(err, scheduledomain.ErrInvalidTariff),
		errors.Is(err, importerdomain.ErrEmptyImport),
		errors.Is(err, importerdomain.ErrMissingFingerprint),
		errors.Is(err, rolloverdomain.ErrInvalidYear),
		errors.Is(err, rolloverdomain.ErrSameYear):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, billingdomain.ErrRecordNotFound),
		errors.Is(err, billingdomain.ErrStudentNotFound),
		errors.Is(err, billingdomain.ErrPaymentNotFound),
		errors.Is(err, importerdomain.ErrJobNotFound),
		errors.Is(err, anomalydomain.ErrAnomalyNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// Conflicts are requests that collide with the current state of the
// ledger: re-importing an already ingested batch, scheduling twice,
// mutating a closed record or a closed anomaly.
func isConflictError(err error) bool {
	switch {
	case errors.Is(err, billingdomain.ErrRecordNotActive),
		errors.Is(err, scheduledomain.ErrAlreadyScheduled),
		errors.Is(err, scheduledomain.ErrScheduleMismatch),
		errors.Is(err, importerdomain.ErrDuplicateImport),
		errors.Is(err, anomalydomain.ErrAnomalyClosed):
		return true
	default:
		return false
	}
}
