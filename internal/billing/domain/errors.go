package domain

import "errors"

var (
	ErrRecordNotFound   = errors.New("billing_record_not_found")
	ErrRecordNotActive  = errors.New("billing_record_not_active")
	ErrStudentNotFound  = errors.New("student_not_found")
	ErrPaymentNotFound  = errors.New("payment_not_found")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidMethod    = errors.New("invalid_payment_method")
	ErrInvalidStatus    = errors.New("invalid_payment_status")
	ErrInvalidYearLabel = errors.New("invalid_year_label")
)
