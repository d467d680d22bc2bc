// Package seed bootstraps demo data for local development.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	billingdomain "github.com/scolarium/scolarium/internal/billing/domain"
	studentdomain "github.com/scolarium/scolarium/internal/student/domain"
)

type demoStudent struct {
	firstName   string
	lastName    string
	email       string
	yearLabel   string
	tariffCents int64
}

var demoStudents = []demoStudent{
	{"Amelie", "Durand", "amelie.durand@example.org", "2025-2026", 850000},
	{"Karim", "Benali", "karim.benali@example.org", "2025-2026", 850000},
	{"Sofia", "Martins", "sofia.martins@example.org", "2025-2026", 720000},
}

// EnsureDemoData seeds a few students with open billing records. Safe to
// run repeatedly: existing emails are left untouched.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range demoStudents {
			if err := ensureStudentWithRecord(tx, node, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func ensureStudentWithRecord(tx *gorm.DB, node *snowflake.Node, d demoStudent) error {
	email := studentdomain.NormalizeEmail(d.email)

	var existing int64
	if err := tx.Model(&studentdomain.Student{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	now := time.Now().UTC()
	student := studentdomain.Student{
		ID:        node.Generate(),
		FirstName: d.firstName,
		LastName:  d.lastName,
		Email:     email,
		NameKey:   studentdomain.NameKeyFor(d.firstName, d.lastName),
		Status:    studentdomain.StudentStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(&student).Error; err != nil {
		return err
	}

	record := billingdomain.BillingRecord{
		ID:          node.Generate(),
		StudentID:   student.ID,
		YearLabel:   d.yearLabel,
		TariffCents: d.tariffCents,
		Status:      billingdomain.RecordStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return tx.Create(&record).Error
}
