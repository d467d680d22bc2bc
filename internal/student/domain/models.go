// Package domain contains persistence models for students.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
)

// StudentStatus represents student lifecycle states.
type StudentStatus string

const (
	StudentStatusActive    StudentStatus = "active"
	StudentStatusGraduated StudentStatus = "graduated"
	StudentStatusLeft      StudentStatus = "left"
)

// Student identifies one enrolled person. Email is the normalized unique
// identity used for import matching and duplicate detection.
type Student struct {
	ID        snowflake.ID  `gorm:"primaryKey"`
	FirstName string        `gorm:"type:text;not null"`
	LastName  string        `gorm:"type:text;not null"`
	Email     string        `gorm:"type:text;not null;uniqueIndex"`
	NameKey   string        `gorm:"type:text;not null;index"`
	Status    StudentStatus `gorm:"type:text;not null;default:'active'"`
	CreatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Student) TableName() string { return "students" }

// NormalizeEmail canonicalizes an email-equivalent identity for matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NameKeyFor derives the duplicate-detection signal from a student name.
func NameKeyFor(firstName, lastName string) string {
	return slug.Make(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
}
