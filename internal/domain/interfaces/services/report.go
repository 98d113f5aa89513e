// Package services defines interfaces for domain service contracts.
package services

import "github.com/ochairo/pkgaudit/internal/domain/entities"

// Finding is a vulnerability together with its report identifier
type Finding struct {
	ID            string
	Vulnerability entities.Vulnerability
}

// FixSuggestion is the best available fix for one package
type FixSuggestion struct {
	Package       string
	Version       string
	IsSemVerMajor bool
	Resolves      []string // Vulnerability IDs
}

// ReportService defines business logic over audit reports
type ReportService interface {
	Score(report *entities.AuditReport) float64
	Filter(report *entities.AuditReport, minSeverity entities.Severity) []Finding
	ExceedsThreshold(report *entities.AuditReport, failOn entities.Severity) bool
	CheckConsistency(report *entities.AuditReport) error
	FixPlan(report *entities.AuditReport) []FixSuggestion
	Summary(report *entities.AuditReport) string
}
