// Package services implements domain business logic and use cases.
package services

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/services"
)

// severityPenalty is subtracted from a perfect score once per finding
var severityPenalty = map[entities.Severity]float64{
	entities.SeverityCritical: 3.0,
	entities.SeverityHigh:     2.0,
	entities.SeverityModerate: 1.0,
	entities.SeverityLow:      0.5,
	entities.SeverityInfo:     0.1,
}

// reportService implements ReportService with pure business logic
type reportService struct{}

// NewReportService creates a new report service
func NewReportService() services.ReportService {
	return &reportService{}
}

// Score rates a report from 0 (worst) to 10 (no findings)
// Pure business logic - no I/O
func (s *reportService) Score(report *entities.AuditReport) float64 {
	if report == nil || len(report.Vulnerabilities) == 0 {
		return 10.0
	}

	score := 10.0
	for _, vuln := range report.Vulnerabilities {
		penalty, ok := severityPenalty[vuln.Severity]
		if !ok {
			penalty = 0.1
		}
		score -= penalty
	}

	if score < 0 {
		return 0.0
	}
	return score
}

// Filter returns findings at or above minSeverity, most severe first
func (s *reportService) Filter(report *entities.AuditReport, minSeverity entities.Severity) []services.Finding {
	findings := make([]services.Finding, 0)
	if report == nil {
		return findings
	}

	minRank := minSeverity.Rank()
	for id, vuln := range report.Vulnerabilities {
		if vuln.Severity.Rank() >= minRank {
			findings = append(findings, services.Finding{ID: id, Vulnerability: vuln})
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		ri, rj := findings[i].Vulnerability.Severity.Rank(), findings[j].Vulnerability.Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return findings[i].ID < findings[j].ID
	})
	return findings
}

// ExceedsThreshold reports whether any finding reaches failOn.
// An empty failOn never fails.
func (s *reportService) ExceedsThreshold(report *entities.AuditReport, failOn entities.Severity) bool {
	if report == nil || failOn == "" || !failOn.Valid() {
		return false
	}
	for _, vuln := range report.Vulnerabilities {
		if vuln.Severity.Rank() >= failOn.Rank() {
			return true
		}
	}
	return false
}

// CheckConsistency verifies that the metadata counts agree with each other
// and with the vulnerability entries
func (s *reportService) CheckConsistency(report *entities.AuditReport) error {
	if report == nil {
		return fmt.Errorf("report is nil")
	}

	meta := report.Metadata.Vulnerabilities
	if sum := meta.Sum(); sum != meta.Total {
		return fmt.Errorf("severity counts sum to %d but total is %d", sum, meta.Total)
	}

	actual := report.CountBySeverity()
	if actual.Total != meta.Total {
		return fmt.Errorf("report lists %d vulnerabilities but total is %d", actual.Total, meta.Total)
	}
	for _, sev := range entities.Severities {
		if actual.Get(sev) != meta.Get(sev) {
			return fmt.Errorf("report lists %d %s vulnerabilities but metadata counts %d",
				actual.Get(sev), sev, meta.Get(sev))
		}
	}
	return nil
}

// FixPlan picks the highest available fix version per package
func (s *reportService) FixPlan(report *entities.AuditReport) []services.FixSuggestion {
	plan := make([]services.FixSuggestion, 0)
	if report == nil {
		return plan
	}

	byPackage := make(map[string]*services.FixSuggestion)
	for _, id := range report.IDs() {
		fix := report.Vulnerabilities[id].FixAvailable.Fix
		if fix == nil || fix.Name == "" {
			continue
		}

		current, ok := byPackage[fix.Name]
		if !ok {
			byPackage[fix.Name] = &services.FixSuggestion{
				Package:       fix.Name,
				Version:       fix.Version,
				IsSemVerMajor: fix.IsSemVerMajor,
				Resolves:      []string{id},
			}
			continue
		}

		current.Resolves = append(current.Resolves, id)
		if compareVersions(fix.Version, current.Version) > 0 {
			current.Version = fix.Version
			current.IsSemVerMajor = fix.IsSemVerMajor
		}
	}

	for _, suggestion := range byPackage {
		plan = append(plan, *suggestion)
	}
	sort.Slice(plan, func(i, j int) bool {
		return plan[i].Package < plan[j].Package
	})
	return plan
}

// Summary renders a one-line description of the findings
func (s *reportService) Summary(report *entities.AuditReport) string {
	if report == nil {
		return "no report"
	}

	counts := report.Metadata.Vulnerabilities
	if counts.Total == 0 {
		return "found 0 vulnerabilities"
	}

	var parts []string
	for i := len(entities.Severities) - 1; i >= 0; i-- {
		sev := entities.Severities[i]
		if n := counts.Get(sev); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}

	noun := "vulnerabilities"
	if counts.Total == 1 {
		noun = "vulnerability"
	}
	return fmt.Sprintf("found %d %s (%s)", counts.Total, noun, strings.Join(parts, ", "))
}

// compareVersions compares npm versions using semver ordering.
// Invalid versions sort below valid ones.
func compareVersions(a, b string) int {
	va, vb := canonical(a), canonical(b)
	switch {
	case va == "" && vb == "":
		return strings.Compare(a, b)
	case va == "":
		return -1
	case vb == "":
		return 1
	default:
		return semver.Compare(va, vb)
	}
}

func canonical(version string) string {
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
