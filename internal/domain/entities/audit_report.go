package entities

import (
	"fmt"
	"sort"
)

// Severity is the audit tool's severity classification
type Severity string

// Severity levels in ascending order
const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from lowest to highest
var Severities = []Severity{
	SeverityInfo,
	SeverityLow,
	SeverityModerate,
	SeverityHigh,
	SeverityCritical,
}

// ParseSeverity converts a string into a Severity
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Rank orders severities; unknown severities rank -1
func (s Severity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i
		}
	}
	return -1
}

// AuditReport is the structured result of an audit run
type AuditReport struct {
	AuditReportVersion int
	Vulnerabilities    map[string]Vulnerability
	Metadata           ReportMetadata
}

// Vulnerability is one vulnerable package in the resolved dependency graph
type Vulnerability struct {
	Name         string
	Severity     Severity
	IsDirect     bool
	Via          []ViaEntry
	Effects      []string
	Range        string
	Nodes        []string
	FixAvailable FixAvailability
}

// ViaEntry is one link of the causal chain. Exactly one of Package and
// Advisory is set: either the name of another vulnerable package or the
// advisory that makes this package vulnerable.
type ViaEntry struct {
	Package  string
	Advisory *Advisory
}

// Advisory is a vulnerability advisory referenced from a via chain
type Advisory struct {
	Source     int
	Name       string
	Dependency string
	Title      string
	URL        string
	Severity   Severity
	CWE        []string
	CVSS       *CVSS
	Range      string
}

// CVSS holds the advisory's CVSS score
type CVSS struct {
	Score        float64
	VectorString string
}

// FixAvailability describes whether and how a vulnerability can be fixed.
// Fix is nil when the audit tool only reported a boolean.
type FixAvailability struct {
	Available bool
	Fix       *FixTarget
}

// FixTarget is the package version that resolves a vulnerability
type FixTarget struct {
	Name          string
	Version       string
	IsSemVerMajor bool
}

// ReportMetadata holds aggregate counts
type ReportMetadata struct {
	Vulnerabilities SeverityCounts
	Dependencies    *DependencyCounts // Optional
}

// SeverityCounts holds per-severity counts and their total
type SeverityCounts struct {
	Info     int
	Low      int
	Moderate int
	High     int
	Critical int
	Total    int
}

// DependencyCounts holds the audited dependency counts per type
type DependencyCounts struct {
	Prod         int
	Dev          int
	Optional     int
	Peer         int
	PeerOptional int
	Total        int
}

// Get returns the count for a severity
func (c SeverityCounts) Get(s Severity) int {
	switch s {
	case SeverityInfo:
		return c.Info
	case SeverityLow:
		return c.Low
	case SeverityModerate:
		return c.Moderate
	case SeverityHigh:
		return c.High
	case SeverityCritical:
		return c.Critical
	default:
		return 0
	}
}

// Add increments the count for a severity and the total
func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityInfo:
		c.Info++
	case SeverityLow:
		c.Low++
	case SeverityModerate:
		c.Moderate++
	case SeverityHigh:
		c.High++
	case SeverityCritical:
		c.Critical++
	default:
		return
	}
	c.Total++
}

// Sum adds the per-severity counts
func (c SeverityCounts) Sum() int {
	return c.Info + c.Low + c.Moderate + c.High + c.Critical
}

// CountBySeverity groups the vulnerability entries by severity
func (r *AuditReport) CountBySeverity() SeverityCounts {
	var counts SeverityCounts
	for _, vuln := range r.Vulnerabilities {
		counts.Add(vuln.Severity)
	}
	return counts
}

// IDs returns the vulnerability identifiers in sorted order
func (r *AuditReport) IDs() []string {
	ids := make([]string, 0, len(r.Vulnerabilities))
	for id := range r.Vulnerabilities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Advisories returns the advisory objects of the via chain
func (v Vulnerability) Advisories() []Advisory {
	var advisories []Advisory
	for _, entry := range v.Via {
		if entry.Advisory != nil {
			advisories = append(advisories, *entry.Advisory)
		}
	}
	return advisories
}
