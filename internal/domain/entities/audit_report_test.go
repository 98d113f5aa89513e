package entities

import "testing"

func TestSeverity(t *testing.T) {
	if _, err := ParseSeverity("medium"); err == nil {
		t.Error("expected error for severity outside the npm vocabulary")
	}

	sev, err := ParseSeverity("moderate")
	if err != nil || sev != SeverityModerate {
		t.Fatalf("ParseSeverity(moderate) = %v, %v", sev, err)
	}

	for i := 1; i < len(Severities); i++ {
		if Severities[i].Rank() <= Severities[i-1].Rank() {
			t.Errorf("%s should rank above %s", Severities[i], Severities[i-1])
		}
	}
}

func TestCountBySeverity(t *testing.T) {
	report := &AuditReport{
		Vulnerabilities: map[string]Vulnerability{
			"a": {Severity: SeverityHigh},
			"b": {Severity: SeverityHigh},
			"c": {Severity: SeverityCritical},
		},
	}

	counts := report.CountBySeverity()
	if counts.High != 2 || counts.Critical != 1 || counts.Total != 3 {
		t.Errorf("CountBySeverity() = %+v", counts)
	}
	if counts.Sum() != counts.Total {
		t.Errorf("Sum() = %d, Total = %d", counts.Sum(), counts.Total)
	}

	ids := report.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestVulnerability_Advisories(t *testing.T) {
	vuln := Vulnerability{
		Via: []ViaEntry{
			{Package: "minimist"},
			{Advisory: &Advisory{Source: 1179, Title: "Prototype Pollution"}},
		},
	}

	advisories := vuln.Advisories()
	if len(advisories) != 1 || advisories[0].Source != 1179 {
		t.Errorf("Advisories() = %+v", advisories)
	}
}
