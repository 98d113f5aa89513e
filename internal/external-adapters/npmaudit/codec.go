// Package npmaudit decodes and encodes the JSON report of `npm audit --json`.
package npmaudit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
)

// Codec converts between npm audit JSON and the report model
type Codec struct{}

// NewCodec creates a new codec
func NewCodec() *Codec {
	return &Codec{}
}

// Parse strictly decodes an audit report. Any missing required field, type
// mismatch or malformed document yields an OutputParseFailed error holding
// data unmodified; a partial report is never returned.
func (c *Codec) Parse(data []byte) (*entities.AuditReport, error) {
	report, err := decode(data)
	if err != nil {
		return nil, entities.NewOutputParseFailed(data, err)
	}
	return report, nil
}

func decode(data []byte) (*entities.AuditReport, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("audit output is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var wire wireReport
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("malformed report: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after report")
	}

	if wire.Error != nil && wire.AuditReportVersion == nil {
		return nil, fmt.Errorf("npm error %s: %s", wire.Error.Code, wire.Error.Summary)
	}
	if wire.AuditReportVersion == nil {
		return nil, missing("auditReportVersion")
	}
	if wire.Vulnerabilities == nil {
		return nil, missing("vulnerabilities")
	}
	if wire.Metadata == nil {
		return nil, missing("metadata")
	}

	report := &entities.AuditReport{
		AuditReportVersion: *wire.AuditReportVersion,
		Vulnerabilities:    make(map[string]entities.Vulnerability, len(wire.Vulnerabilities)),
	}

	for id, wv := range wire.Vulnerabilities {
		vuln, err := decodeVulnerability(wv)
		if err != nil {
			return nil, fmt.Errorf("vulnerabilities.%s: %w", id, err)
		}
		report.Vulnerabilities[id] = vuln
	}

	metadata, err := decodeMetadata(wire.Metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	report.Metadata = metadata

	return report, nil
}

func decodeVulnerability(wv *wireVulnerability) (entities.Vulnerability, error) {
	var vuln entities.Vulnerability
	if wv == nil {
		return vuln, errors.New("entry is null")
	}

	switch {
	case wv.Name == nil:
		return vuln, missing("name")
	case wv.Severity == nil:
		return vuln, missing("severity")
	case wv.IsDirect == nil:
		return vuln, missing("isDirect")
	case wv.Via == nil:
		return vuln, missing("via")
	case wv.Effects == nil:
		return vuln, missing("effects")
	case wv.Range == nil:
		return vuln, missing("range")
	case wv.Nodes == nil:
		return vuln, missing("nodes")
	}

	severity, err := entities.ParseSeverity(*wv.Severity)
	if err != nil {
		return vuln, err
	}

	vuln = entities.Vulnerability{
		Name:     *wv.Name,
		Severity: severity,
		IsDirect: *wv.IsDirect,
		Via:      make([]entities.ViaEntry, 0, len(wv.Via)),
		Effects:  wv.Effects,
		Range:    *wv.Range,
		Nodes:    wv.Nodes,
	}

	for i, raw := range wv.Via {
		entry, err := decodeVia(raw)
		if err != nil {
			return vuln, fmt.Errorf("via[%d]: %w", i, err)
		}
		vuln.Via = append(vuln.Via, entry)
	}

	vuln.FixAvailable, err = decodeFix(wv.FixAvailable)
	if err != nil {
		return vuln, fmt.Errorf("fixAvailable: %w", err)
	}
	return vuln, nil
}

// decodeVia accepts a package name or an advisory object
func decodeVia(raw json.RawMessage) (entities.ViaEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return entities.ViaEntry{}, err
		}
		return entities.ViaEntry{Package: name}, nil
	}

	if len(raw) == 0 || raw[0] != '{' {
		return entities.ViaEntry{}, errors.New("expected a package name or an advisory object")
	}

	var wa wireAdvisory
	if err := json.Unmarshal(raw, &wa); err != nil {
		return entities.ViaEntry{}, err
	}
	if wa.Source == nil {
		return entities.ViaEntry{}, missing("source")
	}
	if wa.Name == nil {
		return entities.ViaEntry{}, missing("name")
	}

	advisory := &entities.Advisory{
		Source:     *wa.Source,
		Name:       *wa.Name,
		Dependency: wa.Dependency,
		Title:      wa.Title,
		URL:        wa.URL,
		Range:      wa.Range,
	}
	if wa.Severity != "" {
		severity, err := entities.ParseSeverity(wa.Severity)
		if err != nil {
			return entities.ViaEntry{}, err
		}
		advisory.Severity = severity
	}
	if len(wa.CWE) > 0 {
		advisory.CWE = wa.CWE
	}
	if wa.CVSS != nil {
		advisory.CVSS = &entities.CVSS{Score: wa.CVSS.Score, VectorString: wa.CVSS.VectorString}
	}
	return entities.ViaEntry{Advisory: advisory}, nil
}

// decodeFix accepts an absent field, a boolean or a fix object
func decodeFix(raw json.RawMessage) (entities.FixAvailability, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return entities.FixAvailability{}, nil
	}

	if raw[0] != '{' {
		var available bool
		if err := json.Unmarshal(raw, &available); err != nil {
			return entities.FixAvailability{}, errors.New("expected a boolean or a fix object")
		}
		return entities.FixAvailability{Available: available}, nil
	}

	var wf wireFix
	if err := json.Unmarshal(raw, &wf); err != nil {
		return entities.FixAvailability{}, err
	}
	switch {
	case wf.Name == nil:
		return entities.FixAvailability{}, missing("name")
	case wf.Version == nil:
		return entities.FixAvailability{}, missing("version")
	case wf.IsSemVerMajor == nil:
		return entities.FixAvailability{}, missing("isSemVerMajor")
	}

	return entities.FixAvailability{
		Available: true,
		Fix: &entities.FixTarget{
			Name:          *wf.Name,
			Version:       *wf.Version,
			IsSemVerMajor: *wf.IsSemVerMajor,
		},
	}, nil
}

func decodeMetadata(wm *wireMetadata) (entities.ReportMetadata, error) {
	var metadata entities.ReportMetadata
	wc := wm.Vulnerabilities
	if wc == nil {
		return metadata, missing("vulnerabilities")
	}

	fields := []struct {
		name  string
		value *int
		dst   *int
	}{
		{"info", wc.Info, &metadata.Vulnerabilities.Info},
		{"low", wc.Low, &metadata.Vulnerabilities.Low},
		{"moderate", wc.Moderate, &metadata.Vulnerabilities.Moderate},
		{"high", wc.High, &metadata.Vulnerabilities.High},
		{"critical", wc.Critical, &metadata.Vulnerabilities.Critical},
		{"total", wc.Total, &metadata.Vulnerabilities.Total},
	}
	for _, f := range fields {
		if f.value == nil {
			return metadata, missing("vulnerabilities." + f.name)
		}
		*f.dst = *f.value
	}

	if wd := wm.Dependencies; wd != nil {
		metadata.Dependencies = &entities.DependencyCounts{
			Prod:         wd.Prod,
			Dev:          wd.Dev,
			Optional:     wd.Optional,
			Peer:         wd.Peer,
			PeerOptional: wd.PeerOptional,
			Total:        wd.Total,
		}
	}
	return metadata, nil
}

func missing(field string) error {
	return fmt.Errorf("missing required field %q", field)
}

// Encode renders a report as npm audit JSON
func (c *Codec) Encode(report *entities.AuditReport) ([]byte, error) {
	if report == nil {
		return nil, errors.New("report is nil")
	}

	out := outReport{
		AuditReportVersion: report.AuditReportVersion,
		Vulnerabilities:    make(map[string]outVulnerability, len(report.Vulnerabilities)),
		Metadata: outMetadata{
			Vulnerabilities: outSeverityCounts(report.Metadata.Vulnerabilities),
		},
	}

	if deps := report.Metadata.Dependencies; deps != nil {
		out.Metadata.Dependencies = &wireDependencyCounts{
			Prod:         deps.Prod,
			Dev:          deps.Dev,
			Optional:     deps.Optional,
			Peer:         deps.Peer,
			PeerOptional: deps.PeerOptional,
			Total:        deps.Total,
		}
	}

	for id, vuln := range report.Vulnerabilities {
		ov := outVulnerability{
			Name:     vuln.Name,
			Severity: string(vuln.Severity),
			IsDirect: vuln.IsDirect,
			Via:      make([]interface{}, 0, len(vuln.Via)),
			Effects:  nonNil(vuln.Effects),
			Range:    vuln.Range,
			Nodes:    nonNil(vuln.Nodes),
		}
		for _, entry := range vuln.Via {
			if entry.Advisory == nil {
				ov.Via = append(ov.Via, entry.Package)
				continue
			}
			a := entry.Advisory
			oa := outAdvisory{
				Source:     a.Source,
				Name:       a.Name,
				Dependency: a.Dependency,
				Title:      a.Title,
				URL:        a.URL,
				Severity:   string(a.Severity),
				CWE:        a.CWE,
				Range:      a.Range,
			}
			if a.CVSS != nil {
				oa.CVSS = &wireCVSS{Score: a.CVSS.Score, VectorString: a.CVSS.VectorString}
			}
			ov.Via = append(ov.Via, oa)
		}
		if fix := vuln.FixAvailable.Fix; fix != nil {
			ov.FixAvailable = outFix{Name: fix.Name, Version: fix.Version, IsSemVerMajor: fix.IsSemVerMajor}
		} else {
			ov.FixAvailable = vuln.FixAvailable.Available
		}
		out.Vulnerabilities[id] = ov
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
