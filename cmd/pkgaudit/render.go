package main

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ochairo/pkgaudit/internal/domain/entities"
	"github.com/ochairo/pkgaudit/internal/domain/interfaces/services"
)

// maxCell bounds free-text table cells such as advisory titles
const maxCell = 48

var severityColors = map[entities.Severity]lipgloss.Color{
	entities.SeverityCritical: lipgloss.Color("196"),
	entities.SeverityHigh:     lipgloss.Color("208"),
	entities.SeverityModerate: lipgloss.Color("214"),
	entities.SeverityLow:      lipgloss.Color("33"),
	entities.SeverityInfo:     lipgloss.Color("245"),
}

// progressPrinter prints pipeline transitions as they happen
type progressPrinter struct {
	w io.Writer
}

func (p *progressPrinter) OnStateChange(change entities.StateChange) {
	switch change.To {
	case entities.StateSucceeded:
		fmt.Fprintf(p.w, "✅ %s\n", change.To)
	case entities.StateFailed:
		fmt.Fprintf(p.w, "❌ %s\n", change.To)
	default:
		fmt.Fprintf(p.w, "➜ %s\n", change.To)
	}
}

func (p *progressPrinter) OnOutput(string, entities.Step, []byte) {}

func printPipelineError(w io.Writer, err *entities.PipelineError) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "❌ Audit failed [%s]: %s\n", err.Kind, sanitizeTerminal(err.Error()))
	if err.Stderr != "" {
		fmt.Fprintf(w, "\n%s stderr (tail):\n%s\n", err.Command, sanitizeTerminal(strings.TrimRight(err.Stderr, "\n")))
	}
	if err.Kind == entities.KindOutputParseFailed && len(err.RawOutput) > 0 {
		fmt.Fprintf(w, "\nRaw audit output (%d bytes):\n%s\n", len(err.RawOutput), truncate(sanitizeTerminal(string(err.RawOutput)), 2048))
	}
}

// renderReport prints the findings and fix plan as tables
func renderReport(w io.Writer, report *entities.AuditReport, reports services.ReportService) {
	r := lipgloss.NewRenderer(w)
	bold := r.NewStyle().Bold(true)
	border := r.NewStyle().Foreground(lipgloss.Color("240"))

	fmt.Fprintf(w, "📊 %s\n", bold.Render(reports.Summary(report)))
	fmt.Fprintf(w, "   Security score: %.1f/10.0\n", reports.Score(report))
	if deps := report.Metadata.Dependencies; deps != nil {
		fmt.Fprintf(w, "   Dependencies: %d (prod %d, dev %d, optional %d, peer %d)\n",
			deps.Total, deps.Prod, deps.Dev, deps.Optional, deps.Peer)
	}

	findings := reports.Filter(report, entities.SeverityInfo)
	if len(findings) == 0 {
		return
	}

	rows := make([][]string, 0, len(findings))
	for _, f := range findings {
		v := f.Vulnerability
		direct := ""
		if v.IsDirect {
			direct = "yes"
		}
		rows = append(rows, []string{
			sanitizeTerminal(f.ID),
			string(v.Severity),
			direct,
			sanitizeTerminal(v.Range),
			truncate(sanitizeTerminal(describeVia(v.Via)), maxCell),
			sanitizeTerminal(describeFix(v.FixAvailable)),
		})
	}

	findingsTable := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(border).
		Headers("PACKAGE", "SEVERITY", "DIRECT", "RANGE", "VIA", "FIX").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := r.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			if col == 1 && row >= 0 && row < len(rows) {
				if color, ok := severityColors[entities.Severity(rows[row][1])]; ok {
					return style.Foreground(color)
				}
			}
			return style
		})
	fmt.Fprintln(w)
	fmt.Fprintln(w, findingsTable.Render())

	plan := reports.FixPlan(report)
	if len(plan) == 0 {
		return
	}

	planRows := make([][]string, 0, len(plan))
	for _, fix := range plan {
		major := ""
		if fix.IsSemVerMajor {
			major = "yes"
		}
		planRows = append(planRows, []string{
			sanitizeTerminal(fix.Package),
			sanitizeTerminal(fix.Version),
			major,
			truncate(sanitizeTerminal(strings.Join(fix.Resolves, ", ")), maxCell),
		})
	}

	planTable := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(border).
		Headers("UPGRADE", "TO", "BREAKING", "RESOLVES").
		Rows(planRows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			style := r.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			return style
		})
	fmt.Fprintln(w)
	fmt.Fprintln(w, bold.Render("🔧 Fix plan"))
	fmt.Fprintln(w, planTable.Render())
}

func describeVia(via []entities.ViaEntry) string {
	parts := make([]string, 0, len(via))
	for _, entry := range via {
		if entry.Advisory != nil {
			parts = append(parts, entry.Advisory.Title)
			continue
		}
		parts = append(parts, entry.Package)
	}
	return strings.Join(parts, "; ")
}

func describeFix(fix entities.FixAvailability) string {
	switch {
	case !fix.Available:
		return "no"
	case fix.Fix == nil:
		return "yes"
	case fix.Fix.IsSemVerMajor:
		return fmt.Sprintf("%s@%s (major)", fix.Fix.Name, fix.Fix.Version)
	default:
		return fmt.Sprintf("%s@%s", fix.Fix.Name, fix.Fix.Version)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// sanitizeTerminal makes text from packages and tool output safe to print
// by replacing control characters with visible escapes. Tabs and newlines
// are kept.
func sanitizeTerminal(s string) string {
	clean := true
	for _, r := range s {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&b, `\x%02x`, s[i])
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
