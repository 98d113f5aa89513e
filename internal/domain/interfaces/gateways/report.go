package gateways

import "github.com/ochairo/pkgaudit/internal/domain/entities"

// ReportCodec converts between the audit tool's wire format and the report model
type ReportCodec interface {
	// Parse strictly decodes audit output. Failures are
	// *entities.PipelineError values of kind KindOutputParseFailed.
	Parse(data []byte) (*entities.AuditReport, error)

	// Encode renders a report in the wire format
	Encode(report *entities.AuditReport) ([]byte, error)
}

// ReportSigner produces and checks detached signatures over rendered reports
type ReportSigner interface {
	Sign(data []byte) ([]byte, error)
	Verify(data, signature []byte) error
}
