package npmaudit

import "encoding/json"

// Decoding types. Pointers and raw messages distinguish a missing field
// from its zero value.

type wireReport struct {
	AuditReportVersion *int                          `json:"auditReportVersion"`
	Vulnerabilities    map[string]*wireVulnerability `json:"vulnerabilities"`
	Metadata           *wireMetadata                 `json:"metadata"`
	Error              *wireError                    `json:"error"`
}

type wireVulnerability struct {
	Name         *string           `json:"name"`
	Severity     *string           `json:"severity"`
	IsDirect     *bool             `json:"isDirect"`
	Via          []json.RawMessage `json:"via"`
	Effects      []string          `json:"effects"`
	Range        *string           `json:"range"`
	Nodes        []string          `json:"nodes"`
	FixAvailable json.RawMessage   `json:"fixAvailable"`
}

type wireAdvisory struct {
	Source     *int      `json:"source"`
	Name       *string   `json:"name"`
	Dependency string    `json:"dependency"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Severity   string    `json:"severity"`
	CWE        []string  `json:"cwe"`
	CVSS       *wireCVSS `json:"cvss"`
	Range      string    `json:"range"`
}

type wireCVSS struct {
	Score        float64 `json:"score"`
	VectorString string  `json:"vectorString"`
}

type wireFix struct {
	Name          *string `json:"name"`
	Version       *string `json:"version"`
	IsSemVerMajor *bool   `json:"isSemVerMajor"`
}

type wireMetadata struct {
	Vulnerabilities *wireSeverityCounts   `json:"vulnerabilities"`
	Dependencies    *wireDependencyCounts `json:"dependencies"`
}

type wireSeverityCounts struct {
	Info     *int `json:"info"`
	Low      *int `json:"low"`
	Moderate *int `json:"moderate"`
	High     *int `json:"high"`
	Critical *int `json:"critical"`
	Total    *int `json:"total"`
}

type wireDependencyCounts struct {
	Prod         int `json:"prod"`
	Dev          int `json:"dev"`
	Optional     int `json:"optional"`
	Peer         int `json:"peer"`
	PeerOptional int `json:"peerOptional"`
	Total        int `json:"total"`
}

// wireError is the document npm prints instead of a report when the audit
// itself cannot run
type wireError struct {
	Code    string `json:"code"`
	Summary string `json:"summary"`
	Detail  string `json:"detail"`
}

// Encoding types, in npm's field order.

type outReport struct {
	AuditReportVersion int                         `json:"auditReportVersion"`
	Vulnerabilities    map[string]outVulnerability `json:"vulnerabilities"`
	Metadata           outMetadata                 `json:"metadata"`
}

type outVulnerability struct {
	Name         string        `json:"name"`
	Severity     string        `json:"severity"`
	IsDirect     bool          `json:"isDirect"`
	Via          []interface{} `json:"via"`
	Effects      []string      `json:"effects"`
	Range        string        `json:"range"`
	Nodes        []string      `json:"nodes"`
	FixAvailable interface{}   `json:"fixAvailable"`
}

type outAdvisory struct {
	Source     int       `json:"source"`
	Name       string    `json:"name"`
	Dependency string    `json:"dependency,omitempty"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	CWE        []string  `json:"cwe,omitempty"`
	CVSS       *wireCVSS `json:"cvss,omitempty"`
	Range      string    `json:"range,omitempty"`
}

type outFix struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	IsSemVerMajor bool   `json:"isSemVerMajor"`
}

type outMetadata struct {
	Vulnerabilities outSeverityCounts     `json:"vulnerabilities"`
	Dependencies    *wireDependencyCounts `json:"dependencies,omitempty"`
}

type outSeverityCounts struct {
	Info     int `json:"info"`
	Low      int `json:"low"`
	Moderate int `json:"moderate"`
	High     int `json:"high"`
	Critical int `json:"critical"`
	Total    int `json:"total"`
}
