package models

// Domain identifies one of the read-only data domains exposed by the
// engagement backend.
type Domain string

const (
	DomainAccounts  Domain = "accounts"
	DomainFindings  Domain = "findings"
	DomainDecisions Domain = "decisions"
	DomainMappings  Domain = "mappings"
	DomainPatterns  Domain = "patterns"
)

// Record is one flat row from a data domain. Fields are sparse; the
// orchestration layer treats them as opaque.
type Record struct {
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}
