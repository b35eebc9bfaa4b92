package dto

import "time"

// StatementResponse describes a generated ledger statement.
type StatementResponse struct {
	ProjectID string    `json:"projectId"`
	Format    string    `json:"format"`
	Filename  string    `json:"filename"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IntegrityReport summarises one reconciliation sweep.
type IntegrityReport struct {
	CheckedAt  time.Time            `json:"checkedAt"`
	Projects   int                  `json:"projects"`
	Violations []IntegrityViolation `json:"violations"`
}

// IntegrityViolation names a project whose state failed reconciliation.
type IntegrityViolation struct {
	ProjectID string `json:"projectId"`
	Message   string `json:"message"`
}
