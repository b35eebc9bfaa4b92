package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_login TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		action TEXT NOT NULL,
		resource TEXT NOT NULL,
		resource_id TEXT,
		old_values JSONB,
		new_values JSONB,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		location TEXT NOT NULL,
		category TEXT NOT NULL,
		currency CHAR(3) NOT NULL,
		budget_minor BIGINT NOT NULL CHECK (budget_minor > 0),
		spent_minor BIGINT NOT NULL DEFAULT 0 CHECK (spent_minor >= 0),
		committed_minor BIGINT NOT NULL DEFAULT 0 CHECK (committed_minor >= 0),
		expected_duration_months INTEGER NOT NULL,
		requirements TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_by TEXT NOT NULL,
		assigned_contractor_id TEXT,
		approved_by TEXT,
		cancel_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (spent_minor + committed_minor <= budget_minor)
	);`,
	`ALTER TABLE projects ADD COLUMN IF NOT EXISTS assigned_contractor_id TEXT;`,
	`CREATE TABLE IF NOT EXISTS project_milestones (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		currency CHAR(3),
		target_minor BIGINT CHECK (target_minor > 0),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		completed_by TEXT,
		UNIQUE (project_id, position)
	);`,
	`CREATE TABLE IF NOT EXISTS work_claims (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		contractor_id TEXT NOT NULL,
		currency CHAR(3) NOT NULL,
		amount_minor BIGINT NOT NULL CHECK (amount_minor > 0),
		description TEXT NOT NULL,
		location TEXT NOT NULL,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		evidence_refs TEXT[] NOT NULL DEFAULT '{}',
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reservation_id TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMPTZ NOT NULL,
		acknowledged_by TEXT,
		decided_at TIMESTAMPTZ,
		decided_by TEXT,
		rejection_reason TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS approval_decisions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		claim_id TEXT NOT NULL REFERENCES work_claims(id) ON DELETE CASCADE,
		sequence BIGINT NOT NULL,
		outcome TEXT NOT NULL,
		decider_id TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		currency CHAR(3) NOT NULL,
		amount_minor BIGINT NOT NULL,
		decided_at TIMESTAMPTZ NOT NULL,
		prev_hash CHAR(64) NOT NULL,
		hash CHAR(64) NOT NULL,
		UNIQUE (project_id, sequence)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_approval_decisions_claim ON approval_decisions (claim_id);`,
	`CREATE INDEX IF NOT EXISTS idx_projects_status ON projects (status);`,
	`CREATE INDEX IF NOT EXISTS idx_projects_location ON projects (location);`,
	`CREATE INDEX IF NOT EXISTS idx_work_claims_project ON work_claims (project_id, submitted_at);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs (resource, resource_id);`,
}

// Migrate applies the schema. Every statement is idempotent so it runs on each start.
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	for i, stmt := range migrationStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
