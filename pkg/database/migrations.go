package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates the full-text search indexes over jsonb columns
// that the plain migration files don't express as a portable CREATE INDEX
// (GIN index operator classes are Postgres-specific enough that the teacher
// kept them out of the declarative migration and applied them
// programmatically; Kenny follows the same split).
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_registry_records_manifest_gin
		ON registry_records USING gin(manifest)`)
	if err != nil {
		return fmt.Errorf("failed to create registry_records manifest GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_security_events_details_gin
		ON security_events USING gin(details)`)
	if err != nil {
		return fmt.Errorf("failed to create security_events details GIN index: %w", err)
	}

	return nil
}
