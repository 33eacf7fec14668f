package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kenny-fabric/kenny/pkg/manifest"
)

// PostgresStore is the production SnapshotStore, persisting each
// RegistryRecord's manifest as jsonb (SPEC_FULL.md §3.2).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open pool. The caller owns migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, agentID string, m manifest.Manifest, baseURL, healthEndpoint string, registeredAt time.Time) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest for %q: %w", agentID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registry_records (agent_id, manifest, base_url, health_endpoint, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (agent_id) DO UPDATE SET
			manifest = EXCLUDED.manifest,
			base_url = EXCLUDED.base_url,
			health_endpoint = EXCLUDED.health_endpoint,
			registered_at = EXCLUDED.registered_at,
			updated_at = now()
	`, agentID, body, baseURL, healthEndpoint, registeredAt)
	if err != nil {
		return fmt.Errorf("save registry record %q: %w", agentID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM registry_records WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("delete registry record %q: %w", agentID, err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) (map[string]*RegistryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, manifest, base_url, health_endpoint, registered_at FROM registry_records`)
	if err != nil {
		return nil, fmt.Errorf("query registry records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*RegistryRecord)
	for rows.Next() {
		var (
			agentID, baseURL, healthEndpoint string
			body                             []byte
			registeredAt                     time.Time
		)
		if err := rows.Scan(&agentID, &body, &baseURL, &healthEndpoint, &registeredAt); err != nil {
			return nil, fmt.Errorf("scan registry record: %w", err)
		}
		var m manifest.Manifest
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("unmarshal manifest for %q: %w", agentID, err)
		}
		out[agentID] = &RegistryRecord{
			Manifest:       m,
			HealthEndpoint: healthEndpoint,
			BaseURL:        baseURL,
			RegisteredAt:   registeredAt,
			HealthStatus:   HealthUnknown,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry records: %w", err)
	}
	return out, nil
}
