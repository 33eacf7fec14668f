package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventStore persists SecurityEvents, append-only (spec.md §6 "Persisted
// state layout"). See PostgresStore for the production implementation.
type EventStore interface {
	SaveEvent(ctx context.Context, e SecurityEvent) error
	RecentEvents(ctx context.Context, serviceID string, kind EventKind, since time.Time) ([]SecurityEvent, error)
}

// IncidentStore persists Incidents, indexed by (service_id, kind,
// window_start) per spec.md §6.
type IncidentStore interface {
	// SaveIncident persists a newly-opened Incident and returns its
	// generated IncidentID.
	SaveIncident(ctx context.Context, i Incident) (string, error)
	// AppendIncidentEvents mutates an already-open Incident with the full
	// constituent-event list and the re-maxed severity: a matching event
	// arriving inside a still-open correlation window updates the existing
	// Incident instead of being dropped (spec.md §4.5, §8).
	AppendIncidentEvents(ctx context.Context, incidentID string, eventIDs []string, severity Severity) error
	UpdateIncidentStatus(ctx context.Context, incidentID string, status IncidentStatus, closedAt *time.Time) error
	UpdateIncidentSeverity(ctx context.Context, incidentID string, severity Severity) error
	GetIncident(ctx context.Context, incidentID string) (Incident, error)
	ListIncidents(ctx context.Context, status IncidentStatus) ([]Incident, error)
}

// PostgresStore is the production EventStore/IncidentStore, mirroring
// pkg/registry's PostgresStore: plain SQL through database/sql, no ORM.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open pool. The caller owns migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveEvent(ctx context.Context, e SecurityEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal event details for %q: %w", e.EventID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_events (occurred_at, service_id, event_type, destination, severity, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.Timestamp, e.ServiceID, string(e.Kind), nullIfEmpty(e.Destination), string(e.Severity), details)
	if err != nil {
		return fmt.Errorf("save security event for %q: %w", e.ServiceID, err)
	}
	return nil
}

func (s *PostgresStore) RecentEvents(ctx context.Context, serviceID string, kind EventKind, since time.Time) ([]SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, service_id, event_type, destination, severity, details
		FROM security_events
		WHERE service_id = $1 AND event_type = $2 AND occurred_at >= $3
		ORDER BY occurred_at ASC
	`, serviceID, string(kind), since)
	if err != nil {
		return nil, fmt.Errorf("query recent security events for %q: %w", serviceID, err)
	}
	defer rows.Close()

	var out []SecurityEvent
	for rows.Next() {
		var (
			id          int64
			destination sql.NullString
			detailsBody []byte
			e           SecurityEvent
			kindStr     string
			sevStr      string
		)
		if err := rows.Scan(&id, &e.Timestamp, &e.ServiceID, &kindStr, &destination, &sevStr, &detailsBody); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		e.EventID = fmt.Sprintf("%d", id)
		e.Kind = EventKind(kindStr)
		e.Severity = Severity(sevStr)
		e.Destination = destination.String
		if len(detailsBody) > 0 {
			if err := json.Unmarshal(detailsBody, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details for event %d: %w", id, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveIncident(ctx context.Context, i Incident) (string, error) {
	details, err := json.Marshal(map[string]any{"summary": i.Summary})
	if err != nil {
		return "", fmt.Errorf("marshal incident details: %w", err)
	}
	eventIDs, err := json.Marshal(i.EventIDs)
	if err != nil {
		return "", fmt.Errorf("marshal incident event ids: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO incidents (opened_at, severity, status, summary, details, service_id, kind, window_start, event_ids, destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $1, $8, $9)
		RETURNING id
	`, i.OpenedAt, string(i.Severity), string(i.Status), i.Summary, details, i.ServiceID, string(i.Kind), eventIDs, i.Destination).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save incident for %q: %w", i.ServiceID, err)
	}
	return fmt.Sprintf("%d", id), nil
}

func (s *PostgresStore) AppendIncidentEvents(ctx context.Context, incidentID string, eventIDs []string, severity Severity) error {
	encoded, err := json.Marshal(eventIDs)
	if err != nil {
		return fmt.Errorf("marshal incident %q event ids: %w", incidentID, err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE incidents SET event_ids = $1, severity = $2 WHERE id = $3`, encoded, string(severity), incidentID)
	if err != nil {
		return fmt.Errorf("append events to incident %q: %w", incidentID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateIncidentStatus(ctx context.Context, incidentID string, status IncidentStatus, closedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET status = $1, closed_at = $2 WHERE id = $3
	`, string(status), closedAt, incidentID)
	if err != nil {
		return fmt.Errorf("update incident %q status: %w", incidentID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateIncidentSeverity(ctx context.Context, incidentID string, severity Severity) error {
	_, err := s.db.ExecContext(ctx, `UPDATE incidents SET severity = $1 WHERE id = $2`, string(severity), incidentID)
	if err != nil {
		return fmt.Errorf("update incident %q severity: %w", incidentID, err)
	}
	return nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, incidentID string) (Incident, error) {
	var (
		i           Incident
		id          int64
		closedAt    sql.NullTime
		eventIDs    []byte
		sevStr      string
		statusStr   string
		kindStr     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, opened_at, closed_at, severity, status, summary, service_id, kind, event_ids, destination
		FROM incidents WHERE id = $1
	`, incidentID).Scan(&id, &i.OpenedAt, &closedAt, &sevStr, &statusStr, &i.Summary, &i.ServiceID, &kindStr, &eventIDs, &i.Destination)
	if err != nil {
		return Incident{}, fmt.Errorf("get incident %q: %w", incidentID, err)
	}
	i.IncidentID = fmt.Sprintf("%d", id)
	i.Severity = Severity(sevStr)
	i.Status = IncidentStatus(statusStr)
	i.Kind = EventKind(kindStr)
	if closedAt.Valid {
		i.ClosedAt = &closedAt.Time
	}
	if len(eventIDs) > 0 {
		if err := json.Unmarshal(eventIDs, &i.EventIDs); err != nil {
			return Incident{}, fmt.Errorf("unmarshal event ids for incident %q: %w", incidentID, err)
		}
	}
	return i, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, status IncidentStatus) ([]Incident, error) {
	query := `SELECT id, opened_at, closed_at, severity, status, summary, service_id, kind, event_ids, destination FROM incidents`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY opened_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var (
			i         Incident
			id        int64
			closedAt  sql.NullTime
			eventIDs  []byte
			sevStr    string
			statusStr string
			kindStr   string
		)
		if err := rows.Scan(&id, &i.OpenedAt, &closedAt, &sevStr, &statusStr, &i.Summary, &i.ServiceID, &kindStr, &eventIDs, &i.Destination); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		i.IncidentID = fmt.Sprintf("%d", id)
		i.Severity = Severity(sevStr)
		i.Status = IncidentStatus(statusStr)
		i.Kind = EventKind(kindStr)
		if closedAt.Valid {
			i.ClosedAt = &closedAt.Time
		}
		if len(eventIDs) > 0 {
			if err := json.Unmarshal(eventIDs, &i.EventIDs); err != nil {
				return nil, fmt.Errorf("unmarshal event ids for incident %d: %w", id, err)
			}
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
