package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/kenny-fabric/kenny/pkg/manifest"
)

func testManifest() manifest.Manifest {
	schema := json.RawMessage(`{"type":"object"}`)
	return manifest.Manifest{
		AgentID:     "mail-agent",
		DisplayName: "Mail Agent",
		Version:     "1.0.0",
		AgentType:   manifest.AgentTypeBasic,
		Capabilities: []manifest.CapabilityDescriptor{
			{Verb: "messages.search", InputSchema: schema, OutputSchema: schema},
		},
		HealthCheck: manifest.HealthCheckSpec{Endpoint: "http://localhost:9100/health", IntervalS: 30},
	}
}

func TestPostgresStore_Save_UpsertsRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO registry_records`).
		WithArgs("mail-agent", sqlmock.AnyArg(), "http://localhost:9100", "http://localhost:9100/health", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	err = store.Save(context.Background(), "mail-agent", testManifest(), "http://localhost:9100", "http://localhost:9100/health", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadAll_UnmarshalsManifest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	body, err := json.Marshal(testManifest())
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"agent_id", "manifest", "base_url", "health_endpoint", "registered_at"}).
		AddRow("mail-agent", body, "http://localhost:9100", "http://localhost:9100/health", time.Now())
	mock.ExpectQuery(`SELECT agent_id, manifest, base_url, health_endpoint, registered_at FROM registry_records`).
		WillReturnRows(rows)

	store := NewPostgresStore(db)
	records, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Contains(t, records, "mail-agent")
	require.Equal(t, HealthUnknown, records["mail-agent"].HealthStatus)
	require.Equal(t, "messages.search", records["mail-agent"].Manifest.Capabilities[0].Verb)
}

func TestPostgresStore_Delete_RemovesRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM registry_records WHERE agent_id = \$1`).
		WithArgs("mail-agent").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.Delete(context.Background(), "mail-agent"))
	require.NoError(t, mock.ExpectationsWereMet())
}
