package database

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_ReportsHealthyOnSuccessfulPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()

	status, err := Health(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealth_ReportsUnhealthyOnPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(assert.AnError)

	status, err := Health(context.Background(), db)
	require.Error(t, err)
	assert.Equal(t, "unhealthy", status.Status)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "kenny", Password: "kenny",
				Database: "kenny", SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 5,
			},
		},
		{
			name: "missing password",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "kenny",
				Database: "kenny", MaxOpenConns: 10, MaxIdleConns: 5,
			},
			wantErr: true,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "kenny", Password: "kenny",
				Database: "kenny", MaxOpenConns: 5, MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max open conns",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "kenny", Password: "kenny",
				Database: "kenny", MaxOpenConns: 0, MaxIdleConns: 0,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewClientFromPool_WrapsExistingPool(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	client := NewClientFromPool(db)
	assert.Same(t, db, client.DB())
	assert.NoError(t, client.Close())
}
