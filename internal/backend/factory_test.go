package backend

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/config"
)

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(&config.Config{
		DataBackend:  "sqlite",
		SQLiteDBPath: "./data/fintrack.db",
		AMQPURL:      "amqp://localhost:5672/",
		AMQPExchange: "fintrack.changes",
	})
	require.NoError(t, err)
	assert.Equal(t, SQLiteBackend, cfg.Type)
	assert.Equal(t, "./data/fintrack.db", cfg.SQLiteDBPath)
	assert.Equal(t, "fintrack.changes", cfg.AMQPExchange)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.Error(t, err)

	_, err = FromAppConfig(nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"sqlite amqp without exchange", Config{Type: SQLiteBackend, SQLiteDBPath: "x.db", AMQPURL: "amqp://localhost"}, true},
		{"postgres", Config{Type: PostgresBackend, DatabaseURL: "postgres://localhost/db"}, false},
		{"postgres without url", Config{Type: PostgresBackend}, true},
		{"unknown", Config{Type: "sheets"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	assert.Equal(t, []string{"memory", "sqlite", "postgres"}, GetBackendTypeStrings())
}

func TestCreateMemoryBackend(t *testing.T) {
	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	require.NoError(t, err)
	require.NotNil(t, result.Store)
	assert.Nil(t, result.Follow)

	ctx := context.Background()
	id, err := result.Store.Create(ctx, "users/u1/transactions", json.RawMessage(`{"amount":1}`))
	require.NoError(t, err)
	_, ok, err := result.Store.Get(ctx, "users/u1/transactions/"+id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, result.Cleanup())
}

func TestCreateSQLiteBackendWithoutAMQP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "fintrack.db")
	result, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: path,
	})
	require.NoError(t, err)
	defer result.Cleanup()

	assert.Nil(t, result.Follow, "no other process can be observed without a bus")
	require.NoError(t, result.Store.Set(context.Background(), "users/u1/settings/budget", json.RawMessage(`{"monthlyGoal":10}`), false))
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: PostgresBackend})
	assert.Error(t, err)
}
