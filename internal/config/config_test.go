package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
database:
  driver: postgres
  host: db
  port: 5433
  user: rocket
  password: secret
  name: nested
schema:
  path: /etc/rocket/schema.yaml
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://rocket:secret@db:5433/nested?sslmode=disable", cfg.Database.DSN())
	assert.False(t, cfg.Database.IsSQLite())
	assert.Equal(t, "/etc/rocket/schema.yaml", cfg.Schema.Path)
	assert.True(t, cfg.Schema.Bootstrap)
	assert.Equal(t, 500, cfg.Instrumentation.BufferSize)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestDSN_SQLite(t *testing.T) {
	d := DatabaseConfig{Driver: "sqlite", Path: "./data", Name: "rocket"}
	assert.Equal(t, "./data/rocket.db", d.DSN())

	d.Name = ":memory:"
	assert.Equal(t, "file::memory:?cache=shared", d.DSN())
}
