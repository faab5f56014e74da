package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-delivery-service/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", t.TempDir()+"/jobs.db")

	cfg, log := loadConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, config.StoreDriverSQLite, cfg.StoreDriver)

	var buf bytes.Buffer
	log = log.Output(&buf)
	log.Warn().Msg("started")
	assert.Contains(t, buf.String(), `"service":"api"`)
}
