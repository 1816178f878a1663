package postgres

import (
	"testing"
	"time"

	"cpay-gateway/config"
	"cpay-gateway/internal/obs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "cpay",
		Password: "s3cret",
		DBName:   "cpay_gateway",
		SSLMode:  "disable",
	}
}

func TestPoolConfig(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.MaxConns = 12
	cfg.MinConns = 3
	cfg.ConnMaxLifetime = 15 * time.Minute

	poolCfg, err := poolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(12), poolCfg.MaxConns)
	assert.Equal(t, int32(3), poolCfg.MinConns)
	assert.Equal(t, 15*time.Minute, poolCfg.MaxConnLifetime)
	assert.Equal(t, "db.internal", poolCfg.ConnConfig.Host)
	assert.Equal(t, uint16(5433), poolCfg.ConnConfig.Port)
	assert.Equal(t, "cpay_gateway", poolCfg.ConnConfig.Database)
	assert.IsType(t, obs.PGXTracer{}, poolCfg.ConnConfig.Tracer)
}

func TestPoolConfig_ZeroSizesKeepDefaults(t *testing.T) {
	poolCfg, err := poolConfig(testDatabaseConfig())
	require.NoError(t, err)

	assert.Positive(t, poolCfg.MaxConns)
	assert.Equal(t, int32(0), poolCfg.MinConns)
	assert.Positive(t, poolCfg.MaxConnLifetime)
}

func TestPoolConfig_InvalidDSN(t *testing.T) {
	cfg := testDatabaseConfig()
	cfg.SSLMode = "sometimes"

	_, err := poolConfig(cfg)
	assert.ErrorContains(t, err, "parsing database config")
}

// NewPool needs a live PostgreSQL server and is left to deployment smoke tests.
