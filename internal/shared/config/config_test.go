package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampGenerationTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultGenerationTimeout},
		{-time.Second, DefaultGenerationTimeout},
		{time.Second, MinGenerationTimeout},
		{59 * time.Second, MinGenerationTimeout},
		{60 * time.Second, 60 * time.Second},
		{15 * time.Minute, 15 * time.Minute},
		{3600 * time.Second, 3600 * time.Second},
		{2 * time.Hour, MaxGenerationTimeout},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampGenerationTimeout(tt.in), "input %s", tt.in)
	}
}

func TestLoad_RequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CREDENTIAL_SECRET", "s")
	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/imagegw")
	t.Setenv("CREDENTIAL_SECRET", "")
	_, err = Load()
	assert.ErrorContains(t, err, "CREDENTIAL_SECRET")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/imagegw")
	t.Setenv("CREDENTIAL_SECRET", "secret")
	t.Setenv("IMAGE_GEN_TIMEOUT_SECONDS", "")
	t.Setenv("EXTENDED_MIN_SIZE", "")
	t.Setenv("AUDIT_ENABLED", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerationTimeout, cfg.GenerationTimeout)
	assert.Equal(t, "2048x2048", cfg.ExtendedMinSize)
	assert.Equal(t, int64(15*1024*1024), cfg.MaterializeMaxBytes)
	assert.True(t, cfg.AuditEnabled)
}

func TestLoad_ClampsTimeout(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/imagegw")
	t.Setenv("CREDENTIAL_SECRET", "secret")
	t.Setenv("IMAGE_GEN_TIMEOUT_SECONDS", "99999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, MaxGenerationTimeout, cfg.GenerationTimeout)
}
