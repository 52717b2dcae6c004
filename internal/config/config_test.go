package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, 50, cfg.Pipeline.CommitEveryBatches)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoad_SourceDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	hgnc := cfg.SourceOpts("hgnc")
	assert.Equal(t, "https://rest.genenames.org", hgnc.BaseURL)
	assert.Equal(t, 7*24*time.Hour, hgnc.UpdateFrequency())

	pubtator := cfg.SourceOpts("pubtator")
	assert.Equal(t, 24*time.Hour, pubtator.CacheTTL())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KGDB_PIPELINE_WORKERS", "7")
	t.Setenv("KGDB_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestSourceOpts_TimeoutFallback(t *testing.T) {
	var o SourceOpts
	assert.Equal(t, 30*time.Second, o.Timeout())

	o.TimeoutSecs = 120
	assert.Equal(t, 2*time.Minute, o.Timeout())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))

	err := InitLogger(LogConfig{Level: "bogus"})
	assert.Error(t, err)
}
