package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/medguard-ai/medguard/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 150*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "@every 5m", cfg.Store.EvictionSchedule)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, "./uploads", cfg.Storage.BaseDir)
	assert.Equal(t, 15*time.Minute, cfg.Storage.PresignExpiry)
	assert.Equal(t, []string{"inference.py", "--image", "{image}"}, cfg.Scorer.Args)
	assert.Equal(t, 120*time.Second, cfg.Scorer.Timeout)
	assert.Equal(t, int64(5<<20), cfg.Upload.MaxSize)

	ac, err := cfg.AnalysisConfig()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, ac.MinDelay)
	assert.Equal(t, 8*time.Second, ac.MaxDelay)
	assert.Equal(t, aggregate.DefaultPolicy(aggregate.PolicyAnomaly), ac.BatchPolicy)
	assert.Equal(t, aggregate.DefaultPolicy(aggregate.PolicySimilarity), ac.SequentialPolicy)
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
store:
  type: redis
  ttl: 2h
storage:
  type: s3
  bucket: scans
  region: ap-southeast-1
  presign_expiry: 5m
scorer:
  type: similarity
aggregation:
  batch_policy: similarity
  sensitivity: 500
batch:
  min_delay: 0s
  max_delay: 1s
  workers: 2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, 2*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "scans", cfg.Storage.Bucket)
	assert.Equal(t, "ap-southeast-1", cfg.Storage.Region)
	assert.Equal(t, 5*time.Minute, cfg.Storage.PresignExpiry)
	assert.Equal(t, "similarity", cfg.Scorer.Type)

	ac, err := cfg.AnalysisConfig()
	require.NoError(t, err)
	assert.Equal(t, aggregate.SimilarityPolicy(aggregate.DefaultOffset, 500), ac.BatchPolicy)
	assert.Equal(t, 2, ac.Workers)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("MEDGUARD_SERVER_PORT", "7000")
	t.Setenv("MEDGUARD_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown store", "store:\n  type: etcd\n"},
		{"unknown scorer", "scorer:\n  type: llm\n"},
		{"unknown embedder", "embedder:\n  type: clip\n"},
		{"unknown policy", "aggregation:\n  batch_policy: median\n"},
		{"delay window", "batch:\n  min_delay: 5s\n  max_delay: 1s\n"},
		{"zero workers", "batch:\n  workers: 0\n"},
		{"zero ttl", "store:\n  ttl: 0s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
