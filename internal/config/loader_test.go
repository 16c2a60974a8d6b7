// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vodgate/internal/domain/media"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvMediaRoot, root)

	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, 2, cfg.Transcode.Workers)
	assert.Equal(t, 64, cfg.Transcode.QueueSize)
	assert.Equal(t, 1, cfg.Transcode.RenditionParallelism)
	assert.Equal(t, 10*time.Minute, cfg.Transcode.TimeoutBase)
	assert.Equal(t, 20*time.Minute, cfg.Transcode.TimeoutPerGB)
	assert.Equal(t, 30*time.Second, cfg.Media.ProbeTimeout)
	assert.True(t, cfg.API.RequireStreamToken)
	assert.Equal(t, filepath.Join(root, "vodgate.db"), cfg.Store.Path)
	if diff := cmp.Diff(media.DefaultCatalog(), cfg.Transcode.Targets); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, `
log_level: debug
media:
  root: `+root+`
  probe_timeout: 45s
transcode:
  workers: 3
  targets:
    - name: 360p
      width: 640
      height: 360
      video_bitrate_kbps: 600
store:
  backend: memory
`)
	t.Setenv(EnvTranscodeWorkers, "4")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.Media.ProbeTimeout)
	assert.Equal(t, 4, cfg.Transcode.Workers, "env must win over file")
	assert.Equal(t, 64, cfg.Transcode.QueueSize, "defaults survive partial files")
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Empty(t, cfg.Store.Path)
	require.Len(t, cfg.Transcode.Targets, 1)
	assert.Equal(t, "360p", cfg.Transcode.Targets[0].Name)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "media:\n  rooot: /tmp\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	assert.ErrorContains(t, err, "only YAML supported")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Path = "/tmp/x.db"
	cfg.Transcode.Workers = 0
	cfg.Transcode.QueueSize = 0
	cfg.Store.Tokens = "etcd"
	cfg.API.DefaultTokenTTL = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	for _, field := range []string{"transcode.workers", "transcode.queue_size", "store.tokens", "api.default_token_ttl_minutes"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidateRedisTokens(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Path = "/tmp/x.db"
	cfg.Store.Tokens = BackendRedis
	require.NoError(t, Validate(cfg))

	cfg.Store.Redis.Addr = ""
	assert.ErrorContains(t, Validate(cfg), "store.redis.addr")
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("VODGATE_TEST_INT", "12")
	t.Setenv("VODGATE_TEST_BAD_INT", "twelve")
	t.Setenv("VODGATE_TEST_BOOL", "yes")
	t.Setenv("VODGATE_TEST_DUR", "90s")
	t.Setenv("VODGATE_TEST_EMPTY", "")
	t.Setenv("VODGATE_TEST_LIST", " a, ,b ")

	assert.Equal(t, 12, ParseInt("VODGATE_TEST_INT", 1))
	assert.Equal(t, 1, ParseInt("VODGATE_TEST_BAD_INT", 1))
	assert.True(t, ParseBool("VODGATE_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, ParseDuration("VODGATE_TEST_DUR", time.Second))
	assert.Equal(t, "fallback", ParseString("VODGATE_TEST_EMPTY", "fallback"))
	assert.Equal(t, "fallback", ParseString("VODGATE_TEST_UNSET_KEY", "fallback"))
	assert.Equal(t, []string{"a", "b"}, ParseList("VODGATE_TEST_LIST", nil))
}
