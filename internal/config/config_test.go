package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
server:
  port: 8080
notion:
  token: secret_abc
  database_id: db123
video:
  accepted_formats: [mp4, webm]
  retry_base_delay: 500ms
storage:
  refresh_interval: 7200
`

func writeFile(t *testing.T, name string, contents string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func noEnv(string) (string, bool) {
	return "", false
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	assert := assert_.New(t)
	cfg, err := Load(writeFile(t, "config.yaml", testYAML), WithLookupEnv(noEnv))
	require.NoError(t, err)

	assert.Equal(8080, cfg.Int("server.port"))
	assert.Equal("127.0.0.1", cfg.String("server.host"))
	assert.Equal("secret_abc", cfg.String("notion.token"))
	assert.Equal([]string{"mp4", "webm"}, cfg.Strings("video.accepted_formats"))
	assert.Equal(500*time.Millisecond, cfg.Duration("video.retry_base_delay"))
	assert.Equal(2*time.Hour, cfg.Duration("storage.refresh_interval"))
	assert.Equal(3*time.Hour, New(nil).Duration("storage.refresh_interval"))
	assert.Equal(int64(100<<20), cfg.Int64("video.max_size_bytes"))
	assert.True(cfg.Bool("resolver.cache"))
	assert.NoError(cfg.Validate())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	assert := assert_.New(t)
	env := map[string]string{
		"POST_ARCHIVER_SERVER_PORT":          "9999",
		"POST_ARCHIVER_VIDEO_COMPRESSION":    "low",
		"POST_ARCHIVER_RESOLVER_SHORT_HOSTS": "sho.rt, tiny.example",
		"POST_ARCHIVER_RESOLVER_CACHE":       "false",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg, err := Load(writeFile(t, "config.yaml", testYAML), WithLookupEnv(lookup))
	require.NoError(t, err)

	assert.Equal(9999, cfg.Int("server.port"))
	assert.Equal("low", cfg.String("video.compression"))
	assert.Equal([]string{"sho.rt", "tiny.example"}, cfg.Strings("resolver.short_hosts"))
	assert.False(cfg.Bool("resolver.cache"))
	assert.Equal("secret_abc", cfg.String("notion.token"))
}

func TestLoadEnvFile(t *testing.T) {
	assert := assert_.New(t)
	envFile := writeFile(t, ".env", "POST_ARCHIVER_TEST_ONLY_KEY=from-dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("POST_ARCHIVER_TEST_ONLY_KEY") })

	cfg, err := Load(writeFile(t, "config.yaml", "test_only:\n  key: from-file\n"), WithEnvFile(envFile))
	require.NoError(t, err)
	assert.Equal("from-dotenv", cfg.String("test_only.key"))

	// A missing env file is fine
	_, err = Load("", WithEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(err)
}

func TestLoadErrors(t *testing.T) {
	assert := assert_.New(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(err, os.ErrNotExist)
	_, err = Load(writeFile(t, "bad.yaml", "server: [unclosed"))
	assert.Error(err)
}

func TestValidateReportsEverything(t *testing.T) {
	assert := assert_.New(t)
	cfg := New(map[string]any{
		"server.port":       0,
		"video.concurrency": 0,
		"video.compression": "ultra",
		"log.level":         "loud",
	})
	err := cfg.Validate()
	assert.ErrorIs(err, ErrInvalidPort)
	assert.ErrorIs(err, ErrInvalidConcurrency)
	assert.ErrorIs(err, ErrInvalidCompression)
	assert.ErrorIs(err, ErrInvalidLogLevel)
	assert.ErrorIs(err, ErrMissingNotion)
	var merr *multierror.Error
	if assert.ErrorAs(err, &merr) {
		assert.Len(merr.Errors, 5)
	}
}

func TestEnvName(t *testing.T) {
	assert_.Equal(t, "POST_ARCHIVER_STORAGE_APP_KEY", EnvName(DefaultEnvPrefix, "storage.app_key"))
}
