package config

import (
	"go/format"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 80, cfg.Policy.FollowingEvery)
	assert.Equal(t, 120, cfg.Policy.AloneEvery)
	assert.Equal(t, 60000.0, cfg.Policy.RapidThreshold)
	assert.Equal(t, 15, cfg.Session.AlertCap)
	assert.Equal(t, 80, cfg.Vision.JPEGQuality)
}

func TestIsRapidIsStrict(t *testing.T) {
	p := Default().Policy
	assert.False(t, p.IsRapid(60000))
	assert.True(t, p.IsRapid(60001))
}

func TestLoadMergesYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.yaml")
	yamlDoc := `
server:
  addr: ":9000"
  status_interval: 250ms
policy:
  rapid_threshold: 1000
vision:
  cascade_dir: /models/from-yaml
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	t.Chdir(dir)
	t.Setenv("SAFETY_CASCADE_DIR", "/models/from-env")
	t.Setenv("SAFETY_STRICT_PRIVACY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.StatusInterval)
	assert.Equal(t, 1000.0, cfg.Policy.RapidThreshold)
	assert.Equal(t, "/models/from-env", cfg.Vision.CascadeDir)
	assert.True(t, cfg.Vision.StrictPrivacy)
	// untouched keys keep defaults
	assert.Equal(t, 120, cfg.Policy.AloneEvery)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SAFETY_ALERT_CAP=7\n"), 0o644))
	t.Chdir(dir)
	t.Cleanup(func() { os.Unsetenv("SAFETY_ALERT_CAP") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Session.AlertCap)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"zero cadence":     func(c *Config) { c.Policy.FollowingEvery = 0 },
		"zero cap":         func(c *Config) { c.Session.AlertCap = 0 },
		"negative rapid":   func(c *Config) { c.Policy.RapidThreshold = -1 },
		"empty locations":  func(c *Config) { c.Policy.LocationMin = 5; c.Policy.LocationMax = 2 },
		"bad decoder":      func(c *Config) { c.Vision.Decoder = "gstreamer" },
		"bad jpeg quality": func(c *Config) { c.Vision.JPEGQuality = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestAllowsExtension(t *testing.T) {
	s := Default().Server
	assert.True(t, s.AllowsExtension("clip.MP4"))
	assert.True(t, s.AllowsExtension("street.webm"))
	assert.False(t, s.AllowsExtension("notes.txt"))
}

func TestSourcesAreGofmtClean(t *testing.T) {
	files, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		src, err := os.ReadFile(name)
		require.NoError(t, err)
		formatted, err := format.Source(src)
		require.NoError(t, err, name)
		assert.Equal(t, string(formatted), string(src), "%s is not gofmt-formatted", name)
	}
}
