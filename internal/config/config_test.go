package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewConfig(), c)
	assert.NoError(t, c.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
log:
  level: warn
  writer: [console, file]
  file:
    path: /tmp/netpulse.log
network:
  waitForDecoding: true
  regexEnabled: true
  excludedHosts: ["^telemetry\\."]
  sensitiveHeaders: [Authorization, Cookie]
  sensitiveDataFields: [password]
cdp:
  devtoolsURL: http://localhost:9333
  bodyTimeout: 5s
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, []string{"console", "file"}, c.Log.Writer)
	assert.Equal(t, "/tmp/netpulse.log", c.Log.File.Path)
	assert.Equal(t, 50, c.Log.File.MaxSizeMB, "unset fields keep defaults")
	assert.Equal(t, "http://localhost:9333", c.CDP.DevToolsURL)
	assert.Equal(t, 5*time.Second, c.CDP.BodyTimeout)

	opts := c.APIOptions()
	assert.True(t, opts.WaitForDecoding)
	assert.True(t, opts.RegexEnabled)
	assert.Equal(t, []string{`^telemetry\.`}, opts.ExcludedHosts)
	assert.Equal(t, []string{"Authorization", "Cookie"}, opts.SensitiveHeaders)

	lo := c.LoggerOptions()
	assert.Equal(t, "warn", lo.Level)
	assert.Equal(t, "/tmp/netpulse.log", lo.File.Path)

	bo := c.BrowserOptions()
	assert.Equal(t, 5*time.Second, bo.BodyTimeout)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "log: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "log:\n  writer: [syslog]\n"))
	assert.ErrorContains(t, err, "unknown writer")
}

func TestValidate(t *testing.T) {
	c := NewConfig()
	c.Log.Writer = []string{"file"}
	c.Log.File.Path = ""
	c.CDP.BodyTimeout = -time.Second

	err := c.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "log.file.path")
	assert.ErrorContains(t, err, "cdp.bodyTimeout")
}
