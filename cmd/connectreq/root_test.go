package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probablyarth/connectreq"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "key"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	tests := map[string]string{
		"log-level": "info",
		"format":    "text",
		"timeout":   "10s",
		"retries":   "2",
		"backoff":   "200ms",
		"config":    "",
	}
	for name, def := range tests {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	cmd := NewRootCommand()
	require.NoError(t, cmd.PersistentFlags().Set("retries", "5"))

	file := filepath.Join(t.TempDir(), "connectreq.yaml")
	require.NoError(t, os.WriteFile(file, []byte("retries: 9\nformat: json\ntimeout: 3s\n"), 0o644))
	t.Setenv("CONNECTREQ_TIMEOUT", "7s")

	cfg, err := loadConfig(viper.New(), cmd.PersistentFlags(), file)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retries, "flag wins over file")
	assert.Equal(t, 7*time.Second, cfg.Timeout, "env wins over file")
	assert.Equal(t, "json", cfg.Format, "file wins over default")
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigInvalid(t *testing.T) {
	cmd := NewRootCommand()
	require.NoError(t, cmd.PersistentFlags().Set("format", "xml"))

	_, err := loadConfig(viper.New(), cmd.PersistentFlags(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.LogLevel = "loud"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Timeout = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Retries = -1
	assert.Error(t, bad.Validate())
}

func TestKeyCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"key", "--url", "http://foo.bar/users", "--body", `{"id":1}`, "--option", "method=POST"})

	require.NoError(t, cmd.Execute())

	want := connectreq.MustKeyOf(connectreq.QueryConfig{
		URL:     "http://foo.bar/users",
		Body:    []byte(`{"id":1}`),
		Options: map[string]any{"method": "POST"},
	})
	assert.Equal(t, string(want), strings.TrimSpace(out.String()))
}

func TestKeyCommandRequiresURL(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"key"})

	assert.Error(t, cmd.Execute())
}
