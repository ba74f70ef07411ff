package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: 0.0.0.0:9000
sealing_uris:
  - file:///var/lib/enclave
  - vault://127.0.0.1:8200/secret/enclave
sealing_key: "`+strings.Repeat("ab", 32)+`"
attestation: qemu-tdx
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Equal(t, "127.0.0.1:8090", cfg.MetricsAddr, "unset keys keep their default")
	assert.Equal(t, []string{"file:///var/lib/enclave", "vault://127.0.0.1:8200/secret/enclave"}, cfg.SealingURIs)
	assert.Equal(t, "qemu-tdx", cfg.Attestation)

	key, err := cfg.SealingKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen_addr: 0.0.0.0:9000\n")
	t.Setenv("ENCLAVE_LISTEN_ADDR", "10.0.0.1:1234")
	t.Setenv("ENCLAVE_SEALING_URIS", "file:///a, keyring://enclave ,")
	t.Setenv("ENCLAVE_BECH32_PREFIX", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:1234", cfg.ListenAddr)
	assert.Equal(t, []string{"file:///a", "keyring://enclave"}, cfg.SealingURIs)
	assert.Equal(t, "secret", cfg.Bech32Prefix)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"malformed yaml":    "listen_addr: [",
		"short sealing key": "sealing_key: abcd\n",
		"unknown engine":    "engine: wasmer\n",
		"no sealing uris":   "sealing_uris: []\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
