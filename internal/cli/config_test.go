package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/provenant/internal/model"
)

func TestInitConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, initConfigFile(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Provenant configuration")

	var got model.Config
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, "evidence", got.Queue.Names.Evidence)
	assert.Equal(t, model.DefaultGateConfig(), got.Gate)

	assert.Error(t, initConfigFile(path, false), "existing file must be kept")
	assert.NoError(t, initConfigFile(path, true))
}

func TestWriteConfig_HidesAPIKey(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"

	for _, format := range []string{"yaml", "json"} {
		var out bytes.Buffer
		cmd := &cobra.Command{}
		cmd.SetOut(&out)

		require.NoError(t, writeConfig(cmd, cfg, format))
		assert.NotContains(t, out.String(), "sk-secret", format)
		if format == "json" {
			assert.True(t, json.Valid(out.Bytes()))
		}
	}

	assert.Error(t, writeConfig(&cobra.Command{}, cfg, "toml"))
}

func TestConfigPath(t *testing.T) {
	cfgFile = "/etc/provenant.yaml"
	t.Cleanup(func() { cfgFile = "" })

	path, err := configPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/provenant.yaml", path)
}
