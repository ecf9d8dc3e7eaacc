package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAsFormatOverride(t *testing.T) {
	// YAML content behind an extension viper would read as JSON.
	path := writeConfig(t, "ywh2bt.conf", sampleYAML)

	_, err := LoadAs(path, "")
	require.Error(t, err, "format should not be inferrable from .conf")

	root, err := LoadAs(path, "yaml")
	require.NoError(t, err)
	assert.Len(t, root.Trackers, 4)
	assert.Contains(t, root.Platforms, "default")
}

func TestEncodeFormats(t *testing.T) {
	root, err := Load(writeConfig(t, "ywh2bt.yaml", sampleYAML))
	require.NoError(t, err)

	yamlOut, err := Encode(root, "yaml")
	require.NoError(t, err)
	assert.Contains(t, string(yamlOut), "type: github")

	jsonOut, err := Encode(root, "json")
	require.NoError(t, err)
	assert.True(t, json.Valid(jsonOut))
	assert.Contains(t, string(jsonOut), `"type": "github"`)

	_, err = Encode(root, "toml")
	assert.Error(t, err)
}
