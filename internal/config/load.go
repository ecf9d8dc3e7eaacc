package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// envPrefix marks a string value as an environment variable reference:
// "$ENV:GITHUB_TOKEN" loads the secret from GITHUB_TOKEN at read time.
const envPrefix = "$ENV:"

// Load reads a configuration document from a YAML or JSON file. Map keys are
// treated case-insensitively and normalized to lowercase; string values of
// the form $ENV:NAME are replaced with the named environment variable.
func Load(path string) (*Root, error) {
	return LoadAs(path, "")
}

// LoadAs reads the document forcing the given format ("yaml" or "json")
// instead of inferring it from the file extension. An empty format infers.
func LoadAs(path, format string) (*Root, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if format != "" {
		v.SetConfigType(format)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, err, "reading %s", path)
	}

	// Viper normalizes YAML and JSON input into one tree; re-encoding that
	// tree as JSON feeds the typed model and its tracker-type dispatch.
	settings := expandEnv(v.AllSettings())
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, err, "encoding %s", path)
	}

	var root Root
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfiguration, err, "parsing %s", path)
	}

	// Tracker map keys were lowercased above, so references to them must be
	// lowercased too for the referential check and tracker resolution.
	for _, platform := range root.Platforms {
		for i := range platform.Programs {
			refs := platform.Programs[i].Trackers
			for j, ref := range refs {
				refs[j] = strings.ToLower(ref)
			}
		}
	}
	return &root, nil
}

// Encode serializes the document as "yaml" or "json".
func Encode(root *Root, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(root, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case "yaml", "yml", "":
		var b strings.Builder
		enc := yaml.NewEncoder(&b)
		enc.SetIndent(2)
		if err := enc.Encode(root); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return []byte(b.String()), nil
	default:
		return nil, syncerr.New(syncerr.KindConfiguration, "unknown format %q", format)
	}
}

// Save writes the document to path, choosing YAML or JSON from the file
// extension. JSON is used for .json, YAML for everything else.
func Save(root *Root, path string) error {
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	data, err := Encode(root, format)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfiguration, err, "encoding %s", path)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return syncerr.Wrap(syncerr.KindConfiguration, err, "writing %s", path)
	}
	return nil
}

// expandEnv walks the raw settings tree and resolves $ENV:NAME string values.
func expandEnv(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if name, ok := strings.CutPrefix(val, envPrefix); ok {
			return os.Getenv(name)
		}
		return val
	case map[string]interface{}:
		for k, e := range val {
			val[k] = expandEnv(e)
		}
		return val
	case []interface{}:
		for i, e := range val {
			val[i] = expandEnv(e)
		}
		return val
	default:
		return v
	}
}
