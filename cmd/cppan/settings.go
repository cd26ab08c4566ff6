package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/cppan/cppan/pkg/cppanctx"
)

// settingsFile is the --settings <file> document shape: the remote
// registry cppan talks to, and the handful of per-invocation knobs
// spec.md §6 lists alongside it. Parsed with the same decoder as
// cppan.yml, per the ambient stack's "local per-invocation settings
// reuse the same decoder" note.
type settingsFile struct {
	Remote struct {
		Name     string `yaml:"name"`
		URL      string `yaml:"url"`
		APILevel int    `yaml:"api_level"`
	} `yaml:"remote"`
	ForceServerQuery bool `yaml:"force_server_query"`
}

// loadSettings decodes path and applies it over ctx's defaults.
func loadSettings(ctx *cppanctx.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading settings file %s", path)
	}

	var sf settingsFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return errors.Wrap(err, "parsing settings file")
	}

	if sf.Remote.Name != "" {
		ctx.RemoteName = sf.Remote.Name
	}
	if sf.Remote.URL != "" {
		ctx.RemoteURL = sf.Remote.URL
	}
	if sf.Remote.APILevel != 0 {
		ctx.RemoteAPIVersion = sf.Remote.APILevel
	}
	ctx.ForceServerQuery = sf.ForceServerQuery

	return nil
}
