package compiler

import (
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/slowlang/mirsh/compiler/exec"
)

type (
	Config struct {
		// Strict fails lowering on the first diagnostic.
		Strict bool `yaml:"strict"`

		Exec exec.Config `yaml:"exec"`
	}
)

func DefaultConfig() Config {
	return Config{
		Exec: exec.DefaultConfig(),
	}
}

// LoadConfig reads a yaml config over the defaults.
// Empty name returns the defaults.
func LoadConfig(fs afero.Fs, name string) (Config, error) {
	cfg := DefaultConfig()

	if name == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "decode config %v", name)
	}

	return cfg, nil
}
