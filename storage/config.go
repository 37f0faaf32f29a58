package storage

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config contains object store settings of a single environment.
type Config struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	// Endpoint has priority over Region.
	Endpoint           string `yaml:"endpoint"`
	Region             string `yaml:"region"`
	ForcePathStyle     bool   `yaml:"force_path_style"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`

	Folder       string `yaml:"folder"`
	ThumbFolder  string `yaml:"thumb_folder"`
	ImportFolder string `yaml:"import_folder"`
}

// LoadConfig reads the section env of a YAML config file. Environment variables
// referenced as ${VAR} are expanded before parsing.
func LoadConfig(path, env string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("couldn't read storage config: %w", err)
	}
	return ParseConfig(data, env)
}

func ParseConfig(data []byte, env string) (Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var envs map[string]Config
	if err := yaml.Unmarshal(data, &envs); err != nil {
		return Config{}, fmt.Errorf("couldn't parse storage config: %w", err)
	}

	cfg, ok := envs[env]
	if !ok {
		return Config{}, fmt.Errorf("storage config has no section %q", env)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid storage config for %q: %w", env, err)
	}
	return cfg, nil
}

func (cfg Config) Validate() error {
	if cfg.Bucket == "" {
		return errors.New("bucket can't be empty")
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return errors.New("access key id and secret access key must be set together")
	}
	return nil
}
