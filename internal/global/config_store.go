package global

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"

	DefaultLocalPort      = 4621
	DefaultMaxIterations  = 8
	DefaultPollIntervalMS = 1000
	minPollIntervalMS     = 100
)

type AgentConfig struct {
	Endpoint      string `json:"endpoint" toml:"endpoint"`
	Model         string `json:"model" toml:"model"`
	MaxIterations int    `json:"max_iterations" toml:"max_iterations"`
}

// Complete reports whether the agent section names both an endpoint and a
// model, in which case it takes precedence over the environment.
func (c AgentConfig) Complete() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Model) != ""
}

type PanelConfig struct {
	PollIntervalMS int `json:"poll_interval_ms" toml:"poll_interval_ms"`
}

type GlobalConfig struct {
	LocalPort int         `json:"local_port" toml:"local_port"`
	Agent     AgentConfig `json:"agent" toml:"agent"`
	Panel     PanelConfig `json:"panel" toml:"panel"`
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Dir() string {
	return s.dir
}

func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := filepath.Join(s.dir, configTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return NormalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := NormalizeConfig(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, configTOMLFileName), NormalizeConfig(cfg))
}

func NormalizeConfig(cfg GlobalConfig) GlobalConfig {
	if cfg.LocalPort <= 0 {
		cfg.LocalPort = DefaultLocalPort
	}
	cfg.Agent.Endpoint = strings.TrimSpace(cfg.Agent.Endpoint)
	cfg.Agent.Model = strings.TrimSpace(cfg.Agent.Model)
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Panel.PollIntervalMS <= 0 {
		cfg.Panel.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.Panel.PollIntervalMS < minPollIntervalMS {
		cfg.Panel.PollIntervalMS = minPollIntervalMS
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
