package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Backend  Backend  `yaml:"backend"`
	Auth     Auth     `yaml:"auth"`
	Progress Progress `yaml:"progress"`
	Cache    Cache    `yaml:"cache"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Backend struct {
	BaseURL        string   `yaml:"base_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
	BulkTimeout    Duration `yaml:"bulk_timeout"`
	HistoryLimit   int      `yaml:"history_limit"`
	TokenPath      string   `yaml:"token_path"`
}

type Auth struct {
	TokenEnv string   `yaml:"token_env"`
	ClientID string   `yaml:"client_id"`
	EnvFiles []string `yaml:"env_files"`
}

// Progress tunes the simulated progress bar per input mode.
type Progress struct {
	Text            ModeProgress `yaml:"text"`
	URL             ModeProgress `yaml:"url"`
	CSV             ModeProgress `yaml:"csv"`
	Image           ModeProgress `yaml:"image"`
	CompletionDelay Duration     `yaml:"completion_delay"`
}

type ModeProgress struct {
	Period  Duration `yaml:"period"`
	MaxStep int      `yaml:"max_step"`
}

type Cache struct {
	RedisAddr     string   `yaml:"redis_addr"`
	RedisPassword string   `yaml:"redis_password"`
	RedisDB       int      `yaml:"redis_db"`
	TTL           Duration `yaml:"ttl"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration is a time.Duration that reads YAML strings like "150ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ConfigDir returns the XDG config directory for jobcheck.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "jobcheck")
}

// DataDir returns the XDG data directory for jobcheck.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "jobcheck")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/jobcheck/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'jobcheck init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration, used when no file exists.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic("config: embedded default.yaml is invalid: " + err.Error())
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Backend: Backend{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: Duration(60 * time.Second),
			BulkTimeout:    Duration(5 * time.Minute),
			HistoryLimit:   10,
			TokenPath:      "/auth/login",
		},
		Auth: Auth{
			TokenEnv: "JOBCHECK_TOKEN",
			ClientID: "jobcheck-cli",
			EnvFiles: []string{".env"},
		},
		Progress: Progress{
			Text:            ModeProgress{Period: Duration(150 * time.Millisecond), MaxStep: 8},
			URL:             ModeProgress{Period: Duration(200 * time.Millisecond), MaxStep: 6},
			CSV:             ModeProgress{Period: Duration(200 * time.Millisecond), MaxStep: 3},
			Image:           ModeProgress{Period: Duration(180 * time.Millisecond), MaxStep: 5},
			CompletionDelay: Duration(500 * time.Millisecond),
		},
		Cache:   Cache{TTL: Duration(24 * time.Hour)},
		Server:  Server{Port: 8090},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
