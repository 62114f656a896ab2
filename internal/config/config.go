package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Talks   TalksConfig
	Oracle  OracleConfig
	Output  OutputConfig
	Storage StorageConfig
	Batch   BatchConfig
	Log     LogConfig
}

type TalksConfig struct {
	Dir string
}

type OracleConfig struct {
	BaseURL          string
	APIKey           string
	Model            string
	MaxContentTokens int
	RequestTimeout   time.Duration
}

type OutputConfig struct {
	ResultsFile string
}

type StorageConfig struct {
	DataDir string
}

type BatchConfig struct {
	Dir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Talks: TalksConfig{
			Dir: "talks",
		},
		Oracle: OracleConfig{
			BaseURL:          "https://api.openai.com",
			Model:            "gpt-4o-mini",
			MaxContentTokens: 12000,
			RequestTimeout:   120 * time.Second,
		},
		Output: OutputConfig{
			ResultsFile: "classification_results.csv",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Batch: BatchConfig{
			Dir: "batches",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "graceworks")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".graceworks"
	}
	return filepath.Join(home, ".local", "share", "graceworks")
}

// Load reads configuration from the YAML config file at
// $XDG_CONFIG_HOME/graceworks/config.yaml (or ~/.config/graceworks/config.yaml),
// then applies GRACEWORKS_* environment overrides. A missing file is fine:
// defaults plus environment cover a fresh install.
//
// The API key is deliberately not validated here; only commands that talk to
// the model require it.
func Load() (Config, error) {
	return loadWith(newFileBackend(defaultConfigPath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "graceworks", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".graceworks", "config.yaml")
	}
	return filepath.Join(home, ".config", "graceworks", "config.yaml")
}
