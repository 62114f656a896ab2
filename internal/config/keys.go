package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "talks.dir", typ: kString, env: "GRACEWORKS_TALKS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Talks.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Talks.Dir },
	},
	{
		key: "oracle.base_url", typ: kString, env: "GRACEWORKS_ORACLE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.BaseURL },
	},
	{
		key: "oracle.api_key", typ: kString, env: "GRACEWORKS_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Oracle.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.APIKey },
	},
	{
		key: "oracle.model", typ: kString, env: "GRACEWORKS_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "oracle.max_content_tokens", typ: kInt, env: "GRACEWORKS_ORACLE_MAX_CONTENT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Oracle.MaxContentTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Oracle.MaxContentTokens },
	},
	{
		key: "oracle.request_timeout", typ: kDuration, env: "GRACEWORKS_ORACLE_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Oracle.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Oracle.RequestTimeout },
	},
	{
		key: "output.results_file", typ: kString, env: "GRACEWORKS_OUTPUT_RESULTS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Output.ResultsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.ResultsFile },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GRACEWORKS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "batch.dir", typ: kString, env: "GRACEWORKS_BATCH_DIR",
		apply:   func(cfg *Config, v any) { cfg.Batch.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Batch.Dir },
	},
	{
		key: "log.level", typ: kString, env: "GRACEWORKS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
