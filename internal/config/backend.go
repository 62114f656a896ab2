package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigBackend abstracts persistent config storage so tests can substitute
// an in-memory map.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// fileBackend stores config as nested YAML. Dotted keys map to nesting:
// "oracle.model" lives under the oracle: section.
type fileBackend struct {
	path string
}

func newFileBackend(path string) *fileBackend {
	return &fileBackend{path: path}
}

func (f *fileBackend) load() (map[string]map[string]any, error) {
	raw, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", f.path, err)
	}
	doc := map[string]map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *fileBackend) save(doc map[string]map[string]any) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing config file %s: %w", f.path, err)
	}
	return nil
}

func splitKey(key string) (section, name string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed config key %q", key)
	}
	return parts[0], parts[1], nil
}

func (f *fileBackend) get(key string) (any, bool, error) {
	section, name, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}
	doc, err := f.load()
	if err != nil {
		return nil, false, err
	}
	sec, ok := doc[section]
	if !ok {
		return nil, false, nil
	}
	v, ok := sec[name]
	return v, ok, nil
}

func (f *fileBackend) GetString(key string) (string, bool, error) {
	v, ok, err := f.get(key)
	if err != nil || !ok {
		return "", false, err
	}
	return fmt.Sprintf("%v", v), true, nil
}

func (f *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok, err := f.get(key)
	if err != nil || !ok {
		return 0, false, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, false, fmt.Errorf("config key %s is not an integer: %v", key, v)
	}
	return i, true, nil
}

func (f *fileBackend) set(key string, val any) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc[section] == nil {
		doc[section] = map[string]any{}
	}
	doc[section][name] = val
	return f.save(doc)
}

func (f *fileBackend) SetString(key, val string) error { return f.set(key, val) }

func (f *fileBackend) SetInt(key string, val int) error { return f.set(key, val) }

func (f *fileBackend) Delete(key string) error {
	section, name, err := splitKey(key)
	if err != nil {
		return err
	}
	doc, err := f.load()
	if err != nil {
		return err
	}
	if doc[section] == nil {
		return nil
	}
	delete(doc[section], name)
	if len(doc[section]) == 0 {
		delete(doc, section)
	}
	return f.save(doc)
}
