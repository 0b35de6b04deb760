// Package config loads the YAML manifest that declares HTTP sources and
// warehouse targets.
//
// Example (trimmed):
//
//	sources:
//	  - name: users
//	    url: https://api.example.com/users
//	    table_destination_name: public.users
//	    primary_key: id
//	    write_mode: merge
//	    data_path: /data
//	    pagination: { kind: page_number, page_param: page, per_page_param: per_page }
//	    total_hint: { pages: /meta/total_pages }
//	targets:
//	  - name: warehouse
//	    type: postgres
//	    host: localhost
//	    database: dw
//	    auth: { username_env: PG_USER, password_env: PG_PASS }
//
// Parsing and indexing are separate steps: Parse decodes, Index resolves
// environment credentials, validates and builds the name lookups. Load does
// both.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the decoded manifest.
type Config struct {
	Sources []Source `yaml:"sources"`
	Targets []Target `yaml:"targets"`

	sourceIdx map[string]int
	targetIdx map[string]int
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// LoadFile parses the manifest at path without indexing it.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load parses and indexes the manifest at path.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Index(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Index resolves *_env credentials, validates the manifest and builds the
// lookups behind Source and Target. It fails with every error-severity
// issue joined; warnings do not fail it.
func (c *Config) Index() error {
	var errs []error
	for i := range c.Sources {
		if err := c.Sources[i].resolveEnv(); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
	}
	for i := range c.Targets {
		if err := c.Targets[i].resolveEnv(); err != nil {
			errs = append(errs, fmt.Errorf("targets[%d]: %w", i, err))
		}
	}
	for _, iss := range Validate(c) {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.sourceIdx = make(map[string]int, len(c.Sources))
	for i, s := range c.Sources {
		c.sourceIdx[s.Name] = i
	}
	c.targetIdx = make(map[string]int, len(c.Targets))
	for i, t := range c.Targets {
		c.targetIdx[t.Name] = i
	}
	return nil
}

// Source returns the source called name. Index must have succeeded.
func (c *Config) Source(name string) (*Source, bool) {
	i, ok := c.sourceIdx[name]
	if !ok {
		return nil, false
	}
	return &c.Sources[i], true
}

// Target returns the target called name. Index must have succeeded.
func (c *Config) Target(name string) (*Target, bool) {
	i, ok := c.targetIdx[name]
	if !ok {
		return nil, false
	}
	return &c.Targets[i], true
}

// lookupEnv reads a required variable.
func lookupEnv(name string) (string, error) {
	v, ok := os.LookupEnv(strings.TrimSpace(name))
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}
