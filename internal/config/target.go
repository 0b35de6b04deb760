package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"httpetl/internal/storage"
)

// Target types.
const (
	TargetPostgres = "postgres"
	TargetSQLite   = "sqlite"
	TargetMSSQL    = "mssql"
	TargetMySQL    = "mysql"
)

var defaultPorts = map[string]Port{
	TargetPostgres: 5432,
	TargetMSSQL:    1433,
	TargetMySQL:    3306,
}

// Target is a warehouse connection, tagged by type.
type Target struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	Host     string     `yaml:"host"`
	Port     Port       `yaml:"port"`
	Database string     `yaml:"database"`
	Auth     TargetAuth `yaml:"auth"`
	SSLMode  string     `yaml:"sslmode"` // postgres

	Path string `yaml:"path"` // sqlite

	DSN    string            `yaml:"dsn"`
	Params map[string]string `yaml:"params"`
}

// TargetAuth holds credentials inline or as environment variable names.
type TargetAuth struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// UnmarshalYAML normalizes the type tag and fills the default port.
func (t *Target) UnmarshalYAML(n *yaml.Node) error {
	type plain Target
	var p plain
	if err := n.Decode(&p); err != nil {
		return err
	}
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	if p.Type == "postgresql" {
		p.Type = TargetPostgres
	}
	if p.Port == 0 {
		p.Port = defaultPorts[p.Type]
	}
	*t = Target(p)
	return nil
}

// resolveEnv reads every credential variable and reports all missing ones.
func (t *Target) resolveEnv() error {
	var errs []error
	if t.Auth.UsernameEnv != "" {
		v, err := lookupEnv(t.Auth.UsernameEnv)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", t.Name, err))
		}
		t.Auth.Username = v
	}
	if t.Auth.PasswordEnv != "" {
		v, err := lookupEnv(t.Auth.PasswordEnv)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", t.Name, err))
		}
		t.Auth.Password = v
	}
	return errors.Join(errs...)
}

// StorageConfig converts the target into what storage.New expects.
func (t *Target) StorageConfig(logger *zap.Logger) storage.Config {
	params := make(map[string]string, len(t.Params)+1)
	for k, v := range t.Params {
		params[k] = v
	}
	if t.SSLMode != "" {
		params["sslmode"] = t.SSLMode
	}
	return storage.Config{
		Kind:     t.Type,
		Name:     t.Name,
		DSN:      t.DSN,
		Host:     t.Host,
		Port:     int(t.Port),
		Database: t.Database,
		User:     t.Auth.Username,
		Password: t.Auth.Password,
		Path:     t.Path,
		Params:   params,
		Logger:   logger,
	}
}
