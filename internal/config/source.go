package config

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"httpetl/internal/datasource/httpds"
	"httpetl/internal/pagination"
	"httpetl/internal/storage"
)

// Source is one HTTP endpoint and how to load it.
type Source struct {
	Name                 string `yaml:"name"`
	URL                  string `yaml:"url"`
	TableDestinationName string `yaml:"table_destination_name"`

	Pagination Pagination `yaml:"pagination"`
	TotalHint  *TotalHint `yaml:"total_hint"`
	Retry      *Retry     `yaml:"retry"`

	Headers map[string]string `yaml:"headers"`
	Query   map[string]string `yaml:"query"`
	Auth    *SourceAuth       `yaml:"auth"`

	DataPath   string     `yaml:"data_path"`
	PrimaryKey PrimaryKey `yaml:"primary_key"`
	WriteMode  string     `yaml:"write_mode"`

	PageSize       int `yaml:"page_size"`
	Concurrency    int `yaml:"concurrency"`
	FetchBatchSize int `yaml:"fetch_batch_size"`
	BatchSize      int `yaml:"batch_size"`
	SampleSize     int `yaml:"sample_size"`

	AutoCreate    *bool   `yaml:"auto_create"`
	TruncateFirst bool    `yaml:"truncate_first"`
	RateLimit     float64 `yaml:"rate_limit"`
	TimeoutSecs   float64 `yaml:"timeout_secs"`
}

// Pagination is the YAML form of pagination.Strategy, tagged by kind.
type Pagination struct {
	Kind          string `yaml:"kind"`
	LimitParam    string `yaml:"limit_param"`
	OffsetParam   string `yaml:"offset_param"`
	PageParam     string `yaml:"page_param"`
	PerPageParam  string `yaml:"per_page_param"`
	CursorParam   string `yaml:"cursor_param"`
	PageSizeParam string `yaml:"page_size_param"`
}

// TotalHint holds one JSON pointer: to the total item count or to the page
// count.
type TotalHint struct {
	Items string `yaml:"items"`
	Pages string `yaml:"pages"`
}

// Retry is the YAML form of httpds.RetryPolicy. Delays are seconds and may
// be fractional.
type Retry struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	MinDelaySecs Duration `yaml:"min_delay_secs"`
	MaxDelaySecs Duration `yaml:"max_delay_secs"`
}

// SourceAuth sends a bearer token, given inline or read from the
// environment.
type SourceAuth struct {
	BearerToken    string `yaml:"bearer_token"`
	BearerTokenEnv string `yaml:"bearer_token_env"`
}

// PrimaryKey accepts a scalar or a sequence. Only one column is supported;
// Validate reports longer keys.
type PrimaryKey []string

func (k *PrimaryKey) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			*k = nil
			return nil
		}
		*k = PrimaryKey{n.Value}
		return nil
	case yaml.SequenceNode:
		var cols []string
		if err := n.Decode(&cols); err != nil {
			return err
		}
		*k = cols
		return nil
	default:
		return fmt.Errorf("line %d: primary_key must be a column name or a list", n.Line)
	}
}

// Column returns the single key column, or "".
func (k PrimaryKey) Column() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

func (s *Source) resolveEnv() error {
	if s.Auth == nil || s.Auth.BearerTokenEnv == "" {
		return nil
	}
	tok, err := lookupEnv(s.Auth.BearerTokenEnv)
	if err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	s.Auth.BearerToken = tok
	return nil
}

// Strategy converts the pagination block.
func (s *Source) Strategy() pagination.Strategy {
	kind := pagination.Kind(s.Pagination.Kind)
	if kind == "" {
		kind = pagination.KindDefault
	}
	return pagination.Strategy{
		Kind:          kind,
		LimitParam:    s.Pagination.LimitParam,
		OffsetParam:   s.Pagination.OffsetParam,
		PageParam:     s.Pagination.PageParam,
		PerPageParam:  s.Pagination.PerPageParam,
		CursorParam:   s.Pagination.CursorParam,
		PageSizeParam: s.Pagination.PageSizeParam,
	}
}

// Hint converts total_hint; nil means the total is unknown.
func (s *Source) Hint() *pagination.TotalHint {
	switch {
	case s.TotalHint == nil:
		return nil
	case s.TotalHint.Items != "":
		return &pagination.TotalHint{Kind: pagination.HintItems, Pointer: s.TotalHint.Items}
	case s.TotalHint.Pages != "":
		return &pagination.TotalHint{Kind: pagination.HintPages, Pointer: s.TotalHint.Pages}
	default:
		return nil
	}
}

// RetryPolicy converts the retry block, defaulting missing fields.
func (s *Source) RetryPolicy() httpds.RetryPolicy {
	p := httpds.DefaultRetryPolicy()
	if s.Retry == nil {
		return p
	}
	if s.Retry.MaxAttempts != 0 {
		p.MaxAttempts = s.Retry.MaxAttempts
	}
	if s.Retry.MinDelaySecs != 0 {
		p.MinDelay = time.Duration(s.Retry.MinDelaySecs)
	}
	if s.Retry.MaxDelaySecs != 0 {
		p.MaxDelay = time.Duration(s.Retry.MaxDelaySecs)
	}
	return p
}

// Mode parses write_mode.
func (s *Source) Mode() (storage.WriteMode, error) {
	return storage.ParseWriteMode(s.WriteMode)
}

// AutoCreateTable defaults to true.
func (s *Source) AutoCreateTable() bool {
	return s.AutoCreate == nil || *s.AutoCreate
}

// HTTPConfig builds the client configuration for this source.
func (s *Source) HTTPConfig(logger *zap.Logger) httpds.Config {
	headers := http.Header{}
	for k, v := range s.Headers {
		headers.Set(k, v)
	}
	if s.Auth != nil && s.Auth.BearerToken != "" {
		headers.Set("Authorization", "Bearer "+s.Auth.BearerToken)
	}
	query := url.Values{}
	for k, v := range s.Query {
		query.Set(k, v)
	}
	return httpds.Config{
		Timeout:     time.Duration(s.TimeoutSecs * float64(time.Second)),
		Retry:       s.RetryPolicy(),
		BaseHeaders: headers,
		Query:       query,
		RateLimit:   s.RateLimit,
		Name:        s.Name,
		Logger:      logger,
	}
}
