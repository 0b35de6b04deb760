package config

import (
	"fmt"
	"net/url"
	"strings"

	jsonparser "httpetl/internal/parser/json"
	"httpetl/internal/pagination"
	"httpetl/internal/storage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is a single validation finding. Path is a dotted path into the
// manifest, e.g. "sources[1].pagination.kind".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static checks over a manifest without mutating it.
// Callers decide whether warnings are fatal.
func Validate(c *Config) []Issue {
	var issues []Issue

	if len(c.Sources) == 0 {
		issues = append(issues, Issue{SeverityWarning, "sources", "no sources declared"})
	}
	seen := map[string]bool{}
	for i := range c.Sources {
		s := &c.Sources[i]
		path := fmt.Sprintf("sources[%d]", i)
		if s.Name != "" {
			if seen[s.Name] {
				issues = append(issues, Issue{SeverityError, path + ".name", fmt.Sprintf("duplicate source name %q", s.Name)})
			}
			seen[s.Name] = true
		}
		issues = append(issues, validateSource(path, s)...)
	}

	seen = map[string]bool{}
	for i := range c.Targets {
		t := &c.Targets[i]
		path := fmt.Sprintf("targets[%d]", i)
		if t.Name != "" {
			if seen[t.Name] {
				issues = append(issues, Issue{SeverityError, path + ".name", fmt.Sprintf("duplicate target name %q", t.Name)})
			}
			seen[t.Name] = true
		}
		issues = append(issues, validateTarget(path, t)...)
	}
	return issues
}

func validateSource(path string, s *Source) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, field, msg string) {
		issues = append(issues, Issue{sev, path + "." + field, msg})
	}

	if strings.TrimSpace(s.Name) == "" {
		add(SeverityError, "name", "source name must not be empty")
	}
	if s.URL == "" {
		add(SeverityError, "url", "url must not be empty")
	} else if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add(SeverityError, "url", fmt.Sprintf("url %q must be an absolute http(s) URL", s.URL))
	}
	if strings.TrimSpace(s.TableDestinationName) == "" {
		add(SeverityError, "table_destination_name", "table_destination_name is required")
	}

	strategy := s.Strategy()
	if err := strategy.Validate(); err != nil {
		add(SeverityError, "pagination", err.Error())
	} else if strategy.Kind == pagination.KindCursor {
		add(SeverityWarning, "pagination.kind", "cursor pagination is not supported; jobs using this source will fail")
	}

	if h := s.TotalHint; h != nil {
		switch {
		case h.Items != "" && h.Pages != "":
			add(SeverityError, "total_hint", "set either items or pages, not both")
		case h.Items == "" && h.Pages == "":
			add(SeverityError, "total_hint", "items or pages pointer is required")
		default:
			if _, err := jsonparser.ParsePointer(h.Items + h.Pages); err != nil {
				add(SeverityError, "total_hint", err.Error())
			}
		}
		if strategy.Kind == pagination.KindDefault {
			add(SeverityWarning, "total_hint", "total_hint has no effect without pagination")
		}
	}
	if s.DataPath != "" {
		if _, err := jsonparser.ParsePointer(s.DataPath); err != nil {
			add(SeverityError, "data_path", err.Error())
		}
	}

	if s.Retry != nil {
		if err := s.RetryPolicy().Validate(); err != nil {
			add(SeverityError, "retry", err.Error())
		}
	}
	if s.Auth != nil && s.Auth.BearerToken != "" && s.Auth.BearerTokenEnv != "" {
		add(SeverityWarning, "auth", "bearer_token_env overrides bearer_token")
	}

	if len(s.PrimaryKey) > 1 {
		add(SeverityError, "primary_key", fmt.Sprintf("composite primary keys are not supported (got %s)", strings.Join(s.PrimaryKey, ", ")))
	}
	mode, err := s.Mode()
	if err != nil {
		add(SeverityError, "write_mode", err.Error())
	} else if mode == storage.Merge && s.PrimaryKey.Column() == "" {
		add(SeverityError, "primary_key", "merge write_mode requires a primary_key")
	}

	for field, v := range map[string]int{
		"page_size":        s.PageSize,
		"concurrency":      s.Concurrency,
		"fetch_batch_size": s.FetchBatchSize,
		"batch_size":       s.BatchSize,
		"sample_size":      s.SampleSize,
	} {
		if v < 0 {
			add(SeverityError, field, fmt.Sprintf("%s must be >= 0, got %d", field, v))
		}
	}
	if s.RateLimit < 0 {
		add(SeverityError, "rate_limit", "rate_limit must be >= 0")
	}
	if s.TimeoutSecs < 0 {
		add(SeverityError, "timeout_secs", "timeout_secs must be >= 0")
	}
	return issues
}

func validateTarget(path string, t *Target) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, field, msg string) {
		issues = append(issues, Issue{sev, path + "." + field, msg})
	}

	if strings.TrimSpace(t.Name) == "" {
		add(SeverityError, "name", "target name must not be empty")
	}
	switch t.Type {
	case TargetPostgres, TargetMSSQL, TargetMySQL:
		if t.DSN == "" {
			if t.Host == "" {
				add(SeverityError, "host", fmt.Sprintf("%s target requires host (or dsn)", t.Type))
			}
			if t.Database == "" {
				add(SeverityWarning, "database", "no database set; the server default is used")
			}
		}
	case TargetSQLite:
		if t.Path == "" && t.DSN == "" {
			add(SeverityError, "path", "sqlite target requires path")
		}
	case "":
		add(SeverityError, "type", "target type must not be empty")
	default:
		add(SeverityError, "type", fmt.Sprintf("unknown target type %q (want postgres, sqlite, mssql or mysql)", t.Type))
	}
	if t.Auth.Password != "" && t.Auth.PasswordEnv == "" {
		add(SeverityWarning, "auth.password", "inline password; prefer password_env")
	}
	return issues
}
