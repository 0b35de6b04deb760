package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validSource() Source {
	return Source{
		Name:                 "users",
		URL:                  "https://api.example.com/users",
		TableDestinationName: "users",
	}
}

func TestValidate_ValidMinimal(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Sources: []Source{validSource()},
		Targets: []Target{{Name: "local", Type: TargetSQLite, Path: "x.db"}},
	}
	require.Empty(t, Validate(cfg))
}

func TestValidate_SourceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Source)
		path   string
		msg    string
	}{
		{"missing url", func(s *Source) { s.URL = "" }, "sources[0].url", "must not be empty"},
		{"relative url", func(s *Source) { s.URL = "/users" }, "sources[0].url", "absolute http(s)"},
		{"missing table", func(s *Source) { s.TableDestinationName = " " }, "sources[0].table_destination_name", "required"},
		{"unknown kind", func(s *Source) { s.Pagination.Kind = "link_header" }, "sources[0].pagination", "unknown pagination kind"},
		{"missing params", func(s *Source) { s.Pagination = Pagination{Kind: "limit_offset", LimitParam: "limit"} }, "sources[0].pagination", "offset_param"},
		{"composite key", func(s *Source) { s.PrimaryKey = PrimaryKey{"a", "b"} }, "sources[0].primary_key", "composite"},
		{"merge without key", func(s *Source) { s.WriteMode = "merge" }, "sources[0].primary_key", "requires a primary_key"},
		{"bad write mode", func(s *Source) { s.WriteMode = "replace" }, "sources[0].write_mode", "unknown write_mode"},
		{"bad data path", func(s *Source) { s.DataPath = "data" }, "sources[0].data_path", ""},
		{"both hints", func(s *Source) {
			s.Pagination = Pagination{Kind: "page_only", PageParam: "p"}
			s.TotalHint = &TotalHint{Items: "/a", Pages: "/b"}
		}, "sources[0].total_hint", "not both"},
		{"retry bounds", func(s *Source) { s.Retry = &Retry{MaxAttempts: 2, MinDelaySecs: Duration(5e9), MaxDelaySecs: Duration(1e9)} }, "sources[0].retry", "max_delay"},
		{"negative size", func(s *Source) { s.PageSize = -1 }, "sources[0].page_size", ">= 0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := validSource()
			tc.mutate(&s)
			issues := Validate(&Config{Sources: []Source{s}})
			require.True(t, hasIssue(issues, SeverityError, tc.path, tc.msg), "issues: %+v", issues)
		})
	}
}

func TestValidate_CursorIsWarning(t *testing.T) {
	t.Parallel()

	s := validSource()
	s.Pagination = Pagination{Kind: "cursor", CursorParam: "after"}
	issues := Validate(&Config{Sources: []Source{s}})
	require.True(t, hasIssue(issues, SeverityWarning, "sources[0].pagination.kind", "not supported"))
}

func TestValidate_Targets(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Sources: []Source{validSource()},
		Targets: []Target{
			{Name: "pg", Type: TargetPostgres},
			{Name: "lite", Type: TargetSQLite},
			{Name: "bq", Type: "bigquery"},
			{Name: "pg", Type: TargetMySQL, Host: "h", Database: "d"},
		},
	}
	issues := Validate(cfg)
	require.True(t, hasIssue(issues, SeverityError, "targets[0].host", "requires host"))
	require.True(t, hasIssue(issues, SeverityError, "targets[1].path", "requires path"))
	require.True(t, hasIssue(issues, SeverityError, "targets[2].type", "unknown target type"))
	require.True(t, hasIssue(issues, SeverityError, "targets[3].name", "duplicate target name"))
}

func TestIssue_Error(t *testing.T) {
	t.Parallel()

	iss := Issue{Severity: SeverityError, Path: "targets[0].type", Message: "bad"}
	require.Equal(t, "error at targets[0].type: bad", iss.Error())
}
