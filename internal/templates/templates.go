// Package templates discovers and renders the SQL modules that define jobs.
//
// A module is a text/template file ending in .sql. It declares where its
// rows go with {{ sink "name" }} (renders nothing) and which HTTP source it
// reads with {{ use_source "name" }} (renders the source name, which the
// pipeline later replaces with the source's destination table):
//
//	{{ sink "warehouse" }}
//	SELECT id, lower(email) AS email
//	FROM {{ use_source "users" }}
//	WHERE active
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrMissingDeclaration is returned when a module does not call sink or
// use_source.
var ErrMissingDeclaration = errors.New("templates: missing declaration")

// Job is one rendered module.
type Job struct {
	Path   string // file path as discovered
	Name   string // ASCII slug of Path relative to the modules root
	SQL    string
	Source string
	Sink   string
}

// Discover returns every *.sql file under root, sorted by path.
func Discover(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".sql") {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("templates: discover %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// Load discovers and renders every module under root. Job names are slugs
// of the path relative to root, so modules in different directories never
// share a name.
func Load(root string) ([]Job, error) {
	paths, err := Discover(root)
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(paths))
	var errs []error
	for _, p := range paths {
		j, err := Render(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rel, err := filepath.Rel(root, p); err == nil {
			j.Name = Slug(strings.TrimSuffix(rel, filepath.Ext(rel)))
		}
		jobs = append(jobs, j)
	}
	return jobs, errors.Join(errs...)
}

// Render executes the module at path and captures its declarations.
func Render(path string) (Job, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("templates: %w", err)
	}
	return RenderString(path, string(body))
}

// RenderString is Render for an in-memory module; path is used for naming
// and error messages.
func RenderString(path, body string) (Job, error) {
	job := Job{Path: path, Name: Slug(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))}

	funcs := template.FuncMap{
		"sink": func(name string) (string, error) {
			if err := declare(&job.Sink, "sink", name); err != nil {
				return "", err
			}
			return "", nil
		},
		"use_source": func(name string) (string, error) {
			if err := declare(&job.Source, "use_source", name); err != nil {
				return "", err
			}
			return name, nil
		},
	}

	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=error").Funcs(funcs).Parse(body)
	if err != nil {
		return Job{}, fmt.Errorf("templates: parse %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return Job{}, fmt.Errorf("templates: render %s: %w", path, err)
	}

	switch {
	case job.Sink == "":
		return Job{}, fmt.Errorf("%w: %s does not call sink", ErrMissingDeclaration, path)
	case job.Source == "":
		return Job{}, fmt.Errorf("%w: %s does not call use_source", ErrMissingDeclaration, path)
	}
	job.SQL = strings.TrimSpace(buf.String())
	return job, nil
}

// declare records a name once; repeating the same name is allowed.
func declare(dst *string, fn, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s: empty name", fn)
	}
	if *dst != "" && *dst != name {
		return fmt.Errorf("%s: already declared as %q, got %q", fn, *dst, name)
	}
	*dst = name
	return nil
}

// Slug converts s into a lowercase ASCII identifier: accents are stripped
// (NFD, drop Mn, NFC), runs of separators become one underscore and
// anything else is dropped. It returns "job" for an empty result.
func Slug(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, _ := transform.String(t, strings.ToLower(strings.TrimSpace(s)))

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.' || r == '/' || r == '\\':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "job"
	}
	return name
}
