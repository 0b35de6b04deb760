// Package jsonparser turns HTTP response bodies into lazy sequences of JSON
// row values.
//
// Two framings are supported:
//
//   - NDJSON (Content-Type contains "ndjson"): one JSON value per line, blank
//     lines skipped. A line that fails to parse is yielded as a *LineError and
//     the stream carries on with the next line.
//   - Anything else: the body is buffered and parsed as one document.
//
// Each line or document is then narrowed with an optional JSON pointer
// (data path) and flattened: arrays yield their elements, other values yield
// themselves, and a missing or null target yields nothing.
//
// Numbers are decoded as json.Number so integer and float values stay
// distinguishable for schema inference.
package jsonparser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
)

// LineError reports a malformed NDJSON line. Line is 1-based.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("ndjson line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// IsNDJSON reports whether a Content-Type header value announces
// newline-delimited JSON.
func IsNDJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "ndjson")
}

// Decode streams the rows of resp. The body is closed once the sequence is
// exhausted or the consumer stops early. The sequence is single pass.
func Decode(resp *http.Response, dataPath string) iter.Seq2[any, error] {
	inner := DecodeReader(resp.Body, resp.Header.Get("Content-Type"), dataPath)
	return func(yield func(any, error) bool) {
		defer resp.Body.Close()
		inner(yield)
	}
}

// DecodeReader is Decode over a plain reader and an explicit content type.
func DecodeReader(r io.Reader, contentType, dataPath string) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		tokens, err := ParsePointer(dataPath)
		if err != nil {
			yield(nil, err)
			return
		}
		if IsNDJSON(contentType) {
			decodeLines(r, tokens, dataPath != "", yield)
			return
		}

		body, err := io.ReadAll(r)
		if err != nil {
			yield(nil, fmt.Errorf("read body: %w", err))
			return
		}
		doc, err := Unmarshal(body)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, v := range flatten(doc, tokens, dataPath != "") {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func decodeLines(r io.Reader, tokens []string, hasPath bool, yield func(any, error) bool) {
	br := bufio.NewReader(r)
	line := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
				v, err := Unmarshal(trimmed)
				if err != nil {
					if !yield(nil, &LineError{Line: line, Err: err}) {
						return
					}
				} else {
					for _, item := range flatten(v, tokens, hasPath) {
						if !yield(item, nil) {
							return
						}
					}
				}
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				yield(nil, fmt.Errorf("read ndjson line %d: %w", line+1, readErr))
			}
			return
		}
	}
}

// Unmarshal parses one JSON value with json.Number preserved.
func Unmarshal(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode json: trailing data after top-level value")
	}
	return v, nil
}

// Items applies the data path and flattening rules to an already parsed
// document.
func Items(doc any, dataPath string) ([]any, error) {
	tokens, err := ParsePointer(dataPath)
	if err != nil {
		return nil, err
	}
	return flatten(doc, tokens, dataPath != ""), nil
}

func flatten(doc any, tokens []string, hasPath bool) []any {
	v := doc
	if hasPath {
		var ok bool
		v, ok = Lookup(doc, tokens)
		if !ok || v == nil {
			return nil
		}
	}
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{v}
}
