package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"httpetl/internal/storage"
)

// Kind names a pagination strategy.
type Kind string

const (
	KindDefault     Kind = "default"
	KindLimitOffset Kind = "limit_offset"
	KindPageNumber  Kind = "page_number"
	KindPageOnly    Kind = "page_only"
	KindCursor      Kind = "cursor"
)

// ErrUnsupportedStrategy is returned by Fetch for strategies it cannot walk.
var ErrUnsupportedStrategy = errors.New("unsupported pagination strategy")

// Strategy selects how pages are addressed. Only the parameters of the
// selected Kind are used.
type Strategy struct {
	Kind Kind

	LimitParam  string // limit_offset
	OffsetParam string // limit_offset

	PageParam    string // page_number, page_only
	PerPageParam string // page_number

	CursorParam   string // cursor
	PageSizeParam string // cursor, optional
}

func LimitOffset(limitParam, offsetParam string) Strategy {
	return Strategy{Kind: KindLimitOffset, LimitParam: limitParam, OffsetParam: offsetParam}
}

func PageNumber(pageParam, perPageParam string) Strategy {
	return Strategy{Kind: KindPageNumber, PageParam: pageParam, PerPageParam: perPageParam}
}

func PageOnly(pageParam string) Strategy {
	return Strategy{Kind: KindPageOnly, PageParam: pageParam}
}

// Validate checks that the parameters the Kind needs are present.
func (s Strategy) Validate() error {
	switch s.Kind {
	case KindDefault, "":
		return nil
	case KindLimitOffset:
		if s.LimitParam == "" || s.OffsetParam == "" {
			return errors.New("limit_offset needs limit_param and offset_param")
		}
	case KindPageNumber:
		if s.PageParam == "" || s.PerPageParam == "" {
			return errors.New("page_number needs page_param and per_page_param")
		}
	case KindPageOnly:
		if s.PageParam == "" {
			return errors.New("page_only needs page_param")
		}
	case KindCursor:
		if s.CursorParam == "" {
			return errors.New("cursor needs cursor_param")
		}
	default:
		return fmt.Errorf("unknown pagination kind %q", s.Kind)
	}
	return nil
}

// firstPage is the number of the discovery page: offset index 0, or page 1.
func (s Strategy) firstPage() int {
	if s.Kind == KindLimitOffset {
		return 0
	}
	return 1
}

// params renders the query for page.
func (s Strategy) params(page, pageSize int) url.Values {
	q := url.Values{}
	switch s.Kind {
	case KindLimitOffset:
		q.Set(s.LimitParam, strconv.Itoa(pageSize))
		q.Set(s.OffsetParam, strconv.Itoa(page*pageSize))
	case KindPageNumber:
		q.Set(s.PageParam, strconv.Itoa(page))
		q.Set(s.PerPageParam, strconv.Itoa(pageSize))
	case KindPageOnly:
		q.Set(s.PageParam, strconv.Itoa(page))
	}
	return q
}

// HintKind says what a TotalHint pointer addresses.
type HintKind string

const (
	HintItems HintKind = "items"
	HintPages HintKind = "pages"
)

// TotalHint locates the total in the first response. Items totals are
// divided by the page size, rounding up.
type TotalHint struct {
	Kind    HintKind
	Pointer string
}

// FetchStats summarizes one Fetch.
type FetchStats struct {
	SuccessCount int64 // successful WritePage calls
	ErrorCount   int64 // pages, batches or lines reported to OnPageError
	TotalItems   int64 // rows handed to successful WritePage calls
}

// PageWriter receives pages. WritePage may be called concurrently for
// different pages.
type PageWriter interface {
	Begin(ctx context.Context) error
	WritePage(ctx context.Context, page int, rows []any, mode storage.WriteMode) error
	OnPageError(ctx context.Context, page int, msg string)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
