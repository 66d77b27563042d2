package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size %d got %d", DefaultPageSize, params.PageSize)
	}
	if params.PageToken != "" || params.Offset != 0 {
		t.Fatalf("expected empty window, got %#v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 12, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidInput(t *testing.T) {
	for _, tc := range []struct {
		name   string
		values url.Values
		want   error
	}{
		{"non numeric size", url.Values{"pageSize": {"abc"}}, ErrInvalidPageSize},
		{"zero size", url.Values{"pageSize": {"0"}}, ErrInvalidPageSize},
		{"garbage token", url.Values{"pageToken": {"%%%"}}, ErrInvalidPageToken},
		{"non json token", url.Values{"pageToken": {"bm9wZQ"}}, ErrInvalidPageToken},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.values, Options{}); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSliceWalksAllPages(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	params := Params{PageSize: 2}

	var seen []int
	pages := 0
	for {
		page, next := Slice(items, params)
		seen = append(seen, page...)
		pages++
		if next == "" {
			break
		}
		parsed, err := Parse(url.Values{"pageToken": {next}, "pageSize": {"2"}}, Options{})
		if err != nil {
			t.Fatalf("Parse next token: %v", err)
		}
		params = parsed
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
	if len(seen) != len(items) {
		t.Fatalf("expected all items, got %v", seen)
	}
}

func TestSlicePastEnd(t *testing.T) {
	page, next := Slice([]string{"a"}, Params{PageSize: 5, Offset: 10})
	if len(page) != 0 || next != "" {
		t.Fatalf("expected empty last page, got %v %q", page, next)
	}
}
