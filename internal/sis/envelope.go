package sis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// PageStyle selects the pagination query parameters of an endpoint.
type PageStyle int

const (
	// OffsetLimit pages with offset and limit.
	OffsetLimit PageStyle = iota
	// PageNumber pages with page (1-based) and per_page.
	PageNumber
)

// Endpoint describes one list endpoint and where its items live in the
// response envelope.
type Endpoint struct {
	Name  string
	Path  string
	Style PageStyle
	// ResourceKey is checked first, then "data", then a bare top-level array.
	ResourceKey string
}

// Page is the typed result of extracting one response body.
type Page struct {
	Items      []json.RawMessage
	TotalPages int
}

// Extract pulls the item array out of body. Shapes other than an object
// holding an array under the resource key or "data", or a bare array, are
// rejected as a parse error.
func (e Endpoint) Extract(body []byte) (Page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Page{}, e.shapeError("empty body")
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page{}, appErrors.WrapAs(appErrors.ErrParse, err, "%s: decode item array", e.Name)
		}
		return Page{Items: items}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return Page{}, appErrors.WrapAs(appErrors.ErrParse, err, "%s: decode envelope", e.Name)
	}

	// A null under one key falls through to the next; only nulls means an
	// empty page.
	sawNull := false
	for _, key := range e.keys() {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if isNull(raw) {
			sawNull = true
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Page{}, e.shapeError(fmt.Sprintf("%q is not an array", key))
		}
		return Page{Items: items, TotalPages: totalPages(envelope)}, nil
	}
	if sawNull {
		return Page{TotalPages: totalPages(envelope)}, nil
	}
	return Page{}, e.shapeError("no item array found")
}

func (e Endpoint) keys() []string {
	if e.ResourceKey == "" || e.ResourceKey == "data" {
		return []string{"data"}
	}
	return []string{e.ResourceKey, "data"}
}

func (e Endpoint) shapeError(reason string) error {
	return appErrors.Clone(appErrors.ErrParse, fmt.Sprintf("%s: unexpected response shape: %s", e.Name, reason))
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// totalPages reads meta.total_pages or a top-level total_pages. Zero means
// the server did not report it.
func totalPages(envelope map[string]json.RawMessage) int {
	if raw, ok := envelope["meta"]; ok {
		var meta map[string]json.RawMessage
		if json.Unmarshal(raw, &meta) == nil {
			if n := intValue(meta["total_pages"]); n > 0 {
				return n
			}
		}
	}
	return intValue(envelope["total_pages"])
}

func intValue(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0
		}
		n = json.Number(s)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return 0
	}
	return v
}
