package decode

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind classifies a payload before decoding.
type Kind string

const (
	KindSpreadsheet Kind = "spreadsheet"
	KindDelimited   Kind = "delimited"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var delimitedTypes = map[string]struct{}{
	"text/csv":                  {},
	"text/plain":                {},
	"text/tab-separated-values": {},
	"application/csv":           {},
}

// Chain runs spreadsheet strategies in order until one yields a table.
// Delimited payloads skip the spreadsheet strategies entirely.
type Chain struct {
	Spreadsheet []Strategy
	Delimited   Strategy
}

// NewChain returns the default fallback order.
func NewChain(maxCellLength int) *Chain {
	return &Chain{
		Spreadsheet: []Strategy{
			CompactSpreadsheet{MaxCellLength: maxCellLength},
			PermissiveSpreadsheet{MaxCellLength: maxCellLength},
			StreamingSpreadsheet{MaxCellLength: maxCellLength},
		},
		Delimited: Delimited{MaxCellLength: maxCellLength},
	}
}

// Decode picks the strategy list from the declared content type, sniffing
// the bytes when the header is missing or generic. An empty payload decodes
// to an empty result.
func (c *Chain) Decode(contentType string, data []byte) (*Result, error) {
	if len(data) == 0 {
		return &Result{}, nil
	}

	if DetectKind(contentType, data) == KindDelimited {
		return c.Delimited.Decode(data)
	}

	var errs []error
	for _, strategy := range c.Spreadsheet {
		result, err := strategy.Decode(data)
		if err == nil {
			return result, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// DetectKind classifies a payload by declared content type, then by its
// leading bytes.
func DetectKind(contentType string, data []byte) Kind {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = strings.ToLower(mediaType)
		if _, ok := delimitedTypes[mediaType]; ok {
			return KindDelimited
		}
		if mediaType == xlsxMIME || mediaType == "application/vnd.ms-excel" {
			return KindSpreadsheet
		}
	}

	detected := mimetype.Detect(data)
	if detected.Is(xlsxMIME) || detected.Is("application/zip") {
		return KindSpreadsheet
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return KindDelimited
		}
	}
	return KindSpreadsheet
}
