// Package extract turns parsed document trees into normalized entity rows.
// Extractors traverse trees through the same variant layouts the schema
// package validates, so a file that passed validation always extracts.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/openparl/parlingest/internal/classify"
	"github.com/openparl/parlingest/internal/document"
	"github.com/openparl/parlingest/internal/entity"
	"github.com/openparl/parlingest/internal/ingest"
)

// Source carries file-level context a tree alone cannot provide: the
// legislature resolved from the archive position and the sub-series label
// (for example "OE2023") the file was found under.
type Source struct {
	Legislature int
	SubSeries   string
}

// Func builds the entity rows for one parsed file.
type Func func(tree *document.Node, src Source) entity.Batch

// For returns the extractor registered for a logical type. Families without
// relational rows, such as the parliamentary journals, have no extractor;
// their files complete with zero records.
func For(t ingest.LogicalType) (Func, bool) {
	fn, ok := registry[t.Base()]
	return fn, ok
}

// fieldText returns the first non-empty text among keys on row.
func fieldText(row *document.Node, keys ...string) string {
	for _, key := range keys {
		if v := row.FindText(key); v != "" {
			return v
		}
	}
	return ""
}

// rowLegislature prefers the record's own designator label over the
// file-level fallback. Labels are Roman in the portal data; Arabic values
// are accepted for the newer exports.
func rowLegislature(row *document.Node, key string, fallback int) int {
	label := strings.TrimSpace(row.FindText(key))
	if label == "" {
		return fallback
	}
	if n, ok := classify.RomanLegislature(label); ok {
		return n
	}
	if n, err := strconv.Atoi(label); err == nil && n >= 1 && n <= 99 {
		return n
	}
	return fallback
}

// looseInt parses counters that may carry thousand separators or spaces.
func looseInt(s string) int {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', ' ':
			return -1
		}
		return r
	}, s)
	n, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0
	}
	return n
}

var yearPattern = regexp.MustCompile(`(?:19|20)[0-9]{2}`)

// budgetYear pulls the four-digit year out of a budget series label.
func budgetYear(label string) int {
	m := yearPattern.FindString(label)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}
