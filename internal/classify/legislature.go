package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// LegislatureUnknown is recorded when no pattern yields a legislature. The
// constituent assembly predates the numbered terms and shares this value.
const LegislatureUnknown = 0

// romanLegislatures is the fixed designator table. Terms beyond it are
// unrecognized until the table is extended, which keeps a typo like "XIIV"
// from minting a phantom legislature.
var romanLegislatures = map[string]int{
	"i": 1, "ii": 2, "iii": 3, "iv": 4, "v": 5,
	"vi": 6, "vii": 7, "viii": 8, "ix": 9, "x": 10,
	"xi": 11, "xii": 12, "xiii": 13, "xiv": 14, "xv": 15,
	"xvi": 16, "xvii": 17,
}

const maxArabicLegislature = 17

var (
	// "XIV Legislatura" or "Legislatura XIV" in hierarchy labels.
	romanBeforeKeyword = regexp.MustCompile(`([ivx]+)\s+legislatura`)
	romanAfterKeyword  = regexp.MustCompile(`legislatura\s+([ivx]+)`)
	// Designator immediately before the extension: "IniciativasXVI.xml",
	// "IniciativasXVI_json.txt".
	trailingRoman  = regexp.MustCompile(`([ivx]+)(?:_json)?\.(?:xml|txt|json|pdf|zip)$`)
	trailingArabic = regexp.MustCompile(`(?:^|[^0-9])([0-9]{1,2})(?:_json)?\.(?:xml|txt|json|pdf|zip)$`)
)

// ResolveLegislature extracts the legislature ordinal from a path or name.
// Patterns are tried in order: the constituent-assembly marker, a designator
// next to the word "legislatura" in hierarchy labels, then a designator
// trailing the file name. Unrecognized designators fall back to
// LegislatureUnknown.
func ResolveLegislature(path string) int {
	norm := normalize(path)

	if strings.Contains(norm, "constituinte") {
		return LegislatureUnknown
	}

	for _, re := range []*regexp.Regexp{romanBeforeKeyword, romanAfterKeyword, trailingRoman} {
		if m := re.FindStringSubmatch(norm); m != nil {
			if n, ok := romanLegislatures[m[1]]; ok {
				return n
			}
			return LegislatureUnknown
		}
	}

	if m := trailingArabic.FindStringSubmatch(norm); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= 1 && n <= maxArabicLegislature {
			return n
		}
	}

	return LegislatureUnknown
}

// RomanLegislature converts a bare designator label ("XV") to its ordinal.
// Record fields inside the files carry these labels without surrounding text.
func RomanLegislature(label string) (int, bool) {
	n, ok := romanLegislatures[strings.ToLower(strings.TrimSpace(label))]
	return n, ok
}
