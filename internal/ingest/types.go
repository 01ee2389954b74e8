// Package ingest defines the core types shared across the acquisition and
// import pipeline: file descriptors emitted by discovery, logical document
// types, serialization formats, the per-file error taxonomy, and the
// interfaces implemented by the staging, notification, and clock subsystems.
package ingest

import (
	"strings"
)

// LogicalType identifies the document family a portal file belongs to.
type LogicalType string

// Logical document types published by the portal. The _json variants mark the
// alternate serialization of the same logical content (see JSONVariant).
const (
	TypeOrcamentoEstado   LogicalType = "orcamento_estado"
	TypeIniciativas       LogicalType = "iniciativas"
	TypeIntervencoes      LogicalType = "intervencoes"
	TypeAgendas           LogicalType = "agendas"
	TypeComissoes         LogicalType = "comissoes"
	TypePeticoes          LogicalType = "peticoes"
	TypeRegistoBiografico LogicalType = "registo_biografico"
	TypeInformacaoBase    LogicalType = "informacao_base"
	TypeDiarios           LogicalType = "diarios"
)

const jsonVariantSuffix = "_json"

// JSONVariant returns the logical type marking the JSON serialization of t.
func (t LogicalType) JSONVariant() LogicalType {
	if t == "" || t.IsJSONVariant() {
		return t
	}
	return t + jsonVariantSuffix
}

// IsJSONVariant reports whether t denotes the JSON serialization of a family.
func (t LogicalType) IsJSONVariant() bool {
	return strings.HasSuffix(string(t), jsonVariantSuffix)
}

// Base strips the serialization marker, returning the document family.
func (t LogicalType) Base() LogicalType {
	return LogicalType(strings.TrimSuffix(string(t), jsonVariantSuffix))
}

// categoryLabels maps document families to the portal's human-readable
// category labels used in ledger rows and staging paths.
var categoryLabels = map[LogicalType]string{
	TypeOrcamentoEstado:   "Orcamento do Estado",
	TypeIniciativas:       "Iniciativas",
	TypeIntervencoes:      "Intervencoes",
	TypeAgendas:           "Agendas",
	TypeComissoes:         "Comissoes",
	TypePeticoes:          "Peticoes",
	TypeRegistoBiografico: "Registo Biografico",
	TypeInformacaoBase:    "Informacao Base",
	TypeDiarios:           "Diarios",
}

// CategoryFor returns the human-readable category label for a logical type,
// collapsing serialization variants onto their family. Unknown types map to
// the empty string so callers can fall back to discovery context.
func CategoryFor(t LogicalType) string {
	return categoryLabels[t.Base()]
}

// FileFormat is the physical serialization of a downloadable portal file.
type FileFormat string

// Recognized serializations. Reference documents (PDF) and packaged archives
// (ZIP) are staged but never parsed for entities.
const (
	FormatXML     FileFormat = "xml"
	FormatJSON    FileFormat = "json"
	FormatPDF     FileFormat = "pdf"
	FormatZip     FileFormat = "zip"
	FormatUnknown FileFormat = ""
)

// FormatFor derives the serialization from a file name or URL path. The
// portal publishes its JSON renditions with a literal "_json.txt" suffix
// rather than a .json extension.
func FormatFor(name string) FileFormat {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "_json.txt"), strings.HasSuffix(lower, ".json"):
		return FormatJSON
	case strings.HasSuffix(lower, ".xml"):
		return FormatXML
	case strings.HasSuffix(lower, ".pdf"):
		return FormatPDF
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	default:
		return FormatUnknown
	}
}

// Parseable reports whether files of this format carry extractable entities.
func (f FileFormat) Parseable() bool {
	return f == FormatXML || f == FormatJSON
}

// ArchivePath carries the hierarchy context accumulated while walking the
// portal's nested archive pages. SubSeries, Session, and Number are only
// populated by the deep traversal used for journal-style series; Trail always
// holds the raw labels from the root to the file's parent page.
type ArchivePath struct {
	SubSeries string
	Session   string
	Number    string
	Trail     []string
}

// Push returns a copy of p with label appended to the trail. The receiver is
// never mutated so worklist items can share prefixes safely.
func (p ArchivePath) Push(label string) ArchivePath {
	trail := make([]string, 0, len(p.Trail)+1)
	trail = append(trail, p.Trail...)
	trail = append(trail, label)
	p.Trail = trail
	return p
}

// FileDescriptor identifies one downloadable portal file. Descriptors are
// transient: produced by the discoverer, consumed by the importer, and never
// persisted except through the ledger's pending records.
type FileDescriptor struct {
	// URL is the canonical download URL (inline-display parameter stripped).
	URL string
	// DisplayName is the label shown on the archive page, used for staging.
	DisplayName string
	// Type is the classifier's logical type, including serialization variant.
	Type LogicalType
	// Category is the human-readable family label.
	Category string
	// Legislature is the parliamentary term ordinal; 0 means unknown or the
	// constituent assembly.
	Legislature int
	// Path is the hierarchy context from the archive walk.
	Path ArchivePath
}

// Format returns the physical serialization of the descriptor's file.
func (d FileDescriptor) Format() FileFormat {
	if f := FormatFor(d.DisplayName); f != FormatUnknown {
		return f
	}
	return FormatFor(d.URL)
}
