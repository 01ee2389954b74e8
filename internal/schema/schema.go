// Package schema registers the structural expectations each document family
// must satisfy before extraction. Validation is all-or-nothing per file: any
// issue blocks every entity write for that file, and the full issue list is
// retained on the ledger for operator review.
package schema

import (
	"fmt"
	"strings"

	"github.com/openparl/parlingest/internal/document"
	"github.com/openparl/parlingest/internal/ingest"
)

// Variant is one accepted layout for a family. The portal's XML and JSON
// renditions differ in root naming, so most families list several.
type Variant struct {
	// Path locates the container of the repeated records.
	Path []string
	// RowKey names the repeated record child. Empty means the located node
	// itself is the single record.
	RowKey string
	// Required lists fields every record must carry with non-empty text.
	Required []string
}

// Expectation is the structural contract for one document family.
type Expectation struct {
	Variants []Variant
}

// Rows locates the first resolvable variant and returns its record nodes.
func (e Expectation) Rows(tree *document.Node) (Variant, []*document.Node, bool) {
	for _, v := range e.Variants {
		root, ok := tree.Find(v.Path...)
		if !ok {
			continue
		}
		if v.RowKey == "" {
			return v, []*document.Node{root}, true
		}
		return v, root.All(v.RowKey), true
	}
	return Variant{}, nil, false
}

// Validate checks tree against the expectation and returns every issue found.
// An empty result means the file may be extracted.
func (e Expectation) Validate(tree *document.Node) []string {
	variant, rows, ok := e.Rows(tree)
	if !ok {
		return []string{fmt.Sprintf("no recognized root element (expected one of %s)", e.rootNames())}
	}

	var issues []string
	for i, row := range rows {
		if row.Kind() != document.KindMap {
			issues = append(issues, fmt.Sprintf("record %d: unexpected shape, want a field group", i+1))
			continue
		}
		for _, field := range variant.Required {
			if row.FindText(field) == "" {
				issues = append(issues, fmt.Sprintf("record %d: missing required field %q", i+1, field))
			}
		}
	}
	return issues
}

func (e Expectation) rootNames() string {
	names := make([]string, 0, len(e.Variants))
	for _, v := range e.Variants {
		names = append(names, strings.Join(v.Path, "/"))
	}
	return strings.Join(names, ", ")
}

// registry maps document families to their expectations. JSON variants share
// their XML sibling's entry via Base().
var registry = map[ingest.LogicalType]Expectation{
	ingest.TypeIniciativas: {Variants: []Variant{
		{Path: []string{"ArrayOfIniciativas"}, RowKey: "Iniciativa", Required: []string{"IniId", "IniTitulo"}},
		{Path: []string{"Iniciativas"}, RowKey: "Iniciativa", Required: []string{"IniId", "IniTitulo"}},
	}},
	ingest.TypeIntervencoes: {Variants: []Variant{
		{Path: []string{"ArrayOfIntervencoes"}, RowKey: "Intervencao", Required: []string{"IntId", "IntTipo"}},
		{Path: []string{"Intervencoes"}, RowKey: "Intervencao", Required: []string{"IntId", "IntTipo"}},
	}},
	ingest.TypeAgendas: {Variants: []Variant{
		{Path: []string{"ArrayOfAgendas"}, RowKey: "Agenda", Required: []string{"AgeId", "AgeData"}},
		{Path: []string{"Agendas"}, RowKey: "Agenda", Required: []string{"AgeId", "AgeData"}},
	}},
	ingest.TypeComissoes: {Variants: []Variant{
		{Path: []string{"ArrayOfComissoes"}, RowKey: "Comissao", Required: []string{"ComId", "ComNome"}},
		{Path: []string{"Comissoes"}, RowKey: "Comissao", Required: []string{"ComId", "ComNome"}},
	}},
	ingest.TypePeticoes: {Variants: []Variant{
		{Path: []string{"ArrayOfPeticoes"}, RowKey: "Peticao", Required: []string{"PetId", "PetAssunto"}},
		{Path: []string{"Peticoes"}, RowKey: "Peticao", Required: []string{"PetId", "PetAssunto"}},
	}},
	ingest.TypeRegistoBiografico: {Variants: []Variant{
		{Path: []string{"ArrayOfRegistoBiografico"}, RowKey: "Deputado", Required: []string{"CadId", "DepNomeParlamentar"}},
		{Path: []string{"RegistoBiografico"}, RowKey: "Deputado", Required: []string{"CadId", "DepNomeParlamentar"}},
	}},
	ingest.TypeInformacaoBase: {Variants: []Variant{
		{Path: []string{"InformacaoBase", "Deputados"}, RowKey: "Deputado", Required: []string{"DepId", "DepNomeParlamentar"}},
		{Path: []string{"ArrayOfInformacaoBase", "Deputados"}, RowKey: "Deputado", Required: []string{"DepId", "DepNomeParlamentar"}},
	}},
	ingest.TypeOrcamentoEstado: {Variants: []Variant{
		{Path: []string{"ArrayOfPropostasAlteracao"}, RowKey: "PropostaAlteracao", Required: []string{"PropId"}},
		{Path: []string{"OrcamentoEstado"}, RowKey: "PropostaAlteracao", Required: []string{"PropId"}},
	}},
	ingest.TypeDiarios: {Variants: []Variant{
		{Path: []string{"Diario"}, RowKey: "", Required: []string{"DarNumero", "DarData"}},
	}},
}

// For returns the expectation registered for a logical type.
func For(t ingest.LogicalType) (Expectation, bool) {
	e, ok := registry[t.Base()]
	return e, ok
}
