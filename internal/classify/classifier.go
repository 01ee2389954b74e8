// Package classify maps portal file names to logical document types and
// legislature ordinals. Classification is pure string analysis: rules are an
// ordered list evaluated first-match-wins, because several families' patterns
// overlap (budget deltas also look like base-information deltas).
package classify

import (
	"strings"

	"github.com/openparl/parlingest/internal/ingest"
)

const jsonSiblingSuffix = "_json.txt"

type rule struct {
	logicalType ingest.LogicalType
	patterns    []string
}

// typeRules is evaluated in declared order. Budget files come first: the
// portal publishes budget amendment files ("OE2023_alteracoes.xml") whose
// names also contain the base-information delta marker, and those must land
// in the budget family.
var typeRules = []rule{
	{ingest.TypeOrcamentoEstado, []string{"oe20", "orcamento"}},
	{ingest.TypeIniciativas, []string{"iniciativas"}},
	{ingest.TypeIntervencoes, []string{"intervencoes"}},
	{ingest.TypeAgendas, []string{"agendas"}},
	{ingest.TypeComissoes, []string{"comissoes"}},
	{ingest.TypePeticoes, []string{"peticoes"}},
	{ingest.TypeRegistoBiografico, []string{"registobiografico", "registo_biografico"}},
	{ingest.TypeDiarios, []string{"diario", "dar_"}},
	{ingest.TypeInformacaoBase, []string{"informacaobase", "informacao_base", "alteracoes", "composicao"}},
}

// normalize unifies separators and case so patterns match path fragments and
// bare file names alike.
func normalize(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
}

// ResolveType maps a file path or name to its logical document type. Files
// carrying the portal's "_json.txt" suffix resolve to the JSON variant of
// their XML sibling's type. The second return is false when no rule matches.
func ResolveType(path string) (ingest.LogicalType, bool) {
	norm := normalize(path)
	for _, r := range typeRules {
		for _, p := range r.patterns {
			if strings.Contains(norm, p) {
				if strings.HasSuffix(norm, jsonSiblingSuffix) {
					return r.logicalType.JSONVariant(), true
				}
				return r.logicalType, true
			}
		}
	}
	return "", false
}

// Resolve classifies a path in one call: logical type, legislature ordinal,
// and whether any type rule matched.
func Resolve(path string) (ingest.LogicalType, int, bool) {
	t, ok := ResolveType(path)
	return t, ResolveLegislature(path), ok
}
