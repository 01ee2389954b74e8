package extract

import (
	"github.com/openparl/parlingest/internal/document"
	"github.com/openparl/parlingest/internal/entity"
	"github.com/openparl/parlingest/internal/ingest"
	"github.com/openparl/parlingest/internal/schema"
)

var registry = map[ingest.LogicalType]Func{
	ingest.TypeIniciativas:       extractIniciativas,
	ingest.TypeIntervencoes:      extractIntervencoes,
	ingest.TypeAgendas:           extractAgendas,
	ingest.TypeComissoes:         extractComissoes,
	ingest.TypePeticoes:          extractPeticoes,
	ingest.TypeRegistoBiografico: extractRegistoBiografico,
	ingest.TypeInformacaoBase:    extractInformacaoBase,
	ingest.TypeOrcamentoEstado:   extractOrcamento,
}

// rowsFor locates the records through the validated variant layouts.
func rowsFor(t ingest.LogicalType, tree *document.Node) []*document.Node {
	exp, ok := schema.For(t)
	if !ok {
		return nil
	}
	_, rows, _ := exp.Rows(tree)
	return rows
}

func extractIniciativas(tree *document.Node, src Source) entity.Batch {
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypeIniciativas, tree) {
		b.Initiatives = append(b.Initiatives, entity.Initiative{
			Legislature: rowLegislature(row, "IniLeg", src.Legislature),
			ExternalID:  row.FindText("IniId"),
			Number:      row.FindText("IniNr"),
			Kind:        fieldText(row, "IniDescTipo", "IniTipo"),
			Title:       row.FindText("IniTitulo"),
			Author:      fieldText(row, "IniAutor", "IniAutorGrupoParlamentar"),
			SubmittedOn: row.FindText("IniDataEntrada"),
		})
	}
	return b
}

func extractIntervencoes(tree *document.Node, src Source) entity.Batch {
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypeIntervencoes, tree) {
		speaker := row.FindText("Deputado", "DepNomeParlamentar")
		if speaker == "" {
			speaker = row.FindText("DepNomeParlamentar")
		}
		party := row.FindText("Deputado", "DepGP")
		if party == "" {
			party = row.FindText("DepGP")
		}
		b.Interventions = append(b.Interventions, entity.Intervention{
			Legislature: rowLegislature(row, "IntLeg", src.Legislature),
			ExternalID:  row.FindText("IntId"),
			Kind:        row.FindText("IntTipo"),
			Date:        row.FindText("IntData"),
			Speaker:     speaker,
			Party:       party,
			Summary:     row.FindText("IntSumario"),
		})
	}
	return b
}

func extractAgendas(tree *document.Node, src Source) entity.Batch {
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypeAgendas, tree) {
		b.AgendaItems = append(b.AgendaItems, entity.AgendaItem{
			Legislature: src.Legislature,
			ExternalID:  row.FindText("AgeId"),
			Date:        row.FindText("AgeData"),
			Session:     row.FindText("AgeSessao"),
			Subject:     fieldText(row, "AgeAssunto", "AgeTema"),
		})
	}
	return b
}

func extractComissoes(tree *document.Node, src Source) entity.Batch {
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypeComissoes, tree) {
		b.Committees = append(b.Committees, entity.Committee{
			Legislature: src.Legislature,
			ExternalID:  row.FindText("ComId"),
			Name:        row.FindText("ComNome"),
			Acronym:     row.FindText("ComSigla"),
		})
	}
	return b
}

func extractPeticoes(tree *document.Node, src Source) entity.Batch {
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypePeticoes, tree) {
		b.Petitions = append(b.Petitions, entity.Petition{
			Legislature: rowLegislature(row, "PetLeg", src.Legislature),
			ExternalID:  row.FindText("PetId"),
			Number:      row.FindText("PetNr"),
			Subject:     row.FindText("PetAssunto"),
			Date:        fieldText(row, "PetData", "PetDataEntrada"),
			Signatures:  looseInt(row.FindText("PetAssinaturas")),
			Status:      row.FindText("PetSituacao"),
		})
	}
	return b
}

func extractRegistoBiografico(tree *document.Node, src Source) entity.Batch {
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypeRegistoBiografico, tree) {
		b.Biographies = append(b.Biographies, entity.Biography{
			Legislature: src.Legislature,
			ExternalID:  row.FindText("CadId"),
			Name:        row.FindText("DepNomeParlamentar"),
			BirthDate:   row.FindText("CadDataNascimento"),
			Profession:  row.FindText("CadProfissao"),
			Party:       row.FindText("DepGP"),
			District:    row.FindText("DepCirculo"),
		})
	}
	return b
}

// extractInformacaoBase reads the legislature composition: the deputy roster
// plus the parliamentary groups. Older exports omit the group section, in
// which case the parties are derived from the roster's acronyms.
func extractInformacaoBase(tree *document.Node, src Source) entity.Batch {
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypeInformacaoBase, tree) {
		b.Deputies = append(b.Deputies, entity.Deputy{
			Legislature: src.Legislature,
			ExternalID:  row.FindText("DepId"),
			Name:        row.FindText("DepNomeParlamentar"),
			FullName:    row.FindText("DepNomeCompleto"),
			Party:       row.FindText("DepGP"),
			District:    row.FindText("DepCirculo"),
		})
	}

	for _, root := range []string{"InformacaoBase", "ArrayOfInformacaoBase"} {
		groups, ok := tree.Find(root, "GruposParlamentares")
		if !ok {
			continue
		}
		for _, g := range groups.All("GrupoParlamentar") {
			b.Parties = append(b.Parties, entity.Party{
				Legislature: src.Legislature,
				Acronym:     g.FindText("GpSigla"),
				Name:        g.FindText("GpNome"),
			})
		}
		return b
	}

	seen := make(map[string]bool)
	for _, d := range b.Deputies {
		if d.Party == "" || seen[d.Party] {
			continue
		}
		seen[d.Party] = true
		b.Parties = append(b.Parties, entity.Party{Legislature: src.Legislature, Acronym: d.Party})
	}
	return b
}

func extractOrcamento(tree *document.Node, src Source) entity.Batch {
	year := budgetYear(src.SubSeries)
	var b entity.Batch
	for _, row := range rowsFor(ingest.TypeOrcamentoEstado, tree) {
		b.BudgetAmendments = append(b.BudgetAmendments, entity.BudgetAmendment{
			Legislature: src.Legislature,
			BudgetYear:  year,
			ExternalID:  row.FindText("PropId"),
			Number:      row.FindText("PropNumero"),
			Subject:     row.FindText("PropAssunto"),
			Party:       row.FindText("PropGP"),
			Outcome:     row.FindText("PropResultado"),
		})
	}
	return b
}
