package extract

import (
	"reflect"
	"strings"
	"testing"

	"github.com/openparl/parlingest/internal/document"
	"github.com/openparl/parlingest/internal/ingest"
)

func parseXML(t *testing.T, body string) *document.Node {
	t.Helper()
	tree, err := document.ParseXML("https://app.parlamento.pt/test.xml", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseXML: %v", err)
	}
	return tree
}

func parseJSON(t *testing.T, body string) *document.Node {
	t.Helper()
	tree, err := document.ParseJSON("https://app.parlamento.pt/test_json.txt", strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	return tree
}

const iniciativasXML = `<ArrayOfIniciativas>
  <Iniciativa>
    <IniId>1001</IniId>
    <IniLeg>XV</IniLeg>
    <IniNr>42</IniNr>
    <IniTipo>Projeto de Lei</IniTipo>
    <IniTitulo>Primeira iniciativa</IniTitulo>
    <IniAutor>PS</IniAutor>
    <IniDataEntrada>2023-01-10</IniDataEntrada>
  </Iniciativa>
  <Iniciativa>
    <IniId>1002</IniId>
    <IniTitulo>Segunda iniciativa</IniTitulo>
  </Iniciativa>
</ArrayOfIniciativas>`

const iniciativasJSON = `{"ArrayOfIniciativas":{"Iniciativa":[
  {"IniId":"1001","IniLeg":"XV","IniNr":"42","IniTipo":"Projeto de Lei",
   "IniTitulo":"Primeira iniciativa","IniAutor":"PS","IniDataEntrada":"2023-01-10"},
  {"IniId":"1002","IniTitulo":"Segunda iniciativa"}]}}`

func TestExtractIniciativas(t *testing.T) {
	t.Parallel()

	fn, ok := For(ingest.TypeIniciativas)
	if !ok {
		t.Fatal("expected an extractor for iniciativas")
	}

	b := fn(parseXML(t, iniciativasXML), Source{Legislature: 16})
	if len(b.Initiatives) != 2 || b.Count() != 2 {
		t.Fatalf("expected 2 initiatives, got %+v", b)
	}

	first := b.Initiatives[0]
	if first.ExternalID != "1001" || first.Title != "Primeira iniciativa" {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.Legislature != 15 {
		t.Fatalf("record designator should override the file legislature, got %d", first.Legislature)
	}
	if first.Kind != "Projeto de Lei" || first.Author != "PS" || first.SubmittedOn != "2023-01-10" {
		t.Fatalf("unexpected first row: %+v", first)
	}

	second := b.Initiatives[1]
	if second.Legislature != 16 {
		t.Fatalf("rows without a designator use the file legislature, got %d", second.Legislature)
	}
}

func TestExtractJSONVariantMatchesXML(t *testing.T) {
	t.Parallel()

	fn, ok := For(ingest.TypeIniciativas.JSONVariant())
	if !ok {
		t.Fatal("expected the JSON variant to share the extractor")
	}

	src := Source{Legislature: 16}
	fromXML := fn(parseXML(t, iniciativasXML), src)
	fromJSON := fn(parseJSON(t, iniciativasJSON), src)
	if !reflect.DeepEqual(fromXML, fromJSON) {
		t.Fatalf("renditions disagree:\nxml:  %+v\njson: %+v", fromXML, fromJSON)
	}
}

func TestExtractIntervencoesNestedSpeaker(t *testing.T) {
	t.Parallel()

	tree := parseXML(t, `<ArrayOfIntervencoes>
  <Intervencao>
    <IntId>7</IntId>
    <IntTipo>Pergunta</IntTipo>
    <IntData>2023-02-01</IntData>
    <Deputado><DepNomeParlamentar>Marta Silva</DepNomeParlamentar><DepGP>BE</DepGP></Deputado>
    <IntSumario>Pergunta ao Governo</IntSumario>
  </Intervencao>
  <Intervencao>
    <IntId>8</IntId>
    <IntTipo>Declaração</IntTipo>
    <DepNomeParlamentar>Carlos Dias</DepNomeParlamentar>
  </Intervencao>
</ArrayOfIntervencoes>`)

	fn, _ := For(ingest.TypeIntervencoes)
	b := fn(tree, Source{Legislature: 15})
	if len(b.Interventions) != 2 {
		t.Fatalf("expected 2 interventions, got %+v", b)
	}
	if b.Interventions[0].Speaker != "Marta Silva" || b.Interventions[0].Party != "BE" {
		t.Fatalf("nested speaker block not read: %+v", b.Interventions[0])
	}
	if b.Interventions[1].Speaker != "Carlos Dias" {
		t.Fatalf("flat speaker field not read: %+v", b.Interventions[1])
	}
}

func TestExtractAgendasAndComissoes(t *testing.T) {
	t.Parallel()

	agendas := parseXML(t, `<Agendas>
  <Agenda><AgeId>3</AgeId><AgeData>2023-03-08</AgeData><AgeSessao>1</AgeSessao><AgeAssunto>Debate quinzenal</AgeAssunto></Agenda>
</Agendas>`)
	fn, _ := For(ingest.TypeAgendas)
	b := fn(agendas, Source{Legislature: 15})
	if len(b.AgendaItems) != 1 || b.AgendaItems[0].Subject != "Debate quinzenal" {
		t.Fatalf("unexpected agenda batch: %+v", b)
	}

	comissoes := parseXML(t, `<ArrayOfComissoes>
  <Comissao><ComId>3</ComId><ComNome>Assuntos Constitucionais</ComNome><ComSigla>CACDLG</ComSigla></Comissao>
</ArrayOfComissoes>`)
	fn, _ = For(ingest.TypeComissoes)
	b = fn(comissoes, Source{Legislature: 15})
	if len(b.Committees) != 1 || b.Committees[0].Acronym != "CACDLG" {
		t.Fatalf("unexpected committee batch: %+v", b)
	}
}

func TestExtractPeticoesParsesSignatureCount(t *testing.T) {
	t.Parallel()

	tree := parseXML(t, `<Peticoes>
  <Peticao>
    <PetId>77</PetId>
    <PetNr>120</PetNr>
    <PetAssunto>Transportes públicos</PetAssunto>
    <PetData>2023-04-02</PetData>
    <PetAssinaturas>4.021</PetAssinaturas>
    <PetSituacao>Em apreciação</PetSituacao>
  </Peticao>
</Peticoes>`)

	fn, _ := For(ingest.TypePeticoes)
	b := fn(tree, Source{Legislature: 15})
	if len(b.Petitions) != 1 {
		t.Fatalf("expected 1 petition, got %+v", b)
	}
	if b.Petitions[0].Signatures != 4021 {
		t.Fatalf("expected separator-tolerant count 4021, got %d", b.Petitions[0].Signatures)
	}
}

func TestExtractRegistoBiografico(t *testing.T) {
	t.Parallel()

	tree := parseXML(t, `<RegistoBiografico>
  <Deputado>
    <CadId>500</CadId>
    <DepNomeParlamentar>Ana Gomes</DepNomeParlamentar>
    <CadDataNascimento>1954-12-09</CadDataNascimento>
    <CadProfissao>Diplomata</CadProfissao>
    <DepGP>PS</DepGP>
    <DepCirculo>Lisboa</DepCirculo>
  </Deputado>
</RegistoBiografico>`)

	fn, _ := For(ingest.TypeRegistoBiografico)
	b := fn(tree, Source{Legislature: 16})
	if len(b.Biographies) != 1 {
		t.Fatalf("expected 1 biography, got %+v", b)
	}
	bio := b.Biographies[0]
	if bio.ExternalID != "500" || bio.Profession != "Diplomata" || bio.District != "Lisboa" {
		t.Fatalf("unexpected biography: %+v", bio)
	}
}

func TestExtractInformacaoBaseComposition(t *testing.T) {
	t.Parallel()

	tree := parseXML(t, `<InformacaoBase>
  <Deputados>
    <Deputado><DepId>10</DepId><DepNomeParlamentar>Ana Gomes</DepNomeParlamentar><DepNomeCompleto>Ana Maria Gomes</DepNomeCompleto><DepGP>PS</DepGP><DepCirculo>Lisboa</DepCirculo></Deputado>
    <Deputado><DepId>11</DepId><DepNomeParlamentar>Rui Costa</DepNomeParlamentar><DepGP>PSD</DepGP></Deputado>
  </Deputados>
  <GruposParlamentares>
    <GrupoParlamentar><GpSigla>PS</GpSigla><GpNome>Partido Socialista</GpNome></GrupoParlamentar>
    <GrupoParlamentar><GpSigla>PSD</GpSigla><GpNome>Partido Social Democrata</GpNome></GrupoParlamentar>
  </GruposParlamentares>
</InformacaoBase>`)

	fn, _ := For(ingest.TypeInformacaoBase)
	b := fn(tree, Source{Legislature: 15})
	if len(b.Deputies) != 2 || len(b.Parties) != 2 {
		t.Fatalf("expected 2 deputies and 2 parties, got %+v", b)
	}
	if b.Parties[0].Name != "Partido Socialista" {
		t.Fatalf("expected the group section to supply names, got %+v", b.Parties[0])
	}
	if b.Deputies[0].FullName != "Ana Maria Gomes" {
		t.Fatalf("unexpected deputy: %+v", b.Deputies[0])
	}
}

func TestExtractInformacaoBaseDerivesPartiesWithoutGroupSection(t *testing.T) {
	t.Parallel()

	tree := parseXML(t, `<InformacaoBase>
  <Deputados>
    <Deputado><DepId>10</DepId><DepNomeParlamentar>Ana Gomes</DepNomeParlamentar><DepGP>PS</DepGP></Deputado>
    <Deputado><DepId>11</DepId><DepNomeParlamentar>Rui Costa</DepNomeParlamentar><DepGP>PS</DepGP></Deputado>
    <Deputado><DepId>12</DepId><DepNomeParlamentar>Marta Silva</DepNomeParlamentar><DepGP>BE</DepGP></Deputado>
  </Deputados>
</InformacaoBase>`)

	fn, _ := For(ingest.TypeInformacaoBase)
	b := fn(tree, Source{Legislature: 15})
	if len(b.Parties) != 2 {
		t.Fatalf("expected 2 distinct parties, got %+v", b.Parties)
	}
	if b.Parties[0].Acronym != "PS" || b.Parties[1].Acronym != "BE" {
		t.Fatalf("unexpected party order: %+v", b.Parties)
	}
}

func TestExtractOrcamentoCarriesSeriesYear(t *testing.T) {
	t.Parallel()

	tree := parseXML(t, `<ArrayOfPropostasAlteracao>
  <PropostaAlteracao><PropId>555</PropId><PropNumero>101</PropNumero><PropAssunto>Saúde</PropAssunto><PropGP>BE</PropGP><PropResultado>Rejeitada</PropResultado></PropostaAlteracao>
</ArrayOfPropostasAlteracao>`)

	fn, _ := For(ingest.TypeOrcamentoEstado)
	b := fn(tree, Source{Legislature: 15, SubSeries: "OE2023"})
	if len(b.BudgetAmendments) != 1 {
		t.Fatalf("expected 1 amendment, got %+v", b)
	}
	amendment := b.BudgetAmendments[0]
	if amendment.BudgetYear != 2023 {
		t.Fatalf("expected year 2023 from the series label, got %d", amendment.BudgetYear)
	}
	if amendment.Outcome != "Rejeitada" {
		t.Fatalf("unexpected amendment: %+v", amendment)
	}
}

func TestForJournalsHasNoExtractor(t *testing.T) {
	t.Parallel()

	if _, ok := For(ingest.TypeDiarios); ok {
		t.Fatal("journals are reference documents and must not extract rows")
	}
}

func TestLooseInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"4021", 4021},
		{"4.021", 4021},
		{"1 250", 1250},
		{"", 0},
		{"n/a", 0},
	}
	for _, tt := range tests {
		if got := looseInt(tt.in); got != tt.want {
			t.Fatalf("looseInt(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBudgetYear(t *testing.T) {
	t.Parallel()

	if got := budgetYear("OE2023"); got != 2023 {
		t.Fatalf("budgetYear(OE2023) = %d", got)
	}
	if got := budgetYear("sem ano"); got != 0 {
		t.Fatalf("budgetYear(sem ano) = %d", got)
	}
}
