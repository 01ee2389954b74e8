// Package entity defines the normalized rows the importer writes. Every row
// carries the legislature it belongs to plus the portal's own identifier, so
// repeated imports of the same file update rows in place instead of
// duplicating them.
package entity

// Deputy is one member of parliament within a legislature, sourced from the
// base-composition files.
type Deputy struct {
	Legislature int    `db:"legislature"`
	ExternalID  string `db:"external_id"`
	Name        string `db:"name"`
	FullName    string `db:"full_name"`
	Party       string `db:"party"`
	District    string `db:"district"`
}

// Party is a parliamentary group within a legislature.
type Party struct {
	Legislature int    `db:"legislature"`
	Acronym     string `db:"acronym"`
	Name        string `db:"name"`
}

// Biography is a biographic-register entry. ExternalID carries the register's
// CadId, which is stable across legislatures for the same person.
type Biography struct {
	Legislature int    `db:"legislature"`
	ExternalID  string `db:"external_id"`
	Name        string `db:"name"`
	BirthDate   string `db:"birth_date"`
	Profession  string `db:"profession"`
	Party       string `db:"party"`
	District    string `db:"district"`
}

// Initiative is one legislative initiative (bill, draft resolution, and the
// portal's related varieties).
type Initiative struct {
	Legislature int    `db:"legislature"`
	ExternalID  string `db:"external_id"`
	Number      string `db:"number"`
	Kind        string `db:"kind"`
	Title       string `db:"title"`
	Author      string `db:"author"`
	SubmittedOn string `db:"submitted_on"`
}

// Intervention is one plenary speech or question.
type Intervention struct {
	Legislature int    `db:"legislature"`
	ExternalID  string `db:"external_id"`
	Kind        string `db:"kind"`
	Date        string `db:"date"`
	Speaker     string `db:"speaker"`
	Party       string `db:"party"`
	Summary     string `db:"summary"`
}

// AgendaItem is one entry of a plenary session agenda.
type AgendaItem struct {
	Legislature int    `db:"legislature"`
	ExternalID  string `db:"external_id"`
	Date        string `db:"date"`
	Session     string `db:"session"`
	Subject     string `db:"subject"`
}

// Committee is a standing or ad-hoc parliamentary committee.
type Committee struct {
	Legislature int    `db:"legislature"`
	ExternalID  string `db:"external_id"`
	Name        string `db:"name"`
	Acronym     string `db:"acronym"`
}

// Petition is one public petition submitted to parliament.
type Petition struct {
	Legislature int    `db:"legislature"`
	ExternalID  string `db:"external_id"`
	Number      string `db:"number"`
	Subject     string `db:"subject"`
	Date        string `db:"date"`
	Signatures  int    `db:"signatures"`
	Status      string `db:"status"`
}

// BudgetAmendment is one amendment proposal from a state-budget series.
// BudgetYear comes from the series label; Legislature may be zero when the
// source file names only the year.
type BudgetAmendment struct {
	Legislature int    `db:"legislature"`
	BudgetYear  int    `db:"budget_year"`
	ExternalID  string `db:"external_id"`
	Number      string `db:"number"`
	Subject     string `db:"subject"`
	Party       string `db:"party"`
	Outcome     string `db:"outcome"`
}

// Batch collects every row extracted from a single file. The store writes a
// batch in one transaction, so a file's rows land together or not at all.
type Batch struct {
	Deputies         []Deputy
	Parties          []Party
	Biographies      []Biography
	Initiatives      []Initiative
	Interventions    []Intervention
	AgendaItems      []AgendaItem
	Committees       []Committee
	Petitions        []Petition
	BudgetAmendments []BudgetAmendment
}

// Count returns the total number of rows across every slice.
func (b Batch) Count() int {
	return len(b.Deputies) +
		len(b.Parties) +
		len(b.Biographies) +
		len(b.Initiatives) +
		len(b.Interventions) +
		len(b.AgendaItems) +
		len(b.Committees) +
		len(b.Petitions) +
		len(b.BudgetAmendments)
}

// Empty reports whether the batch holds no rows.
func (b Batch) Empty() bool { return b.Count() == 0 }
