package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openparl/parlingest/internal/entity"
)

// EntityStore writes extracted entity rows. Each batch lands in a single
// transaction, so one file's rows commit together or not at all.
type EntityStore struct {
	pool PoolIface
}

// NewEntityStore wraps an existing pool.
func NewEntityStore(pool PoolIface) (*EntityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EntityStore{pool: pool}, nil
}

// ApplyBatch upserts every row of the batch inside one transaction.
func (s *EntityStore) ApplyBatch(ctx context.Context, batch entity.Batch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := applyRows(ctx, tx, batch); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func applyRows(ctx context.Context, tx pgx.Tx, batch entity.Batch) error {
	for _, d := range batch.Deputies {
		query := `
			INSERT INTO deputies (legislature, external_id, name, full_name, party, district)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (legislature, external_id) DO UPDATE SET
				name = EXCLUDED.name,
				full_name = EXCLUDED.full_name,
				party = EXCLUDED.party,
				district = EXCLUDED.district;
		`
		if _, err := tx.Exec(ctx, query, d.Legislature, d.ExternalID, d.Name, d.FullName, d.Party, d.District); err != nil {
			return fmt.Errorf("upsert deputy %s: %w", d.ExternalID, err)
		}
	}

	for _, p := range batch.Parties {
		query := `
			INSERT INTO parties (legislature, acronym, name)
			VALUES ($1, $2, $3)
			ON CONFLICT (legislature, acronym) DO UPDATE SET
				name = CASE WHEN EXCLUDED.name = '' THEN parties.name ELSE EXCLUDED.name END;
		`
		if _, err := tx.Exec(ctx, query, p.Legislature, p.Acronym, p.Name); err != nil {
			return fmt.Errorf("upsert party %s: %w", p.Acronym, err)
		}
	}

	for _, b := range batch.Biographies {
		query := `
			INSERT INTO biographies (legislature, external_id, name, birth_date, profession, party, district)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (legislature, external_id) DO UPDATE SET
				name = EXCLUDED.name,
				birth_date = EXCLUDED.birth_date,
				profession = EXCLUDED.profession,
				party = EXCLUDED.party,
				district = EXCLUDED.district;
		`
		if _, err := tx.Exec(ctx, query, b.Legislature, b.ExternalID, b.Name, b.BirthDate, b.Profession, b.Party, b.District); err != nil {
			return fmt.Errorf("upsert biography %s: %w", b.ExternalID, err)
		}
	}

	for _, i := range batch.Initiatives {
		query := `
			INSERT INTO initiatives (legislature, external_id, number, kind, title, author, submitted_on)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (legislature, external_id) DO UPDATE SET
				number = EXCLUDED.number,
				kind = EXCLUDED.kind,
				title = EXCLUDED.title,
				author = EXCLUDED.author,
				submitted_on = EXCLUDED.submitted_on;
		`
		if _, err := tx.Exec(ctx, query, i.Legislature, i.ExternalID, i.Number, i.Kind, i.Title, i.Author, i.SubmittedOn); err != nil {
			return fmt.Errorf("upsert initiative %s: %w", i.ExternalID, err)
		}
	}

	for _, iv := range batch.Interventions {
		query := `
			INSERT INTO interventions (legislature, external_id, kind, date, speaker, party, summary)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (legislature, external_id) DO UPDATE SET
				kind = EXCLUDED.kind,
				date = EXCLUDED.date,
				speaker = EXCLUDED.speaker,
				party = EXCLUDED.party,
				summary = EXCLUDED.summary;
		`
		if _, err := tx.Exec(ctx, query, iv.Legislature, iv.ExternalID, iv.Kind, iv.Date, iv.Speaker, iv.Party, iv.Summary); err != nil {
			return fmt.Errorf("upsert intervention %s: %w", iv.ExternalID, err)
		}
	}

	for _, a := range batch.AgendaItems {
		query := `
			INSERT INTO agenda_items (legislature, external_id, date, session, subject)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (legislature, external_id) DO UPDATE SET
				date = EXCLUDED.date,
				session = EXCLUDED.session,
				subject = EXCLUDED.subject;
		`
		if _, err := tx.Exec(ctx, query, a.Legislature, a.ExternalID, a.Date, a.Session, a.Subject); err != nil {
			return fmt.Errorf("upsert agenda item %s: %w", a.ExternalID, err)
		}
	}

	for _, c := range batch.Committees {
		query := `
			INSERT INTO committees (legislature, external_id, name, acronym)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (legislature, external_id) DO UPDATE SET
				name = EXCLUDED.name,
				acronym = EXCLUDED.acronym;
		`
		if _, err := tx.Exec(ctx, query, c.Legislature, c.ExternalID, c.Name, c.Acronym); err != nil {
			return fmt.Errorf("upsert committee %s: %w", c.ExternalID, err)
		}
	}

	for _, p := range batch.Petitions {
		query := `
			INSERT INTO petitions (legislature, external_id, number, subject, date, signatures, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (legislature, external_id) DO UPDATE SET
				number = EXCLUDED.number,
				subject = EXCLUDED.subject,
				date = EXCLUDED.date,
				signatures = EXCLUDED.signatures,
				status = EXCLUDED.status;
		`
		if _, err := tx.Exec(ctx, query, p.Legislature, p.ExternalID, p.Number, p.Subject, p.Date, p.Signatures, p.Status); err != nil {
			return fmt.Errorf("upsert petition %s: %w", p.ExternalID, err)
		}
	}

	for _, ba := range batch.BudgetAmendments {
		query := `
			INSERT INTO budget_amendments (budget_year, external_id, legislature, number, subject, party, outcome)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (budget_year, external_id) DO UPDATE SET
				legislature = EXCLUDED.legislature,
				number = EXCLUDED.number,
				subject = EXCLUDED.subject,
				party = EXCLUDED.party,
				outcome = EXCLUDED.outcome;
		`
		if _, err := tx.Exec(ctx, query, ba.BudgetYear, ba.ExternalID, ba.Legislature, ba.Number, ba.Subject, ba.Party, ba.Outcome); err != nil {
			return fmt.Errorf("upsert budget amendment %s: %w", ba.ExternalID, err)
		}
	}

	return nil
}
