package segmentation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Input is what clustering reads from the backing store.
type Input struct {
	Leads        []LeadRow
	Transactions []string // user_email of every transaction
}

// LeadRow is a leads_scored row before segmentation.
type LeadRow struct {
	UserEmail    string
	P1           sql.NullFloat64
	MemberRating sql.NullFloat64
}

// Store reads and rewrites leads_scored.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore creates a store. driver selects the placeholder style:
// "postgres" uses $n, everything else uses ?.
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		if s.driver == "postgres" {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

// Load reads the lead scores and the transaction owners.
func (s *Store) Load(ctx context.Context) (*Input, error) {
	in := &Input{}

	rows, err := s.db.QueryContext(ctx, `SELECT user_email, p1, member_rating FROM leads_scored`)
	if err != nil {
		return nil, fmt.Errorf("query leads_scored: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r LeadRow
		var email sql.NullString
		if err := rows.Scan(&email, &r.P1, &r.MemberRating); err != nil {
			return nil, fmt.Errorf("scan leads_scored: %w", err)
		}
		r.UserEmail = email.String
		in.Leads = append(in.Leads, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trows, err := s.db.QueryContext(ctx, `SELECT user_email FROM transactions`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var email sql.NullString
		if err := trows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan transactions: %w", err)
		}
		if email.Valid && email.String != "" {
			in.Transactions = append(in.Transactions, email.String)
		}
	}
	return in, trows.Err()
}

// Replace swaps leads_scored for a table holding customers, in one
// transaction: build a staging table, drop the old table, rename.
func (s *Store) Replace(ctx context.Context, customers []Customer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DROP TABLE IF EXISTS leads_scored_new`,
		`CREATE TABLE leads_scored_new (
			user_email TEXT,
			p1 DOUBLE PRECISION,
			member_rating DOUBLE PRECISION,
			purchase_frequency DOUBLE PRECISION,
			customer_segment INTEGER
		)`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create staging table: %w", err)
		}
	}

	insert, err := tx.PrepareContext(ctx, `INSERT INTO leads_scored_new
		(user_email, p1, member_rating, purchase_frequency, customer_segment) VALUES (`+s.placeholders(5)+`)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()
	for _, c := range customers {
		if _, err := insert.ExecContext(ctx, c.UserEmail, c.P1, c.MemberRating, c.PurchaseFrequency, c.Segment); err != nil {
			return fmt.Errorf("insert %s: %w", c.UserEmail, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE leads_scored`); err != nil {
		return fmt.Errorf("drop leads_scored: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE leads_scored_new RENAME TO leads_scored`); err != nil {
		return fmt.Errorf("rename staging table: %w", err)
	}
	return tx.Commit()
}
