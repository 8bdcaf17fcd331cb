package sqlexec

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"

	_ "modernc.org/sqlite"
)

var schemaDDL = []string{
	`CREATE TABLE leads_scored (user_email TEXT, p1 REAL, member_rating REAL, purchase_frequency REAL, customer_segment INTEGER)`,
	`CREATE TABLE transactions (transaction_id INTEGER, purchased_at TEXT, user_full_name TEXT, user_email TEXT, charge_country TEXT, product_id INTEGER)`,
	`CREATE TABLE products (product_id INTEGER, description TEXT, suggested_price REAL)`,
}

// Engine is a private in-memory SQLite database holding one snapshot. The
// connection is switched to query_only once the tables are filled.
type Engine struct {
	db      *sql.DB
	version int64
}

// NewEngine materializes snap into a fresh in-memory database.
func NewEngine(ctx context.Context, snap *dataset.Snapshot) (*Engine, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening query engine: %w", err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := populate(ctx, db, snap); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("locking query engine: %w", err)
	}

	logger.Debug("Query engine ready",
		"version", snap.Version,
		"leads_scored", len(snap.LeadsScored),
		"transactions", len(snap.Transactions),
		"products", len(snap.Products))
	return &Engine{db: db, version: snap.Version}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ptr[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func populate(ctx context.Context, db *sql.DB, snap *dataset.Snapshot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting load: %w", err)
	}
	defer tx.Rollback()

	for _, ddl := range schemaDDL {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	insert := func(query string, n int, args func(i int) []any) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := 0; i < n; i++ {
			if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
				return err
			}
		}
		return nil
	}

	if err := insert(`INSERT INTO leads_scored VALUES (?, ?, ?, ?, ?)`, len(snap.LeadsScored), func(i int) []any {
		l := snap.LeadsScored[i]
		return []any{nullable(l.UserEmail), ptr(l.P1), ptr(l.MemberRating), ptr(l.PurchaseFrequency), ptr(l.CustomerSegment)}
	}); err != nil {
		return fmt.Errorf("loading leads_scored: %w", err)
	}
	if err := insert(`INSERT INTO transactions VALUES (?, ?, ?, ?, ?, ?)`, len(snap.Transactions), func(i int) []any {
		t := snap.Transactions[i]
		return []any{nullable(t.TransactionID), nullable(t.PurchasedAt), nullable(t.UserFullName),
			nullable(t.UserEmail), nullable(t.ChargeCountry), nullable(t.ProductID)}
	}); err != nil {
		return fmt.Errorf("loading transactions: %w", err)
	}
	if err := insert(`INSERT INTO products VALUES (?, ?, ?)`, len(snap.Products), func(i int) []any {
		p := snap.Products[i]
		return []any{nullable(p.ProductID), nullable(p.Description), ptr(p.SuggestedPrice)}
	}); err != nil {
		return fmt.Errorf("loading products: %w", err)
	}

	return tx.Commit()
}

// Version is the snapshot version the engine was built from.
func (e *Engine) Version() int64 { return e.version }

// Close releases the in-memory database.
func (e *Engine) Close() error { return e.db.Close() }

// Result is a tabular query result with columns in select order.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Query validates and runs a read-only statement.
func (e *Engine) Query(ctx context.Context, query string) (*Result, error) {
	if err := Validate(query); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(query), ";"))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	res := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return res, nil
}

// Len is the number of rows.
func (r *Result) Len() int { return len(r.Rows) }

// Records returns each row as a column-name keyed map.
func (r *Result) Records() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			m[c] = row[i]
		}
		out = append(out, m)
	}
	return out
}

// finite maps NaN and infinities, which SQLite returns for overflowing
// literals like 1e999, to null.
func finite(v any) any {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}

// JSON renders the rows as an array of objects, keeping column order.
// Non-finite floats are written as null.
func (r *Result) JSON() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range r.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, c := range r.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(c)
			v, err := json.Marshal(finite(row[j]))
			if err != nil {
				return "", fmt.Errorf("encoding %s: %w", c, err)
			}
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

// Table renders up to limit rows as a markdown table. limit <= 0 renders
// every row.
func (r *Result) Table(limit int) string {
	if len(r.Columns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("| " + strings.Join(r.Columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(r.Columns)) + "\n")
	for i, row := range r.Rows {
		if limit > 0 && i >= limit {
			fmt.Fprintf(&b, "\n_%d more rows_\n", len(r.Rows)-limit)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = ""
				continue
			}
			cells[j] = strings.ReplaceAll(fmt.Sprint(v), "|", "\\|")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}
