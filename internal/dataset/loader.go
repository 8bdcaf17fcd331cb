package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/marketing-analyst/internal/config"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"

	_ "github.com/lib/pq"                  // PostgreSQL driver
	_ "github.com/snowflakedb/gosnowflake" // Snowflake driver
	_ "modernc.org/sqlite"                 // SQLite driver
)

// Loader performs one full read of the backing tables.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

const (
	leadsScoredQuery  = `SELECT user_email, p1, member_rating, purchase_frequency, customer_segment FROM leads_scored`
	transactionsQuery = `SELECT transaction_id, purchased_at, user_full_name, user_email, charge_country, product_id FROM transactions`
	productsQuery     = `SELECT product_id, description, suggested_price FROM products`
	leadsQuery        = `SELECT * FROM leads`
)

// driverNames maps config driver names to database/sql driver names.
var driverNames = map[string]string{
	"sqlite":    "sqlite",
	"postgres":  "postgres",
	"snowflake": "snowflake",
}

// Open connects to the configured backing store.
func Open(cfg config.DatasetConfig) (*sql.DB, error) {
	driver, ok := driverNames[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported dataset driver %q", cfg.Driver)
	}
	dsn := cfg.DSN
	switch {
	case cfg.Driver == "snowflake" && dsn == "":
		dsn = SnowflakeDSN(cfg.Snowflake)
	case cfg.Driver == "sqlite" && dsn == "":
		dsn = "data/leads_scored.db"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}

// SnowflakeDSN builds user:password@account/database/schema?warehouse=xxx
func SnowflakeDSN(cfg config.SnowflakeConfig) string {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s",
		cfg.User,
		cfg.Password,
		cfg.Account,
		cfg.Database,
		cfg.Schema,
	)
	if cfg.Warehouse != "" {
		dsn += "?warehouse=" + cfg.Warehouse
	}
	return dsn
}

// SQLLoader reads the tables over database/sql.
type SQLLoader struct {
	db        *sql.DB
	loadLeads bool
}

// NewSQLLoader creates a loader. When loadLeads is set the raw leads table is
// read too; its absence is logged, not fatal.
func NewSQLLoader(db *sql.DB, loadLeads bool) *SQLLoader {
	return &SQLLoader{db: db, loadLeads: loadLeads}
}

// Load reads leads_scored, transactions and products exactly once each.
func (l *SQLLoader) Load(ctx context.Context) (*Snapshot, error) {
	leads, err := l.loadLeadsScored(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading leads_scored: %w", err)
	}
	txns, err := l.loadTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	products, err := l.loadProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading products: %w", err)
	}

	snap := &Snapshot{LeadsScored: leads, Transactions: txns, Products: products}
	if l.loadLeads {
		raw, err := l.loadRecords(ctx, leadsQuery)
		if err != nil {
			logger.Warn("leads table unavailable, continuing without it", "error", err)
		} else {
			snap.Leads = raw
		}
	}
	if snap.Empty() {
		logger.Warn("one or more tables are empty in the database",
			"leads_scored", len(leads), "transactions", len(txns), "products", len(products))
	}
	return snap, nil
}

func (l *SQLLoader) loadLeadsScored(ctx context.Context) ([]LeadScored, error) {
	rows, err := l.db.QueryContext(ctx, leadsScoredQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeadScored
	for rows.Next() {
		var (
			email            sql.NullString
			p1, rating, freq sql.NullFloat64
			segment          sql.NullInt64
		)
		if err := rows.Scan(&email, &p1, &rating, &freq, &segment); err != nil {
			return nil, err
		}
		out = append(out, LeadScored{
			UserEmail:         email.String,
			P1:                nullFloat(p1),
			MemberRating:      nullFloat(rating),
			PurchaseFrequency: nullFloat(freq),
			CustomerSegment:   nullInt(segment),
		})
	}
	return out, rows.Err()
}

func (l *SQLLoader) loadTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := l.db.QueryContext(ctx, transactionsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var id, at, name, email, country, product sql.NullString
		if err := rows.Scan(&id, &at, &name, &email, &country, &product); err != nil {
			return nil, err
		}
		out = append(out, Transaction{
			TransactionID: id.String,
			PurchasedAt:   at.String,
			UserFullName:  name.String,
			UserEmail:     email.String,
			ChargeCountry: country.String,
			ProductID:     product.String,
		})
	}
	return out, rows.Err()
}

func (l *SQLLoader) loadProducts(ctx context.Context) ([]Product, error) {
	rows, err := l.db.QueryContext(ctx, productsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var id, desc sql.NullString
		var price sql.NullFloat64
		if err := rows.Scan(&id, &desc, &price); err != nil {
			return nil, err
		}
		out = append(out, Product{ProductID: id.String, Description: desc.String, SuggestedPrice: nullFloat(price)})
	}
	return out, rows.Err()
}

func (l *SQLLoader) loadRecords(ctx context.Context, query string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return Float(n.Float64)
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return Int(n.Int64)
}
