package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/gharbills/bill-tracker/internal/bill"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const listColumns = "id, item, quantity, date, amount, category, person, created_at"

// SQLite implements the Store interface on a local SQLite file via the pure
// Go driver.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating if necessary) a SQLite-backed store and runs
// pending migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

func runMigrations(dbPath string) error {
	// Separate connection so migration locking does not interfere with the
	// main pool.
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Insert persists a record and returns its rowid as the id
func (s *SQLite) Insert(ctx context.Context, e *bill.Expenditure) (string, error) {
	createdAt := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO expenditures (item, quantity, date, amount, category, person, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Item, e.Quantity, e.Date, e.Amount.String(), string(e.Category), e.Person, createdAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert expenditure: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("last insert id: %w", err)
	}
	if err := bumpSQLVersion(ctx, tx); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit insert: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Get retrieves a record by id
func (s *SQLite) Get(ctx context.Context, id string) (*bill.Expenditure, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+listColumns+" FROM expenditures WHERE id = ?", id)
	record, err := scanExpenditure(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("expenditure not found: %s", id)
	}
	return record, err
}

// ListAll returns every record, date descending then creation descending
func (s *SQLite) ListAll(ctx context.Context) ([]*bill.Expenditure, error) {
	return s.query(ctx,
		"SELECT "+listColumns+" FROM expenditures ORDER BY date DESC, created_at DESC")
}

// ListByDateRange returns records with start <= date <= end
func (s *SQLite) ListByDateRange(ctx context.Context, start, end string) ([]*bill.Expenditure, error) {
	return s.query(ctx,
		"SELECT "+listColumns+" FROM expenditures WHERE date >= ? AND date <= ? ORDER BY date DESC, created_at DESC",
		start, end)
}

// Update replaces the record with the given id, preserving its creation time
func (s *SQLite) Update(ctx context.Context, id string, e *bill.Expenditure) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE expenditures SET item = ?, quantity = ?, date = ?, amount = ?, category = ?, person = ?
		 WHERE id = ?`,
		e.Item, e.Quantity, e.Date, e.Amount.String(), string(e.Category), e.Person, id)
	if err != nil {
		return false, fmt.Errorf("update expenditure: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if err := bumpSQLVersion(ctx, tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit update: %w", err)
	}
	return true, nil
}

// Delete removes the record with the given id
func (s *SQLite) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM expenditures WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete expenditure: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if err := bumpSQLVersion(ctx, tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	return true, nil
}

// SumByCategory totals amounts for one category, or all when empty. Amounts
// are stored as decimal strings, so the sum happens in Go rather than in
// SQL float arithmetic.
func (s *SQLite) SumByCategory(ctx context.Context, category bill.Category) (decimal.Decimal, error) {
	query := "SELECT amount FROM expenditures"
	args := []any{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, string(category))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("stored amount %q: %w", amountStr, err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// Version returns the current write counter
func (s *SQLite) Version(ctx context.Context) (uint64, error) {
	var version uint64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'version'").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

func bumpSQLVersion(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "UPDATE meta SET value = value + 1 WHERE key = 'version'"); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	return nil
}

func (s *SQLite) query(ctx context.Context, query string, args ...any) ([]*bill.Expenditure, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenditures: %w", err)
	}
	defer rows.Close()

	records := make([]*bill.Expenditure, 0)
	for rows.Next() {
		record, err := scanExpenditure(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpenditure(row rowScanner) (*bill.Expenditure, error) {
	var (
		record    bill.Expenditure
		id        int64
		amountStr string
		category  string
		createdAt int64
	)
	if err := row.Scan(&id, &record.Item, &record.Quantity, &record.Date, &amountStr, &category, &record.Person, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan expenditure: %w", err)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("stored amount %q: %w", amountStr, err)
	}
	record.ID = strconv.FormatInt(id, 10)
	record.Amount = amount
	record.Category = bill.Category(category)
	record.CreatedAt = time.Unix(0, createdAt)
	return &record, nil
}
