package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	timeLayout   = time.RFC3339
	periodLayout = "2006-01-02"
)

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens path with WAL journaling, a busy timeout and foreign keys
// enabled, then applies pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Msg("no new database migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Debug().Msg("database migrations applied")
	return nil
}

// Close releases the database.
func (s *SQLite) Close() error { return s.db.Close() }

// CreateFund inserts a fund, or returns the id of the fund with the same CIK.
func (s *SQLite) CreateFund(ctx context.Context, name, cik string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO funds (name, cik) VALUES (?, ?)
		ON CONFLICT (cik) DO UPDATE SET name = excluded.name
		RETURNING id`, name, cik).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create fund %s: %w", cik, err)
	}
	return id, nil
}

// CreateFiling records a DISCOVERED filing, or returns the id of the filing
// with the same accession number.
func (s *SQLite) CreateFiling(ctx context.Context, f Filing) (int64, error) {
	formType := f.FormType
	if formType == "" {
		formType = "13F-HR"
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO fund_filings (fund_id, cik, accession_number, form_type, filing_url, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (accession_number) DO UPDATE SET filing_url = excluded.filing_url
		RETURNING id`,
		f.FundID, f.CIK, f.AccessionNumber, formType, f.FilingURL, string(StatusDiscovered)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create filing %s: %w", f.AccessionNumber, err)
	}
	return id, nil
}

const filingColumns = `id, fund_id, cik, accession_number, form_type, filing_url, status,
	period_of_report, holdings_count, document_url, updated_at`

func scanFiling(row *sql.Row) (Filing, error) {
	var (
		f                   Filing
		status, updated     string
		period, documentURL sql.NullString
		count               sql.NullInt64
	)
	err := row.Scan(&f.ID, &f.FundID, &f.CIK, &f.AccessionNumber, &f.FormType, &f.FilingURL, &status,
		&period, &count, &documentURL, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Filing{}, ErrFilingNotFound
	}
	if err != nil {
		return Filing{}, err
	}
	f.Status = Status(status)
	f.DocumentURL = documentURL.String
	if period.Valid {
		if t, err := time.Parse(periodLayout, period.String); err == nil {
			f.PeriodOfReport = &t
		}
	}
	if count.Valid {
		n := int(count.Int64)
		f.HoldingsCount = &n
	}
	if t, err := time.Parse(timeLayout, updated); err == nil {
		f.UpdatedAt = t
	}
	return f, nil
}

// FilingByAccession looks a filing up by its accession number.
func (s *SQLite) FilingByAccession(ctx context.Context, accession string) (Filing, error) {
	f, err := scanFiling(s.db.QueryRowContext(ctx,
		`SELECT `+filingColumns+` FROM fund_filings WHERE accession_number = ?`, accession))
	if err != nil {
		return Filing{}, fmt.Errorf("filing %s: %w", accession, err)
	}
	return f, nil
}

// FilingByID looks a filing up by id.
func (s *SQLite) FilingByID(ctx context.Context, id int64) (Filing, error) {
	f, err := scanFiling(s.db.QueryRowContext(ctx,
		`SELECT `+filingColumns+` FROM fund_filings WHERE id = ?`, id))
	if err != nil {
		return Filing{}, fmt.Errorf("filing %d: %w", id, err)
	}
	return f, nil
}

// UpsertHolding writes h at its (filing, position) slot, replacing what a
// previous run stored there.
func (s *SQLite) UpsertHolding(ctx context.Context, h Holding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_holdings (fund_id, filing_id, position, cik, ticker, cusip, shares, market_value, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (filing_id, position) DO UPDATE SET
			fund_id = excluded.fund_id,
			cik = excluded.cik,
			ticker = excluded.ticker,
			cusip = excluded.cusip,
			shares = excluded.shares,
			market_value = excluded.market_value,
			type = excluded.type`,
		h.FundID, h.FilingID, h.Position, h.CIK, h.Ticker, h.Cusip, h.Shares, h.MarketValue, h.Type)
	if err != nil {
		return fmt.Errorf("upsert holding %d/%d: %w", h.FilingID, h.Position, err)
	}
	return nil
}

// PruneHoldings deletes rows left over from a longer earlier run.
func (s *SQLite) PruneHoldings(ctx context.Context, filingID int64, keep int) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM fund_holdings WHERE filing_id = ? AND position >= ?`, filingID, keep); err != nil {
		return fmt.Errorf("prune holdings of filing %d: %w", filingID, err)
	}
	return nil
}

// Holdings returns the filing's rows in document order.
func (s *SQLite) Holdings(ctx context.Context, filingID int64) ([]Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fund_id, filing_id, position, cik, ticker, cusip, shares, market_value, type
		FROM fund_holdings WHERE filing_id = ? ORDER BY position`, filingID)
	if err != nil {
		return nil, fmt.Errorf("holdings of filing %d: %w", filingID, err)
	}
	defer rows.Close()
	var out []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.FundID, &h.FilingID, &h.Position, &h.CIK, &h.Ticker, &h.Cusip, &h.Shares, &h.MarketValue, &h.Type); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// MarkParsed records a successful extraction.
func (s *SQLite) MarkParsed(ctx context.Context, filingID int64, u ParsedUpdate) error {
	var period any
	if u.PeriodOfReport != nil {
		period = u.PeriodOfReport.Format(periodLayout)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE fund_filings SET status = ?, updated_at = ?, holdings_count = ?,
			period_of_report = COALESCE(?, period_of_report), document_url = ?
		WHERE id = ?`,
		string(StatusParsed), stamp(u.At), u.HoldingsCount, period, u.DocumentURL, filingID)
	if err != nil {
		return fmt.Errorf("mark filing %d parsed: %w", filingID, err)
	}
	return requireRow(res, fmt.Sprintf("filing %d", filingID))
}

// MarkFailed records a failed extraction.
func (s *SQLite) MarkFailed(ctx context.Context, u FailedUpdate) error {
	var (
		res sql.Result
		err error
		key string
	)
	if u.FilingID != 0 {
		key = fmt.Sprintf("filing %d", u.FilingID)
		res, err = s.db.ExecContext(ctx, `UPDATE fund_filings SET status = ?, updated_at = ? WHERE id = ?`,
			string(StatusFailed), stamp(u.At), u.FilingID)
	} else {
		key = "filing " + u.AccessionNumber
		res, err = s.db.ExecContext(ctx, `UPDATE fund_filings SET status = ?, updated_at = ? WHERE accession_number = ?`,
			string(StatusFailed), stamp(u.At), u.AccessionNumber)
	}
	if err != nil {
		return fmt.Errorf("mark %s failed: %w", key, err)
	}
	return requireRow(res, key)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func requireRow(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", key, ErrFilingNotFound)
	}
	return nil
}
