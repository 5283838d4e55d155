package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"backtester/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ScenarioStore = (*SQLiteStore)(nil)

// SQLiteStore implements ScenarioStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// migrations, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scenarios (
			id                  TEXT PRIMARY KEY,
			owner               TEXT NOT NULL,
			ticker              TEXT NOT NULL,
			start_date          TEXT NOT NULL,
			end_date            TEXT NOT NULL,
			starting_investment REAL NOT NULL,
			transaction_cost    REAL NOT NULL,
			buy_trigger         TEXT NOT NULL,
			sell_trigger        TEXT NOT NULL,
			analysis_results    TEXT,
			created_at          INTEGER NOT NULL,
			updated_at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scenarios_owner ON scenarios(owner, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const scenarioColumns = `id, owner, ticker, start_date, end_date, starting_investment,
	transaction_cost, buy_trigger, sell_trigger, analysis_results, created_at, updated_at`

// CreateScenario inserts s with a fresh id and timestamps, which are written
// back onto s.
func (s *SQLiteStore) CreateScenario(ctx context.Context, sc *domain.Scenario) error {
	buy, sell, err := encodeTriggers(sc)
	if err != nil {
		return err
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	sc.ID = uuid.NewString()
	sc.CreatedAt, sc.UpdatedAt = now, now

	var results any
	if sc.AnalysisResults != nil {
		b, err := json.Marshal(sc.AnalysisResults)
		if err != nil {
			return fmt.Errorf("encoding analysis results: %w", err)
		}
		results = string(b)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO scenarios (`+scenarioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Owner, sc.Ticker,
		sc.Start.Format(domain.DateLayout), sc.End.Format(domain.DateLayout),
		sc.StartingInvestment, sc.TransactionCost, buy, sell, results,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting scenario: %w", err)
	}
	return nil
}

// GetScenario retrieves a scenario by id.
func (s *SQLiteStore) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, id)
	sc, err := scanScenario(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// ListScenarios returns the scenarios of owner, newest first.
func (s *SQLiteStore) ListScenarios(ctx context.Context, owner string) ([]domain.Scenario, error) {
	return s.query(ctx, `SELECT `+scenarioColumns+` FROM scenarios
		WHERE owner = ? ORDER BY created_at DESC, id`, owner)
}

// ListAllScenarios returns every scenario, oldest first.
func (s *SQLiteStore) ListAllScenarios(ctx context.Context) ([]domain.Scenario, error) {
	return s.query(ctx, `SELECT `+scenarioColumns+` FROM scenarios ORDER BY created_at, id`)
}

// UpdateScenario replaces the editable fields of the scenario with sc.ID.
// Owner, creation time, and stored analysis results are left unchanged.
func (s *SQLiteStore) UpdateScenario(ctx context.Context, sc *domain.Scenario) error {
	buy, sell, err := encodeTriggers(sc)
	if err != nil {
		return err
	}
	now := s.now().UTC().Truncate(time.Millisecond)

	res, err := s.db.ExecContext(ctx, `UPDATE scenarios SET
			ticker = ?, start_date = ?, end_date = ?, starting_investment = ?,
			transaction_cost = ?, buy_trigger = ?, sell_trigger = ?, updated_at = ?
		WHERE id = ?`,
		sc.Ticker, sc.Start.Format(domain.DateLayout), sc.End.Format(domain.DateLayout),
		sc.StartingInvestment, sc.TransactionCost, buy, sell, now.UnixMilli(), sc.ID,
	)
	if err != nil {
		return fmt.Errorf("updating scenario: %w", err)
	}
	if err := expectOneRow(res, sc.ID); err != nil {
		return err
	}
	sc.UpdatedAt = now
	return nil
}

// DeleteScenario removes the scenario with id.
func (s *SQLiteStore) DeleteScenario(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scenarios WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting scenario: %w", err)
	}
	return expectOneRow(res, id)
}

// SaveAnalysisResults stores the latest run summary for the scenario.
func (s *SQLiteStore) SaveAnalysisResults(ctx context.Context, id string, ar *domain.AnalysisResults) error {
	b, err := json.Marshal(ar)
	if err != nil {
		return fmt.Errorf("encoding analysis results: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scenarios SET analysis_results = ? WHERE id = ?`, string(b), id)
	if err != nil {
		return fmt.Errorf("saving analysis results: %w", err)
	}
	return expectOneRow(res, id)
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]domain.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scenarios: %w", err)
	}
	defer rows.Close()

	var out []domain.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func scanScenario(row rowScanner) (*domain.Scenario, error) {
	var (
		sc                   domain.Scenario
		start, end           string
		buy, sell            string
		results              sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&sc.ID, &sc.Owner, &sc.Ticker, &start, &end,
		&sc.StartingInvestment, &sc.TransactionCost, &buy, &sell, &results,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if sc.Start, err = domain.ParseDate(start); err != nil {
		return nil, fmt.Errorf("scenario %s start: %w", sc.ID, err)
	}
	if sc.End, err = domain.ParseDate(end); err != nil {
		return nil, fmt.Errorf("scenario %s end: %w", sc.ID, err)
	}
	if err := json.Unmarshal([]byte(buy), &sc.BuyTrigger); err != nil {
		return nil, fmt.Errorf("scenario %s buy trigger: %w", sc.ID, err)
	}
	if err := json.Unmarshal([]byte(sell), &sc.SellTrigger); err != nil {
		return nil, fmt.Errorf("scenario %s sell trigger: %w", sc.ID, err)
	}
	if results.Valid && results.String != "" {
		sc.AnalysisResults = &domain.AnalysisResults{}
		if err := json.Unmarshal([]byte(results.String), sc.AnalysisResults); err != nil {
			return nil, fmt.Errorf("scenario %s analysis results: %w", sc.ID, err)
		}
	}
	sc.CreatedAt = time.UnixMilli(createdAt).UTC()
	sc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &sc, nil
}

func encodeTriggers(sc *domain.Scenario) (string, string, error) {
	buy, err := json.Marshal(sc.BuyTrigger)
	if err != nil {
		return "", "", fmt.Errorf("encoding buy trigger: %w", err)
	}
	sell, err := json.Marshal(sc.SellTrigger)
	if err != nil {
		return "", "", fmt.Errorf("encoding sell trigger: %w", err)
	}
	return string(buy), string(sell), nil
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}
