// Package storage provides SQL-backed persistence for pick evaluations.
// SQLite is the default backend; PostgreSQL is available for shared deployments.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage wraps a SQL database holding the evaluation history.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/aftr/aftr.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "aftr", "aftr.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db, driver: DriverSQLite}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// NewPostgres connects to PostgreSQL and ensures the schema exists.
func NewPostgres(dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s := &Storage{db: db, driver: DriverPostgres}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Open selects the backend by driver name.
func Open(driver, dsn string) (*Storage, error) {
	switch driver {
	case "", DriverSQLite:
		return New(dsn)
	case DriverPostgres:
		return NewPostgres(dsn)
	}
	return nil, fmt.Errorf("unsupported storage driver %q", driver)
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	realType, intType := "REAL", "INTEGER"
	if s.driver == DriverPostgres {
		realType, intType = "DOUBLE PRECISION", "BIGINT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evaluations (
			pick_id     TEXT PRIMARY KEY,
			fixture_id  TEXT NOT NULL,
			league      TEXT NOT NULL,
			market      TEXT NOT NULL,
			selection   TEXT NOT NULL,
			probability ` + realType + ` NOT NULL,
			fair_odds   ` + realType + ` NOT NULL,
			kickoff     ` + intType + ` NOT NULL,
			outcome     TEXT NOT NULL,
			home_goals  ` + intType + `,
			away_goals  ` + intType + `,
			reason      TEXT NOT NULL DEFAULT '',
			created_at  ` + intType + ` NOT NULL,
			settled_at  ` + intType + ` NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_outcome ON evaluations(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_league ON evaluations(league, kickoff)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// UpsertEvaluation inserts a record or updates a PENDING one. Settled records
// are never overwritten; re-settling one with a different final score returns
// a *models.SettlementConflict.
func (s *Storage) UpsertEvaluation(ctx context.Context, rec models.EvaluationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if rec.Outcome.Terminal() && rec.FinalScore != nil {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+evaluationCols+` FROM evaluations WHERE pick_id = ?`), rec.PickID)
		cur, err := scanEvaluation(row.Scan)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("failed to load evaluation: %w", err)
		}
		if err == nil && cur.Outcome.Terminal() && cur.FinalScore != nil && *cur.FinalScore != *rec.FinalScore {
			return &models.SettlementConflict{PickID: rec.PickID, Recorded: *cur.FinalScore, Got: *rec.FinalScore}
		}
	}

	var homeGoals, awayGoals sql.NullInt64
	if rec.FinalScore != nil {
		homeGoals = sql.NullInt64{Int64: int64(rec.FinalScore.Home), Valid: true}
		awayGoals = sql.NullInt64{Int64: int64(rec.FinalScore.Away), Valid: true}
	}
	var settledAt int64
	if !rec.SettledAt.IsZero() {
		settledAt = rec.SettledAt.UnixNano()
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO evaluations
			(pick_id, fixture_id, league, market, selection, probability, fair_odds,
			 kickoff, outcome, home_goals, away_goals, reason, created_at, settled_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(pick_id) DO UPDATE SET
			probability = excluded.probability,
			fair_odds   = excluded.fair_odds,
			kickoff     = excluded.kickoff,
			outcome     = excluded.outcome,
			home_goals  = excluded.home_goals,
			away_goals  = excluded.away_goals,
			reason      = excluded.reason,
			settled_at  = excluded.settled_at
		WHERE evaluations.outcome = 'PENDING'`),
		rec.PickID, rec.FixtureID, rec.League, rec.Market, rec.Selection,
		rec.Probability, rec.FairOdds, rec.Kickoff.UnixNano(), string(rec.Outcome),
		homeGoals, awayGoals, rec.Reason, rec.CreatedAt.UnixNano(), settledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert evaluation: %w", err)
	}
	return tx.Commit()
}

// GetEvaluation returns nil, nil when the pick is unknown.
func (s *Storage) GetEvaluation(ctx context.Context, pickID string) (*models.EvaluationRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+evaluationCols+` FROM evaluations WHERE pick_id = ?`), pickID)
	rec, err := scanEvaluation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	return rec, nil
}

func (s *Storage) ListPendingEvaluations(ctx context.Context) ([]models.EvaluationRecord, error) {
	return s.query(ctx, `SELECT `+evaluationCols+` FROM evaluations
		WHERE outcome = 'PENDING' ORDER BY kickoff, pick_id`)
}

// ListSettledEvaluations returns the WIN and LOSS records of league kicking
// off at or after since.
func (s *Storage) ListSettledEvaluations(ctx context.Context, league string, since time.Time) ([]models.EvaluationRecord, error) {
	return s.query(ctx, `SELECT `+evaluationCols+` FROM evaluations
		WHERE league = ? AND outcome IN ('WIN', 'LOSS') AND kickoff >= ?
		ORDER BY kickoff, pick_id`, league, since.UnixNano())
}

// ListEvaluations returns every record of a league; an empty league lists all.
func (s *Storage) ListEvaluations(ctx context.Context, league string) ([]models.EvaluationRecord, error) {
	if league == "" {
		return s.query(ctx, `SELECT `+evaluationCols+` FROM evaluations ORDER BY kickoff, pick_id`)
	}
	return s.query(ctx, `SELECT `+evaluationCols+` FROM evaluations
		WHERE league = ? ORDER BY kickoff, pick_id`, league)
}

func (s *Storage) query(ctx context.Context, q string, args ...any) ([]models.EvaluationRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()
	var out []models.EvaluationRecord
	for rows.Next() {
		rec, err := scanEvaluation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		out = append(out, *rec)
	}
	if out == nil {
		out = []models.EvaluationRecord{}
	}
	return out, rows.Err()
}

const evaluationCols = `pick_id, fixture_id, league, market, selection, probability, fair_odds,
	kickoff, outcome, home_goals, away_goals, reason, created_at, settled_at`

func scanEvaluation(scan func(...any) error) (*models.EvaluationRecord, error) {
	var rec models.EvaluationRecord
	var outcome string
	var homeGoals, awayGoals sql.NullInt64
	var kickoffNano, createdAtNano, settledAtNano int64
	err := scan(
		&rec.PickID, &rec.FixtureID, &rec.League, &rec.Market, &rec.Selection,
		&rec.Probability, &rec.FairOdds, &kickoffNano, &outcome,
		&homeGoals, &awayGoals, &rec.Reason, &createdAtNano, &settledAtNano,
	)
	if err != nil {
		return nil, err
	}
	rec.Outcome = models.Outcome(outcome)
	if homeGoals.Valid && awayGoals.Valid {
		rec.FinalScore = &models.Score{Home: int(homeGoals.Int64), Away: int(awayGoals.Int64)}
	}
	rec.Kickoff = time.Unix(0, kickoffNano).UTC()
	rec.CreatedAt = time.Unix(0, createdAtNano).UTC()
	if settledAtNano != 0 {
		rec.SettledAt = time.Unix(0, settledAtNano).UTC()
	}
	return &rec, nil
}
