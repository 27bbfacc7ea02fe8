package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/crm-assistant/agent/contract"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Config selects the Postgres database holding the outcome log. Read with
// prefix AUDIT; an empty DSN disables auditing.
type Config struct {
	DSN         string        `envconfig:"DSN"`
	AutoMigrate bool          `envconfig:"AUTO_MIGRATE" split_words:"true" default:"true"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// OutcomeRecord is one row of action_outcomes: a single dispatched action
// and what came of it.
type OutcomeRecord struct {
	bun.BaseModel `bun:"table:action_outcomes,alias:ao"`

	ID         int64          `bun:"id,pk,autoincrement"`
	RunID      string         `bun:"run_id,notnull"`
	SessionID  string         `bun:"session_id,nullzero"`
	CallID     string         `bun:"call_id,nullzero"`
	Action     string         `bun:"action,notnull"`
	Args       map[string]any `bun:"args,type:jsonb"`
	Success    bool           `bun:"success,notnull"`
	Message    string         `bun:"message,notnull"`
	ExternalID string         `bun:"external_id,nullzero"`
	CreatedAt  time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}

// Store appends outcomes to Postgres. It satisfies contract.OutcomeRecorder.
type Store struct {
	db      *bun.DB
	timeout time.Duration
	now     func() time.Time
}

var _ contractx.OutcomeRecorder = (*Store)(nil)

func New(db *bun.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout, now: time.Now}
}

// Open connects through pgdriver and, when configured, creates the table.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("audit dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	store := New(db, cfg.Timeout)

	pingCtx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.createTableQuery().Exec(ctx); err != nil {
		return fmt.Errorf("create action_outcomes: %w", err)
	}
	if _, err := s.createIndexQuery().Exec(ctx); err != nil {
		return fmt.Errorf("create action_outcomes run index: %w", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, runID string, sessionID string, outcome contractx.Outcome) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec := newRecord(runID, sessionID, outcome, s.now())
	if _, err := s.insertQuery(rec).Exec(ctx); err != nil {
		return fmt.Errorf("insert outcome for run %s: %w", runID, err)
	}
	return nil
}

// ListRun returns the outcomes of one run in dispatch order.
func (s *Store) ListRun(ctx context.Context, runID string) ([]OutcomeRecord, error) {
	var recs []OutcomeRecord
	if err := s.listRunQuery(runID, &recs).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list outcomes for run %s: %w", runID, err)
	}
	return recs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTableQuery() *bun.CreateTableQuery {
	return s.db.NewCreateTable().Model((*OutcomeRecord)(nil)).IfNotExists()
}

func (s *Store) createIndexQuery() *bun.CreateIndexQuery {
	return s.db.NewCreateIndex().
		Model((*OutcomeRecord)(nil)).
		Index("action_outcomes_run_id_idx").
		Column("run_id").
		IfNotExists()
}

func (s *Store) listRunQuery(runID string, recs *[]OutcomeRecord) *bun.SelectQuery {
	return s.db.NewSelect().
		Model(recs).
		Where("run_id = ?", runID).
		Order("id ASC")
}

func (s *Store) insertQuery(rec *OutcomeRecord) *bun.InsertQuery {
	return s.db.NewInsert().Model(rec)
}

func newRecord(runID string, sessionID string, outcome contractx.Outcome, now time.Time) *OutcomeRecord {
	return &OutcomeRecord{
		RunID:      runID,
		SessionID:  sessionID,
		CallID:     outcome.Invocation.CallID,
		Action:     outcome.Invocation.Action,
		Args:       contractx.CloneArgs(outcome.Invocation.Args),
		Success:    outcome.Success,
		Message:    outcome.Message,
		ExternalID: outcome.ExternalID,
		CreatedAt:  now.UTC(),
	}
}
