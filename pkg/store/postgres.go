package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/gasramp-hq/gasramp/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_intents (
	id             TEXT PRIMARY KEY,
	wallet_address TEXT NOT NULL,
	amount_matic   TEXT NOT NULL,
	network        TEXT NOT NULL,
	state          TEXT NOT NULL,
	tx_hash        TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	confirmed_at   TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);
`

// PostgresStore is a durable Store implementation backed by Postgres.
// Per-record mutual exclusion comes from row-level locks: every transition
// runs inside a transaction holding SELECT ... FOR UPDATE on the record.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database and ensures the schema exists
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	record := intent.Clone()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO payment_intents
			(id, wallet_address, amount_matic, network, state, tx_hash, failure_reason, created_at, confirmed_at, completed_at)
		VALUES
			(:id, :wallet_address, :amount_matic, :network, :state, :tx_hash, :failure_reason, :created_at, :confirmed_at, :completed_at)
		ON CONFLICT (id) DO NOTHING`, record)
	if err != nil {
		return nil, fmt.Errorf("failed to insert intent: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert result: %w", err)
	}
	if rows == 0 {
		existing, err := s.Get(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		return existing, ErrDuplicateIntent
	}

	return record, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, event models.Event) (*models.PaymentIntent, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var record models.PaymentIntent
	err = tx.GetContext(ctx, &record,
		`SELECT * FROM payment_intents WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrUnknownIntent
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load intent: %w", err)
	}

	changed, err := models.Apply(&record, event)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return &record, false, nil
	}

	_, err = tx.NamedExecContext(ctx, `
		UPDATE payment_intents SET
			state = :state,
			tx_hash = :tx_hash,
			failure_reason = :failure_reason,
			confirmed_at = :confirmed_at,
			completed_at = :completed_at
		WHERE id = :id`, &record)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update intent: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transition: %w", err)
	}
	return &record, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var record models.PaymentIntent
	err := s.db.GetContext(ctx, &record,
		`SELECT * FROM payment_intents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownIntent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) Unsettled(ctx context.Context) ([]*models.PaymentIntent, error) {
	var records []*models.PaymentIntent
	err := s.db.SelectContext(ctx, &records,
		`SELECT * FROM payment_intents WHERE state IN ($1, $2)`,
		models.StateConfirmed, models.StateDisbursing)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled intents: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
