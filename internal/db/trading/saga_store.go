package tradingdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tradepost/internal/outbox"
	"tradepost/internal/trading/saga"
)

// SagaStore persists purchase sagas and their outbox entries in Postgres.
// A version column gives single-writer semantics per correlation id: a
// Save whose expected version no longer matches affects zero rows and
// surfaces saga.ErrVersionConflict.
type SagaStore struct {
	db *sql.DB
}

// NewSagaStore constructs a SagaStore backed by Postgres.
func NewSagaStore(db *sql.DB) *SagaStore {
	return &SagaStore{db: db}
}

// NewSagaStoreWithSchema initializes the schema then returns the store.
func NewSagaStoreWithSchema(ctx context.Context, db *sql.DB) (*SagaStore, error) {
	store := NewSagaStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the saga and outbox tables if they do not exist.
func (s *SagaStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS purchase_sagas (
			correlation_id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			item_id UUID NOT NULL,
			quantity INT NOT NULL,
			purchase_total DOUBLE PRECISION,
			current_state TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			received TIMESTAMPTZ NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS purchase_outbox (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			correlation_id UUID NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sent_at TIMESTAMPTZ
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Load returns the saga for the correlation id.
func (s *SagaStore) Load(ctx context.Context, correlationID uuid.UUID) (saga.PurchaseSaga, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, user_id, item_id, quantity, purchase_total,
			current_state, error_message, received, last_updated, version
		FROM purchase_sagas
		WHERE correlation_id = $1`,
		correlationID,
	)

	var instance saga.PurchaseSaga
	var total sql.NullFloat64
	var state string
	err := row.Scan(
		&instance.CorrelationID,
		&instance.UserID,
		&instance.ItemID,
		&instance.Quantity,
		&total,
		&state,
		&instance.ErrorMessage,
		&instance.Received,
		&instance.LastUpdated,
		&instance.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return saga.PurchaseSaga{}, saga.ErrNotFound
	}
	if err != nil {
		return saga.PurchaseSaga{}, err
	}

	instance.CurrentState = saga.State(state)
	if total.Valid {
		v := total.Float64
		instance.PurchaseTotal = &v
	}
	return instance, nil
}

// Save writes the saga row and appends its outbox entries in one
// transaction. expectedVersion 0 inserts; anything else updates with a
// version check.
func (s *SagaStore) Save(ctx context.Context, instance saga.PurchaseSaga, expectedVersion int64, entries []outbox.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total sql.NullFloat64
	if instance.PurchaseTotal != nil {
		total = sql.NullFloat64{Float64: *instance.PurchaseTotal, Valid: true}
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_sagas
				(correlation_id, user_id, item_id, quantity, purchase_total,
				current_state, error_message, received, last_updated, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
			ON CONFLICT (correlation_id) DO NOTHING`,
			instance.CorrelationID, instance.UserID, instance.ItemID,
			instance.Quantity, total, string(instance.CurrentState),
			instance.ErrorMessage, instance.Received, instance.LastUpdated,
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE purchase_sagas
			SET user_id = $2, item_id = $3, quantity = $4, purchase_total = $5,
				current_state = $6, error_message = $7, received = $8,
				last_updated = $9, version = version + 1
			WHERE correlation_id = $1 AND version = $10`,
			instance.CorrelationID, instance.UserID, instance.ItemID,
			instance.Quantity, total, string(instance.CurrentState),
			instance.ErrorMessage, instance.Received, instance.LastUpdated,
			expectedVersion,
		)
	}
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return saga.ErrVersionConflict
	}

	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_outbox (kind, correlation_id, payload)
			VALUES ($1, $2, $3)`,
			entry.Kind, entry.CorrelationID, entry.Payload,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListUnsent returns up to limit undispatched outbox entries in ID order.
func (s *SagaStore) ListUnsent(ctx context.Context, limit int) ([]outbox.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, correlation_id, payload, created_at
		FROM purchase_outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []outbox.Entry
	for rows.Next() {
		var entry outbox.Entry
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.CorrelationID, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkSent stamps the given entries as dispatched.
func (s *SagaStore) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE purchase_outbox
		SET sent_at = NOW()
		WHERE id IN (%s)`,
		strings.Join(placeholders, ", ")),
		args...,
	)
	return err
}
