// Package postgres implements the storage.Storage interface on PostgreSQL
// using the pgx driver through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lead-enricher/internal/common/utils"
	"lead-enricher/internal/storage"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

// ConnectionString builds a pgx-compatible DSN from the config.
func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode)
}

// Validate checks the config for required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	return nil
}

// Adapter is a PostgreSQL-backed storage adapter.
type Adapter struct {
	db     *sql.DB
	config *Config
}

// NewAdapter connects to PostgreSQL, verifies connectivity and applies
// migrations.
func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// the database often comes up after the service; retry the first
	// ping instead of crash-looping on startup ordering
	pingConfig := utils.RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
	if err := utils.RetryWithBackoff(context.Background(), pingConfig, db.Ping); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &Adapter{db: db, config: config}
	if err := a.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return a, nil
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key VARCHAR(64) PRIMARY KEY,
			subject_id VARCHAR(255) NOT NULL,
			provider VARCHAR(64) NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cached_results (
			id VARCHAR(32) PRIMARY KEY,
			key VARCHAR(64) NOT NULL,
			provider VARCHAR(64) NOT NULL,
			contacts JSONB NOT NULL DEFAULT '[]',
			cost_cents BIGINT NOT NULL DEFAULT 0,
			not_found BOOLEAN NOT NULL DEFAULT false,
			computed_at TIMESTAMP NOT NULL,
			ttl_seconds BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_results_key ON cached_results(key, computed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS backfill_runs (
			run_id VARCHAR(255) PRIMARY KEY,
			cursor INTEGER NOT NULL DEFAULT 0,
			processed_ids JSONB NOT NULL DEFAULT '{}',
			subject_attempts JSONB NOT NULL DEFAULT '{}',
			retry_budget_remaining INTEGER NOT NULL,
			status VARCHAR(20) NOT NULL,
			last_error_class VARCHAR(64) DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_reports (
			run_id VARCHAR(255) PRIMARY KEY,
			report JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id VARCHAR(32) PRIMARY KEY,
			event_type VARCHAR(64) NOT NULL,
			target_url TEXT NOT NULL,
			secret TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_event_type ON subscriptions(event_type)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id VARCHAR(32) PRIMARY KEY,
			subscription_id VARCHAR(32) NOT NULL,
			event_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(64) NOT NULL,
			target_url TEXT NOT NULL,
			payload TEXT NOT NULL,
			status VARCHAR(20) NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT DEFAULT '',
			last_attempt_at TIMESTAMP,
			payload_timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_created ON delivery_attempts(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_status ON delivery_attempts(status)`,
		`CREATE TABLE IF NOT EXISTS emitted_events (
			natural_key VARCHAR(255) PRIMARY KEY,
			event_id VARCHAR(64) NOT NULL,
			emitted_at TIMESTAMP NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database handle.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Health pings the database.
func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) UpsertIdempotencyKey(ctx context.Context, rec *storage.IdempotencyKeyRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, subject_id, provider, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`,
		rec.Key, rec.SubjectID, rec.Provider, rec.LastSeenAt, rec.CreatedAt)
	return err
}

func (a *Adapter) GetIdempotencyKey(ctx context.Context, key string) (*storage.IdempotencyKeyRecord, error) {
	rec := &storage.IdempotencyKeyRecord{}
	err := a.db.QueryRowContext(ctx, `
		SELECT key, subject_id, provider, last_seen_at, created_at
		FROM idempotency_keys WHERE key = $1`, key).
		Scan(&rec.Key, &rec.SubjectID, &rec.Provider, &rec.LastSeenAt, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *Adapter) TouchIdempotencyKey(ctx context.Context, key string, seenAt time.Time) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET last_seen_at = $1 WHERE key = $2`, seenAt, key)
	return err
}

func (a *Adapter) InsertCachedResult(ctx context.Context, res *storage.CachedResult) error {
	contacts, err := json.Marshal(res.Contacts)
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO cached_results (id, key, provider, contacts, cost_cents, not_found, computed_at, ttl_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		res.ID, res.Key, res.Provider, string(contacts), res.CostCents,
		res.NotFound, res.ComputedAt, res.TTLSeconds)
	return err
}

func (a *Adapter) GetCurrentCachedResult(ctx context.Context, key string) (*storage.CachedResult, error) {
	res := &storage.CachedResult{}
	var contacts string

	err := a.db.QueryRowContext(ctx, `
		SELECT id, key, provider, contacts, cost_cents, not_found, computed_at, ttl_seconds
		FROM cached_results WHERE key = $1
		ORDER BY computed_at DESC LIMIT 1`, key).
		Scan(&res.ID, &res.Key, &res.Provider, &contacts, &res.CostCents,
			&res.NotFound, &res.ComputedAt, &res.TTLSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contacts), &res.Contacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contacts: %w", err)
	}

	return res, nil
}

func (a *Adapter) SaveRunState(ctx context.Context, state *storage.RunState) error {
	processed, err := json.Marshal(state.ProcessedIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal processed ids: %w", err)
	}
	attempts, err := json.Marshal(state.SubjectAttempts)
	if err != nil {
		return fmt.Errorf("failed to marshal subject attempts: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO backfill_runs (run_id, cursor, processed_ids, subject_attempts, retry_budget_remaining, status, last_error_class, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			processed_ids = EXCLUDED.processed_ids,
			subject_attempts = EXCLUDED.subject_attempts,
			retry_budget_remaining = EXCLUDED.retry_budget_remaining,
			status = EXCLUDED.status,
			last_error_class = EXCLUDED.last_error_class,
			updated_at = EXCLUDED.updated_at`,
		state.RunID, state.Cursor, string(processed), string(attempts),
		state.RetryBudgetRemaining, string(state.Status), state.LastErrorClass,
		state.StartedAt, state.UpdatedAt)
	return err
}

func (a *Adapter) GetRunState(ctx context.Context, runID string) (*storage.RunState, error) {
	state := &storage.RunState{}
	var processed, attempts, status string
	var lastErrorClass *string

	err := a.db.QueryRowContext(ctx, `
		SELECT run_id, cursor, processed_ids, subject_attempts, retry_budget_remaining, status, last_error_class, started_at, updated_at
		FROM backfill_runs WHERE run_id = $1`, runID).
		Scan(&state.RunID, &state.Cursor, &processed, &attempts,
			&state.RetryBudgetRemaining, &status, &lastErrorClass,
			&state.StartedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(processed), &state.ProcessedIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed ids: %w", err)
	}
	if err := json.Unmarshal([]byte(attempts), &state.SubjectAttempts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject attempts: %w", err)
	}
	state.Status = storage.RunStatus(status)
	state.LastErrorClass = utils.StringFromPtr(lastErrorClass)

	return state, nil
}

func (a *Adapter) SaveRunReport(ctx context.Context, report *storage.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO run_reports (run_id, report) VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE SET report = EXCLUDED.report`,
		report.RunID, string(data))
	return err
}

func (a *Adapter) GetRunReport(ctx context.Context, runID string) (*storage.RunReport, error) {
	var data string
	err := a.db.QueryRowContext(ctx,
		`SELECT report FROM run_reports WHERE run_id = $1`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	report := &storage.RunReport{}
	if err := json.Unmarshal([]byte(data), report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
	}
	return report, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, sub *storage.WebhookSubscription) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, event_type, target_url, secret, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.EventType, sub.TargetURL, sub.Secret, sub.Active, sub.CreatedAt)
	return err
}

func (a *Adapter) GetSubscription(ctx context.Context, id string) (*storage.WebhookSubscription, error) {
	sub := &storage.WebhookSubscription{}
	err := a.db.QueryRowContext(ctx, `
		SELECT id, event_type, target_url, secret, active, created_at
		FROM subscriptions WHERE id = $1`, id).
		Scan(&sub.ID, &sub.EventType, &sub.TargetURL, &sub.Secret, &sub.Active, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *Adapter) ListSubscriptions(ctx context.Context, eventType string, activeOnly bool) ([]*storage.WebhookSubscription, error) {
	query := `SELECT id, event_type, target_url, secret, active, created_at FROM subscriptions WHERE 1=1`
	args := []interface{}{}
	arg := 1

	if eventType != "" {
		query += fmt.Sprintf(` AND event_type = $%d`, arg)
		args = append(args, eventType)
		arg++
	}
	if activeOnly {
		query += ` AND active = true`
	}
	query += ` ORDER BY created_at`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*storage.WebhookSubscription
	for rows.Next() {
		sub := &storage.WebhookSubscription{}
		if err := rows.Scan(&sub.ID, &sub.EventType, &sub.TargetURL, &sub.Secret, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (a *Adapter) CreateDeliveryAttempt(ctx context.Context, attempt *storage.DeliveryAttempt) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (id, subscription_id, event_id, event_type, target_url, payload, status, attempts, last_error, last_attempt_at, payload_timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		attempt.ID, attempt.SubscriptionID, attempt.EventID, attempt.EventType,
		attempt.TargetURL, attempt.Payload, string(attempt.Status), attempt.Attempts,
		attempt.LastError, attempt.LastAttemptAt,
		attempt.PayloadTimestamp, attempt.CreatedAt, attempt.UpdatedAt)
	return err
}

func (a *Adapter) UpdateDeliveryAttempt(ctx context.Context, attempt *storage.DeliveryAttempt) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE delivery_attempts
		SET status = $1, attempts = $2, last_error = $3, last_attempt_at = $4, updated_at = $5
		WHERE id = $6`,
		string(attempt.Status), attempt.Attempts, attempt.LastError,
		attempt.LastAttemptAt, attempt.UpdatedAt, attempt.ID)
	return err
}

func (a *Adapter) GetDeliveryAttempt(ctx context.Context, id string) (*storage.DeliveryAttempt, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, subscription_id, event_id, event_type, target_url, payload, status, attempts, last_error, last_attempt_at, payload_timestamp, created_at, updated_at
		FROM delivery_attempts WHERE id = $1`, id)

	attempt, err := scanDeliveryAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

func (a *Adapter) ListDeliveryAttempts(ctx context.Context, filters storage.DeliveryFilters, limit, offset int) ([]*storage.DeliveryAttempt, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	arg := 1

	appendFilter := func(column, value string) {
		where += fmt.Sprintf(` AND %s = $%d`, column, arg)
		args = append(args, value)
		arg++
	}

	if filters.SubscriptionID != "" {
		appendFilter("subscription_id", filters.SubscriptionID)
	}
	if filters.EventType != "" {
		appendFilter("event_type", filters.EventType)
	}
	if filters.Status != "" {
		appendFilter("status", string(filters.Status))
	}
	if filters.TargetURL != "" {
		appendFilter("target_url", filters.TargetURL)
	}

	var total int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_attempts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT id, subscription_id, event_id, event_type, target_url, payload, status, attempts, last_error, last_attempt_at, payload_timestamp, created_at, updated_at
		FROM delivery_attempts%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, arg, arg+1)
	args = append(args, limit, offset)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var attempts []*storage.DeliveryAttempt
	for rows.Next() {
		attempt, err := scanDeliveryAttempt(rows)
		if err != nil {
			return nil, 0, err
		}
		attempts = append(attempts, attempt)
	}

	return attempts, total, rows.Err()
}

func (a *Adapter) RecordEmittedEvent(ctx context.Context, naturalKey, eventID string, at time.Time) (bool, error) {
	result, err := a.db.ExecContext(ctx, `
		INSERT INTO emitted_events (natural_key, event_id, emitted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (natural_key) DO NOTHING`,
		naturalKey, eventID, at)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeliveryAttempt(row scanner) (*storage.DeliveryAttempt, error) {
	attempt := &storage.DeliveryAttempt{}
	var status string
	var lastError *string
	var lastAttemptAt sql.NullTime

	err := row.Scan(&attempt.ID, &attempt.SubscriptionID, &attempt.EventID,
		&attempt.EventType, &attempt.TargetURL, &attempt.Payload, &status,
		&attempt.Attempts, &lastError, &lastAttemptAt,
		&attempt.PayloadTimestamp, &attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		return nil, err
	}

	attempt.Status = storage.DeliveryStatus(status)
	attempt.LastError = utils.StringFromPtr(lastError)
	if lastAttemptAt.Valid {
		attempt.LastAttemptAt = &lastAttemptAt.Time
	}

	return attempt, nil
}
