// Package sqlite implements the storage.Storage interface on SQLite.
// It is the default adapter and the one integration tests run against
// (":memory:" databases make the tests hermetic).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lead-enricher/internal/common/utils"
	"lead-enricher/internal/storage"
)

// Adapter is a SQLite-backed storage adapter.
type Adapter struct {
	db *sql.DB
}

// NewAdapter opens the SQLite database at path, verifies connectivity and
// applies migrations. Use ":memory:" for an ephemeral database.
func NewAdapter(path string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &Adapter{db: db}
	if err := a.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return a, nil
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			last_seen_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cached_results (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL,
			provider TEXT NOT NULL,
			contacts TEXT NOT NULL DEFAULT '[]',
			cost_cents INTEGER NOT NULL DEFAULT 0,
			not_found INTEGER NOT NULL DEFAULT 0,
			computed_at DATETIME NOT NULL,
			ttl_seconds INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cached_results_key ON cached_results(key, computed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS backfill_runs (
			run_id TEXT PRIMARY KEY,
			cursor INTEGER NOT NULL DEFAULT 0,
			processed_ids TEXT NOT NULL DEFAULT '{}',
			subject_attempts TEXT NOT NULL DEFAULT '{}',
			retry_budget_remaining INTEGER NOT NULL,
			status TEXT NOT NULL,
			last_error_class TEXT DEFAULT '',
			started_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_reports (
			run_id TEXT PRIMARY KEY,
			report TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			target_url TEXT NOT NULL,
			secret TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_event_type ON subscriptions(event_type)`,
		`CREATE TABLE IF NOT EXISTS delivery_attempts (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			target_url TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT DEFAULT '',
			last_attempt_at DATETIME,
			payload_timestamp DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_created ON delivery_attempts(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_status ON delivery_attempts(status)`,
		`CREATE TABLE IF NOT EXISTS emitted_events (
			natural_key TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			emitted_at DATETIME NOT NULL
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

// Idempotency keys

func (a *Adapter) UpsertIdempotencyKey(ctx context.Context, rec *storage.IdempotencyKeyRecord) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, subject_id, provider, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
		rec.Key, rec.SubjectID, rec.Provider, rec.LastSeenAt, rec.CreatedAt)
	return err
}

func (a *Adapter) GetIdempotencyKey(ctx context.Context, key string) (*storage.IdempotencyKeyRecord, error) {
	rec := &storage.IdempotencyKeyRecord{}
	err := a.db.QueryRowContext(ctx, `
		SELECT key, subject_id, provider, last_seen_at, created_at
		FROM idempotency_keys WHERE key = ?`, key).
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
		`UPDATE idempotency_keys SET last_seen_at = ? WHERE key = ?`, seenAt, key)
	return err
}

// Cached results

func (a *Adapter) InsertCachedResult(ctx context.Context, res *storage.CachedResult) error {
	contacts, err := json.Marshal(res.Contacts)
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO cached_results (id, key, provider, contacts, cost_cents, not_found, computed_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.Key, res.Provider, string(contacts), res.CostCents,
		boolToInt(res.NotFound), res.ComputedAt, res.TTLSeconds)
	return err
}

func (a *Adapter) GetCurrentCachedResult(ctx context.Context, key string) (*storage.CachedResult, error) {
	res := &storage.CachedResult{}
	var contacts string
	var notFound int

	err := a.db.QueryRowContext(ctx, `
		SELECT id, key, provider, contacts, cost_cents, not_found, computed_at, ttl_seconds
		FROM cached_results WHERE key = ?
		ORDER BY computed_at DESC LIMIT 1`, key).
		Scan(&res.ID, &res.Key, &res.Provider, &contacts, &res.CostCents,
			&notFound, &res.ComputedAt, &res.TTLSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(contacts), &res.Contacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contacts: %w", err)
	}
	res.NotFound = notFound != 0

	return res, nil
}

// Backfill runs

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			cursor = excluded.cursor,
			processed_ids = excluded.processed_ids,
			subject_attempts = excluded.subject_attempts,
			retry_budget_remaining = excluded.retry_budget_remaining,
			status = excluded.status,
			last_error_class = excluded.last_error_class,
			updated_at = excluded.updated_at`,
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
		FROM backfill_runs WHERE run_id = ?`, runID).
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
		INSERT INTO run_reports (run_id, report) VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET report = excluded.report`,
		report.RunID, string(data))
	return err
}

func (a *Adapter) GetRunReport(ctx context.Context, runID string) (*storage.RunReport, error) {
	var data string
	err := a.db.QueryRowContext(ctx,
		`SELECT report FROM run_reports WHERE run_id = ?`, runID).Scan(&data)
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

// Webhook subscriptions

func (a *Adapter) CreateSubscription(ctx context.Context, sub *storage.WebhookSubscription) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, event_type, target_url, secret, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.EventType, sub.TargetURL, sub.Secret, boolToInt(sub.Active), sub.CreatedAt)
	return err
}

func (a *Adapter) GetSubscription(ctx context.Context, id string) (*storage.WebhookSubscription, error) {
	sub := &storage.WebhookSubscription{}
	var active int

	err := a.db.QueryRowContext(ctx, `
		SELECT id, event_type, target_url, secret, active, created_at
		FROM subscriptions WHERE id = ?`, id).
		Scan(&sub.ID, &sub.EventType, &sub.TargetURL, &sub.Secret, &active, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sub.Active = active != 0

	return sub, nil
}

func (a *Adapter) ListSubscriptions(ctx context.Context, eventType string, activeOnly bool) ([]*storage.WebhookSubscription, error) {
	query := `SELECT id, event_type, target_url, secret, active, created_at FROM subscriptions WHERE 1=1`
	args := []interface{}{}

	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	if activeOnly {
		query += ` AND active = 1`
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
		var active int
		if err := rows.Scan(&sub.ID, &sub.EventType, &sub.TargetURL, &sub.Secret, &active, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.Active = active != 0
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// Delivery attempts

func (a *Adapter) CreateDeliveryAttempt(ctx context.Context, attempt *storage.DeliveryAttempt) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (id, subscription_id, event_id, event_type, target_url, payload, status, attempts, last_error, last_attempt_at, payload_timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.SubscriptionID, attempt.EventID, attempt.EventType,
		attempt.TargetURL, attempt.Payload, string(attempt.Status), attempt.Attempts,
		attempt.LastError, nullableTime(attempt.LastAttemptAt),
		attempt.PayloadTimestamp, attempt.CreatedAt, attempt.UpdatedAt)
	return err
}

func (a *Adapter) UpdateDeliveryAttempt(ctx context.Context, attempt *storage.DeliveryAttempt) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE delivery_attempts
		SET status = ?, attempts = ?, last_error = ?, last_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		string(attempt.Status), attempt.Attempts, attempt.LastError,
		nullableTime(attempt.LastAttemptAt), attempt.UpdatedAt, attempt.ID)
	return err
}

func (a *Adapter) GetDeliveryAttempt(ctx context.Context, id string) (*storage.DeliveryAttempt, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, subscription_id, event_id, event_type, target_url, payload, status, attempts, last_error, last_attempt_at, payload_timestamp, created_at, updated_at
		FROM delivery_attempts WHERE id = ?`, id)

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

	if filters.SubscriptionID != "" {
		where += ` AND subscription_id = ?`
		args = append(args, filters.SubscriptionID)
	}
	if filters.EventType != "" {
		where += ` AND event_type = ?`
		args = append(args, filters.EventType)
	}
	if filters.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filters.Status))
	}
	if filters.TargetURL != "" {
		where += ` AND target_url = ?`
		args = append(args, filters.TargetURL)
	}

	var total int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_attempts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, subscription_id, event_id, event_type, target_url, payload, status, attempts, last_error, last_attempt_at, payload_timestamp, created_at, updated_at
		FROM delivery_attempts` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
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

// Emitted events

func (a *Adapter) RecordEmittedEvent(ctx context.Context, naturalKey, eventID string, at time.Time) (bool, error) {
	result, err := a.db.ExecContext(ctx, `
		INSERT INTO emitted_events (natural_key, event_id, emitted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(natural_key) DO NOTHING`,
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

// scanner abstracts sql.Row and sql.Rows for shared scan code
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

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
