package storage

import "time"

// Contact is one normalized contact produced by an enrichment provider.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Type      string `json:"type,omitempty"` // owner, relative, associate
}

// IdempotencyKeyRecord links a content-hash idempotency key back to the
// enriched subject. Created on the first successful provider call for a
// normalized input, touched on every subsequent cache lookup so operators
// can see when a key was last observed.
type IdempotencyKeyRecord struct {
	Key        string    `json:"key"`
	SubjectID  string    `json:"subject_id"`
	Provider   string    `json:"provider"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// CachedResult is one stored enrichment outcome for an idempotency key.
// Rows are immutable; a refresh after TTL expiry writes a new row and the
// newest row is the current one. Superseded rows are retained for audit.
type CachedResult struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Provider   string    `json:"provider"`
	Contacts   []Contact `json:"contacts"`
	CostCents  int64     `json:"cost_cents"`
	NotFound   bool      `json:"not_found"` // negative result cached to avoid re-billing
	ComputedAt time.Time `json:"computed_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

// Expired reports whether the row is stale at the given instant.
func (r *CachedResult) Expired(now time.Time) bool {
	return now.Sub(r.ComputedAt) >= time.Duration(r.TTLSeconds)*time.Second
}

// RunStatus is the lifecycle state of a backfill run.
type RunStatus string

const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunState is the durable state of a backfill run. It is persisted after
// every processed subject so a killed process can resume from Cursor and
// ProcessedIDs without re-invoking the provider for finished subjects.
// Only the runner holding the run lock mutates it.
type RunState struct {
	RunID                string         `json:"run_id"`
	Cursor               int            `json:"cursor"`
	ProcessedIDs         map[string]bool `json:"processed_ids"`
	SubjectAttempts      map[string]int  `json:"subject_attempts"`
	RetryBudgetRemaining int            `json:"retry_budget_remaining"`
	Status               RunStatus      `json:"status"`
	LastErrorClass       string         `json:"last_error_class,omitempty"`
	StartedAt            time.Time      `json:"started_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// IsProcessed reports whether a subject has already completed in this run.
func (s *RunState) IsProcessed(subjectID string) bool {
	return s.ProcessedIDs[subjectID]
}

// MarkProcessed records a subject as done. The set only grows.
func (s *RunState) MarkProcessed(subjectID string) {
	if s.ProcessedIDs == nil {
		s.ProcessedIDs = make(map[string]bool)
	}
	s.ProcessedIDs[subjectID] = true
}

// RunReport is the terminal artifact written when a run finishes.
type RunReport struct {
	RunID          string         `json:"run_id"`
	Status         RunStatus      `json:"status"`
	ProcessedCount int            `json:"processed_count"`
	CacheHits      int            `json:"cache_hits"`
	ProviderCalls  int            `json:"provider_calls"`
	CacheHitRatio  float64        `json:"cache_hit_ratio"`
	TotalCostCents int64          `json:"total_cost_cents"`
	ErrorClasses   map[string]int `json:"error_classes,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// WebhookSubscription is a registered downstream subscriber. The delivery
// engine treats subscriptions as read-only configuration.
type WebhookSubscription struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	TargetURL string    `json:"target_url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryStatus is the state of one webhook delivery attempt record.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSuccess   DeliveryStatus = "success"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// Terminal reports whether the status admits no further attempts.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusExhausted
}

// DeliveryAttempt is the ledger row for delivering one event to one
// subscriber. Attempts is monotonically non-decreasing and bounded by the
// configured maximum; success and exhausted are immutable terminal states.
type DeliveryAttempt struct {
	ID               string         `json:"id"`
	SubscriptionID   string         `json:"subscription_id"`
	EventID          string         `json:"event_id"`
	EventType        string         `json:"event_type"`
	TargetURL        string         `json:"target_url"`
	Payload          string         `json:"payload"` // raw JSON body, signed as-is
	Status           DeliveryStatus `json:"status"`
	Attempts         int            `json:"attempts"`
	LastError        string         `json:"last_error,omitempty"`
	LastAttemptAt    *time.Time     `json:"last_attempt_at,omitempty"`
	PayloadTimestamp time.Time      `json:"payload_timestamp"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// DeliveryFilters narrows delivery history queries. Zero values match all.
type DeliveryFilters struct {
	SubscriptionID string
	EventType      string
	Status         DeliveryStatus
	TargetURL      string
}
