// Package providers implements the outbound enrichment provider clients.
// Every client normalizes upstream responses into contacts and classifies
// failures into the shared error taxonomy so the orchestrator and backfill
// runner can decide what to retry, what to cache, and what aborts a run.
package providers

import (
	"context"
	"fmt"
	"sync"

	"lead-enricher/internal/common/errors"
	"lead-enricher/internal/storage"
)

// Request is one normalized enrichment subject bound for a provider.
type Request struct {
	SubjectID      string `json:"subject_id"`
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	Zip            string `json:"zip"`
	OwnerFirstName string `json:"owner_first_name,omitempty"`
	OwnerLastName  string `json:"owner_last_name,omitempty"`
	Provider       string `json:"provider"`
}

// Result is a normalized provider response.
type Result struct {
	Provider  string            `json:"provider"`
	Contacts  []storage.Contact `json:"contacts"`
	CostCents int64             `json:"cost_cents"`
}

// Invoker is the abstraction the orchestrator calls. Implementations must
// classify every failure into the structured error taxonomy; a provider
// miss is reported as a provider_not_found error with no billed cost.
type Invoker interface {
	Name() string
	Call(ctx context.Context, req Request) (*Result, error)
}

// Registry resolves a provider identifier to its invoker.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register adds an invoker under its name. Later registrations replace
// earlier ones, which tests rely on to swap in fakes.
func (r *Registry) Register(inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[inv.Name()] = inv
}

// Get resolves a provider by name.
func (r *Registry) Get(name string) (Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invokers[name]
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("unknown provider: %s", name))
	}
	return inv, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	return names
}
