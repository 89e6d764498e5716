// Package ledger records which phone numbers have been handed to a worker and
// how each attempt ended. It survives restarts so numbers consumed by an
// earlier run are not dispatched again.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/reg-armada/internal/domain/registration"
)

// ErrNotDispatched is returned when an outcome is recorded for a phone the
// ledger has never seen.
var ErrNotDispatched = errors.New("phone was never dispatched")

// Entry is one row of the ledger.
type Entry struct {
	Phone        string
	RunID        string
	DispatchedAt time.Time
	LaunchedAt   time.Time // zero when the worker never started
	Outcome      registration.Outcome
	FinishedAt   time.Time
}

// Lister is implemented by ledgers that can enumerate their entries.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
}

var (
	_ registration.DispatchLedger = (*Memory)(nil)
	_ Lister                      = (*Memory)(nil)
)

// Memory is an in-process ledger. Nothing survives the process.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory creates an empty Memory ledger.
func NewMemory() *Memory { return &Memory{entries: make(map[string]Entry)} }

// MarkDispatched records phone as handed out in runID.
func (m *Memory) MarkDispatched(ctx context.Context, runID string, phone registration.PhoneNumber, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[phone.Number] = Entry{
		Phone:        phone.Number,
		RunID:        runID,
		DispatchedAt: at,
		Outcome:      registration.OutcomePending,
	}
	return nil
}

// MarkLaunched records that the worker for phone started.
func (m *Memory) MarkLaunched(ctx context.Context, phone registration.PhoneNumber, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[phone.Number]
	if !ok {
		return fmt.Errorf("mark %s launched: %w", phone.Number, ErrNotDispatched)
	}
	e.LaunchedAt = at
	m.entries[phone.Number] = e
	return nil
}

// RecordOutcome stores the terminal outcome for phone.
func (m *Memory) RecordOutcome(ctx context.Context, phone registration.PhoneNumber, outcome registration.Outcome, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[phone.Number]
	if !ok {
		return fmt.Errorf("record outcome for %s: %w", phone.Number, ErrNotDispatched)
	}
	e.Outcome = outcome
	e.FinishedAt = at
	m.entries[phone.Number] = e
	return nil
}

// Consumed returns the set of phones whose worker started.
func (m *Memory) Consumed(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(m.entries))
	for k, e := range m.entries {
		if e.LaunchedAt.IsZero() {
			continue
		}
		out[k] = struct{}{}
	}
	return out, nil
}

// List returns every entry ordered by dispatch time.
func (m *Memory) List(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DispatchedAt.Equal(out[j].DispatchedAt) {
			return out[i].Phone < out[j].Phone
		}
		return out[i].DispatchedAt.Before(out[j].DispatchedAt)
	})
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
