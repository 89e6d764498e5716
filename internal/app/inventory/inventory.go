// Package inventory holds the pool of phone numbers for a run: it fetches
// them from the server, merges the durable cache and hands each number out at
// most once.
package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// MergePolicy decides how the durable cache joins a fresh fetch.
type MergePolicy string

const (
	// MergeUnion adds cached numbers after the fetched ones.
	MergeUnion MergePolicy = "union"

	// MergeFallback reads the cache only when the fetch produced nothing.
	MergeFallback MergePolicy = "fallback"
)

// Options configures an Inventory.
type Options struct {
	RunID       string
	MergePolicy MergePolicy

	// RedispatchConsumed lets numbers dispatched by earlier runs back into the pool.
	RedispatchConsumed bool
}

// Inventory is the ordered pool of numbers for one run. Dispatch is driven by
// a single loop; the mutex only makes concurrent reads (logging, metrics) safe.
type Inventory struct {
	mu sync.Mutex

	pending []registration.PhoneNumber
	// seen holds every number that entered the pool this run, claimed or not.
	seen map[string]struct{}
	// consumed holds numbers dispatched by earlier runs.
	consumed     map[string]struct{}
	consumedRead bool
	lastFetch    int

	// prior is the cache as it stood before Refresh replaced it.
	prior       []registration.PhoneNumber
	priorLoaded bool

	source registration.PhoneSource
	cache  registration.PhoneCache
	ledger registration.DispatchLedger
	opts   Options

	now    func() time.Time
	logger *logger.Logger
	tracer trace.Tracer
}

// New creates an empty Inventory. ledger may be nil, in which case nothing is
// excluded and claims are not recorded.
func New(
	source registration.PhoneSource,
	cache registration.PhoneCache,
	ledger registration.DispatchLedger,
	opts Options,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Inventory {
	if opts.MergePolicy == "" {
		opts.MergePolicy = MergeUnion
	}
	return &Inventory{
		seen:   make(map[string]struct{}),
		source: source,
		cache:  cache,
		ledger: ledger,
		opts:   opts,
		now:    time.Now,
		logger: logger.With("component", "phone_inventory", "run_id", opts.RunID),
		tracer: tracer,
	}
}

// Refresh fetches the server's current list. An empty reply leaves the cache
// untouched; a non-empty one replaces it and joins the pool. The cache it
// replaces is kept for LoadCache. It returns the numbers the server sent.
func (inv *Inventory) Refresh(ctx context.Context) ([]registration.PhoneNumber, error) {
	ctx, span := inv.tracer.Start(ctx, "phone_inventory.refresh")
	defer span.End()

	fetched, err := inv.source.FetchPhones(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch phones")
		return nil, fmt.Errorf("failed to fetch phones: %w", err)
	}

	inv.mu.Lock()
	inv.lastFetch = len(fetched)
	inv.mu.Unlock()

	span.SetAttributes(attribute.Int("fetched", len(fetched)))
	if len(fetched) == 0 {
		inv.logger.Info(ctx, "server returned no phones, keeping cache")
		return nil, nil
	}

	inv.snapshotCache(ctx)
	if err := inv.Persist(ctx, fetched); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist phones")
		return nil, err
	}

	if err := inv.loadConsumed(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read dispatch ledger")
		return nil, err
	}
	added := inv.Add(fetched...)

	inv.logger.Info(ctx, "phones refreshed", "fetched", len(fetched), "added", added)
	span.SetStatus(codes.Ok, "phones refreshed")
	return fetched, nil
}

// LoadCache merges the durable cache into the pool. After a Refresh that
// replaced the cache, the list it replaced is merged instead. Under
// MergeFallback the cache is skipped when the last Refresh returned numbers.
// It returns the numbers that were added.
func (inv *Inventory) LoadCache(ctx context.Context) ([]registration.PhoneNumber, error) {
	ctx, span := inv.tracer.Start(ctx, "phone_inventory.load_cache",
		trace.WithAttributes(attribute.String("merge_policy", string(inv.opts.MergePolicy))))
	defer span.End()

	inv.mu.Lock()
	skip := inv.opts.MergePolicy == MergeFallback && inv.lastFetch > 0
	cached, fromSnapshot := inv.prior, inv.priorLoaded
	inv.mu.Unlock()
	if skip {
		inv.logger.Debug(ctx, "fresh fetch available, cache not consulted")
		return nil, nil
	}

	if !fromSnapshot {
		var err error
		if cached, err = inv.cache.Load(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load cache")
			return nil, fmt.Errorf("failed to load phone cache: %w", err)
		}
	}

	if err := inv.loadConsumed(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read dispatch ledger")
		return nil, err
	}

	var added []registration.PhoneNumber
	for _, p := range cached {
		if inv.Add(p) == 1 {
			added = append(added, p)
		}
	}

	span.SetAttributes(attribute.Int("cached", len(cached)), attribute.Int("added", len(added)))
	inv.logger.Info(ctx, "phone cache merged", "cached", len(cached), "added", len(added))
	return added, nil
}

// snapshotCache keeps the current cache contents before Refresh overwrites
// them. An unreadable cache is logged and leaves nothing to merge.
func (inv *Inventory) snapshotCache(ctx context.Context) {
	prior, err := inv.cache.Load(ctx)
	if err != nil {
		inv.logger.Warn(ctx, "failed to read phone cache before replacing it", "error", err)
	}

	inv.mu.Lock()
	inv.prior = prior
	inv.priorLoaded = true
	inv.mu.Unlock()
}

// Persist overwrites the durable cache with phones. An empty list is ignored
// so a non-empty cache is never replaced with nothing.
func (inv *Inventory) Persist(ctx context.Context, phones []registration.PhoneNumber) error {
	if len(phones) == 0 {
		return nil
	}
	if err := inv.cache.Save(ctx, phones); err != nil {
		return fmt.Errorf("failed to persist phone cache: %w", err)
	}
	return nil
}

// Add appends phones not yet seen in this run and not consumed by an earlier
// one. It returns how many were added.
func (inv *Inventory) Add(phones ...registration.PhoneNumber) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	added := 0
	for _, p := range phones {
		if p.Number == "" {
			continue
		}
		if _, ok := inv.seen[p.Number]; ok {
			continue
		}
		if _, ok := inv.consumed[p.Number]; ok {
			continue
		}
		inv.seen[p.Number] = struct{}{}
		inv.pending = append(inv.pending, p)
		added++
	}
	return added
}

// Claim removes the next number in FIFO order and records it in the ledger.
// ok is false when the pool is empty. A ledger error still consumes the
// number; it is returned alongside the error.
func (inv *Inventory) Claim(ctx context.Context) (registration.PhoneNumber, bool, error) {
	inv.mu.Lock()
	if len(inv.pending) == 0 {
		inv.mu.Unlock()
		return registration.PhoneNumber{}, false, nil
	}
	phone := inv.pending[0]
	inv.pending[0] = registration.PhoneNumber{}
	inv.pending = inv.pending[1:]
	inv.mu.Unlock()

	if inv.ledger != nil {
		if err := inv.ledger.MarkDispatched(ctx, inv.opts.RunID, phone, inv.now()); err != nil {
			return phone, false, fmt.Errorf("failed to record dispatch of %s: %w", phone.Number, err)
		}
	}
	return phone, true, nil
}

// Len returns the number of unclaimed phones.
func (inv *Inventory) Len() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.pending)
}

// Snapshot returns the unclaimed phones in dispatch order.
func (inv *Inventory) Snapshot() []registration.PhoneNumber {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return append([]registration.PhoneNumber(nil), inv.pending...)
}

// Require returns ErrNoAvailablePhones when the pool is empty.
func (inv *Inventory) Require() error {
	if inv.Len() == 0 {
		return registration.ErrNoAvailablePhones
	}
	return nil
}

func (inv *Inventory) loadConsumed(ctx context.Context) error {
	if inv.ledger == nil || inv.opts.RedispatchConsumed {
		return nil
	}

	inv.mu.Lock()
	done := inv.consumedRead
	inv.mu.Unlock()
	if done {
		return nil
	}

	consumed, err := inv.ledger.Consumed(ctx)
	if err != nil {
		return fmt.Errorf("failed to read consumed phones: %w", err)
	}

	inv.mu.Lock()
	inv.consumed = consumed
	inv.consumedRead = true
	inv.mu.Unlock()

	if len(consumed) > 0 {
		inv.logger.Debug(ctx, "excluding previously dispatched phones", "count", len(consumed))
	}
	return nil
}
