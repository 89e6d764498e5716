package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/internal/infra/storage"
)

type dispatchLedger interface {
	registration.DispatchLedger
	Lister
}

func ledgers(t *testing.T) map[string]func(t *testing.T) dispatchLedger {
	return map[string]func(t *testing.T) dispatchLedger{
		"memory": func(t *testing.T) dispatchLedger { return NewMemory() },
		"sqlite": func(t *testing.T) dispatchLedger {
			l, err := OpenSQLite(filepath.Join(t.TempDir(), "dispatch.db"), storage.NoOpTracer())
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
	}
}

func TestLedger_DispatchAndOutcome(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := open(t)
			base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

			require.NoError(t, l.MarkDispatched(ctx, "run-1", registration.NewPhoneNumber("111"), base))
			require.NoError(t, l.MarkDispatched(ctx, "run-1", registration.NewPhoneNumber("222"), base.Add(time.Second)))
			require.NoError(t, l.MarkLaunched(ctx, registration.NewPhoneNumber("111"), base))
			require.NoError(t, l.MarkLaunched(ctx, registration.NewPhoneNumber("222"), base.Add(time.Second)))
			require.NoError(t, l.RecordOutcome(ctx, registration.NewPhoneNumber("111"), registration.OutcomeSucceeded, base.Add(time.Minute)))

			consumed, err := l.Consumed(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"111": {}, "222": {}}, consumed)

			entries, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "111", entries[0].Phone)
			assert.Equal(t, "run-1", entries[0].RunID)
			assert.Equal(t, registration.OutcomeSucceeded, entries[0].Outcome)
			assert.True(t, entries[0].LaunchedAt.Equal(base))
			assert.True(t, entries[0].FinishedAt.Equal(base.Add(time.Minute)))
			assert.Equal(t, registration.OutcomePending, entries[1].Outcome)
			assert.True(t, entries[1].FinishedAt.IsZero())
		})
	}
}

func TestLedger_OutcomeForUnknownPhone(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			l := open(t)
			err := l.RecordOutcome(context.Background(), registration.NewPhoneNumber("999"), registration.OutcomeCrashed, time.Now())
			assert.ErrorIs(t, err, ErrNotDispatched)

			err = l.MarkLaunched(context.Background(), registration.NewPhoneNumber("999"), time.Now())
			assert.ErrorIs(t, err, ErrNotDispatched)
		})
	}
}

func TestLedger_UnlaunchedDispatchIsNotConsumed(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := open(t)
			failed := registration.NewPhoneNumber("111")
			started := registration.NewPhoneNumber("222")

			require.NoError(t, l.MarkDispatched(ctx, "run-1", failed, time.Now()))
			require.NoError(t, l.RecordOutcome(ctx, failed, registration.OutcomeCrashed, time.Now()))
			require.NoError(t, l.MarkDispatched(ctx, "run-1", started, time.Now()))
			require.NoError(t, l.MarkLaunched(ctx, started, time.Now()))

			consumed, err := l.Consumed(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]struct{}{"222": {}}, consumed)

			entries, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.True(t, entries[0].LaunchedAt.IsZero())
			assert.Equal(t, registration.OutcomeCrashed, entries[0].Outcome)
		})
	}
}

func TestLedger_RedispatchResetsOutcome(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := open(t)
			phone := registration.NewPhoneNumber("111")

			require.NoError(t, l.MarkDispatched(ctx, "run-1", phone, time.Now()))
			require.NoError(t, l.MarkLaunched(ctx, phone, time.Now()))
			require.NoError(t, l.RecordOutcome(ctx, phone, registration.OutcomeCrashed, time.Now()))
			require.NoError(t, l.MarkDispatched(ctx, "run-2", phone, time.Now()))

			entries, err := l.List(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "run-2", entries[0].RunID)
			assert.Equal(t, registration.OutcomePending, entries[0].Outcome)
			assert.True(t, entries[0].LaunchedAt.IsZero())
		})
	}
}

func TestLedger_ConcurrentOutcomes(t *testing.T) {
	for name, open := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := open(t)

			phones := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
			for _, p := range phones {
				require.NoError(t, l.MarkDispatched(ctx, "run", registration.NewPhoneNumber(p), time.Now()))
			}

			var wg sync.WaitGroup
			for _, p := range phones {
				wg.Add(1)
				go func(p string) {
					defer wg.Done()
					assert.NoError(t, l.RecordOutcome(ctx, registration.NewPhoneNumber(p), registration.OutcomeSucceeded, time.Now()))
				}(p)
			}
			wg.Wait()

			entries, err := l.List(ctx)
			require.NoError(t, err)
			for _, e := range entries {
				assert.Equal(t, registration.OutcomeSucceeded, e.Outcome, e.Phone)
			}
		})
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dispatch.db")

	l, err := OpenSQLite(path, storage.NoOpTracer())
	require.NoError(t, err)
	require.NoError(t, l.MarkDispatched(ctx, "run-1", registration.NewPhoneNumber("111"), time.Now()))
	require.NoError(t, l.MarkLaunched(ctx, registration.NewPhoneNumber("111"), time.Now()))
	require.NoError(t, l.Close())

	l, err = OpenSQLite(path, storage.NoOpTracer())
	require.NoError(t, err)
	defer l.Close()

	consumed, err := l.Consumed(ctx)
	require.NoError(t, err)
	assert.Contains(t, consumed, "111")
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("  ", storage.NoOpTracer())
	assert.Error(t, err)
}
