package prizepay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/prizepay/model"
)

func TestRunOnceDrainsQueue(t *testing.T) {
	ledger := &fakeLedger{balance: 1_000_000, submitRef: "sig123", statuses: confirmedAfter(0)}
	store := newMemStore()
	p := newTestPrizepay(t, ledger, store)

	for i := 0; i < 25; i++ {
		store.seed(newTestPayout(fmt.Sprintf("pay_%02d", i), testRecipient, 100))
	}

	report, err := NewPayoutWorker(p).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25, report.Claimed)
	assert.Equal(t, 25, report.Completed)
	_, submits, _ := ledger.calls()
	assert.Equal(t, 25, submits)

	pending, err := p.ListPendingPayouts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	ledger := &fakeLedger{balance: 1_000_000, submitRef: "sig123", statuses: confirmedAfter(0)}
	store := newMemStore()
	p := newTestPrizepay(t, ledger, store)

	store.seed(newTestPayout("pay_a", testRecipient, 100))
	store.seed(newTestPayout("pay_b", "bogus", 100))
	store.seed(newTestPayout("pay_c", testRecipient, 100))

	report, err := NewPayoutWorker(p).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Claimed: 3, Completed: 2, Failed: 1}, report)
	assert.Equal(t, model.StatusFailed, store.get("pay_b").Status)
	assert.Equal(t, model.StatusCompleted, store.get("pay_c").Status)
}

func TestRunOnceEmptyQueue(t *testing.T) {
	ledger := &fakeLedger{balance: 1_000_000}
	p := newTestPrizepay(t, ledger, newMemStore())

	report, err := NewPayoutWorker(p).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainReport{}, report)

	// the treasury is still read for observability
	balances, submits, _ := ledger.calls()
	assert.Equal(t, 1, balances)
	assert.Equal(t, 0, submits)
}

func TestRunOnceRejectsOverlappingDrain(t *testing.T) {
	p := newTestPrizepay(t, &fakeLedger{}, newMemStore())
	worker := NewPayoutWorker(p)

	worker.draining.Store(true)
	assert.Equal(t, WorkerDraining, worker.State())

	_, err := worker.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)

	worker.draining.Store(false)
	assert.Equal(t, WorkerIdle, worker.State())
}

func TestWorkerStartDrainsImmediately(t *testing.T) {
	ledger := &fakeLedger{balance: 1_000_000, submitRef: "sig123", statuses: confirmedAfter(0)}
	store := newMemStore()
	p := newTestPrizepay(t, ledger, store)
	store.seed(newTestPayout("pay_start", testRecipient, 100))

	worker := NewPayoutWorker(p)
	assert.Equal(t, time.Hour, worker.interval)

	worker.Start(context.Background())
	assert.True(t, worker.IsRunning())

	assert.Eventually(t, func() bool {
		return store.get("pay_start").Status == model.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	worker.Stop()
	assert.False(t, worker.IsRunning())
	worker.Stop()
}

// A payout must be paid once even when the inline path and the worker go for it
// at the same moment.
func TestConcurrentClaimSubmitsOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		ledger := &fakeLedger{balance: 1_000_000, submitRef: "sig123", statuses: confirmedAfter(0)}
		store := newMemStore()
		p := newTestPrizepay(t, ledger, store)
		payout := store.seed(newTestPayout("pay_race", testRecipient, 100))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = NewPayoutWorker(p).RunOnce(context.Background())
		}()
		go func() {
			defer wg.Done()
			claimed, err := p.ClaimPayout(context.Background(), payout.PayoutID)
			if err != nil {
				return
			}
			p.Executor().Execute(context.Background(), claimed)
		}()
		wg.Wait()

		_, submits, _ := ledger.calls()
		require.Equal(t, 1, submits, "iteration %d", i)
		assert.Equal(t, model.StatusCompleted, store.get(payout.PayoutID).Status)
	}
}

// Claims are taken one at a time, so a payout waiting its turn is never old
// enough for the sweep to treat it as abandoned.
func TestRunOnceAlongsideReconciliationSweep(t *testing.T) {
	ledger := &fakeLedger{balance: 10_000_000_000, submitRef: "sig123"}
	store := newMemStore()
	notifier := &recordingNotifier{}
	p := newTestPrizepay(t, ledger, store, WithNotifier(notifier))
	p.executor.timeout = 50 * time.Millisecond
	p.executor.maxPolls = 1_000_000

	for i := 0; i < 6; i++ {
		store.seed(newTestPayout(fmt.Sprintf("pay_%02d", i), testRecipient, 100))
	}

	sweep := NewReconciliationSweep(p)
	sweep.stuckThreshold = 200 * time.Millisecond

	done := make(chan DrainReport, 1)
	go func() {
		report, err := NewPayoutWorker(p).RunOnce(context.Background())
		assert.NoError(t, err)
		done <- report
	}()

	var drain DrainReport
	var sweeps []ReconcileReport
loop:
	for {
		select {
		case drain = <-done:
			break loop
		case <-time.After(10 * time.Millisecond):
			report, err := sweep.Run(context.Background())
			require.NoError(t, err)
			sweeps = append(sweeps, report)
		}
	}

	assert.Equal(t, DrainReport{Claimed: 6, Unconfirmed: 6}, drain)
	require.NotEmpty(t, sweeps)
	for _, report := range sweeps {
		assert.Empty(t, report.NeedsReview)
		assert.Zero(t, report.Requeued)
	}
	for i := 0; i < 6; i++ {
		stored := store.get(fmt.Sprintf("pay_%02d", i))
		assert.Equal(t, model.StatusUnconfirmed, stored.Status)
		assert.Equal(t, model.ReasonConfirmationTimeout, stored.FailureReason)
	}

	// neither a review alert nor a persistence alert
	assert.Empty(t, notifier.all())
}

func TestRunOnceStopsClaimingWhenCancelled(t *testing.T) {
	ledger := &fakeLedger{balance: 1_000_000, submitRef: "sig123", statuses: confirmedAfter(1)}
	store := newMemStore()
	p := newTestPrizepay(t, ledger, store)

	for i := 0; i < 4; i++ {
		store.seed(newTestPayout(fmt.Sprintf("pay_%02d", i), testRecipient, 100))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger.onSubmit = func(call int) {
		if call == 1 {
			cancel()
		}
	}

	report, err := NewPayoutWorker(p).RunOnce(ctx)
	require.NoError(t, err)

	// the payout in hand runs to its outcome; nothing else is claimed
	assert.Equal(t, DrainReport{Claimed: 1, Completed: 1}, report)
	assert.Equal(t, model.StatusCompleted, store.get("pay_00").Status)
	for i := 1; i < 4; i++ {
		stored := store.get(fmt.Sprintf("pay_%02d", i))
		assert.Equal(t, model.StatusPending, stored.Status)
		assert.NotEqual(t, model.ReasonInsufficientBalance, stored.FailureReason)
	}
	_, submits, _ := ledger.calls()
	assert.Equal(t, 1, submits)
}
