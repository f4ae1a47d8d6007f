package prizepay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/internal/apierror"
	"github.com/blnkfinance/prizepay/internal/chain"
	"github.com/blnkfinance/prizepay/internal/notification"
	"github.com/blnkfinance/prizepay/model"
)

const (
	testRecipient = "So11111111111111111111111111111111111111112"
	testTreasury  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	testDecimals  = 9
)

func newTestPayout(id, recipient string, minor uint64) *model.PayoutRequest {
	return &model.PayoutRequest{
		PayoutID:         id,
		RecipientAddress: recipient,
		Amount:           model.FromMinorUnits(minor, testDecimals),
		AmountMinor:      minor,
		Kind:             gofakeit.RandomString([]string{"sol_gem_small", "sol_gem_medium", "sol_gem_large"}),
		Status:           model.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

// fakeLedger counts every call so tests can assert that gates short-circuit.
type fakeLedger struct {
	mu sync.Mutex

	balance    uint64
	balanceErr error
	submitRef  string
	submitErr  error
	statuses   []model.ConfirmationStatus
	statusErr  error

	balanceCalls int
	submitCalls  int
	statusCalls  int

	// debitOnConfirm holds debits back until a status check reports the transfer landed,
	// the way a confirmed-commitment balance lags a broadcast.
	debitOnConfirm bool
	heldDebits     uint64
	onSubmit       func(call int)
}

func (f *fakeLedger) ValidateAddress(address string) error {
	return chain.ValidateAddress(address)
}

func (f *fakeLedger) GetBalance(ctx context.Context, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.balance, f.balanceErr
}

func (f *fakeLedger) SubmitTransfer(_ context.Context, _ string, lamports uint64) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	call := f.submitCalls
	if f.submitErr == nil {
		if f.debitOnConfirm {
			f.heldDebits += lamports
		} else {
			f.balance -= lamports
		}
	}
	ref, err, hook := f.submitRef, f.submitErr, f.onSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return ref, err
}

// GetConfirmationStatus walks through statuses in order and repeats the last one.
func (f *fakeLedger) GetConfirmationStatus(_ context.Context, _ string) (model.ConfirmationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return model.ConfirmationStatus{}, f.statusErr
	}
	if len(f.statuses) == 0 {
		return model.ConfirmationStatus{State: model.ConfirmationPending}, nil
	}
	i := f.statusCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	if f.statuses[i].Landed() && f.heldDebits > 0 {
		f.balance -= f.heldDebits
		f.heldDebits = 0
	}
	return f.statuses[i], nil
}

func (f *fakeLedger) calls() (balance, submit, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls, f.submitCalls, f.statusCalls
}

func confirmedAfter(pending int) []model.ConfirmationStatus {
	statuses := make([]model.ConfirmationStatus, 0, pending+1)
	for i := 0; i < pending; i++ {
		statuses = append(statuses, model.ConfirmationStatus{State: model.ConfirmationPending})
	}
	return append(statuses, model.ConfirmationStatus{State: model.ConfirmationConfirmed})
}

// memStore is an in-memory IDataSource with the same compare-and-swap rules as
// the Postgres implementation.
type memStore struct {
	mu      sync.Mutex
	seq     int64
	payouts map[string]*model.PayoutRequest

	transitionErr error
	inFlightErr   error
}

func newMemStore() *memStore {
	return &memStore{payouts: map[string]*model.PayoutRequest{}}
}

func (s *memStore) seed(p *model.PayoutRequest) *model.PayoutRequest {
	created, _ := s.CreatePayout(context.Background(), p)
	return created
}

func (s *memStore) get(id string) model.PayoutRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payouts[id]
}

func (s *memStore) CreatePayout(_ context.Context, p *model.PayoutRequest) (*model.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[p.PayoutID]; ok {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Payout with this ID already exists", nil)
	}
	s.seq++
	stored := *p
	stored.ID = s.seq
	s.payouts[p.PayoutID] = &stored
	cp := stored
	return &cp, nil
}

func (s *memStore) GetPayout(_ context.Context, id string) (*model.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), nil)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) sorted(match func(p *model.PayoutRequest) bool, limit int) []*model.PayoutRequest {
	var out []*model.PayoutRequest
	for _, p := range s.payouts {
		if match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copies(in []*model.PayoutRequest) []*model.PayoutRequest {
	out := make([]*model.PayoutRequest, 0, len(in))
	for _, p := range in {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (s *memStore) ListPayoutsByStatus(_ context.Context, status model.PayoutStatus, limit int) ([]*model.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copies(s.sorted(func(p *model.PayoutRequest) bool { return p.Status == status }, limit)), nil
}

func (s *memStore) ListStuckProcessing(_ context.Context, olderThan time.Duration, limit int) ([]*model.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	return copies(s.sorted(func(p *model.PayoutRequest) bool {
		return p.Status == model.StatusProcessing && p.ClaimedAt != nil && p.ClaimedAt.Before(cutoff)
	}, limit)), nil
}

func (s *memStore) ClaimNextBatch(_ context.Context, limit int) ([]*model.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.sorted(func(p *model.PayoutRequest) bool { return p.Status == model.StatusPending }, limit)
	now := time.Now().UTC()
	for _, p := range batch {
		p.Status = model.StatusProcessing
		p.ClaimedAt = &now
	}
	return copies(batch), nil
}

func (s *memStore) ClaimPayout(_ context.Context, id string) (*model.PayoutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), nil)
	}
	if p.Status != model.StatusPending {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout '%s' is %s, expected pending", id, p.Status), nil)
	}
	now := time.Now().UTC()
	p.Status = model.StatusProcessing
	p.ClaimedAt = &now
	cp := *p
	return &cp, nil
}

func (s *memStore) RecordSubmission(_ context.Context, id string, txReference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok || p.Status != model.StatusProcessing {
		return apierror.NewAPIError(apierror.ErrConflict, "payout is not processing", nil)
	}
	p.TxReference = txReference
	now := time.Now().UTC()
	p.SubmittedAt = &now
	return nil
}

func (s *memStore) SumInFlight(_ context.Context) (model.InFlight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlightErr != nil {
		return model.InFlight{}, s.inFlightErr
	}
	var f model.InFlight
	for _, p := range s.payouts {
		if p.Status == model.StatusUnconfirmed || (p.Status == model.StatusProcessing && p.TxReference != "") {
			f.Count++
			f.AmountMinor += p.AmountMinor
		}
	}
	return f, nil
}

func (s *memStore) transition(id string, from, to model.PayoutStatus, txReference string, reason model.FailureReason, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return s.transitionErr
	}
	p, ok := s.payouts[id]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), nil)
	}
	if p.Status != from {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payout '%s' is %s, expected %s", id, p.Status, from), nil)
	}
	p.Status = to
	if txReference != "" {
		p.TxReference = txReference
	}
	p.FailureReason = reason
	p.Error = detail
	if to.IsTerminal() {
		now := time.Now().UTC()
		p.ResolvedAt = &now
	}
	return nil
}

func (s *memStore) MarkCompleted(_ context.Context, id string, txReference string) error {
	if txReference == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "A completed payout requires a transaction reference", nil)
	}
	return s.transition(id, model.StatusProcessing, model.StatusCompleted, txReference, "", "")
}

func (s *memStore) MarkFailed(_ context.Context, id string, reason model.FailureReason, detail string) error {
	return s.transition(id, model.StatusProcessing, model.StatusFailed, "", reason, detail)
}

func (s *memStore) MarkUnconfirmed(_ context.Context, id string, txReference string, detail string) error {
	return s.transition(id, model.StatusProcessing, model.StatusUnconfirmed, txReference, model.ReasonConfirmationTimeout, detail)
}

func (s *memStore) ResolveUnconfirmed(_ context.Context, id string, status model.PayoutStatus, reason model.FailureReason, detail string) error {
	return s.transition(id, model.StatusUnconfirmed, status, "", reason, detail)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recordingNotifier) Notify(alert notification.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func (r *recordingNotifier) all() []notification.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Alert(nil), r.alerts...)
}

type recordingWebhooks struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingWebhooks) Send(_ context.Context, event string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "prizepay-test",
		Ledger: config.LedgerConfig{
			TreasuryAddress: testTreasury,
			Decimals:        testDecimals,
		},
		Payout: config.PayoutConfig{
			FeeReserveLamports:   5,
			PollIntervalMs:       1,
			MaxPollAttempts:      30,
			RequestTimeoutSec:    5,
			WorkerIntervalSec:    3600,
			BatchSize:            10,
			StuckThresholdSec:    600,
			ReconcileIntervalSec: 3600,
		},
		Treasury: config.TreasuryConfig{
			NoticeBalance:   decimal.NewFromInt(2),
			WarningBalance:  decimal.NewFromInt(1),
			CriticalBalance: decimal.RequireFromString("0.5"),
			PrizeSizes: map[string]decimal.Decimal{
				"sol_gem_small":  decimal.RequireFromString("0.025"),
				"sol_gem_medium": decimal.RequireFromString("0.1"),
				"sol_gem_large":  decimal.RequireFromString("0.25"),
			},
		},
	}
}

func newTestPrizepay(t *testing.T, ledger *fakeLedger, store *memStore, opts ...Option) *Prizepay {
	t.Helper()
	config.MockConfig(testConfig())
	p, err := NewPrizepay(store, ledger, testTreasury, opts...)
	require.NoError(t, err)
	return p
}

func TestNewPrizepayAppliesConfig(t *testing.T) {
	p := newTestPrizepay(t, &fakeLedger{}, newMemStore())

	assert.Equal(t, testTreasury, p.TreasuryAddress())
	assert.Equal(t, int32(testDecimals), p.decimals)
	assert.Equal(t, 10, p.batchSize)
	assert.Equal(t, time.Millisecond, p.Executor().pollInterval)
	assert.Equal(t, 30, p.Executor().maxPolls)
	assert.Equal(t, 5*time.Second, p.Executor().timeout)
	assert.Equal(t, uint64(5), p.Executor().guard.feeReserve)
	assert.NotNil(t, p.TreasuryMonitor())
}

func TestEnqueuePayout(t *testing.T) {
	store := newMemStore()
	p := newTestPrizepay(t, &fakeLedger{}, store)

	amount := decimal.RequireFromString("0.025")
	created, err := p.EnqueuePayout(context.Background(), " "+testRecipient+" ", amount, "sol_gem_small")
	require.NoError(t, err)

	assert.Contains(t, created.PayoutID, "pay_")
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, testRecipient, created.RecipientAddress)
	assert.Equal(t, uint64(25_000_000), created.AmountMinor)

	pending, err := p.ListPendingPayouts(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, created.PayoutID, pending[0].PayoutID)
}

func TestEnqueuePayoutRejectsInvalidInput(t *testing.T) {
	store := newMemStore()
	p := newTestPrizepay(t, &fakeLedger{}, store)

	tests := []struct {
		name      string
		recipient string
		amount    decimal.Decimal
	}{
		{"blank recipient", "  ", decimal.NewFromInt(1)},
		{"zero amount", testRecipient, decimal.Zero},
		{"negative amount", testRecipient, decimal.NewFromInt(-1)},
		{"sub-lamport amount", testRecipient, decimal.RequireFromString("0.0000000001")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.EnqueuePayout(context.Background(), tt.recipient, tt.amount, "sol_gem_small")
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	pending, err := p.ListPendingPayouts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarksOnlyApplyToProcessing(t *testing.T) {
	store := newMemStore()
	p := newTestPrizepay(t, &fakeLedger{}, store)
	ctx := context.Background()

	payout := store.seed(newTestPayout("pay_marks", testRecipient, 1000))

	err := p.MarkCompleted(ctx, payout.PayoutID, "sig123")
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
	err = p.MarkFailed(ctx, payout.PayoutID, model.ReasonSubmitRejected, "x")
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
	assert.Equal(t, model.StatusPending, store.get(payout.PayoutID).Status)

	_, err = p.ClaimPayout(ctx, payout.PayoutID)
	require.NoError(t, err)
	require.NoError(t, p.MarkCompleted(ctx, payout.PayoutID, "sig123"))

	// a second write must not change the stored record
	err = p.MarkFailed(ctx, payout.PayoutID, model.ReasonSubmitRejected, "late failure")
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
	err = p.MarkCompleted(ctx, payout.PayoutID, "sig456")
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))

	stored := store.get(payout.PayoutID)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.Equal(t, "sig123", stored.TxReference)
	assert.Empty(t, stored.FailureReason)
}

func TestClaimPayoutErrors(t *testing.T) {
	store := newMemStore()
	p := newTestPrizepay(t, &fakeLedger{}, store)
	ctx := context.Background()

	_, err := p.ClaimPayout(ctx, "pay_missing")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))

	payout := store.seed(newTestPayout("pay_claim", testRecipient, 1000))
	_, err = p.ClaimPayout(ctx, payout.PayoutID)
	require.NoError(t, err)
	_, err = p.ClaimPayout(ctx, payout.PayoutID)
	assert.True(t, apierror.HasCode(err, apierror.ErrConflict))
}

type staticInFlight struct {
	inFlight model.InFlight
	err      error
}

func (s staticInFlight) SumInFlight(context.Context) (model.InFlight, error) {
	return s.inFlight, s.err
}

func TestBalanceGuard(t *testing.T) {
	tests := []struct {
		name     string
		balance  uint64
		readErr  error
		inFlight staticInFlight
		amount   uint64
		wantErr  error
	}{
		{"covers amount and fee", 105, nil, staticInFlight{}, 100, nil},
		{"fee not covered", 104, nil, staticInFlight{}, 100, ErrInsufficientBalance},
		{"amount not covered", 40, nil, staticInFlight{}, 100, ErrInsufficientBalance},
		{"overflow", 1000, nil, staticInFlight{}, ^uint64(0), ErrInsufficientBalance},
		{"balance read fails", 0, errors.New("rpc down"), staticInFlight{}, 1, ErrBalanceUnavailable},
		{"covers in-flight transfers", 210, nil, staticInFlight{inFlight: model.InFlight{Count: 1, AmountMinor: 100}}, 100, nil},
		{"in-flight transfers use the headroom", 209, nil, staticInFlight{inFlight: model.InFlight{Count: 1, AmountMinor: 100}}, 100, ErrInsufficientBalance},
		{"in-flight overflow", 1000, nil, staticInFlight{inFlight: model.InFlight{Count: ^uint64(0), AmountMinor: 1}}, 1, ErrInsufficientBalance},
		{"in-flight read fails", 1000, nil, staticInFlight{err: errors.New("db down")}, 1, ErrBalanceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{balance: tt.balance, balanceErr: tt.readErr}
			guard := NewBalanceGuard(ledger, tt.inFlight, testTreasury, 5)

			err := guard.CheckAffordable(context.Background(), tt.amount)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, 1, ledger.balanceCalls)
		})
	}
}

func TestBalanceGuardReportsInFlightReservation(t *testing.T) {
	ledger := &fakeLedger{balance: 150}
	guard := NewBalanceGuard(ledger, staticInFlight{inFlight: model.InFlight{Count: 1, AmountMinor: 100}}, testTreasury, 5)

	err := guard.CheckAffordable(context.Background(), 100)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Contains(t, err.Error(), "have 150 lamports, need 210 (100 + 5 fee reserve + 105 in flight)")
}

func TestBalanceGuardWithoutInFlightSource(t *testing.T) {
	guard := NewBalanceGuard(&fakeLedger{balance: 105}, nil, testTreasury, 5)
	assert.NoError(t, guard.CheckAffordable(context.Background(), 100))
}
