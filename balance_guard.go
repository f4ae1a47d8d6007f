package prizepay

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"github.com/blnkfinance/prizepay/model"
)

// InFlightSource reports transfers that were broadcast but have not settled yet.
type InFlightSource interface {
	SumInFlight(ctx context.Context) (model.InFlight, error)
}

// BalanceGuard checks that the treasury can cover a transfer plus the network fee.
// It reads the balance on every call since other payouts spend it down concurrently,
// and holds back what submitted but unconfirmed transfers will still debit.
type BalanceGuard struct {
	ledger     LedgerClient
	inFlight   InFlightSource
	treasury   string
	feeReserve uint64
}

// NewBalanceGuard returns a guard for the treasury account. inFlight may be nil.
func NewBalanceGuard(ledger LedgerClient, inFlight InFlightSource, treasury string, feeReserve uint64) *BalanceGuard {
	return &BalanceGuard{ledger: ledger, inFlight: inFlight, treasury: treasury, feeReserve: feeReserve}
}

func (g *BalanceGuard) CheckAffordable(ctx context.Context, lamports uint64) error {
	balance, err := g.ledger.GetBalance(ctx, g.treasury)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	}

	reserved, err := g.reserved(ctx)
	if err != nil {
		return fmt.Errorf("%w: in-flight transfers: %v", ErrBalanceUnavailable, err)
	}

	need, ok := addChecked(lamports, g.feeReserve, reserved)
	if !ok {
		return fmt.Errorf("%w: amount %d lamports overflows", ErrInsufficientBalance, lamports)
	}
	if balance < need {
		if reserved > 0 {
			return fmt.Errorf("%w: have %d lamports, need %d (%d + %d fee reserve + %d in flight)",
				ErrInsufficientBalance, balance, need, lamports, g.feeReserve, reserved)
		}
		return fmt.Errorf("%w: have %d lamports, need %d (%d + %d fee reserve)",
			ErrInsufficientBalance, balance, need, lamports, g.feeReserve)
	}
	return nil
}

// reserved is the amount plus fee of every in-flight transfer.
func (g *BalanceGuard) reserved(ctx context.Context) (uint64, error) {
	if g.inFlight == nil {
		return 0, nil
	}
	f, err := g.inFlight.SumInFlight(ctx)
	if err != nil {
		return 0, err
	}
	hi, fees := bits.Mul64(f.Count, g.feeReserve)
	if hi != 0 {
		return math.MaxUint64, nil
	}
	total, ok := addChecked(f.AmountMinor, fees)
	if !ok {
		return math.MaxUint64, nil
	}
	return total, nil
}

func addChecked(vals ...uint64) (uint64, bool) {
	var sum uint64
	for _, v := range vals {
		var carry uint64
		sum, carry = bits.Add64(sum, v, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return sum, true
}
