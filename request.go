package prizepay

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/prizepay/internal/apierror"
	"github.com/blnkfinance/prizepay/model"
)

const triggerInline = "inline"

// RequestPayout creates a payout and executes it straight away with the same
// executor the worker uses, so the caller gets a transaction reference without
// waiting for the next drain.
//
// Once the payout is claimed the work is detached from ctx: a caller going away
// cannot cancel a transfer, only stop waiting for its result.
func (p *Prizepay) RequestPayout(ctx context.Context, recipient string, amount decimal.Decimal, kind string) (*model.PayoutResult, error) {
	ctx, span := tracer.Start(ctx, "RequestPayout")
	defer span.End()

	payout, err := p.EnqueuePayout(ctx, recipient, amount, kind)
	if err != nil {
		return nil, err
	}

	execCtx := context.WithoutCancel(ctx)
	claimed, err := p.ClaimPayout(execCtx, payout.PayoutID)
	if err != nil {
		if apierror.HasCode(err, apierror.ErrConflict) {
			// the worker claimed it between enqueue and claim; it owns the execution now
			logrus.WithField("payout_id", payout.PayoutID).Info("payout picked up by worker before inline claim")
			return &model.PayoutResult{
				Success:  false,
				PayoutID: payout.PayoutID,
				Status:   model.StatusProcessing,
				Error:    "payout is being processed by the background worker",
			}, nil
		}
		return nil, err
	}

	started := time.Now()
	outcome := p.executor.Execute(execCtx, claimed)
	recordOutcome(triggerInline, outcome, started)

	result := outcome.ToResult()
	return &result, nil
}
