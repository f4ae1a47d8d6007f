/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package prizepay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/database"
	"github.com/blnkfinance/prizepay/internal/chain"
	"github.com/blnkfinance/prizepay/internal/metrics"
	"github.com/blnkfinance/prizepay/internal/notification"
	"github.com/blnkfinance/prizepay/model"
)

const persistTimeout = config.PersistTimeoutSec * time.Second

// TransferExecutor drives one claimed payout through validation, the balance
// check, submission and the confirmation wait, then records the outcome.
// It is the only code path that moves funds.
type TransferExecutor struct {
	store    database.IDataSource
	ledger   LedgerClient
	guard    *BalanceGuard
	gate     SubmissionGate
	notifier notification.Notifier
	webhooks WebhookSender

	pollInterval time.Duration
	maxPolls     int
	timeout      time.Duration
}

// Execute expects p to be claimed (status processing) by the caller.
// The returned outcome reflects what happened on the ledger even when it could
// not be written back; PersistenceError is set in that case.
func (e *TransferExecutor) Execute(ctx context.Context, p *model.PayoutRequest) model.Outcome {
	ctx, span := tracer.Start(ctx, "ExecutePayout")
	defer span.End()
	span.SetAttributes(
		attribute.String("payout.id", p.PayoutID),
		attribute.Int64("payout.amount_minor", int64(p.AmountMinor)),
	)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	outcome := e.run(runCtx, p)
	cancel()

	// the outcome must be recorded even if the wait above ran out of time
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	if err := e.persist(persistCtx, outcome); err != nil {
		outcome.PersistenceError = err
		e.reportPersistenceFailure(p, outcome, err)
	}

	span.SetAttributes(attribute.String("payout.status", string(outcome.Status)))
	logOutcome(p, outcome)
	e.sendWebhook(persistCtx, p, outcome)
	return outcome
}

func (e *TransferExecutor) run(ctx context.Context, p *model.PayoutRequest) model.Outcome {
	if err := e.ledger.ValidateAddress(p.RecipientAddress); err != nil {
		return model.FailedOutcome(p.PayoutID, "", model.ReasonInvalidRecipient, err.Error())
	}
	if p.AmountMinor == 0 {
		return model.FailedOutcome(p.PayoutID, "", model.ReasonInvalidInput, "amount must be positive")
	}

	txReference, err := e.submit(ctx, p)
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrBalanceUnavailable):
		return model.FailedOutcome(p.PayoutID, "", model.ReasonInsufficientBalance, err.Error())
	case txReference == "" || errors.Is(err, chain.ErrSubmitRejected):
		return model.FailedOutcome(p.PayoutID, "", model.ReasonSubmitRejected, err.Error())
	default:
		// the send failed in transport after signing; the transfer may be on its way
		logrus.WithFields(logrus.Fields{
			"payout_id":    p.PayoutID,
			"tx_reference": txReference,
		}).WithError(err).Warn("transfer submission ambiguous, waiting for confirmation")
	}

	return e.awaitConfirmation(ctx, p.PayoutID, txReference)
}

// submit runs the balance check and the broadcast back to back, under the gate when one is set.
// A signed transfer is recorded before the gate is released so the next balance
// check counts it as in flight.
func (e *TransferExecutor) submit(ctx context.Context, p *model.PayoutRequest) (string, error) {
	var txReference string
	send := func(ctx context.Context) error {
		if err := e.guard.CheckAffordable(ctx, p.AmountMinor); err != nil {
			return err
		}
		ref, err := e.ledger.SubmitTransfer(ctx, p.RecipientAddress, p.AmountMinor)
		txReference = ref
		if ref != "" {
			e.recordSubmission(ctx, p.PayoutID, ref)
		}
		return err
	}

	if e.gate == nil {
		err := send(ctx)
		return txReference, err
	}

	err := e.gate.Run(ctx, send)
	if err != nil && txReference == "" && !errors.Is(err, ErrInsufficientBalance) && !errors.Is(err, ErrBalanceUnavailable) && !errors.Is(err, chain.ErrSubmitRejected) {
		err = fmt.Errorf("%w: submission gate: %v", chain.ErrSubmitRejected, err)
	}
	return txReference, err
}

func (e *TransferExecutor) recordSubmission(ctx context.Context, payoutID, txReference string) {
	metrics.RecordSubmission()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.RecordSubmission(ctx, payoutID, txReference); err != nil {
		logrus.WithFields(logrus.Fields{
			"payout_id":    payoutID,
			"tx_reference": txReference,
		}).WithError(err).Error("failed to record submitted transfer reference")
	}
}

// awaitConfirmation polls at a fixed interval until the ledger gives a definitive
// answer, the attempts run out or ctx ends. The last two leave the transfer unconfirmed.
func (e *TransferExecutor) awaitConfirmation(ctx context.Context, payoutID, txReference string) model.Outcome {
	ctx, span := tracer.Start(ctx, "AwaitConfirmation")
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= e.maxPolls; attempt++ {
		status, err := e.ledger.GetConfirmationStatus(ctx, txReference)
		switch {
		case err != nil:
			lastErr = err
		case status.Landed():
			return model.CompletedOutcome(payoutID, txReference)
		case status.State == model.ConfirmationError:
			return model.FailedOutcome(payoutID, txReference, model.ReasonLedgerExecutionError, status.Detail)
		}

		if attempt == e.maxPolls {
			break
		}
		timer := time.NewTimer(e.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.UnconfirmedOutcome(payoutID, txReference,
				fmt.Sprintf("confirmation wait abandoned after %d checks: %v", attempt, ctx.Err()))
		case <-timer.C:
		}
	}

	detail := fmt.Sprintf("no confirmation after %d checks", e.maxPolls)
	if lastErr != nil {
		detail = fmt.Sprintf("%s, last error: %v", detail, lastErr)
	}
	return model.UnconfirmedOutcome(payoutID, txReference, detail)
}

func (e *TransferExecutor) persist(ctx context.Context, o model.Outcome) error {
	switch o.Status {
	case model.StatusCompleted:
		return e.store.MarkCompleted(ctx, o.PayoutID, o.TxReference)
	case model.StatusUnconfirmed:
		return e.store.MarkUnconfirmed(ctx, o.PayoutID, o.TxReference, o.Detail)
	default:
		return e.store.MarkFailed(ctx, o.PayoutID, o.Reason, o.Detail)
	}
}

// reportPersistenceFailure covers the case where the ledger may have moved funds
// that the store has no record of.
func (e *TransferExecutor) reportPersistenceFailure(p *model.PayoutRequest, o model.Outcome, err error) {
	metrics.RecordPersistenceFailure()

	fields := logrus.Fields{
		"payout_id":        p.PayoutID,
		"recipient":        p.RecipientAddress,
		"amount":           p.Amount.String(),
		"amount_minor":     p.AmountMinor,
		"tx_reference":     o.TxReference,
		"intended_status":  o.Status,
		"reason":           o.Reason,
		"ledger_confirmed": o.Confirmed,
	}
	logrus.WithFields(fields).WithError(err).Error("payout outcome could not be recorded, manual reconciliation required")

	txRef := o.TxReference
	if txRef == "" {
		txRef = "none"
	}
	e.notifier.Notify(notification.Alert{
		Title:    "Payout outcome not recorded",
		Severity: notification.SeverityCritical,
		Message:  err.Error(),
		Fields: map[string]string{
			"payout_id":       p.PayoutID,
			"tx_reference":    txRef,
			"intended_status": string(o.Status),
			"amount":          p.Amount.String(),
		},
	})
}

func (e *TransferExecutor) sendWebhook(ctx context.Context, p *model.PayoutRequest, o model.Outcome) {
	if e.webhooks == nil {
		return
	}
	event := "payout." + string(o.Status)
	if err := e.webhooks.Send(ctx, event, webhookPayload(p, o)); err != nil {
		logrus.WithField("payout_id", p.PayoutID).WithError(err).Warn("failed to enqueue payout webhook")
	}
}

func logOutcome(p *model.PayoutRequest, o model.Outcome) {
	entry := logrus.WithFields(logrus.Fields{
		"payout_id":    p.PayoutID,
		"amount":       p.Amount.String(),
		"tx_reference": o.TxReference,
		"status":       o.Status,
		"reason":       o.Reason,
	})

	switch {
	case o.PersistenceError != nil:
		// already reported
	case o.Status == model.StatusCompleted:
		entry.Info("payout completed")
	case o.Status == model.StatusUnconfirmed:
		entry.WithField("detail", o.Detail).Warn("payout submitted but not confirmed")
	case o.Reason == model.ReasonInsufficientBalance:
		entry.WithField("detail", o.Detail).Warn("payout failed")
	default:
		entry.WithField("detail", o.Detail).Error("payout failed")
	}
}

func recordOutcome(trigger string, o model.Outcome, started time.Time) {
	reason := string(o.Reason)
	if o.PersistenceError != nil {
		reason = string(model.ReasonPersistenceFailure)
	}
	metrics.RecordOutcome(trigger, string(o.Status), reason, started)
}
