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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/internal/metrics"
	"github.com/blnkfinance/prizepay/internal/notification"
	"github.com/blnkfinance/prizepay/model"
)

// ReconcileReport summarises one sweep.
type ReconcileReport struct {
	Checked      int      `json:"checked"`
	Completed    int      `json:"completed"`
	Failed       int      `json:"failed"`
	StillPending int      `json:"still_pending"`
	Requeued     int      `json:"moved_to_unconfirmed"`
	NeedsReview  []string `json:"needs_review,omitempty"`
}

// ReconciliationSweep settles payouts the executor could not finish: unconfirmed
// transfers are checked against the ledger, and processing claims that were
// abandoned (a crashed worker) are surfaced. It never resubmits a transfer.
type ReconciliationSweep struct {
	prizepay       *Prizepay
	interval       time.Duration
	stuckThreshold time.Duration
	expiryWindow   time.Duration
	batchSize      int
	stopCh         chan struct{}
	wg             sync.WaitGroup
	running        bool
	mu             sync.Mutex
}

func NewReconciliationSweep(p *Prizepay) *ReconciliationSweep {
	interval := time.Duration(config.DefaultReconcileIntervalSec) * time.Second
	stuck := time.Duration(config.DefaultStuckThresholdSec) * time.Second
	expiry := time.Duration(config.DefaultExpiryWindowSec) * time.Second
	if cfg, err := config.Fetch(); err == nil {
		if cfg.Payout.ReconcileIntervalSec > 0 {
			interval = cfg.Payout.ReconcileInterval()
		}
		if cfg.Payout.StuckThresholdSec > 0 {
			stuck = cfg.Payout.StuckThreshold()
		}
		if cfg.Payout.ExpiryWindowSec > 0 {
			expiry = cfg.Payout.ExpiryWindow()
		}
	}

	return &ReconciliationSweep{
		prizepay:       p,
		interval:       interval,
		stuckThreshold: stuck,
		expiryWindow:   expiry,
		batchSize:      p.batchSize,
		stopCh:         make(chan struct{}),
	}
}

func (s *ReconciliationSweep) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Info("Payout reconciliation sweep started")
}

func (s *ReconciliationSweep) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("Payout reconciliation sweep stopped")
}

func (s *ReconciliationSweep) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ReconciliationSweep) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			report, err := s.Run(ctx)
			if err != nil {
				logrus.WithError(err).Error("payout reconciliation failed")
				continue
			}
			if report.Checked > 0 {
				logrus.WithFields(logrus.Fields{
					"checked":   report.Checked,
					"completed": report.Completed,
					"failed":    report.Failed,
					"pending":   report.StillPending,
				}).Info("payout reconciliation finished")
			}
		}
	}
}

// Run performs one sweep. Stuck claims are handled first so that any of them
// carrying a transaction reference are checked in the same pass.
func (s *ReconciliationSweep) Run(ctx context.Context) (ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "ReconcilePayouts")
	defer span.End()

	var report ReconcileReport
	if err := s.releaseStuckClaims(ctx, &report); err != nil {
		return report, err
	}

	unconfirmed, err := s.prizepay.datasource.ListPayoutsByStatus(ctx, model.StatusUnconfirmed, s.batchSize)
	if err != nil {
		return report, err
	}

	for _, p := range unconfirmed {
		report.Checked++
		s.reconcile(ctx, p, &report)
	}

	if len(report.NeedsReview) > 0 {
		s.prizepay.notifier.Notify(notification.Alert{
			Title:    "Payouts need manual review",
			Severity: notification.SeverityCritical,
			Message:  fmt.Sprintf("%d payout(s) were claimed but never reached the ledger step that records a transaction reference", len(report.NeedsReview)),
			Fields:   map[string]string{"payout_ids": fmt.Sprint(report.NeedsReview)},
		})
	}
	return report, nil
}

func (s *ReconciliationSweep) reconcile(ctx context.Context, p *model.PayoutRequest, report *ReconcileReport) {
	entry := logrus.WithFields(logrus.Fields{"payout_id": p.PayoutID, "tx_reference": p.TxReference})

	if p.TxReference == "" {
		entry.Error("unconfirmed payout has no transaction reference")
		report.NeedsReview = append(report.NeedsReview, p.PayoutID)
		return
	}

	status, err := s.prizepay.ledger.GetConfirmationStatus(ctx, p.TxReference)
	if err != nil {
		entry.WithError(err).Warn("could not fetch confirmation status")
		report.StillPending++
		return
	}

	detail := status.Detail
	var (
		target model.PayoutStatus
		reason model.FailureReason
	)
	switch {
	case status.Landed():
		target = model.StatusCompleted
	case status.State == model.ConfirmationError:
		target, reason = model.StatusFailed, model.ReasonLedgerExecutionError
	case status.State == model.ConfirmationUnknown && s.expired(p):
		// the ledger has no record of the transfer and its blockhash can no longer land
		target, reason = model.StatusFailed, model.ReasonLedgerExecutionError
		detail = fmt.Sprintf("transfer expired: not found on the ledger %s after submission", s.expiryWindow)
	default:
		report.StillPending++
		return
	}

	if err := s.prizepay.datasource.ResolveUnconfirmed(ctx, p.PayoutID, target, reason, detail); err != nil {
		entry.WithError(err).Error("failed to resolve unconfirmed payout")
		return
	}

	metrics.RecordReconciled(string(target))
	if target == model.StatusCompleted {
		report.Completed++
		entry.Info("unconfirmed payout confirmed on ledger")
	} else {
		report.Failed++
		entry.WithField("detail", detail).Warn("unconfirmed payout failed on ledger")
	}

	if s.prizepay.webhooks != nil {
		o := model.Outcome{PayoutID: p.PayoutID, Status: target, TxReference: p.TxReference,
			Confirmed: target == model.StatusCompleted, Reason: reason, Detail: detail}
		if err := s.prizepay.webhooks.Send(ctx, "payout."+string(target), webhookPayload(p, o)); err != nil {
			entry.WithError(err).Warn("failed to enqueue payout webhook")
		}
	}
}

// expired reports whether p was submitted longer ago than the transfer could still land.
func (s *ReconciliationSweep) expired(p *model.PayoutRequest) bool {
	submitted, ok := p.SubmittedSince()
	return ok && time.Since(submitted) > s.expiryWindow
}

// releaseStuckClaims looks at payouts left in processing past the threshold.
// With a reference the transfer went out and is handed to the unconfirmed check;
// without one nobody can tell whether it did, so it is only flagged.
func (s *ReconciliationSweep) releaseStuckClaims(ctx context.Context, report *ReconcileReport) error {
	stuck, err := s.prizepay.datasource.ListStuckProcessing(ctx, s.stuckThreshold, s.batchSize)
	if err != nil {
		return err
	}

	for _, p := range stuck {
		entry := logrus.WithFields(logrus.Fields{"payout_id": p.PayoutID, "claimed_at": p.ClaimedAt})
		if p.TxReference == "" {
			entry.Error("payout stuck in processing without a transaction reference")
			report.NeedsReview = append(report.NeedsReview, p.PayoutID)
			continue
		}

		err := s.prizepay.datasource.MarkUnconfirmed(ctx, p.PayoutID, p.TxReference, "processing claim abandoned")
		if err != nil {
			entry.WithError(err).Error("failed to move stuck payout to unconfirmed")
			continue
		}
		report.Requeued++
		entry.Warn("stuck payout moved to unconfirmed")
	}
	return nil
}
