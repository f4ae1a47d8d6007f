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
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/internal/metrics"
	"github.com/blnkfinance/prizepay/model"
)

const triggerWorker = "worker"

type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerDraining WorkerState = "draining"
)

// DrainReport summarises one drain cycle.
type DrainReport struct {
	Claimed     int `json:"claimed"`
	Completed   int `json:"completed"`
	Unconfirmed int `json:"unconfirmed"`
	Failed      int `json:"failed"`
}

func (r *DrainReport) add(o model.Outcome) {
	switch o.Status {
	case model.StatusCompleted:
		r.Completed++
	case model.StatusUnconfirmed:
		r.Unconfirmed++
	default:
		r.Failed++
	}
}

// PayoutWorker drains pending payouts on a fixed period. Payouts are claimed and
// executed one at a time so a claim never waits behind other transfers and each
// balance check sees what the previous one spent.
type PayoutWorker struct {
	prizepay *Prizepay
	interval time.Duration
	draining atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewPayoutWorker(p *Prizepay) *PayoutWorker {
	interval := time.Duration(config.DefaultWorkerIntervalSec) * time.Second
	cfg, err := config.Fetch()
	if err == nil && cfg.Payout.WorkerIntervalSec > 0 {
		interval = cfg.Payout.WorkerInterval()
	}

	return &PayoutWorker{
		prizepay: p,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (w *PayoutWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	logrus.WithField("interval", w.interval).Info("Payout worker started")
}

func (w *PayoutWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	logrus.Info("Payout worker stopped")
}

func (w *PayoutWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *PayoutWorker) State() WorkerState {
	if w.draining.Load() {
		return WorkerDraining
	}
	return WorkerIdle
}

func (w *PayoutWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Payout worker context cancelled")
			return
		case <-w.stopCh:
			logrus.Info("Payout worker stop signal received")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PayoutWorker) tick(ctx context.Context) {
	report, err := w.RunOnce(ctx)
	metrics.RecordWorkerTick(err)
	if err != nil {
		logrus.WithError(err).Error("payout drain failed")
		return
	}
	if report.Claimed > 0 {
		logrus.WithFields(logrus.Fields{
			"claimed":     report.Claimed,
			"completed":   report.Completed,
			"unconfirmed": report.Unconfirmed,
			"failed":      report.Failed,
		}).Info("payout drain finished")
	}
}

// RunOnce performs one Idle -> Draining -> Idle cycle: an observability read of
// the treasury, then claim and execute payouts until nothing is pending.
// Cancelling ctx stops further claims; a payout already claimed runs to its outcome.
func (w *PayoutWorker) RunOnce(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	if !w.draining.CompareAndSwap(false, true) {
		return report, ErrDrainInProgress
	}
	defer w.draining.Store(false)

	if _, err := w.prizepay.monitor.Check(ctx); err != nil {
		logrus.WithError(err).Warn("treasury balance check failed")
	}

	for ctx.Err() == nil {
		batch, err := w.prizepay.ClaimNextBatch(ctx, 1)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}

		report.Claimed++
		started := time.Now()
		outcome := w.prizepay.executor.Execute(context.WithoutCancel(ctx), batch[0])
		recordOutcome(triggerWorker, outcome, started)
		report.add(outcome)
	}
	return report, nil
}
