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
	"embed"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/database"
	"github.com/blnkfinance/prizepay/internal/notification"
	"github.com/blnkfinance/prizepay/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("prizepay")

// LedgerClient is the capability surface prizepay needs from the ledger.
// The treasury signer lives inside the implementation; callers only name the recipient.
type LedgerClient interface {
	ValidateAddress(address string) error
	GetBalance(ctx context.Context, account string) (uint64, error)
	SubmitTransfer(ctx context.Context, recipient string, lamports uint64) (string, error)
	GetConfirmationStatus(ctx context.Context, txReference string) (model.ConfirmationStatus, error)
}

// SubmissionGate serializes balance checks and broadcasts across processes.
type SubmissionGate interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Prizepay ties the payout store, the ledger and the executor together. Both the
// worker and the inline request path go through the same executor.
type Prizepay struct {
	datasource database.IDataSource
	ledger     LedgerClient
	treasury   string
	decimals   int32
	batchSize  int

	executor *TransferExecutor
	monitor  *TreasuryMonitor
	notifier notification.Notifier
	webhooks WebhookSender
	gate     SubmissionGate
}

// Option customizes a Prizepay built by NewPrizepay.
type Option func(*Prizepay)

// WithNotifier routes alerts to n instead of the log notifier.
func WithNotifier(n notification.Notifier) Option {
	return func(p *Prizepay) { p.notifier = n }
}

// WithWebhooks delivers payout outcome events through w.
func WithWebhooks(w WebhookSender) Option {
	return func(p *Prizepay) { p.webhooks = w }
}

// WithSubmissionGate runs every balance check and broadcast under g.
func WithSubmissionGate(g SubmissionGate) Option {
	return func(p *Prizepay) { p.gate = g }
}

// NewPrizepay builds the service from the loaded configuration. treasuryAddress is
// the account the ledger client signs for.
func NewPrizepay(db database.IDataSource, ledger LedgerClient, treasuryAddress string, opts ...Option) (*Prizepay, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	p := &Prizepay{
		datasource: db,
		ledger:     ledger,
		treasury:   treasuryAddress,
		decimals:   cfg.Ledger.Decimals,
		batchSize:  cfg.Payout.BatchSize,
		notifier:   notification.LogNotifier{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.decimals == 0 {
		p.decimals = config.DefaultLedgerDecimals
	}
	if p.batchSize <= 0 {
		p.batchSize = config.DefaultBatchSize
	}

	feeReserve := cfg.Payout.FeeReserveLamports
	if feeReserve == 0 {
		feeReserve = config.DefaultFeeReserveLamports
	}

	p.executor = &TransferExecutor{
		store:        db,
		ledger:       ledger,
		guard:        NewBalanceGuard(ledger, db, treasuryAddress, feeReserve),
		gate:         p.gate,
		notifier:     p.notifier,
		webhooks:     p.webhooks,
		pollInterval: durationOr(cfg.Payout.PollInterval(), time.Duration(config.DefaultPollIntervalMs)*time.Millisecond),
		maxPolls:     intOr(cfg.Payout.MaxPollAttempts, config.DefaultMaxPollAttempts),
		timeout:      durationOr(cfg.Payout.RequestTimeout(), config.DefaultRequestTimeoutSec*time.Second),
	}
	p.monitor = NewTreasuryMonitor(ledger, treasuryAddress, p.decimals, cfg.Treasury, p.notifier)

	return p, nil
}

func (p *Prizepay) Executor() *TransferExecutor {
	return p.executor
}

func (p *Prizepay) TreasuryMonitor() *TreasuryMonitor {
	return p.monitor
}

func (p *Prizepay) TreasuryAddress() string {
	return p.treasury
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func intOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
