package prizepay

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/internal/metrics"
	"github.com/blnkfinance/prizepay/internal/notification"
	"github.com/blnkfinance/prizepay/model"
)

type TreasuryLevel string

const (
	TreasuryOK       TreasuryLevel = "ok"
	TreasuryNotice   TreasuryLevel = "notice"
	TreasuryWarning  TreasuryLevel = "warning"
	TreasuryCritical TreasuryLevel = "critical"
)

// TreasuryReport is a point-in-time view of the funding account.
type TreasuryReport struct {
	Address   string           `json:"address"`
	Lamports  uint64           `json:"lamports"`
	Balance   decimal.Decimal  `json:"balance"`
	Level     TreasuryLevel    `json:"level"`
	Coverage  map[string]int64 `json:"coverage"`
	CheckedAt time.Time        `json:"checked_at"`
}

type TreasuryMonitor struct {
	ledger   LedgerClient
	address  string
	decimals int32
	cfg      config.TreasuryConfig
	notifier notification.Notifier
}

func NewTreasuryMonitor(ledger LedgerClient, address string, decimals int32, cfg config.TreasuryConfig, notifier notification.Notifier) *TreasuryMonitor {
	if notifier == nil {
		notifier = notification.LogNotifier{}
	}
	return &TreasuryMonitor{
		ledger:   ledger,
		address:  address,
		decimals: decimals,
		cfg:      cfg,
		notifier: notifier,
	}
}

// Check reads the treasury balance, updates the gauge and alerts when the
// balance is at or below the warning threshold.
func (m *TreasuryMonitor) Check(ctx context.Context) (*TreasuryReport, error) {
	ctx, span := tracer.Start(ctx, "CheckTreasury")
	defer span.End()

	lamports, err := m.ledger.GetBalance(ctx, m.address)
	if err != nil {
		return nil, err
	}
	metrics.SetTreasuryBalance(lamports)

	balance := model.FromMinorUnits(lamports, m.decimals)
	report := &TreasuryReport{
		Address:   m.address,
		Lamports:  lamports,
		Balance:   balance,
		Level:     ClassifyBalance(balance, m.cfg),
		Coverage:  EstimateCoverage(balance, m.cfg.PrizeSizes),
		CheckedAt: time.Now().UTC(),
	}

	entry := logrus.WithFields(logrus.Fields{
		"treasury": m.address,
		"balance":  balance.String(),
		"level":    report.Level,
	})
	switch report.Level {
	case TreasuryCritical, TreasuryWarning:
		entry.Warn("treasury balance low")
		m.alert(report)
	case TreasuryNotice:
		entry.Info("treasury balance approaching warning threshold")
	default:
		entry.Debug("treasury balance healthy")
	}
	return report, nil
}

func (m *TreasuryMonitor) alert(r *TreasuryReport) {
	severity := notification.SeverityWarning
	if r.Level == TreasuryCritical {
		severity = notification.SeverityCritical
	}

	fields := map[string]string{
		"address": r.Address,
		"balance": r.Balance.String() + " SOL",
	}
	for kind, n := range r.Coverage {
		fields[kind] = strconv.FormatInt(n, 10) + " prizes left"
	}

	m.notifier.Notify(notification.Alert{
		Title:    "Treasury balance " + string(r.Level),
		Severity: severity,
		Message:  "Top up the treasury to keep payouts flowing.",
		Fields:   fields,
	})
}

// ClassifyBalance maps a balance to the lowest threshold it falls under.
func ClassifyBalance(balance decimal.Decimal, cfg config.TreasuryConfig) TreasuryLevel {
	switch {
	case balance.LessThan(cfg.CriticalBalance):
		return TreasuryCritical
	case balance.LessThan(cfg.WarningBalance):
		return TreasuryWarning
	case balance.LessThan(cfg.NoticeBalance):
		return TreasuryNotice
	}
	return TreasuryOK
}

// EstimateCoverage counts how many prizes of each size the balance still pays
// for, ignoring fees.
func EstimateCoverage(balance decimal.Decimal, sizes map[string]decimal.Decimal) map[string]int64 {
	coverage := make(map[string]int64, len(sizes))
	for kind, size := range sizes {
		if !size.IsPositive() || balance.IsNegative() {
			coverage[kind] = 0
			continue
		}
		coverage[kind] = balance.Div(size).Floor().IntPart()
	}
	return coverage
}
