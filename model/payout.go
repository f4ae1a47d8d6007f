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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the lifecycle state of a payout request.
type PayoutStatus string

const (
	StatusPending    PayoutStatus = "pending"
	StatusProcessing PayoutStatus = "processing"
	StatusCompleted  PayoutStatus = "completed"
	StatusFailed     PayoutStatus = "failed"

	// StatusUnconfirmed marks a payout whose transfer was submitted but whose
	// confirmation never arrived. Only the reconciliation sweep moves it on.
	StatusUnconfirmed PayoutStatus = "unconfirmed"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s PayoutStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FailureReason classifies why a payout did not complete cleanly.
type FailureReason string

const (
	ReasonInvalidInput         FailureReason = "invalid_input"
	ReasonInvalidRecipient     FailureReason = "invalid_recipient"
	ReasonInsufficientBalance  FailureReason = "insufficient_balance"
	ReasonSubmitRejected       FailureReason = "submit_rejected"
	ReasonLedgerExecutionError FailureReason = "ledger_execution_error"
	ReasonConfirmationTimeout  FailureReason = "confirmation_timeout"
	ReasonPersistenceFailure   FailureReason = "persistence_failure"
)

// Retryable reports whether a payout failing for this reason can be safely
// re-enqueued, i.e. no funds can have left the treasury.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonInvalidInput, ReasonInvalidRecipient, ReasonInsufficientBalance,
		ReasonSubmitRejected, ReasonLedgerExecutionError:
		return true
	}
	return false
}

// PayoutRequest is a single prize transfer from the treasury to a player wallet.
type PayoutRequest struct {
	ID               int64           `json:"-"`
	PayoutID         string          `json:"id"`
	RecipientAddress string          `json:"wallet_address"`
	Amount           decimal.Decimal `json:"amount"`
	AmountMinor      uint64          `json:"amount_minor"`
	Kind             string          `json:"kind"`
	Status           PayoutStatus    `json:"status"`
	TxReference      string          `json:"tx_reference,omitempty"`
	FailureReason    FailureReason   `json:"failure_reason,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ClaimedAt        *time.Time      `json:"claimed_at,omitempty"`
	SubmittedAt      *time.Time      `json:"submitted_at,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// SubmittedSince returns when the transfer was handed to the ledger, falling back
// to the claim time for rows recorded before submissions were timestamped.
func (p *PayoutRequest) SubmittedSince() (time.Time, bool) {
	if p.SubmittedAt != nil {
		return *p.SubmittedAt, true
	}
	if p.ClaimedAt != nil {
		return *p.ClaimedAt, true
	}
	return time.Time{}, false
}

// InFlight totals transfers that left the treasury but may not show in its
// confirmed balance yet.
type InFlight struct {
	Count       uint64 `json:"count"`
	AmountMinor uint64 `json:"amount_minor"`
}

// ConfirmationState is the ledger's view of a submitted transfer.
type ConfirmationState string

const (
	ConfirmationPending   ConfirmationState = "pending"
	ConfirmationConfirmed ConfirmationState = "confirmed"
	ConfirmationFinalized ConfirmationState = "finalized"
	ConfirmationError     ConfirmationState = "error"

	// ConfirmationUnknown means the ledger has no record of the signature at all.
	ConfirmationUnknown ConfirmationState = "unknown"
)

type ConfirmationStatus struct {
	State  ConfirmationState `json:"state"`
	Detail string            `json:"detail,omitempty"`
}

// Landed reports whether the ledger has durably recorded the transfer.
func (c ConfirmationStatus) Landed() bool {
	return c.State == ConfirmationConfirmed || c.State == ConfirmationFinalized
}

// Outcome is the result of a single execution attempt on a payout.
type Outcome struct {
	PayoutID    string        `json:"payout_id"`
	Status      PayoutStatus  `json:"status"`
	TxReference string        `json:"tx_reference,omitempty"`
	Confirmed   bool          `json:"confirmed"`
	Reason      FailureReason `json:"reason,omitempty"`
	Detail      string        `json:"detail,omitempty"`

	// PersistenceError is set when the outcome could not be written back to
	// the store. The ledger side effect described by the outcome still stands.
	PersistenceError error `json:"-"`
}

func CompletedOutcome(payoutID, txReference string) Outcome {
	return Outcome{PayoutID: payoutID, Status: StatusCompleted, TxReference: txReference, Confirmed: true}
}

func UnconfirmedOutcome(payoutID, txReference, detail string) Outcome {
	return Outcome{
		PayoutID:    payoutID,
		Status:      StatusUnconfirmed,
		TxReference: txReference,
		Reason:      ReasonConfirmationTimeout,
		Detail:      detail,
	}
}

func FailedOutcome(payoutID, txReference string, reason FailureReason, detail string) Outcome {
	return Outcome{
		PayoutID:    payoutID,
		Status:      StatusFailed,
		TxReference: txReference,
		Reason:      reason,
		Detail:      detail,
	}
}

// Succeeded is true when the transfer was sent and must not be paid again.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusCompleted || o.Status == StatusUnconfirmed
}

// PayoutResult is what the inline request path hands back to its caller.
type PayoutResult struct {
	Success     bool          `json:"success"`
	PayoutID    string        `json:"payout_id,omitempty"`
	TxReference string        `json:"tx_reference,omitempty"`
	Confirmed   bool          `json:"confirmed"`
	Status      PayoutStatus  `json:"status,omitempty"`
	Reason      FailureReason `json:"reason,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ToResult converts an execution outcome into a caller-facing result.
func (o Outcome) ToResult() PayoutResult {
	res := PayoutResult{
		Success:     o.Succeeded(),
		PayoutID:    o.PayoutID,
		TxReference: o.TxReference,
		Confirmed:   o.Confirmed,
		Status:      o.Status,
		Reason:      o.Reason,
	}
	if !res.Success {
		res.Error = o.Detail
	}
	if o.PersistenceError != nil {
		res.Reason = ReasonPersistenceFailure
	}
	return res
}
