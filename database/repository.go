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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/prizepay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	payout      // Interface for payout queue operations
	payoutClaim // Interface for atomic claim and state transitions
}

// payout defines the read and create side of the payout queue.
type payout interface {
	CreatePayout(ctx context.Context, p *model.PayoutRequest) (*model.PayoutRequest, error)                        // Persists a new pending payout
	GetPayout(ctx context.Context, id string) (*model.PayoutRequest, error)                                        // Retrieves a payout by ID
	ListPayoutsByStatus(ctx context.Context, status model.PayoutStatus, limit int) ([]*model.PayoutRequest, error) // Lists payouts in a given status, oldest first
	ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*model.PayoutRequest, error)   // Lists payouts claimed longer ago than olderThan
	SumInFlight(ctx context.Context) (model.InFlight, error)                                                       // Totals submitted payouts not yet settled
}

// payoutClaim defines the conditional updates that move a payout through its lifecycle.
// Every method is a single compare-and-swap on the status column.
type payoutClaim interface {
	ClaimNextBatch(ctx context.Context, limit int) ([]*model.PayoutRequest, error)                                                          // Claims up to limit pending payouts
	ClaimPayout(ctx context.Context, id string) (*model.PayoutRequest, error)                                                               // Claims one pending payout by ID
	RecordSubmission(ctx context.Context, id string, txReference string) error                                                              // Stores the transfer reference on a processing payout
	MarkCompleted(ctx context.Context, id string, txReference string) error                                                                 // processing -> completed
	MarkFailed(ctx context.Context, id string, reason model.FailureReason, detail string) error                                             // processing -> failed
	MarkUnconfirmed(ctx context.Context, id string, txReference string, detail string) error                                                // processing -> unconfirmed
	ResolveUnconfirmed(ctx context.Context, id string, status model.PayoutStatus, reason model.FailureReason, detail string) error          // unconfirmed -> completed | failed
}
