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
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/prizepay/model"
)

const listLimit = 500

// EnqueuePayout records a new pending payout. The recipient format is checked
// later by the executor; here it only has to be present.
func (p *Prizepay) EnqueuePayout(ctx context.Context, recipient string, amount decimal.Decimal, kind string) (*model.PayoutRequest, error) {
	ctx, span := tracer.Start(ctx, "EnqueuePayout")
	defer span.End()

	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("%w: recipient address is required", ErrInvalidInput)
	}

	minor, err := model.ToMinorUnits(amount, p.decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	payout := &model.PayoutRequest{
		PayoutID:         model.GenerateUUIDWithSuffix("pay"),
		RecipientAddress: recipient,
		Amount:           amount,
		AmountMinor:      minor,
		Kind:             strings.TrimSpace(kind),
		Status:           model.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}

	created, err := p.datasource.CreatePayout(ctx, payout)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"payout_id": created.PayoutID,
		"amount":    created.Amount.String(),
		"kind":      created.Kind,
	}).Info("payout enqueued")
	return created, nil
}

func (p *Prizepay) ClaimNextBatch(ctx context.Context, limit int) ([]*model.PayoutRequest, error) {
	return p.datasource.ClaimNextBatch(ctx, limit)
}

// ClaimPayout fails with a NOT_FOUND or CONFLICT APIError when the payout is
// missing or already claimed.
func (p *Prizepay) ClaimPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	return p.datasource.ClaimPayout(ctx, id)
}

func (p *Prizepay) MarkCompleted(ctx context.Context, id string, txReference string) error {
	return p.datasource.MarkCompleted(ctx, id, txReference)
}

func (p *Prizepay) MarkFailed(ctx context.Context, id string, reason model.FailureReason, detail string) error {
	return p.datasource.MarkFailed(ctx, id, reason, detail)
}

func (p *Prizepay) ListPendingPayouts(ctx context.Context) ([]*model.PayoutRequest, error) {
	return p.datasource.ListPayoutsByStatus(ctx, model.StatusPending, listLimit)
}

func (p *Prizepay) ListUnconfirmedPayouts(ctx context.Context) ([]*model.PayoutRequest, error) {
	return p.datasource.ListPayoutsByStatus(ctx, model.StatusUnconfirmed, listLimit)
}

func (p *Prizepay) GetPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	return p.datasource.GetPayout(ctx, id)
}
