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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/prizepay/internal/apierror"
	"github.com/blnkfinance/prizepay/model"
)

var tracer = otel.Tracer("prizepay.database")

const payoutColumns = `id, payout_id, recipient_address, amount, amount_minor, kind, status,
	tx_reference, failure_reason, error, created_at, claimed_at, submitted_at, resolved_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayout(row rowScanner) (*model.PayoutRequest, error) {
	p := &model.PayoutRequest{}
	var (
		amountMinor   int64
		status        string
		txReference   sql.NullString
		failureReason sql.NullString
		errorDetail   sql.NullString
		claimedAt     sql.NullTime
		submittedAt   sql.NullTime
		resolvedAt    sql.NullTime
	)

	err := row.Scan(&p.ID, &p.PayoutID, &p.RecipientAddress, &p.Amount, &amountMinor, &p.Kind, &status,
		&txReference, &failureReason, &errorDetail, &p.CreatedAt, &claimedAt, &submittedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	p.AmountMinor = uint64(amountMinor)
	p.Status = model.PayoutStatus(status)
	p.TxReference = txReference.String
	p.FailureReason = model.FailureReason(failureReason.String)
	p.Error = errorDetail.String
	if claimedAt.Valid {
		p.ClaimedAt = &claimedAt.Time
	}
	if submittedAt.Valid {
		p.SubmittedAt = &submittedAt.Time
	}
	if resolvedAt.Valid {
		p.ResolvedAt = &resolvedAt.Time
	}
	return p, nil
}

func scanPayouts(rows *sql.Rows) ([]*model.PayoutRequest, error) {
	defer rows.Close()

	payouts := []*model.PayoutRequest{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout data", err)
		}
		payouts = append(payouts, p)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over payouts", err)
	}
	return payouts, nil
}

func (d Datasource) CreatePayout(ctx context.Context, p *model.PayoutRequest) (*model.PayoutRequest, error) {
	ctx, span := tracer.Start(ctx, "Saving payout to db")
	defer span.End()

	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO prizepay.payouts (payout_id, recipient_address, amount, amount_minor, kind, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, p.PayoutID, p.RecipientAddress, p.Amount, int64(p.AmountMinor), p.Kind, string(p.Status), p.CreatedAt).Scan(&p.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Payout with this ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payout", err)
	}

	return p, nil
}

func (d Datasource) GetPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+payoutColumns+`
		FROM prizepay.payouts
		WHERE payout_id = $1
	`, id)

	p, err := scanPayout(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout", err)
	}
	return p, nil
}

func (d Datasource) ListPayoutsByStatus(ctx context.Context, status model.PayoutStatus, limit int) ([]*model.PayoutRequest, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM prizepay.payouts
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payouts", err)
	}
	return scanPayouts(rows)
}

func (d Datasource) ListStuckProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]*model.PayoutRequest, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM prizepay.payouts
		WHERE status = 'processing' AND claimed_at < $1
		ORDER BY claimed_at ASC
		LIMIT $2
	`, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stuck payouts", err)
	}
	return scanPayouts(rows)
}

// ClaimNextBatch flips up to limit pending payouts to processing in one statement.
// SKIP LOCKED lets concurrent claimers take disjoint rows instead of blocking,
// and the outer status predicate keeps the update a compare-and-swap.
func (d Datasource) ClaimNextBatch(ctx context.Context, limit int) ([]*model.PayoutRequest, error) {
	ctx, span := tracer.Start(ctx, "Claiming pending payouts")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE prizepay.payouts
		SET status = 'processing', claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM prizepay.payouts
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		) AND status = 'pending'
		RETURNING `+payoutColumns, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim payouts", err)
	}
	return scanPayouts(rows)
}

func (d Datasource) ClaimPayout(ctx context.Context, id string) (*model.PayoutRequest, error) {
	ctx, span := tracer.Start(ctx, "Claiming payout")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE prizepay.payouts
		SET status = 'processing', claimed_at = NOW()
		WHERE payout_id = $1 AND status = 'pending'
		RETURNING `+payoutColumns, id)

	p, err := scanPayout(row)
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim payout", err)
	}
	return nil, d.transitionConflict(ctx, id, model.StatusPending)
}

func (d Datasource) RecordSubmission(ctx context.Context, id string, txReference string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE prizepay.payouts
		SET tx_reference = $2, submitted_at = NOW()
		WHERE payout_id = $1 AND status = 'processing'
	`, id, txReference)
	return d.checkTransition(ctx, result, err, id, model.StatusProcessing)
}

// SumInFlight totals payouts whose transfer was submitted but not yet settled in
// the store: processing rows carrying a reference and every unconfirmed row.
func (d Datasource) SumInFlight(ctx context.Context) (model.InFlight, error) {
	ctx, span := tracer.Start(ctx, "Summing in-flight payouts")
	defer span.End()

	var count, amount int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount_minor), 0)
		FROM prizepay.payouts
		WHERE status = 'unconfirmed' OR (status = 'processing' AND tx_reference IS NOT NULL)
	`).Scan(&count, &amount)
	if err != nil {
		return model.InFlight{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum in-flight payouts", err)
	}
	return model.InFlight{Count: uint64(count), AmountMinor: uint64(amount)}, nil
}

func (d Datasource) MarkCompleted(ctx context.Context, id string, txReference string) error {
	if txReference == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "A completed payout requires a transaction reference", nil)
	}
	return d.transition(ctx, id, model.StatusProcessing, model.StatusCompleted, txReference, "", "")
}

func (d Datasource) MarkFailed(ctx context.Context, id string, reason model.FailureReason, detail string) error {
	return d.transition(ctx, id, model.StatusProcessing, model.StatusFailed, "", reason, detail)
}

func (d Datasource) MarkUnconfirmed(ctx context.Context, id string, txReference string, detail string) error {
	return d.transition(ctx, id, model.StatusProcessing, model.StatusUnconfirmed, txReference, model.ReasonConfirmationTimeout, detail)
}

func (d Datasource) ResolveUnconfirmed(ctx context.Context, id string, status model.PayoutStatus, reason model.FailureReason, detail string) error {
	if !status.IsTerminal() {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Cannot resolve payout to non-terminal status '%s'", status), nil)
	}
	return d.transition(ctx, id, model.StatusUnconfirmed, status, "", reason, detail)
}

// transition moves a payout from one status to another only if it is still in
// the expected status. An empty txReference keeps whatever reference is stored.
func (d Datasource) transition(ctx context.Context, id string, from, to model.PayoutStatus, txReference string, reason model.FailureReason, detail string) error {
	ctx, span := tracer.Start(ctx, "Updating payout status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE prizepay.payouts
		SET status = $3,
			tx_reference = COALESCE(NULLIF($4, ''), tx_reference),
			failure_reason = NULLIF($5, ''),
			error = NULLIF($6, ''),
			resolved_at = CASE WHEN $3 IN ('completed', 'failed') THEN NOW() ELSE resolved_at END
		WHERE payout_id = $1 AND status = $2
	`, id, string(from), string(to), txReference, string(reason), detail)
	return d.checkTransition(ctx, result, err, id, from)
}

func (d Datasource) checkTransition(ctx context.Context, result sql.Result, err error, id string, from model.PayoutStatus) error {
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payout status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return d.transitionConflict(ctx, id, from)
	}
	return nil
}

// transitionConflict explains why a conditional update matched no rows.
func (d Datasource) transitionConflict(ctx context.Context, id string, expected model.PayoutStatus) error {
	current, err := d.GetPayout(ctx, id)
	if err != nil {
		return err
	}
	return apierror.NewAPIError(apierror.ErrConflict,
		fmt.Sprintf("Payout '%s' is %s, expected %s", id, current.Status, expected), nil)
}
