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

package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/prizepay/model"
)

var (
	// ErrSubmitRejected means the transfer was refused before it could be broadcast
	// or by the node itself. No funds moved.
	ErrSubmitRejected = errors.New("transfer rejected")

	ErrInvalidAddress = errors.New("invalid ledger address")
)

var tracer = otel.Tracer("prizepay.chain")

const defaultReadRetries = 3

// rpcAPI is the slice of the Solana JSON-RPC surface the client relies on.
type rpcAPI interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Client talks to a Solana RPC node on behalf of the treasury.
type Client struct {
	rpc         rpcAPI
	treasury    *Treasury
	commitment  rpc.CommitmentType
	timeout     time.Duration
	readRetries uint64
}

type Options struct {
	Commitment string
	Timeout    time.Duration
}

// NewClient connects to endpoint. The treasury may be nil for read-only use,
// in which case SubmitTransfer always fails.
func NewClient(endpoint string, treasury *Treasury, opts Options) *Client {
	return newClient(rpc.New(endpoint), treasury, opts)
}

func newClient(api rpcAPI, treasury *Treasury, opts Options) *Client {
	commitment := rpc.CommitmentType(opts.Commitment)
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		rpc:         api,
		treasury:    treasury,
		commitment:  commitment,
		timeout:     timeout,
		readRetries: defaultReadRetries,
	}
}

// ValidateAddress checks that address is a base58 encoded 32 byte public key.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

func (c *Client) ValidateAddress(address string) error {
	return ValidateAddress(address)
}

// TreasuryAddress returns the funding account, or "" when the client is read-only.
func (c *Client) TreasuryAddress() string {
	if c.treasury == nil {
		return ""
	}
	return c.treasury.Address()
}

// GetBalance returns the balance of account in lamports.
func (c *Client) GetBalance(ctx context.Context, account string) (uint64, error) {
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer span.End()

	pk, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	var balance uint64
	err = c.retryRead(ctx, func(ctx context.Context) error {
		res, err := c.rpc.GetBalance(ctx, pk, c.commitment)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch balance for %s: %w", account, err)
	}
	return balance, nil
}

// SubmitTransfer signs and broadcasts a system transfer of lamports from the
// treasury to recipient, returning the transaction signature.
//
// The signature is known before broadcast, so it is returned even when the send
// fails in transport: the transfer may still have reached the cluster and the
// caller must treat it as in flight. Errors wrapping ErrSubmitRejected carry no
// such risk.
func (c *Client) SubmitTransfer(ctx context.Context, recipient string, lamports uint64) (string, error) {
	ctx, span := tracer.Start(ctx, "SubmitTransfer")
	defer span.End()

	if c.treasury == nil {
		return "", fmt.Errorf("%w: no treasury signer configured", ErrSubmitRejected)
	}
	to, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitRejected, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	recent, err := c.rpc.GetLatestBlockhash(callCtx, c.commitment)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch recent blockhash: %v", ErrSubmitRejected, err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, c.treasury.PublicKey(), to).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.treasury.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to build transaction: %v", ErrSubmitRejected, err)
	}

	if _, err := tx.Sign(c.treasury.signer); err != nil {
		return "", fmt.Errorf("%w: failed to sign transaction: %v", ErrSubmitRejected, err)
	}
	signature := tx.Signatures[0].String()

	sent, err := c.rpc.SendTransactionWithOpts(callCtx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("%w: %s (code %d)", ErrSubmitRejected, rpcErr.Message, rpcErr.Code)
		}
		return signature, fmt.Errorf("transfer %s may have been broadcast: %w", signature, err)
	}

	return sent.String(), nil
}

// GetConfirmationStatus reports the ledger's view of a submitted transfer.
// Signatures the node has no record of, searching its full history, are reported
// as unknown; seen but not yet confirmed ones as pending.
func (c *Client) GetConfirmationStatus(ctx context.Context, txReference string) (model.ConfirmationStatus, error) {
	ctx, span := tracer.Start(ctx, "GetConfirmationStatus")
	defer span.End()

	sig, err := solana.SignatureFromBase58(txReference)
	if err != nil {
		return model.ConfirmationStatus{}, fmt.Errorf("invalid transaction reference %q: %w", txReference, err)
	}

	var result *rpc.GetSignatureStatusesResult
	err = c.retryRead(ctx, func(ctx context.Context) error {
		res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return model.ConfirmationStatus{}, fmt.Errorf("failed to fetch status for %s: %w", txReference, err)
	}

	if result == nil || len(result.Value) == 0 {
		return model.ConfirmationStatus{State: model.ConfirmationUnknown}, nil
	}
	return statusFromResult(result.Value[0]), nil
}

func statusFromResult(status *rpc.SignatureStatusesResult) model.ConfirmationStatus {
	if status == nil {
		return model.ConfirmationStatus{State: model.ConfirmationUnknown}
	}
	if status.Err != nil {
		return model.ConfirmationStatus{State: model.ConfirmationError, Detail: fmt.Sprintf("%v", status.Err)}
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return model.ConfirmationStatus{State: model.ConfirmationFinalized}
	case rpc.ConfirmationStatusConfirmed:
		return model.ConfirmationStatus{State: model.ConfirmationConfirmed}
	default:
		return model.ConfirmationStatus{State: model.ConfirmationPending}
	}
}

// retryRead retries idempotent RPC reads on transport errors. Errors returned
// by the node itself are not retried.
func (c *Client) retryRead(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.readRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		err := op(callCtx)
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
