package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateCreatePayout(t *testing.T) {
	tests := []struct {
		name    string
		payout  CreatePayout
		wantErr string
	}{
		{
			name:   "valid",
			payout: CreatePayout{WalletAddress: "So11111111111111111111111111111111111111112", Amount: decimal.RequireFromString("0.025"), Kind: "sol_gem_small"},
		},
		{
			name:    "missing wallet",
			payout:  CreatePayout{Amount: decimal.NewFromInt(1)},
			wantErr: "wallet_address: cannot be blank.",
		},
		{
			name:    "bad wallet",
			payout:  CreatePayout{WalletAddress: "0xabc", Amount: decimal.NewFromInt(1)},
			wantErr: "wallet_address: must be a valid base58 wallet address.",
		},
		{
			name:    "zero amount",
			payout:  CreatePayout{WalletAddress: "So11111111111111111111111111111111111111112"},
			wantErr: "amount: must be greater than zero.",
		},
		{
			name:    "negative amount",
			payout:  CreatePayout{WalletAddress: "So11111111111111111111111111111111111111112", Amount: decimal.NewFromInt(-2)},
			wantErr: "amount: must be greater than zero.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payout.ValidateCreatePayout()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}
