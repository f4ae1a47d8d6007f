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
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/prizepay/internal/chain"
)

type CreatePayout struct {
	WalletAddress string          `json:"wallet_address"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          string          `json:"kind"`
}

func (p *CreatePayout) ValidateCreatePayout() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.WalletAddress, validation.Required, validation.By(func(value interface{}) error {
			address, ok := value.(string)
			if !ok {
				return errors.New("invalid type for wallet address")
			}
			if err := chain.ValidateAddress(address); err != nil {
				return errors.New("must be a valid base58 wallet address")
			}
			return nil
		})),
		validation.Field(&p.Amount, validation.By(func(value interface{}) error {
			amount, ok := value.(decimal.Decimal)
			if !ok {
				return errors.New("invalid type for amount")
			}
			if !amount.IsPositive() {
				return errors.New("must be greater than zero")
			}
			return nil
		})),
		validation.Field(&p.Kind, validation.Length(0, 64)),
	)
}
