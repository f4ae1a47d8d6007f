package model

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrFractionalAmount  = errors.New("amount does not convert to a whole number of minor units")
	ErrAmountOverflow    = errors.New("amount exceeds the largest transferable value")
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New() // Generate a new UUID.
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr) // Append the module as a suffix to the UUID.
	return idWithSuffix
}

// ToMinorUnits converts an amount in the ledger's major unit into minor units.
// The conversion is exact: amounts that would need rounding are rejected.
func ToMinorUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if !amount.IsPositive() {
		return 0, ErrNonPositiveAmount
	}

	minor := amount.Shift(decimals)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s with %d decimals", ErrFractionalAmount, amount.String(), decimals)
	}

	value := minor.BigInt()
	if !value.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return value.Uint64(), nil
}

// FromMinorUnits converts minor units back into the major unit.
func FromMinorUnits(minor uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(minor), -decimals)
}
