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
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

var ErrInvalidTreasuryKey = errors.New("invalid treasury private key")

// Treasury is the signing capability for the account that funds payouts.
// It is built once at startup and handed to NewClient; the key never leaves it.
type Treasury struct {
	key     solana.PrivateKey
	address solana.PublicKey
}

// NewTreasury decodes the treasury secret key and, when expectedAddress is set,
// checks that it belongs to that account. Both the base58 form and the JSON byte
// array written by solana-keygen are accepted.
func NewTreasury(secret string, expectedAddress string) (*Treasury, error) {
	raw, err := decodeSecret(strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidTreasuryKey, ed25519.PrivateKeySize, len(raw))
	}

	key := solana.PrivateKey(raw)
	t := &Treasury{key: key, address: key.PublicKey()}

	if expectedAddress != "" && t.address.String() != expectedAddress {
		return nil, fmt.Errorf("%w: key belongs to %s, configured treasury is %s", ErrInvalidTreasuryKey, t.address, expectedAddress)
	}
	return t, nil
}

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTreasuryKey)
	}

	if strings.HasPrefix(secret, "[") {
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTreasuryKey, err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte out of range", ErrInvalidTreasuryKey)
			}
			raw = append(raw, byte(v))
		}
		return raw, nil
	}

	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTreasuryKey, err)
	}
	return raw, nil
}

func (t *Treasury) Address() string {
	return t.address.String()
}

func (t *Treasury) PublicKey() solana.PublicKey {
	return t.address
}

func (t *Treasury) signer(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(t.address) {
		return &t.key
	}
	return nil
}
