// Copyright 2024 SaberMesh, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"encoding/base64"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sabermesh/saber/errcode"
)

const keySize = 32

// KeyBytes is one half of an X25519 exchange keypair. It persists as
// base64 text so a collaborator can store it in a node's yaml config.
type KeyBytes [keySize]byte

// IsZero reports whether the key is the zero value.
func (k KeyBytes) IsZero() bool { return k == KeyBytes{} }

func (k KeyBytes) String() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// ShortString returns the SABER conventional debug representation of a
// key: the first five base64 digits, in square brackets.
func (k KeyBytes) ShortString() string {
	return "[" + base64.StdEncoding.EncodeToString(k[:])[:5] + "]"
}

// MarshalText encodes the key as base64 text.
func (k KeyBytes) MarshalText() ([]byte, error) {
	buf := make([]byte, base64.StdEncoding.EncodedLen(len(k)))
	base64.StdEncoding.Encode(buf, k[:])
	return buf, nil
}

// UnmarshalText decodes the key from base64 text. A malformed persisted
// key is a key-exchange error: the engine must never run with a truncated
// exchange key.
func (k *KeyBytes) UnmarshalText(txt []byte) error {
	if !k.IsZero() {
		return errcode.New("refusing to unmarshal into a non-zero exchange key", errcode.InvalidArgument)
	}
	n, err := base64.StdEncoding.Decode(k[:], txt)
	if err != nil {
		return errcode.Wrap(err, errcode.CryptoKeyExchange)
	}
	if n != keySize {
		return errcode.New(fmt.Sprintf("short exchange key decode of %d bytes; want %d", n, keySize), errcode.CryptoKeyExchange)
	}
	return nil
}

// ExchangeKey is the X25519 exchange keypair of a SABER node in a form a
// collaborator can persist (the engine itself never writes key material).
type ExchangeKey struct {
	Public  KeyBytes `json:"public" yaml:"public"`
	Private KeyBytes `json:"private" yaml:"private"`
}

// FromNoiseKey converts a generated noise.DHKey into the persistable form.
func FromNoiseKey(nKey noise.DHKey) *ExchangeKey {
	var k ExchangeKey
	copy(k.Public[:], nKey.Public)
	copy(k.Private[:], nKey.Private)
	return &k
}

// IsZero reports whether the public half is the zero value.
func (k *ExchangeKey) IsZero() bool {
	return k.Public.IsZero()
}

// Equals reports whether two keypairs are identical.
func (k *ExchangeKey) Equals(k2 *ExchangeKey) bool {
	if k2 == nil {
		return false
	}
	if k.Public != k2.Public {
		return false
	}
	return k.Private == k2.Private
}

// Validate rejects keypairs that cannot drive a SABER key exchange: a
// missing half means the node would derive garbage session keys.
func (k *ExchangeKey) Validate() error {
	if k == nil {
		return errcode.New("exchange keypair is missing", errcode.CryptoKeyExchange)
	}
	if k.Public.IsZero() || k.Private.IsZero() {
		return errcode.New("exchange keypair is incomplete", errcode.CryptoKeyExchange)
	}
	return nil
}

// noiseKey rebuilds the noise.DHKey the engine computes DH with.
func (k *ExchangeKey) noiseKey() noise.DHKey {
	return noise.DHKey{
		Public:  k.Public[:],
		Private: k.Private[:],
	}
}
