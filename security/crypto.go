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
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/flynn/noise"
	"github.com/sabermesh/saber/constant"
	"github.com/sabermesh/saber/errcode"
	"go.uber.org/atomic"
	"golang.org/x/crypto/hkdf"
)

// keyExchangeSalt is the HKDF salt used to derive session keys from the
// raw X25519 shared secret.
const keyExchangeSalt = "SABER-PROTOCOL-KEY"

// tokenTrailerSize is the fixed tail of a security token payload:
// 8-byte timestamp + 8-byte expiry.
const tokenTrailerSize = 16

// Engine holds the key material of one mesh node and implements the SABER
// envelope: AES-256-GCM under the shared network key, Ed25519 signatures
// over mesh identities and X25519 key agreement for pairwise session keys.
//
// Sealing is safe from concurrent goroutines (the nonce counter is
// atomic); key registration and exchange-key installation are single-owner
// operations performed during setup. The counter is monotone for the
// lifetime of the instance only: network keys must not be reused across
// process restarts, so either rotate the key or treat the engine as
// session-scoped.
type Engine struct {
	networkKey   [constant.NetworkKeySize]byte
	aead         cipher.AEAD
	signPublic   ed25519.PublicKey
	signPrivate  ed25519.PrivateKey
	exchangeKey  noise.DHKey
	knownKeys    map[string]ed25519.PublicKey
	nonceCounter *atomic.Uint32
}

// New returns an engine with a freshly generated network key, Ed25519
// signing keypair and X25519 exchange keypair.
func New() (*Engine, error) {
	var key [constant.NetworkKeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, errcode.Wrap(err, errcode.CryptoEncryption)
	}
	return WithNetworkKey(key[:])
}

// WithNetworkKey returns an engine bound to an existing 32-byte network key.
// Signing and exchange keypairs are generated fresh.
func WithNetworkKey(networkKey []byte) (*Engine, error) {
	if len(networkKey) != constant.NetworkKeySize {
		return nil, errcode.New("network key must be 32 bytes", errcode.InvalidArgument)
	}

	e := &Engine{
		knownKeys:    map[string]ed25519.PublicKey{},
		nonceCounter: atomic.NewUint32(0),
	}
	copy(e.networkKey[:], networkKey)

	block, err := aes.NewCipher(e.networkKey[:])
	if err != nil {
		return nil, errcode.Wrap(err, errcode.CryptoEncryption)
	}
	e.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.CryptoEncryption)
	}

	e.signPublic, e.signPrivate, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.CryptoSignature)
	}
	e.exchangeKey, err = noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.CryptoKeyExchange)
	}
	return e, nil
}

// SetExchangeKey installs a persisted X25519 keypair, replacing the
// generated one. The keypair is validated first: an incomplete key would
// silently derive garbage session keys.
func (e *Engine) SetExchangeKey(key *ExchangeKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	e.exchangeKey = key.noiseKey()
	return nil
}

// generateNonce builds the 12-byte AEAD nonce: 8 bytes of current
// wall-clock milliseconds followed by 4 bytes of a monotone counter.
// The counter pre-increments on every call, so two envelopes sealed at
// the same millisecond still get distinct nonces.
func (e *Engine) generateNonce() [constant.NonceSize]byte {
	counter := e.nonceCounter.Inc()

	var nonce [constant.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], timestampMs())
	binary.LittleEndian.PutUint32(nonce[8:], counter)
	return nonce
}

// Encrypt seals payload into the wire envelope:
// | nonce(12bytes) | ciphertext | tag(16bytes) |
func (e *Engine) Encrypt(payload []byte) ([]byte, error) {
	nonce := e.generateNonce()

	out := make([]byte, constant.NonceSize, constant.NonceSize+len(payload)+constant.TagSize)
	copy(out, nonce[:])
	return e.aead.Seal(out, nonce[:], payload, nil), nil
}

// Decrypt opens a wire envelope produced by Encrypt and returns the
// plaintext payload.
func (e *Engine) Decrypt(data []byte) ([]byte, error) {
	if len(data) < constant.EnvelopeOverhead {
		return nil, errcode.New("encrypted data too short", errcode.CryptoDecryption)
	}

	plaintext, err := e.aead.Open(nil, data[:constant.NonceSize], data[constant.NonceSize:], nil)
	if err != nil {
		return nil, errcode.New("authentication tag verification failed", errcode.CryptoDecryption)
	}
	return plaintext, nil
}

// Sign returns the 64-byte detached Ed25519 signature over message.
func (e *Engine) Sign(message []byte) []byte {
	return ed25519.Sign(e.signPrivate, message)
}

// Verify checks a detached signature against the registered public key of
// nodeID. An unregistered node is a verification error, not a false result.
func (e *Engine) Verify(nodeID string, message, signature []byte) (bool, error) {
	publicKey, ok := e.knownKeys[nodeID]
	if !ok {
		return false, errcode.New("unknown node: "+nodeID, errcode.CryptoVerification)
	}
	if len(publicKey) != constant.PublicKeySize {
		return false, errcode.New("invalid public key format", errcode.CryptoVerification)
	}
	if len(signature) != constant.SignatureSize {
		return false, errcode.New("invalid signature format", errcode.CryptoVerification)
	}
	return ed25519.Verify(publicKey, message, signature), nil
}

// RegisterNodeKey records the Ed25519 public key of a mesh node.
func (e *Engine) RegisterNodeKey(nodeID string, publicKey []byte) error {
	if len(publicKey) != constant.PublicKeySize {
		return errcode.New("public key must be 32 bytes", errcode.InvalidArgument)
	}
	key := make(ed25519.PublicKey, constant.PublicKeySize)
	copy(key, publicKey)
	e.knownKeys[nodeID] = key
	return nil
}

// Hash returns the SHA-256 digest of data.
func (e *Engine) Hash(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

// KeyExchange derives a 32-byte pairwise key from the peer's X25519 public
// key: scalar multiply, then HKDF extraction with the protocol salt.
func (e *Engine) KeyExchange(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != noise.DH25519.DHLen() {
		return nil, errcode.New("invalid peer public key length", errcode.CryptoKeyExchange)
	}

	shared, err := noise.DH25519.DH(e.exchangeKey.Private, peerPublic)
	if err != nil {
		return nil, errcode.Wrap(err, errcode.CryptoKeyExchange)
	}
	return hkdf.Extract(sha256.New, shared, []byte(keyExchangeSalt)), nil
}

// GenerateSecurityToken builds an encrypted, signed token proving that this
// engine vouches for nodeID until the ttl elapses.
//
// Token payload (before sealing):
// | node_id | timestamp(8bytes) | expiry(8bytes) | signature(64bytes) |
// Integers are little-endian milliseconds since the unix epoch.
func (e *Engine) GenerateSecurityToken(nodeID string, ttl time.Duration) ([]byte, error) {
	now := timestampMs()
	expiry := now + uint64(ttl.Milliseconds())

	payload := make([]byte, 0, len(nodeID)+tokenTrailerSize+constant.SignatureSize)
	payload = append(payload, nodeID...)
	payload = binary.LittleEndian.AppendUint64(payload, now)
	payload = binary.LittleEndian.AppendUint64(payload, expiry)

	payload = append(payload, e.Sign(payload)...)
	return e.Encrypt(payload)
}

// VerifySecurityToken decrypts and validates a security token, returning
// the vouched node id and the expiry timestamp in milliseconds.
func (e *Engine) VerifySecurityToken(token []byte) (string, uint64, error) {
	decrypted, err := e.Decrypt(token)
	if err != nil {
		return "", 0, err
	}

	if len(decrypted) < tokenTrailerSize+constant.SignatureSize {
		return "", 0, errcode.New("invalid token format", errcode.CryptoVerification)
	}

	split := len(decrypted) - constant.SignatureSize
	data, signature := decrypted[:split], decrypted[split:]

	nodeIDSize := len(data) - tokenTrailerSize
	nodeID := string(data[:nodeIDSize])
	expiry := binary.LittleEndian.Uint64(data[nodeIDSize+8:])

	if timestampMs() > expiry {
		return "", 0, errcode.New("token expired", errcode.CryptoVerification)
	}

	ok, err := e.Verify(nodeID, data, signature)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, errcode.New("invalid token signature", errcode.CryptoVerification)
	}
	return nodeID, expiry, nil
}

// NetworkKey returns a copy of the shared network key.
func (e *Engine) NetworkKey() []byte {
	key := make([]byte, constant.NetworkKeySize)
	copy(key, e.networkKey[:])
	return key
}

// PublicKey returns the Ed25519 signing public key of this engine.
func (e *Engine) PublicKey() []byte {
	key := make([]byte, len(e.signPublic))
	copy(key, e.signPublic)
	return key
}

// ExchangePublicKey returns the X25519 public key of this engine.
func (e *Engine) ExchangePublicKey() []byte {
	key := make([]byte, len(e.exchangeKey.Public))
	copy(key, e.exchangeKey.Public)
	return key
}

// ExchangeKey returns the X25519 keypair for persisting by a collaborator.
func (e *Engine) ExchangeKey() *ExchangeKey {
	return FromNoiseKey(e.exchangeKey)
}

func timestampMs() uint64 {
	return uint64(time.Now().UnixMilli())
}
