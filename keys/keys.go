// Copyright 2016 The Roughtime Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License. */

// Package keys holds the server's long-term identity behind a signing
// capability and manages the delegated online key.
package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/stoneclock/roughtime/protocol"
)

// SeedSize is the length of the long-term key seed.
const SeedSize = 32

// SigningBackend is the capability the core consumes to reach the
// long-term identity. The long-term secret itself never crosses this
// interface; only one delegation signature is ever requested, at startup.
type SigningBackend interface {
	// PublicKey returns the 32-byte long-term Ed25519 public key.
	PublicKey() ed25519.PublicKey

	// SignDelegation signs message with the long-term key.
	SignDelegation(message []byte) ([]byte, error)
}

// MemoryBackend derives the long-term key pair from a 32-byte seed and
// keeps it in process memory. Production deployments protect the seed with
// an external secret store and implement SigningBackend against it; this
// backend is the reference implementation and the test vehicle.
type MemoryBackend struct {
	priv ed25519.PrivateKey
}

// NewMemoryBackend builds a backend from a raw seed.
func NewMemoryBackend(seed []byte) (*MemoryBackend, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	return &MemoryBackend{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (b *MemoryBackend) PublicKey() ed25519.PublicKey {
	return b.priv.Public().(ed25519.PublicKey)
}

func (b *MemoryBackend) SignDelegation(message []byte) ([]byte, error) {
	return ed25519.Sign(b.priv, message), nil
}

// OnlineKey is the delegated signing identity for one online epoch. It is
// created once per process lifetime; rotation is by restart.
type OnlineKey struct {
	cert *protocol.Certificate
	mint uint64
	maxt uint64
}

// Bootstrap generates a fresh online key pair and asks the backend for the
// one delegation signature of the process lifetime. The delegation window
// is [now - skewTolerance, now + validity]. Errors here are fatal to the
// caller: without a certificate the server cannot answer anything.
func Bootstrap(backend SigningBackend, rand io.Reader, now uint64, skewTolerance, validity time.Duration) (*OnlineKey, error) {
	if backend == nil {
		return nil, errors.New("keys: nil signing backend")
	}

	_, onlinePriv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("keys: generating online key: %w", err)
	}

	mint := uint64(0)
	if skew := uint64(skewTolerance / time.Second); now > skew {
		mint = now - skew
	}
	maxt := now + uint64(validity/time.Second)

	cert, err := protocol.NewCertificate(mint, maxt, onlinePriv, backend.PublicKey(), backend.SignDelegation)
	if err != nil {
		return nil, fmt.Errorf("keys: signing delegation: %w", err)
	}

	return &OnlineKey{cert: cert, mint: mint, maxt: maxt}, nil
}

// Certificate returns the CERT envelope and response-signing capability.
func (k *OnlineKey) Certificate() *protocol.Certificate {
	return k.cert
}

// Window returns the delegation validity window in Unix seconds.
func (k *OnlineKey) Window() (mint, maxt uint64) {
	return k.mint, k.maxt
}
