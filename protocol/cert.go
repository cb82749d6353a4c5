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

package protocol

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/stoneclock/roughtime/sha512trunc"
)

const (
	// Signing context strings. The terminating NUL is part of the signed
	// bytes.
	certificateContext    = "RoughTime v1 delegation signature\x00"
	signedResponseContext = "RoughTime v1 response signature\x00"

	// srvHashPrefix domain-separates the SRV commitment hash.
	srvHashPrefix = 0xff
)

// SrvCommitment computes the SRV value binding a request to an expected
// server identity: the first 32 bytes of SHA-512(0xff || public key).
func SrvCommitment(rootPublicKey ed25519.PublicKey) [32]byte {
	return sha512trunc.Sum([]byte{srvHashPrefix}, rootPublicKey)
}

// ChainNonce derives the nonce for the next request in a chain from the
// previous framed response and a fresh blind.
func ChainNonce(prevReply []byte, blind [NonceSize]byte) [NonceSize]byte {
	return sha512trunc.Sum(prevReply, blind[:])
}

// DelegationSigner produces a 64-byte Ed25519 signature over message with
// the long-term identity. Implementations live outside this package so the
// long-term secret never has to enter it.
type DelegationSigner func(message []byte) ([]byte, error)

// Certificate is a signed delegation from a long-term identity to an online
// key, along with the online private key it delegates to.
type Certificate struct {
	// bytes is the serialized CERT message.
	bytes []byte

	// onlinePrivateKey is the online private key.
	onlinePrivateKey ed25519.PrivateKey

	// srv is the commitment a client would send to indicate the root
	// public key standing behind this certificate.
	srv [32]byte
}

// NewCertificate returns a signed certificate delegating authority for the
// timestamp window [minTime, maxTime] (Unix seconds) to onlinePrivateKey.
// The delegation signature is produced by sign, which holds the long-term
// identity of rootPublicKey.
func NewCertificate(minTime, maxTime uint64, onlinePrivateKey ed25519.PrivateKey, rootPublicKey ed25519.PublicKey, sign DelegationSigner) (*Certificate, error) {
	if maxTime < minTime {
		return nil, errType(ErrorMidpOutOfDeleWindow, "maxTime < minTime")
	}

	var minTimeBytes, maxTimeBytes [8]byte
	binary.LittleEndian.PutUint64(minTimeBytes[:], minTime)
	binary.LittleEndian.PutUint64(maxTimeBytes[:], maxTime)

	delegation := map[uint32][]byte{
		tagPUBK: onlinePrivateKey.Public().(ed25519.PublicKey),
		tagMINT: minTimeBytes[:],
		tagMAXT: maxTimeBytes[:],
	}

	delegationBytes, err := Encode(delegation)
	if err != nil {
		return nil, err
	}

	toBeSigned := append([]byte(certificateContext), delegationBytes...)
	sig, err := sign(toBeSigned)
	if err != nil {
		return nil, errType(ErrorBackendFailure, err.Error())
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, errType(ErrorBackendFailure, "delegation signature has wrong length")
	}

	cert := map[uint32][]byte{
		tagSIG:  sig,
		tagDELE: delegationBytes,
	}

	certBytes, err := Encode(cert)
	if err != nil {
		return nil, err
	}

	return &Certificate{
		bytes:            certBytes,
		onlinePrivateKey: onlinePrivateKey,
		srv:              SrvCommitment(rootPublicKey),
	}, nil
}

// Bytes returns the serialized CERT message.
func (cert *Certificate) Bytes() []byte {
	return cert.bytes
}

// SRV returns the commitment to the root public key behind this
// certificate.
func (cert *Certificate) SRV() [32]byte {
	return cert.srv
}

// SignResponse signs the serialized SREP with the online key.
func (cert *Certificate) SignResponse(srepBytes []byte) []byte {
	toBeSigned := append([]byte(signedResponseContext), srepBytes...)
	return ed25519.Sign(cert.onlinePrivateKey, toBeSigned)
}
