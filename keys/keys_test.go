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

package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneclock/roughtime/protocol"
)

func TestMemoryBackendDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x01}, SeedSize)

	a, err := NewMemoryBackend(seed)
	require.NoError(t, err)
	b, err := NewMemoryBackend(seed)
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), b.PublicKey(), "same seed must derive the same identity")

	sig, err := a.SignDelegation([]byte("delegation bytes"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(a.PublicKey(), []byte("delegation bytes"), sig))
}

func TestMemoryBackendRejectsBadSeed(t *testing.T) {
	_, err := NewMemoryBackend(make([]byte, 16))
	assert.Error(t, err)
}

func TestBootstrapWindow(t *testing.T) {
	backend, err := NewMemoryBackend(bytes.Repeat([]byte{0x01}, SeedSize))
	require.NoError(t, err)

	now := uint64(1700000000)
	online, err := Bootstrap(backend, rand.Reader, now, 10*time.Second, 24*time.Hour)
	require.NoError(t, err)

	mint, maxt := online.Window()
	assert.Equal(t, now-10, mint)
	assert.Equal(t, now+86400, maxt)
}

func TestBootstrapClampsEarlyClock(t *testing.T) {
	backend, err := NewMemoryBackend(bytes.Repeat([]byte{0x02}, SeedSize))
	require.NoError(t, err)

	online, err := Bootstrap(backend, rand.Reader, 5, 10*time.Second, time.Hour)
	require.NoError(t, err)

	mint, _ := online.Window()
	assert.Zero(t, mint, "the window must not wrap below the epoch")
}

func TestBootstrapProducesUsableCertificate(t *testing.T) {
	backend, err := NewMemoryBackend(bytes.Repeat([]byte{0x03}, SeedSize))
	require.NoError(t, err)

	now := uint64(1700000000)
	online, err := Bootstrap(backend, rand.Reader, now, 10*time.Second, 24*time.Hour)
	require.NoError(t, err)

	// The certificate must carry this identity's commitment and sign
	// responses a client accepts end to end.
	assert.Equal(t, protocol.SrvCommitment(backend.PublicKey()), online.Certificate().SRV())

	_, _, request, err := protocol.CreateRequest(nil, rand.Reader, nil, backend.PublicKey())
	require.NoError(t, err)

	req, err := protocol.ParseRequest(request)
	require.NoError(t, err)

	replies, err := protocol.CreateReplies([]*protocol.Request{req}, now, 3, protocol.DefaultVersions, online.Certificate())
	require.NoError(t, err)

	validated, err := protocol.VerifyReply(replies[0], request, backend.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, now, validated.Midpoint)
}

type failingBackend struct{}

func (failingBackend) PublicKey() ed25519.PublicKey {
	return make(ed25519.PublicKey, ed25519.PublicKeySize)
}

func (failingBackend) SignDelegation([]byte) ([]byte, error) {
	return nil, errors.New("agent unreachable")
}

func TestBootstrapBackendFailureIsFatal(t *testing.T) {
	_, err := Bootstrap(failingBackend{}, rand.Reader, 1700000000, 10*time.Second, time.Hour)
	require.Error(t, err)
	assert.True(t, protocol.IsType(err, protocol.ErrorBackendFailure))
}
