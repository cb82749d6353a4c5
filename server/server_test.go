// Copyright 2018 Cloudflare, Inc.
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

package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stoneclock/roughtime/config"
	"github.com/stoneclock/roughtime/keys"
	"github.com/stoneclock/roughtime/protocol"
)

const testEpoch = 1700000000

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ListenIP = "127.0.0.1"
	cfg.ListenUDPPort = 0
	cfg.Seed = "0101010101010101010101010101010101010101010101010101010101010101"
	cfg.BatchTimeoutMS = 20
	return cfg
}

func testBackend(t *testing.T, cfg *config.Config) *keys.MemoryBackend {
	t.Helper()
	seed, err := cfg.SeedBytes()
	require.NoError(t, err)
	backend, err := keys.NewMemoryBackend(seed)
	require.NoError(t, err)
	return backend
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *keys.MemoryBackend) {
	t.Helper()

	backend := testBackend(t, cfg)
	fake := clock.NewFake()
	fake.Set(time.Unix(testEpoch, 0))

	srv, err := New(cfg, backend, NewTimeSource(fake, 0), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv, backend
}

func makeRequest(t *testing.T, pub ed25519.PublicKey, versions []protocol.Version) []byte {
	t.Helper()
	_, _, request, err := protocol.CreateRequest(versions, rand.Reader, nil, pub)
	require.NoError(t, err)
	return request
}

func TestAdmit(t *testing.T) {
	srv, backend := newTestServer(t, testConfig())

	req, reason := srv.admit(makeRequest(t, nil, nil))
	require.NotNil(t, req, "plain request dropped: %s", reason)

	req, reason = srv.admit(makeRequest(t, backend.PublicKey(), nil))
	require.NotNil(t, req, "pinned request dropped: %s", reason)
}

func TestAdmitDropMatrix(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	otherKey := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x44}, 32)).Public().(ed25519.PublicKey)

	garbage := make([]byte, protocol.RequestSize)

	cases := []struct {
		name     string
		datagram []byte
		want     string
	}{
		{"undersize", make([]byte, 512), DropSize},
		{"oversize", make([]byte, 1100), DropSize},
		{"no magic", garbage, DropFrame},
		{"foreign srv", makeRequest(t, otherKey, nil), DropSrv},
		{"no common version", makeRequest(t, nil, []protocol.Version{protocol.Version(9)}), DropVersion},
	}

	for _, tc := range cases {
		req, reason := srv.admit(tc.datagram)
		assert.Nil(t, req, tc.name)
		assert.Equal(t, tc.want, reason, tc.name)
	}
}

func TestDropReasonMapping(t *testing.T) {
	assert.Equal(t, DropSize, dropReason(protocol.Error{Type: protocol.ErrorSizeNot1024}))
	assert.Equal(t, DropFrame, dropReason(protocol.Error{Type: protocol.ErrorBadMagic}))
	assert.Equal(t, DropProtocol, dropReason(protocol.Error{Type: protocol.ErrorMissingTag}))
	assert.Equal(t, DropDecode, dropReason(protocol.Error{Type: protocol.ErrorUnsortedTags}))
}

// exchange sends one datagram to the test server and waits for a reply.
func exchange(t *testing.T, addr net.Addr, datagram []byte, timeout time.Duration) ([]byte, error) {
	t.Helper()

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, err = conn.Write(datagram)
	require.NoError(t, err)

	reply := make([]byte, protocol.RequestSize)
	n, err := conn.Read(reply)
	if err != nil {
		return nil, err
	}
	return reply[:n], nil
}

func TestServeSingleRequest(t *testing.T) {
	srv, backend := newTestServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	request := makeRequest(t, backend.PublicKey(), nil)
	reply, err := exchange(t, srv.Addr(), request, 2*time.Second)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(reply), len(request), "response exceeds request size")

	validated, err := protocol.VerifyReply(reply, request, backend.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(testEpoch), validated.Midpoint)
	assert.Equal(t, uint32(config.DefaultRadiSeconds), validated.Radius)

	cancel()
	srv.Close()
	require.NoError(t, <-done)
}

func TestServeBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchTimeoutMS = 100
	srv, backend := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	// Launch several clients inside one batch window; every one of them
	// must get a reply that validates against its own request.
	const clients = 4
	type result struct {
		request []byte
		reply   []byte
		err     error
	}
	results := make(chan result, clients)

	for i := 0; i < clients; i++ {
		go func() {
			request := makeRequest(t, backend.PublicKey(), nil)
			reply, err := exchange(t, srv.Addr(), request, 2*time.Second)
			results <- result{request: request, reply: reply, err: err}
		}()
	}

	for i := 0; i < clients; i++ {
		res := <-results
		require.NoError(t, res.err)
		_, err := protocol.VerifyReply(res.reply, res.request, backend.PublicKey())
		assert.NoError(t, err)
	}
}

func TestSrvMismatchGetsNoReply(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	otherKey := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x45}, 32)).Public().(ed25519.PublicKey)
	request := makeRequest(t, otherKey, nil)

	_, err := exchange(t, srv.Addr(), request, 300*time.Millisecond)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "expected a silent drop, got %v", err)
}

func TestFixedOffsetTimeSource(t *testing.T) {
	fake := clock.NewFake()
	fake.Set(time.Unix(testEpoch, 0))

	ts := NewTimeSource(fake, -7*time.Second)
	assert.Equal(t, uint64(testEpoch-7), ts.Epoch())
}

func TestGreaseDisabledByDefault(t *testing.T) {
	assert.Nil(t, newGrease(0, 1))
}

func TestGreaseCorruptsBody(t *testing.T) {
	g := newGrease(100, 1)
	require.NotNil(t, g)
	assert.True(t, g.shouldCorrupt())

	response := bytes.Repeat([]byte{0x5a}, 64)
	mangled := g.corrupt(response)
	assert.Equal(t, response[:12], mangled[:12], "framing must stay intact")
	assert.NotEqual(t, response, mangled)
}
