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

package client

import (
	"context"
	"encoding/hex"
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
	"github.com/stoneclock/roughtime/server"
)

const testEpoch = 1700000000

// startServer runs a test server with the given clock offset and returns
// its client-side description.
func startServer(t *testing.T, name string, offset time.Duration) config.Server {
	t.Helper()

	cfg := config.Default()
	cfg.ListenIP = "127.0.0.1"
	cfg.ListenUDPPort = 0
	cfg.Seed = "0202020202020202020202020202020202020202020202020202020202020202"
	cfg.BatchTimeoutMS = 10

	seed, err := cfg.SeedBytes()
	require.NoError(t, err)
	backend, err := keys.NewMemoryBackend(seed)
	require.NoError(t, err)

	fake := clock.NewFake()
	fake.Set(time.Unix(testEpoch, 0))

	srv, err := server.New(cfg, backend, server.NewTimeSource(fake, offset), zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return config.Server{
		Name:      name,
		PublicKey: hex.EncodeToString(backend.PublicKey()),
		Address:   srv.Addr().String(),
	}
}

func TestGet(t *testing.T) {
	srv := startServer(t, "local", 0)

	m, err := Get(&srv, nil, 1, time.Second, nil)
	require.NoError(t, err)

	assert.Equal(t, "local", m.Server)
	assert.Equal(t, uint64(testEpoch), m.Midpoint)
	assert.Equal(t, uint32(config.DefaultRadiSeconds), m.Radius)
	assert.Len(t, m.Request, protocol.RequestSize)
	assert.NotEmpty(t, m.Response)
	assert.Equal(t, []protocol.Version{protocol.VersionRFC}, m.ServerVersions)
}

func TestGetTimesOutWithoutServer(t *testing.T) {
	// Bind a socket that never answers.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	srv := config.Server{
		Name:      "mute",
		PublicKey: "0303030303030303030303030303030303030303030303030303030303030303",
		Address:   conn.LocalAddr().String(),
	}

	_, err = Get(&srv, nil, 2, 100*time.Millisecond, nil)
	require.Error(t, err)
}

func TestSequenceChainsNonces(t *testing.T) {
	srv := startServer(t, "local", 0)

	measurements, err := Sequence([]config.Server{srv}, nil, 3, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, measurements, 3)

	for i := 1; i < len(measurements); i++ {
		prev, cur := measurements[i-1], measurements[i]

		req, err := protocol.ParseRequest(cur.Request)
		require.NoError(t, err)

		want := protocol.ChainNonce(prev.Response, cur.Blind)
		assert.Equal(t, want, req.Nonce, "request %d is not chained to response %d", i, i-1)
	}

	assert.Empty(t, ValidateCausality(measurements))
}

func TestAny(t *testing.T) {
	good := startServer(t, "good", 0)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	mute := config.Server{
		Name:      "mute",
		PublicKey: good.PublicKey,
		Address:   conn.LocalAddr().String(),
	}

	m, err := Any([]config.Server{mute, good}, nil, 1, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "good", m.Server)
}

func TestCausalityViolationDetected(t *testing.T) {
	// The first server is an hour fast; querying it before an honest
	// server yields intervals that contradict receive order.
	fast := startServer(t, "fast", time.Hour)
	honest := startServer(t, "honest", 0)

	measurements, err := Sequence([]config.Server{fast, honest}, nil, 1, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, measurements, 2)

	violations := ValidateCausality(measurements)
	require.Len(t, violations, 1)

	v := violations[0]
	assert.Equal(t, 0, v.I)
	assert.Equal(t, 1, v.J)
	assert.Equal(t, "fast", v.First.Server)
	assert.Equal(t, "honest", v.Second.Server)
	assert.Greater(t, v.LowerBoundI, v.UpperBoundJ)
}

func TestValidateCausality(t *testing.T) {
	m := func(midpoint uint64, radius uint32) *Measurement {
		return &Measurement{Midpoint: midpoint, Radius: radius}
	}

	// Overlapping intervals in order are fine.
	assert.Empty(t, ValidateCausality([]*Measurement{m(100, 3), m(101, 3), m(105, 3)}))

	// Equal bounds are fine: the constraint is <=.
	assert.Empty(t, ValidateCausality([]*Measurement{m(106, 3), m(100, 3)}))

	// A later response strictly before an earlier one is a violation.
	violations := ValidateCausality([]*Measurement{m(200, 1), m(100, 1)})
	require.Len(t, violations, 1)
	assert.Equal(t, int64(199), violations[0].LowerBoundI)
	assert.Equal(t, int64(101), violations[0].UpperBoundJ)

	// Fewer than two measurements cannot violate anything.
	assert.Empty(t, ValidateCausality([]*Measurement{m(100, 1)}))
	assert.Empty(t, ValidateCausality(nil))
}
