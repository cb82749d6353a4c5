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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoneclock/roughtime/protocol"
)

const testSeed = "0101010101010101010101010101010101010101010101010101010101010101"

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
listen_ip: 127.0.0.1
listen_udp_port: 2002
seed: `+testSeed+`
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:2002", cfg.Addr())
	assert.Equal(t, DefaultBatchMax, cfg.BatchMax)
	assert.Equal(t, DefaultBatchTimeoutMS, cfg.BatchTimeoutMS)
	assert.Equal(t, DefaultRadiSeconds, cfg.RadiSeconds)
	assert.Equal(t, []protocol.Version{protocol.VersionRFC}, cfg.Versions())

	seed, err := cfg.SeedBytes()
	require.NoError(t, err)
	assert.Len(t, seed, 32)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeTemp(t, `
listen_ip: "::1"
listen_udp_port: 2003
seed: `+testSeed+`
batch_max: 16
batch_timeout_ms: 250
radi_seconds: 5
supported_versions: [1, 2147483659]
fault_percentage: 10
`))
	require.NoError(t, err)

	assert.Equal(t, "[::1]:2003", cfg.Addr())
	assert.Equal(t, 16, cfg.BatchMax)
	assert.Equal(t, 250, cfg.BatchTimeoutMS)
	assert.Equal(t, 5, cfg.RadiSeconds)
	assert.Equal(t, []protocol.Version{protocol.VersionRFC, protocol.VersionDraft11}, cfg.Versions())
	assert.Equal(t, 10, cfg.FaultPercentage)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.ListenIP = "127.0.0.1"
		cfg.ListenUDPPort = 2002
		cfg.Seed = testSeed
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad ip", func(c *Config) { c.ListenIP = "localhost" }, "listen_ip"},
		{"port zero", func(c *Config) { c.ListenUDPPort = 0 }, "listen_udp_port"},
		{"port too big", func(c *Config) { c.ListenUDPPort = 70000 }, "listen_udp_port"},
		{"short seed", func(c *Config) { c.Seed = "abcd" }, "seed"},
		{"odd seed", func(c *Config) { c.Seed = "xyz" }, "seed"},
		{"batch too big", func(c *Config) { c.BatchMax = 65 }, "batch_max"},
		{"batch zero", func(c *Config) { c.BatchMax = 0 }, "batch_max"},
		{"timeout zero", func(c *Config) { c.BatchTimeoutMS = 0 }, "batch_timeout_ms"},
		{"timeout too long", func(c *Config) { c.BatchTimeoutMS = 1001 }, "batch_timeout_ms"},
		{"radius zero", func(c *Config) { c.RadiSeconds = 0 }, "radi_seconds"},
		{"no versions", func(c *Config) { c.SupportedVersions = nil }, "supported_versions"},
		{"descending versions", func(c *Config) { c.SupportedVersions = []uint32{2, 1} }, "supported_versions"},
		{"duplicate versions", func(c *Config) { c.SupportedVersions = []uint32{1, 1} }, "supported_versions"},
		{"fault too high", func(c *Config) { c.FaultPercentage = 80 }, "fault_percentage"},
	}

	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		err := cfg.Validate()
		require.Error(t, err, tc.name)
		assert.True(t, strings.Contains(err.Error(), tc.want), "%s: %v", tc.name, err)
	}
}

func TestLoadServers(t *testing.T) {
	pub := strings.Repeat("ab", 32)
	list, err := LoadServers(writeTemp(t, `
servers:
  - name: local
    public_key: `+pub+`
    address: 127.0.0.1:2002
`))
	require.NoError(t, err)
	require.Len(t, list.Servers, 1)

	pk, err := list.Servers[0].PublicKeyBytes()
	require.NoError(t, err)
	assert.Len(t, pk, 32)
}

func TestLoadServersRejects(t *testing.T) {
	_, err := LoadServers(writeTemp(t, "servers: []\n"))
	assert.Error(t, err, "empty server list accepted")

	_, err = LoadServers(writeTemp(t, `
servers:
  - name: broken
    public_key: abcd
    address: 127.0.0.1:2002
`))
	assert.Error(t, err, "truncated public key accepted")
}
