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

// Package config loads and validates server and client configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stoneclock/roughtime/protocol"
)

// Server configuration defaults.
const (
	DefaultBatchMax       = 64
	DefaultBatchTimeoutMS = 100
	DefaultRadiSeconds    = 3
	DefaultOnlineValidity = 86400
	DefaultSkewTolerance  = 10
	DefaultStatsInterval  = 600
)

// Config is a Roughtime server configuration, usually read from a YAML
// file.
type Config struct {
	ListenIP      string `yaml:"listen_ip"`
	ListenUDPPort int    `yaml:"listen_udp_port"`

	// Seed is the hex-encoded 32-byte long-term key seed consumed by the
	// in-memory signing backend. It is a secret; treat the file
	// accordingly.
	Seed string `yaml:"seed"`

	BatchMax                 int      `yaml:"batch_max"`
	BatchTimeoutMS           int      `yaml:"batch_timeout_ms"`
	RadiSeconds              int      `yaml:"radi_seconds"`
	OnlineKeyValiditySeconds int      `yaml:"online_key_validity_seconds"`
	SkewToleranceSeconds     int      `yaml:"skew_tolerance_seconds"`
	SupportedVersions        []uint32 `yaml:"supported_versions"`
	StatsIntervalSeconds     int      `yaml:"stats_interval_seconds"`

	// MetricsAddr is the listen address for the prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// FaultPercentage enables grease: this percentage of responses is
	// deliberately corrupted to exercise client validation. Zero disables.
	FaultPercentage int `yaml:"fault_percentage"`
}

// Default returns a configuration with every optional field at its default
// value. Required fields (address, port, seed) are left empty.
func Default() *Config {
	return &Config{
		BatchMax:                 DefaultBatchMax,
		BatchTimeoutMS:           DefaultBatchTimeoutMS,
		RadiSeconds:              DefaultRadiSeconds,
		OnlineKeyValiditySeconds: DefaultOnlineValidity,
		SkewToleranceSeconds:     DefaultSkewTolerance,
		SupportedVersions:        []uint32{uint32(protocol.VersionRFC)},
		StatsIntervalSeconds:     DefaultStatsInterval,
	}
}

// Load reads a YAML configuration file, applying defaults for absent
// optional fields, and validates the result.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every option against the ranges the server accepts.
func (c *Config) Validate() error {
	if net.ParseIP(c.ListenIP) == nil {
		return fmt.Errorf("config: listen_ip %q is not an IP address", c.ListenIP)
	}
	if c.ListenUDPPort < 1 || c.ListenUDPPort > 65535 {
		return fmt.Errorf("config: listen_udp_port %d out of range 1..65535", c.ListenUDPPort)
	}
	if _, err := c.SeedBytes(); err != nil {
		return err
	}
	if c.BatchMax < 1 || c.BatchMax > 64 {
		return fmt.Errorf("config: batch_max %d out of range 1..64", c.BatchMax)
	}
	if c.BatchTimeoutMS < 1 || c.BatchTimeoutMS > 1000 {
		return fmt.Errorf("config: batch_timeout_ms %d out of range 1..1000", c.BatchTimeoutMS)
	}
	if c.RadiSeconds < 1 {
		return fmt.Errorf("config: radi_seconds %d must be at least 1", c.RadiSeconds)
	}
	if c.OnlineKeyValiditySeconds < 1 {
		return fmt.Errorf("config: online_key_validity_seconds %d must be at least 1", c.OnlineKeyValiditySeconds)
	}
	if c.SkewToleranceSeconds < 0 {
		return fmt.Errorf("config: skew_tolerance_seconds %d must not be negative", c.SkewToleranceSeconds)
	}
	if len(c.SupportedVersions) == 0 {
		return fmt.Errorf("config: supported_versions must not be empty")
	}
	if !sort.SliceIsSorted(c.SupportedVersions, func(i, j int) bool {
		return c.SupportedVersions[i] < c.SupportedVersions[j]
	}) {
		return fmt.Errorf("config: supported_versions must be ascending")
	}
	for i := 1; i < len(c.SupportedVersions); i++ {
		if c.SupportedVersions[i-1] == c.SupportedVersions[i] {
			return fmt.Errorf("config: supported_versions contains duplicates")
		}
	}
	if c.StatsIntervalSeconds < 1 {
		return fmt.Errorf("config: stats_interval_seconds %d must be at least 1", c.StatsIntervalSeconds)
	}
	if c.FaultPercentage < 0 || c.FaultPercentage > 50 {
		return fmt.Errorf("config: fault_percentage %d out of range 0..50", c.FaultPercentage)
	}
	return nil
}

// Addr returns the UDP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.ListenIP, strconv.Itoa(c.ListenUDPPort))
}

// SeedBytes decodes the long-term key seed.
func (c *Config) SeedBytes() ([]byte, error) {
	seed, err := hex.DecodeString(c.Seed)
	if err != nil {
		return nil, fmt.Errorf("config: seed is not valid hex: %w", err)
	}
	if len(seed) != 32 {
		return nil, fmt.Errorf("config: seed must be 32 bytes, got %d", len(seed))
	}
	return seed, nil
}

// Versions returns the supported protocol versions.
func (c *Config) Versions() []protocol.Version {
	vers := make([]protocol.Version, len(c.SupportedVersions))
	for i, v := range c.SupportedVersions {
		vers[i] = protocol.Version(v)
	}
	return vers
}

// BatchTimeout returns the batch close deadline as a duration.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMS) * time.Millisecond
}

// StatsInterval returns the interval between logged stats snapshots.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}

// Server describes a Roughtime server a client may query.
type Server struct {
	Name string `yaml:"name"`

	// PublicKey is the hex-encoded long-term Ed25519 public key.
	PublicKey string `yaml:"public_key"`

	// Address is the UDP host:port of the server.
	Address string `yaml:"address"`
}

// ServerList is a client-side list of servers to query.
type ServerList struct {
	Servers []Server `yaml:"servers"`
}

// LoadServers reads a YAML server list.
func LoadServers(path string) (*ServerList, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	list := &ServerList{}
	if err := yaml.Unmarshal(contents, list); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(list.Servers) == 0 {
		return nil, fmt.Errorf("config: %s lists no servers", path)
	}
	for i := range list.Servers {
		if _, err := list.Servers[i].PublicKeyBytes(); err != nil {
			return nil, err
		}
		if list.Servers[i].Address == "" {
			return nil, fmt.Errorf("config: server %q has no address", list.Servers[i].Name)
		}
	}
	return list, nil
}

// PublicKeyBytes decodes the server's long-term public key.
func (s *Server) PublicKeyBytes() ([]byte, error) {
	pk, err := hex.DecodeString(s.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("config: public key of %q is not valid hex: %w", s.Name, err)
	}
	if len(pk) != 32 {
		return nil, fmt.Errorf("config: public key of %q must be 32 bytes, got %d", s.Name, len(pk))
	}
	return pk, nil
}
