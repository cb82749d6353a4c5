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

// Package server implements the batching Roughtime UDP server loop: it
// accumulates framed requests into bounded batches, signs one Merkle root
// per batch with the delegated online key, and answers each request with
// its inclusion proof.
package server

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/stoneclock/roughtime/config"
	"github.com/stoneclock/roughtime/keys"
	"github.com/stoneclock/roughtime/protocol"
)

// pollInterval bounds how long a socket read may block so the loop can
// notice batch deadlines and cancellation.
const pollInterval = 50 * time.Millisecond

// pending is one admitted request awaiting its batch to close.
type pending struct {
	req  *protocol.Request
	addr *net.UDPAddr
}

// Server is a single-loop Roughtime server bound to one UDP socket. All
// mutable state belongs to the loop; sharding across cores means running
// several Servers on their own sockets.
type Server struct {
	cfg       *config.Config
	log       *zap.Logger
	ts        *TimeSource
	stats     *Stats
	online    *keys.OnlineKey
	supported []protocol.Version

	// commitment is this server's own SRV value; requests pinning a
	// different identity are dropped.
	commitment [32]byte

	conn   *net.UDPConn
	grease *grease
}

// New bootstraps the online key from the signing backend and binds the UDP
// socket. A backend failure here is fatal by design: without a delegation
// certificate there is nothing to serve.
func New(cfg *config.Config, backend keys.SigningBackend, ts *TimeSource, log *zap.Logger, reg prometheus.Registerer) (*Server, error) {
	online, err := keys.Bootstrap(
		backend,
		cryptorand.Reader,
		ts.Epoch(),
		time.Duration(cfg.SkewToleranceSeconds)*time.Second,
		time.Duration(cfg.OnlineKeyValiditySeconds)*time.Second,
	)
	if err != nil {
		return nil, err
	}

	netAddr, err := net.ResolveUDPAddr("udp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("server: resolving %s: %w", cfg.Addr(), err)
	}
	conn, err := net.ListenUDP("udp", netAddr)
	if err != nil {
		return nil, fmt.Errorf("server: listening on %s: %w", cfg.Addr(), err)
	}

	mint, maxt := online.Window()
	log.Info("online key delegated",
		zap.Uint64("mint", mint),
		zap.Uint64("maxt", maxt),
		zap.Stringer("addr", conn.LocalAddr()),
	)

	return &Server{
		cfg:        cfg,
		log:        log,
		ts:         ts,
		stats:      NewStats(reg),
		online:     online,
		supported:  cfg.Versions(),
		commitment: protocol.SrvCommitment(backend.PublicKey()),
		conn:       conn,
		grease:     newGrease(cfg.FaultPercentage, time.Now().UnixNano()),
	}, nil
}

// Addr returns the bound UDP address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the socket. Run returns once the socket is closed.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run executes the batch loop until ctx is cancelled or the socket fails.
func (s *Server) Run(ctx context.Context) error {
	buf := make([]byte, 2*protocol.RequestSize)
	batch := make([]pending, 0, s.cfg.BatchMax)
	var deadline time.Time
	nextStats := time.Now().Add(s.cfg.StatsInterval())

	for {
		if ctx.Err() != nil {
			return nil
		}

		now := time.Now()
		if now.After(nextStats) {
			accepted, dropped, responses, bytes := s.stats.snapshot()
			s.log.Info("interval stats",
				zap.Uint64("accepted", accepted),
				zap.Uint64("dropped", dropped),
				zap.Uint64("responses", responses),
				zap.Uint64("bytes", bytes),
			)
			nextStats = now.Add(s.cfg.StatsInterval())
		}

		readDeadline := now.Add(pollInterval)
		if len(batch) > 0 && deadline.Before(readDeadline) {
			readDeadline = deadline
		}
		if err := s.conn.SetReadDeadline(readDeadline); err != nil {
			return err
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if len(batch) > 0 && !time.Now().Before(deadline) {
					s.commit(batch)
					batch = batch[:0]
				}
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: socket read: %w", err)
		}

		req, reason := s.admit(buf[:n])
		if req == nil {
			s.stats.drop(reason)
			s.log.Debug("dropped request", zap.String("reason", reason), zap.Stringer("peer", addr))
			continue
		}

		s.stats.accept()
		if len(batch) == 0 {
			deadline = time.Now().Add(s.cfg.BatchTimeout())
		}
		batch = append(batch, pending{req: req, addr: addr})

		if len(batch) >= s.cfg.BatchMax {
			s.commit(batch)
			batch = batch[:0]
		}
	}
}

// admit validates one datagram. It returns the parsed request, or nil and
// the drop reason to count.
func (s *Server) admit(datagram []byte) (*protocol.Request, string) {
	req, err := protocol.ParseRequest(datagram)
	if err != nil {
		return nil, dropReason(err)
	}

	if !req.SrvMatches(s.commitment) {
		return nil, DropSrv
	}

	if _, ok := protocol.ResponseVersion(req.Versions, s.supported); !ok {
		return nil, DropVersion
	}

	return req, ""
}

func dropReason(err error) string {
	switch {
	case protocol.IsType(err, protocol.ErrorSizeNot1024):
		return DropSize
	case protocol.IsType(err, protocol.ErrorBadMagic), protocol.IsType(err, protocol.ErrorBadLength):
		return DropFrame
	case protocol.IsType(err, protocol.ErrorMissingTag),
		protocol.IsType(err, protocol.ErrorWrongType),
		protocol.IsType(err, protocol.ErrorUnknownMandatoryTag):
		return DropProtocol
	default:
		return DropDecode
	}
}

// commit closes a batch: one tree, one midpoint snapshot, one signature per
// negotiated version, then one response datagram per request. A failure
// drops the whole batch and nothing else.
func (s *Server) commit(batch []pending) {
	requests := make([]*protocol.Request, len(batch))
	for i := range batch {
		requests[i] = batch[i].req
	}

	replies, err := protocol.CreateReplies(
		requests,
		s.ts.Epoch(),
		uint32(s.cfg.RadiSeconds),
		s.supported,
		s.online.Certificate(),
	)
	if err != nil {
		s.stats.batchFailed()
		s.log.Error("dropping batch", zap.Int("size", len(batch)), zap.Error(err))
		return
	}

	s.stats.batchClosed(len(batch))

	for i, reply := range replies {
		if s.grease != nil && s.grease.shouldCorrupt() {
			reply = s.grease.corrupt(reply)
		}
		if _, err := s.conn.WriteToUDP(reply, batch[i].addr); err != nil {
			s.stats.sendFailed()
			s.log.Debug("send failed", zap.Stringer("peer", batch[i].addr), zap.Error(err))
			continue
		}
		s.stats.sent(len(reply))
	}
}
