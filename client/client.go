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

// Package client queries Roughtime servers and validates their responses.
package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"

	"github.com/stoneclock/roughtime/config"
	"github.com/stoneclock/roughtime/protocol"
)

const (
	// DefaultQueryAttempts is how many times a server is tried before
	// giving up on it.
	DefaultQueryAttempts = 3

	// DefaultQueryTimeout is how long to wait for each reply.
	DefaultQueryTimeout = 2 * time.Second
)

// Measurement stores the request and response of a successful Roughtime
// query along with the validated reading. The preserved byte transcripts
// are the evidence a misbehavior report is built from.
type Measurement struct {
	// Server names the queried server (its configured name, or address).
	Server string

	// Request is the framed request datagram, exactly as sent.
	Request []byte

	// Blind is the blinding factor used to chain this request to the
	// previous response; zero for the first request of a chain.
	Blind [protocol.NonceSize]byte

	// Response is the framed response datagram, exactly as received.
	Response []byte

	// Midpoint is the validated server time in Unix seconds.
	Midpoint uint64

	// Radius is the server's accuracy radius in seconds.
	Radius uint32

	// ServerVersions is the authenticated version set the server
	// advertised, kept for downgrade audits.
	ServerVersions []protocol.Version
}

// Get sends a request to a server and validates the response. It makes at
// most attempts tries, waiting timeout for each reply and backing off
// between tries. prev chains this query to an earlier measurement; it may
// be nil for the first request of a chain.
func Get(server *config.Server, versions []protocol.Version, attempts int, timeout time.Duration, prev *Measurement) (*Measurement, error) {
	pk, err := server.PublicKeyBytes()
	if err != nil {
		return nil, err
	}

	var prevReply []byte
	if prev != nil {
		prevReply = prev.Response
	}

	_, blind, request, err := protocol.CreateRequest(versions, rand.Reader, prevReply, ed25519.PublicKey(pk))
	if err != nil {
		return nil, fmt.Errorf("client: building request: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", server.Address)
	if err != nil {
		return nil, fmt.Errorf("client: resolving %s: %w", server.Address, err)
	}

	pause := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(pause.Duration())
		}

		reply, err := exchange(udpAddr, request, timeout)
		if err != nil {
			lastErr = err
			continue
		}

		validated, err := protocol.VerifyReply(reply, request, ed25519.PublicKey(pk))
		if err != nil {
			// A reply that fails validation will not improve on retry;
			// surface it with the transcript intact.
			return nil, fmt.Errorf("client: response from %s: %w", server.Address, err)
		}

		name := server.Name
		if name == "" {
			name = server.Address
		}

		return &Measurement{
			Server:         name,
			Request:        request,
			Blind:          blind,
			Response:       reply,
			Midpoint:       validated.Midpoint,
			Radius:         validated.Radius,
			ServerVersions: validated.ServerVersions,
		}, nil
	}

	return nil, fmt.Errorf("client: no response from %s after %d attempts: %w", server.Address, attempts, lastErr)
}

// exchange performs one UDP request/response round trip.
func exchange(addr *net.UDPAddr, request []byte, timeout time.Duration) ([]byte, error) {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(request); err != nil {
		return nil, err
	}

	// Responses never exceed the request size.
	reply := make([]byte, protocol.RequestSize)
	n, err := conn.Read(reply)
	if err != nil {
		return nil, err
	}
	return reply[:n], nil
}
