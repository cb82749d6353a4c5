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
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stoneclock/roughtime/config"
	"github.com/stoneclock/roughtime/protocol"
)

// Sequence runs chained measurements across the servers for the given
// number of rounds. The first request uses a fresh random nonce; every
// later request derives its nonce from the previous response and a fresh
// blind, so the sequence as a whole is a verifiable transcript: each
// response provably came after the one before it was received.
//
// Measurements are returned in query order. Check them with
// ValidateCausality.
func Sequence(servers []config.Server, versions []protocol.Version, rounds, attempts int, timeout time.Duration) ([]*Measurement, error) {
	if rounds < 1 {
		return nil, errors.New("client: sequence needs at least one round")
	}

	measurements := make([]*Measurement, 0, rounds*len(servers))
	var prev *Measurement

	for round := 0; round < rounds; round++ {
		for i := range servers {
			m, err := Get(&servers[i], versions, attempts, timeout, prev)
			if err != nil {
				return measurements, fmt.Errorf("client: sequence stopped at round %d: %w", round, err)
			}
			prev = m
			measurements = append(measurements, m)
		}
	}

	return measurements, nil
}

// Any queries every server concurrently and returns the first validated
// measurement. Servers that fail or time out are skipped; if none answers,
// an error is returned.
func Any(servers []config.Server, versions []protocol.Version, attempts int, timeout time.Duration) (*Measurement, error) {
	var g errgroup.Group
	results := make(chan *Measurement, len(servers))

	for i := range servers {
		server := &servers[i]
		g.Go(func() error {
			m, err := Get(server, versions, attempts, timeout, nil)
			if err != nil {
				return err
			}
			results <- m
			return nil
		})
	}

	go func() {
		// If every query errors, unblock the receive below.
		if err := g.Wait(); err != nil {
			results <- nil
		}
	}()

	if m := <-results; m != nil {
		return m, nil
	}
	return nil, errors.New("client: no roughtime servers available")
}
