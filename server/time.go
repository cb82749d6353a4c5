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
	"time"

	"github.com/jmhodges/clock"
)

// TimeSource is the clock the server stamps responses with. The offset is a
// testing hook: a deliberately-wrong server is a fixed offset away from its
// host clock, which lets clients exercise their causality checks against a
// live server.
type TimeSource struct {
	clk    clock.Clock
	offset time.Duration
}

// NewTimeSource wraps clk, shifting every reading by offset.
func NewTimeSource(clk clock.Clock, offset time.Duration) *TimeSource {
	return &TimeSource{clk: clk, offset: offset}
}

// SystemTimeSource reads the host clock with no offset.
func SystemTimeSource() *TimeSource {
	return NewTimeSource(clock.New(), 0)
}

// Now returns the current (possibly offset) time.
func (t *TimeSource) Now() time.Time {
	return t.clk.Now().Add(t.offset)
}

// Epoch returns the current time in Unix seconds, as stamped into MIDP.
func (t *TimeSource) Epoch() uint64 {
	return uint64(t.Now().Unix())
}
