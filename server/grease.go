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
	"math/rand"
)

// grease deliberately corrupts a configured fraction of responses so that
// client implementations keep their validation paths honest. Only the
// framing of a corrupted response is left intact: the flipped byte may land
// in the message header, a signature, the proof or any other value.
type grease struct {
	percent int
	rng     *rand.Rand
}

// newGrease returns nil when the fault percentage is zero, which disables
// corruption entirely.
func newGrease(percent int, seed int64) *grease {
	if percent <= 0 {
		return nil
	}
	return &grease{percent: percent, rng: rand.New(rand.NewSource(seed))}
}

func (g *grease) shouldCorrupt() bool {
	return g.rng.Intn(100) < g.percent
}

// corrupt flips one byte of the message body, leaving the framing intact.
func (g *grease) corrupt(response []byte) []byte {
	const frameHeader = 12
	if len(response) <= frameHeader {
		return response
	}
	mangled := append([]byte(nil), response...)
	i := frameHeader + g.rng.Intn(len(mangled)-frameHeader)
	mangled[i] ^= 0x01
	return mangled
}
