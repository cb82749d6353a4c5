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

// CausalityViolation records a pair of individually valid responses whose
// time intervals contradict the order they were received in: response i
// came first, yet its lower bound exceeds response j's upper bound. Between
// two cryptographically valid responses this is proof of misbehavior; the
// measurements carry the transcripts to report it with.
type CausalityViolation struct {
	// I and J index the offending measurements, I < J in receive order.
	I, J int

	// LowerBoundI is MIDP_i - RADI_i, UpperBoundJ is MIDP_j + RADI_j.
	LowerBoundI int64
	UpperBoundJ int64

	First, Second *Measurement
}

// ValidateCausality checks every ordered pair of measurements: for i < j it
// requires MIDP_i - RADI_i <= MIDP_j + RADI_j. It returns all violations
// found, or an empty slice when the readings are consistent with causal
// ordering.
func ValidateCausality(measurements []*Measurement) []CausalityViolation {
	var violations []CausalityViolation

	for i := 0; i < len(measurements); i++ {
		for j := i + 1; j < len(measurements); j++ {
			lower := int64(measurements[i].Midpoint) - int64(measurements[i].Radius)
			upper := int64(measurements[j].Midpoint) + int64(measurements[j].Radius)

			if lower > upper {
				violations = append(violations, CausalityViolation{
					I:           i,
					J:           j,
					LowerBoundI: lower,
					UpperBoundJ: upper,
					First:       measurements[i],
					Second:      measurements[j],
				})
			}
		}
	}

	return violations
}
