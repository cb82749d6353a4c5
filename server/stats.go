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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reason labels used on the roughtime_requests_dropped_total counter.
const (
	DropSize     = "size"
	DropFrame    = "frame"
	DropDecode   = "decode"
	DropProtocol = "protocol"
	DropSrv      = "srv"
	DropVersion  = "version"
)

// Stats are the server loop's counters. The prometheus collectors are
// registered for external scraping; the plain fields are the loop's private
// running totals for the periodic log line and are only touched by the loop
// itself.
type Stats struct {
	requestsAccepted prometheus.Counter
	requestsDropped  *prometheus.CounterVec
	batches          prometheus.Counter
	batchesFailed    prometheus.Counter
	batchSize        prometheus.Histogram
	responsesSent    prometheus.Counter
	sendFailures     prometheus.Counter
	bytesSent        prometheus.Counter

	accepted  uint64
	dropped   uint64
	responses uint64
	bytes     uint64
}

// NewStats creates the loop's counters and registers them with reg.
func NewStats(reg prometheus.Registerer) *Stats {
	factory := promauto.With(reg)
	return &Stats{
		requestsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_requests_accepted_total",
			Help: "Requests admitted into a batch.",
		}),
		requestsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roughtime_requests_dropped_total",
			Help: "Requests silently dropped, by reason.",
		}, []string{"reason"}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_batches_total",
			Help: "Batches signed and answered.",
		}),
		batchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_batches_failed_total",
			Help: "Batches dropped whole due to a signing or assembly failure.",
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roughtime_batch_size",
			Help:    "Number of requests aggregated under one signature.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 7),
		}),
		responsesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_responses_sent_total",
			Help: "Response datagrams sent.",
		}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_send_failures_total",
			Help: "Response datagrams that failed to send.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_bytes_sent_total",
			Help: "Response bytes sent.",
		}),
	}
}

func (s *Stats) accept() {
	s.requestsAccepted.Inc()
	s.accepted++
}

func (s *Stats) drop(reason string) {
	s.requestsDropped.WithLabelValues(reason).Inc()
	s.dropped++
}

func (s *Stats) batchClosed(size int) {
	s.batches.Inc()
	s.batchSize.Observe(float64(size))
}

func (s *Stats) batchFailed() {
	s.batchesFailed.Inc()
}

func (s *Stats) sent(bytes int) {
	s.responsesSent.Inc()
	s.bytesSent.Add(float64(bytes))
	s.responses++
	s.bytes += uint64(bytes)
}

func (s *Stats) sendFailed() {
	s.sendFailures.Inc()
}

// snapshot returns and resets the interval totals for the periodic log.
func (s *Stats) snapshot() (accepted, dropped, responses, bytes uint64) {
	accepted, dropped, responses, bytes = s.accepted, s.dropped, s.responses, s.bytes
	s.accepted, s.dropped, s.responses, s.bytes = 0, 0, 0, 0
	return
}
