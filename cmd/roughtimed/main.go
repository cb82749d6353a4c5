// Copyright 2023 Cloudflare, Inc.
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

// The Roughtime server daemon.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stoneclock/roughtime/config"
	"github.com/stoneclock/roughtime/keys"
	"github.com/stoneclock/roughtime/server"
)

var (
	configFile    = flag.String("config", "", "Path to the YAML configuration file.")
	iface         = flag.String("interface", "", "Override listen_ip from the config.")
	port          = flag.Int("port", 0, "Override listen_udp_port from the config.")
	seed          = flag.String("seed", "", "Override the hex seed from the config.")
	statsInterval = flag.Duration("stats-interval", 0, "Override the stats logging interval.")
	fixedOffset   = flag.Duration("fixed-offset", 0, "Shift the served time by a fixed offset (testing only).")
)

func main() {
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg := config.Default()
	if *configFile != "" {
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatal("bad configuration", zap.Error(err))
		}
	}
	if *iface != "" {
		cfg.ListenIP = *iface
	}
	if *port != 0 {
		cfg.ListenUDPPort = *port
	}
	if *seed != "" {
		cfg.Seed = *seed
	}
	if *statsInterval != 0 {
		cfg.StatsIntervalSeconds = int(statsInterval.Seconds())
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("bad configuration", zap.Error(err))
	}

	seedBytes, err := cfg.SeedBytes()
	if err != nil {
		log.Fatal("bad seed", zap.Error(err))
	}
	backend, err := keys.NewMemoryBackend(seedBytes)
	if err != nil {
		log.Fatal("bad seed", zap.Error(err))
	}

	if *fixedOffset != 0 {
		log.Warn("serving deliberately wrong time", zap.Duration("offset", *fixedOffset))
	}
	ts := server.NewTimeSource(clock.New(), *fixedOffset)

	registry := prometheus.NewRegistry()
	srv, err := server.New(cfg, backend, ts, log, registry)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer srv.Close()

	if cfg.MetricsAddr != "" {
		l, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			log.Fatal("could not listen for metrics", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.Serve(l, mux); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		log.Info("metrics exposed", zap.String("addr", cfg.MetricsAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		// Run notices cancellation on its own within a poll interval; as a
		// backstop, close the socket one second after cancellation.
		time.AfterFunc(time.Second, func() { srv.Close() })
	}()

	log.Info("serving roughtime", zap.Stringer("addr", srv.Addr()))
	if err := srv.Run(ctx); err != nil {
		log.Fatal("server loop failed", zap.Error(err))
	}
	log.Info("clean shutdown")
}
