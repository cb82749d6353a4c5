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

// A simple Roughtime client.
package main

import (
	"flag"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/stoneclock/roughtime/client"
	"github.com/stoneclock/roughtime/config"
	"github.com/stoneclock/roughtime/reporting"
)

const (
	// Build info.
	Version   = "dev"
	BuildTime = ""
)

func main() {
	// Command-line arguments.
	getVersion := flag.Bool("version", false, "Print the version and exit.")
	configFile := flag.String("config", "", "A list of Roughtime servers.")
	pingAddr := flag.String("ping", "", "Send a UDP request, e.g., localhost:2002.")
	pingPubKey := flag.String("pubkey", "", "The hex Ed25519 public key of the address to ping.")
	attempts := flag.Int("attempts", client.DefaultQueryAttempts, "Number of times to try each server.")
	timeout := flag.Duration("timeout", client.DefaultQueryTimeout, "Amount of time to wait for each request.")
	rounds := flag.Int("rounds", 1, "Number of chained rounds across the server list.")
	reportPath := flag.String("report", "", "SQLite file to record causality violations in.")

	flag.Parse()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if *getVersion {
		log.Infof("getroughtime %s (%s) built %s", Version, runtime.Version(), BuildTime)
		return
	}

	switch {
	case *configFile != "":
		list, err := config.LoadServers(*configFile)
		if err != nil {
			log.Fatal(err)
		}

		start := time.Now()
		measurements, err := client.Sequence(list.Servers, nil, *rounds, *attempts, *timeout)
		if err != nil {
			log.Fatal(err)
		}
		for _, m := range measurements {
			log.Infof("%s: %s (+/- %ds)", m.Server, time.Unix(int64(m.Midpoint), 0).UTC(), m.Radius)
		}
		log.Infof("%d measurements in %s", len(measurements), time.Since(start).Truncate(time.Millisecond))

		violations := client.ValidateCausality(measurements)
		if len(violations) == 0 {
			log.Info("causality holds across all measurements")
			return
		}

		for _, v := range violations {
			log.Warnf("causality violation: %s [lower %d] vs %s [upper %d]",
				v.First.Server, v.LowerBoundI, v.Second.Server, v.UpperBoundJ)
		}
		if *reportPath != "" {
			store, err := reporting.Open(*reportPath)
			if err != nil {
				log.Fatal(err)
			}
			for i := range violations {
				id, err := store.Record(time.Now().Unix(), &violations[i])
				if err != nil {
					log.Fatal(err)
				}
				log.Infof("violation recorded as #%d", id)
			}
			store.Close()
		}
		log.Fatalf("%d causality violations detected", len(violations))

	case *pingAddr != "":
		if *pingPubKey == "" {
			log.Fatal("ping: missing -pubkey")
		}

		server := &config.Server{
			Name:      *pingAddr,
			PublicKey: *pingPubKey,
			Address:   *pingAddr,
		}

		start := time.Now()
		m, err := client.Get(server, nil, *attempts, *timeout, nil)
		delay := time.Since(start).Truncate(time.Millisecond)
		if err != nil {
			log.Fatalf("ping error: %s", err)
		}
		log.Infof("ping response: %s (+/- %ds, in %s)",
			time.Unix(int64(m.Midpoint), 0).UTC(), m.Radius, delay)

	default:
		log.Fatal("either provide a configuration via -config or an address via -ping")
	}
}
