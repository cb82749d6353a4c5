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

// Generates a long-term key seed and the matching public key.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/stoneclock/roughtime/keys"
)

func main() {
	seedFile := flag.String("seed", "", "File to put the hex seed in (stdout if empty)")
	pubFile := flag.String("pub", "", "File to put the hex public key in (stdout if empty)")

	flag.Parse()

	seed := make([]byte, keys.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		log.Fatalf("Error generating seed: %v", err)
	}

	backend, err := keys.NewMemoryBackend(seed)
	if err != nil {
		log.Fatalf("Error deriving key: %v", err)
	}

	seedEnc := hex.EncodeToString(seed)
	pubEnc := hex.EncodeToString(backend.PublicKey())

	if *seedFile == "" {
		fmt.Printf("seed: %s\n", seedEnc)
	} else if err := os.WriteFile(*seedFile, []byte(seedEnc), 0o600); err != nil {
		log.Fatal("Can't write seed")
	}

	if *pubFile == "" {
		fmt.Printf("public key: %s\n", pubEnc)
	} else if err := os.WriteFile(*pubFile, []byte(pubEnc), 0o644); err != nil {
		log.Fatal("Can't write public key")
	}
}
