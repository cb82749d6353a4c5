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

// Package reporting persists proof-of-misbehavior payloads: pairs of
// cryptographically valid responses that contradict causal ordering, kept
// with their full request/response transcripts so a third party can
// re-verify the claim.
package reporting

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stoneclock/roughtime/client"
)

// ErrNotFound is returned when a violation id does not exist.
var ErrNotFound = errors.New("reporting: not found")

const schema = `
CREATE TABLE IF NOT EXISTS violations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	observed_at    INTEGER NOT NULL,
	server_first   TEXT    NOT NULL,
	server_second  TEXT    NOT NULL,
	lower_bound    INTEGER NOT NULL,
	upper_bound    INTEGER NOT NULL,
	request_first  BLOB    NOT NULL,
	response_first BLOB    NOT NULL,
	blind_first    BLOB    NOT NULL,
	request_second  BLOB   NOT NULL,
	response_second BLOB   NOT NULL,
	blind_second    BLOB   NOT NULL
);
`

// Violation is one stored proof of misbehavior.
type Violation struct {
	ID         int64
	ObservedAt int64

	ServerFirst  string
	ServerSecond string

	// LowerBound is MIDP-RADI of the earlier response, UpperBound is
	// MIDP+RADI of the later one; LowerBound > UpperBound is the claim.
	LowerBound int64
	UpperBound int64

	RequestFirst  []byte
	ResponseFirst []byte
	BlindFirst    []byte

	RequestSecond  []byte
	ResponseSecond []byte
	BlindSecond    []byte
}

// Store is a SQLite-backed violation archive.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("reporting: opening %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("reporting: creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a causality violation observed at the given Unix time,
// preserving both transcripts, and returns its id.
func (s *Store) Record(observedAt int64, v *client.CausalityViolation) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO violations (
			observed_at, server_first, server_second, lower_bound, upper_bound,
			request_first, response_first, blind_first,
			request_second, response_second, blind_second
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		observedAt,
		v.First.Server, v.Second.Server,
		v.LowerBoundI, v.UpperBoundJ,
		v.First.Request, v.First.Response, v.First.Blind[:],
		v.Second.Request, v.Second.Response, v.Second.Blind[:],
	)
	if err != nil {
		return 0, fmt.Errorf("reporting: inserting violation: %w", err)
	}
	return res.LastInsertId()
}

// Get loads one violation by id.
func (s *Store) Get(id int64) (*Violation, error) {
	row := s.db.QueryRow(
		`SELECT id, observed_at, server_first, server_second, lower_bound, upper_bound,
			request_first, response_first, blind_first,
			request_second, response_second, blind_second
		FROM violations WHERE id = ?`, id)

	var v Violation
	err := row.Scan(
		&v.ID, &v.ObservedAt, &v.ServerFirst, &v.ServerSecond, &v.LowerBound, &v.UpperBound,
		&v.RequestFirst, &v.ResponseFirst, &v.BlindFirst,
		&v.RequestSecond, &v.ResponseSecond, &v.BlindSecond,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reporting: loading violation %d: %w", id, err)
	}
	return &v, nil
}

// List returns the most recent violations, newest first.
func (s *Store) List(limit int) ([]Violation, error) {
	rows, err := s.db.Query(
		`SELECT id, observed_at, server_first, server_second, lower_bound, upper_bound,
			request_first, response_first, blind_first,
			request_second, response_second, blind_second
		FROM violations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reporting: listing violations: %w", err)
	}
	defer rows.Close()

	var violations []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(
			&v.ID, &v.ObservedAt, &v.ServerFirst, &v.ServerSecond, &v.LowerBound, &v.UpperBound,
			&v.RequestFirst, &v.ResponseFirst, &v.BlindFirst,
			&v.RequestSecond, &v.ResponseSecond, &v.BlindSecond,
		); err != nil {
			return nil, fmt.Errorf("reporting: scanning violation: %w", err)
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}
