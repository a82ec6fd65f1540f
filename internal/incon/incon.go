// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package incon is the append-only inconsistency log sink that the
// activity replay engine writes to (spec.md §6): plain text, one
// record per line, independent of the structured logrus output
// because its wire format is part of the engine's external contract.
package incon

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/pkg/errors"
)

// Sink appends model.ReplayInconsistency records to a single
// destination, one line per record. Writes are serialized so that
// concurrent replay workers sharing a Sink never interleave partial
// lines (spec.md §5, "the sink must be line-atomic").
type Sink struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// Open appends to (creating if absent) the plain-text inconsistency
// log at path.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open inconsistency log")
	}
	return &Sink{w: f, c: f}, nil
}

// NewWriter wraps an arbitrary io.Writer as a Sink, for tests and for
// callers that want the records multiplexed elsewhere (e.g. stdout).
func NewWriter(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Log appends one inconsistency record in the spec's human-readable
// form: "{oid} {field}: {removed}-> {added} has {last_val}; (<types>)
// ... on {when}".
func (s *Sink) Log(e model.ReplayInconsistency) {
	line := fmt.Sprintf("%v %s: %v-> %v has %v; (%s,%s,%s) ... on %v\n",
		e.OID, e.Field, e.Removed, e.Added, e.LastVal,
		e.RemovedType, e.AddedType, e.LastValType, e.When)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Best-effort: a failed inconsistency-log write must never fail
	// the replay that discovered it.
	_, _ = io.WriteString(s.w, line)
}

// Close releases the underlying file, if Open created one.
func (s *Sink) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
