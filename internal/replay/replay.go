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

// Package replay reconstructs the full version history of an object
// by walking its change-log backwards from the current live version,
// one field mutation at a time.
package replay

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/metriqueio/metrique-etl/internal/model"
	log "github.com/sirupsen/logrus"
)

// Sink receives every inconsistency discovered during replay. The
// batch driver wires this to the append-only inconsistency log file
// (see internal/incon).
type Sink interface {
	Log(model.ReplayInconsistency)
}

// Replayer walks a change-log backwards to reconstruct version
// history for a single object at a time.
type Replayer struct {
	creationField string
	sink          Sink
}

// New returns a Replayer. creationField, when non-empty, names the
// field used to backdate the earliest reconstructed version's
// _start (see Replay's final step). sink may be nil to discard
// inconsistencies (tests only); production callers must supply one.
func New(creationField string, sink Sink) *Replayer {
	return &Replayer{creationField: creationField, sink: sink}
}

// Replay reconstructs the full, bottom-first version history of
// current from entries, per spec: filter to entries preceding
// current's _start that touch a field current carries, sort
// descending by time, then replay each mutation backwards, coalescing
// same-timestamp entries and flagging any inconsistency between the
// log's recorded "added" value and what replay actually finds.
//
// Returns an empty slice when the log yields no change to the single
// current version (nothing to reconstruct).
func (r *Replayer) Replay(current model.Object, entries []model.ChangeLogEntry) ([]model.Object, error) {
	start := current.Start()
	oid := current.OID()

	filtered := make([]model.ChangeLogEntry, 0, len(entries))
	for _, e := range entries {
		if e.When >= start {
			continue
		}
		if _, ok := current[e.Field]; !ok {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].When > filtered[j].When })

	stack := []model.Object{current.Clone()}

	for _, e := range filtered {
		last := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var newDoc model.Object
		if end, closed := last.End(); closed && end == e.When {
			// Same-timestamp coalesce: the just-popped version is a
			// zero-width placeholder from the prior iteration; fold it
			// away and continue from the version beneath it.
			newDoc = last.Clone()
			last = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		} else {
			newDoc = last.Clone()
			newDoc[model.FieldStart] = e.When
			newDoc[model.FieldEnd] = e.When
			last[model.FieldStart] = e.When
		}

		lastVal := last[e.Field]
		newVal, inconsistent := backwards(newDoc[e.Field], e.Removed, e.Added)
		newDoc[e.Field] = newVal

		if inconsistent {
			r.logInconsistency(oid, e, lastVal)
			corrupted, _ := newDoc[model.FieldCorrupted].(map[string]any)
			if corrupted == nil {
				corrupted = map[string]any{}
			}
			corrupted[e.Field] = e.Added
			newDoc[model.FieldCorrupted] = corrupted
		}

		stack = append(stack, last, newDoc)
	}

	changed := len(filtered) > 0
	if r.creationField != "" {
		changed = applyCreationBackdate(stack[len(stack)-1], r.creationField) || changed
	}

	if len(stack) == 1 && !changed {
		// Only the current version exists and nothing about it moved:
		// there is nothing to write.
		return []model.Object{}, nil
	}

	return stack, nil
}

// applyCreationBackdate backdates bottom's _start to bottom[field] when
// that creation timestamp predates the current _start. Failures (the
// field missing or non-numeric) are logged as non-fatal
// model.CreationTimeError and leave bottom unchanged, per spec §7. It
// returns whether bottom's _start was actually moved.
func applyCreationBackdate(bottom model.Object, field string) bool {
	raw, ok := bottom[field]
	var ts float64
	var err error
	if !ok || raw == nil {
		err = fmt.Errorf("creation field %q is missing", field)
	} else {
		ts, err = asFloat(raw)
	}
	if err != nil {
		cerr := &model.CreationTimeError{OID: bottom.OID(), Field: field, Cause: err}
		log.WithError(cerr).Warn("creation time backdate skipped")
		return false
	}
	if ts < bottom.Start() {
		bottom[model.FieldStart] = ts
		return true
	}
	return false
}

// backwards computes the pre-mutation value of a field given its
// current value and the log's recorded removed/added values. For
// container fields (both removed and added are lists) it removes
// each added element from val, flagging an inconsistency for any
// added element absent from val, then extends with removed. For
// scalar fields the inconsistency flag is val != added, and the
// pre-mutation value is simply removed.
func backwards(val, removed, added any) (any, bool) {
	removedList, removedIsList := asList(removed)
	addedList, addedIsList := asList(added)

	if removedIsList && addedIsList {
		cur, _ := asList(val)
		working := append([]any(nil), cur...)
		inconsistent := false
		for _, ad := range addedList {
			if idx := indexOf(working, ad); idx >= 0 {
				working = append(working[:idx], working[idx+1:]...)
			} else {
				inconsistent = true
			}
		}
		working = append(working, removedList...)
		return working, inconsistent
	}

	inconsistent := !reflect.DeepEqual(val, added)
	return removed, inconsistent
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	default:
		return nil, false
	}
}

func indexOf(list []any, v any) int {
	for i, item := range list {
		if reflect.DeepEqual(item, v) {
			return i
		}
	}
	return -1
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func (r *Replayer) logInconsistency(oid any, e model.ChangeLogEntry, lastVal any) {
	incon := model.ReplayInconsistency{
		OID:         oid,
		Field:       e.Field,
		Removed:     e.Removed,
		Added:       e.Added,
		LastVal:     lastVal,
		When:        e.When,
		RemovedType: fmt.Sprintf("%T", e.Removed),
		AddedType:   fmt.Sprintf("%T", e.Added),
		LastValType: fmt.Sprintf("%T", lastVal),
	}
	if r.sink != nil {
		r.sink.Log(incon)
	}
	log.WithFields(log.Fields{"oid": oid, "field": e.Field, "when": e.When}).Debug("replay inconsistency")
}
