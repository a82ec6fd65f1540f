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

// Package changelog supplies the activity replay engine's input: the
// externally maintained change-log of (when, field, removed, added)
// tuples for one oid (spec.md §4.4). SQLSource reads that log from
// the same kind of relational source SB queries, which is the only
// concrete transport spec.md's external-change-log concept names.
package changelog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/metriqueio/metrique-etl/internal/sqlsource"
)

// Config names the table and columns holding the change-log.
type Config struct {
	Coordinates schema.Coordinates
	WhenCol     string
	FieldCol    string
	RemovedCol  string
	AddedCol    string
}

// SQLSource implements batch.ChangeLogSource by querying a relational
// change-log table for one oid at a time.
type SQLSource struct {
	engine sqlsource.Engine
	cfg    Config
	fs     *schema.Schema
}

// NewSQLSource returns a SQLSource querying engine per cfg. fs is the
// Field Schema the replayed objects are reconstructed against: a
// change-log row's field identifier is translated through
// fs.FieldByActivityID before being used as a ChangeLogEntry.Field, so
// a change-log keyed by an external activity-type code still lines up
// with FS field names once AR runs. A field with no declared What tag
// is assumed to already carry its FS name and passes through
// unchanged.
func NewSQLSource(engine sqlsource.Engine, cfg Config, fs *schema.Schema) *SQLSource {
	return &SQLSource{engine: engine, cfg: cfg, fs: fs}
}

// ChangeLog fetches every change-log row recorded for oid, oldest
// first is not required: replay.Replayer re-sorts descending by When
// itself.
func (s *SQLSource) ChangeLog(ctx context.Context, oid any) ([]model.ChangeLogEntry, error) {
	coords := s.cfg.Coordinates
	sql := fmt.Sprintf(
		"SELECT %s, %s, %s, %s FROM %s.%s WHERE %s = %s",
		s.cfg.WhenCol, s.cfg.FieldCol, s.cfg.RemovedCol, s.cfg.AddedCol,
		coords.DB, coords.Table, coords.OID, literal(oid),
	)

	rows, err := s.engine.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	out := make([]model.ChangeLogEntry, 0, len(rows))
	for _, row := range rows {
		when, err := asFloat(row[s.cfg.WhenCol])
		if err != nil {
			return nil, err
		}
		field, _ := row[s.cfg.FieldCol].(string)
		if name, ok := s.fs.FieldByActivityID(schema.ActivityFieldID(field)); ok {
			field = name
		}
		out = append(out, model.ChangeLogEntry{
			When:    when,
			Field:   field,
			Removed: decodeValue(row[s.cfg.RemovedCol]),
			Added:   decodeValue(row[s.cfg.AddedCol]),
		})
	}
	return out, nil
}

// decodeValue accepts either a value the driver already typed
// natively, or a JSON-encoded array/scalar stored as text (the
// common way a container field's removed/added pair is persisted in a
// single change-log column); the latter is unmarshaled into the same
// []any/scalar shape normalize.Normalizer produces.
func decodeValue(raw any) any {
	s, ok := raw.(string)
	if !ok || len(s) == 0 || s[0] != '[' {
		return raw
	}
	var list []any
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return raw
	}
	return list
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
		return 0, fmt.Errorf("change-log %q column: value %v (%T) is not numeric", "when", v, v)
	}
}

func literal(oid any) string {
	switch v := oid.(type) {
	case int, int64, float64, float32:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("'%v'", v)
	}
}
