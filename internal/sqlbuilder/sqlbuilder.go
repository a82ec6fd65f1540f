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

// Package sqlbuilder emits the single SELECT statement that the query
// planner needs: one column per declared field, joined with any
// per-field SQL fragments declared in the Field Schema, optionally
// filtered to a set of object identifiers and sorted.
package sqlbuilder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/schema"
)

var whitespace = regexp.MustCompile(`\s+`)

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Builder generates SQL for a single (db, table, oid-column) source
// against a Field Schema.
type Builder struct {
	coords schema.Coordinates
	schema *schema.Schema
}

// New validates coords and returns a Builder. It fails with a
// model.ConfigError if db, table, or the oid column is unset.
func New(coords schema.Coordinates, fs *schema.Schema) (*Builder, error) {
	if coords.DB == "" || coords.Table == "" || coords.OID == "" {
		return nil, model.NewConfigError("must define db, table, _oid in config")
	}
	return &Builder{coords: coords, schema: fs}, nil
}

// Build emits "SELECT <selects> FROM db.table <stmts> [WHERE
// table._oid IN (...)] [ORDER BY table._oid ASC]" per the Field
// Schema's declared fields, in FS iteration order. oids is optional; a
// nil or empty slice omits the WHERE clause. sort controls whether a
// deterministic ORDER BY is appended.
func (b *Builder) Build(oids []any, sort bool) string {
	var selects []string
	var stmts []string

	for _, name := range b.schema.Fields() {
		spec, _ := b.schema.Get(name)
		sel := spec.Select
		if sel == "" {
			sel = fmt.Sprintf("%s.%s", b.coords.Table, name)
		}
		selects = append(selects, fmt.Sprintf("%s as %s", sel, name))
		if spec.SQL != "" {
			stmts = append(stmts, collapse(spec.SQL))
		}
	}

	sql := fmt.Sprintf("SELECT %s FROM %s.%s %s",
		strings.Join(selects, ", "), b.coords.DB, b.coords.Table, strings.Join(stmts, " "))

	if len(oids) > 0 {
		sql += fmt.Sprintf(" WHERE %s.%s in (%s)", b.coords.Table, b.coords.OID, oidCSV(oids))
	}
	if sort {
		sql += fmt.Sprintf(" ORDER BY %s.%s ASC", b.coords.Table, b.coords.OID)
	}
	return collapse(sql)
}

// oidCSV renders a comma-separated literal list: numeric oids are
// rendered bare, string oids are single-quoted (with embedded quotes
// doubled), matching the source dialect's literal syntax.
func oidCSV(oids []any) string {
	parts := make([]string, len(oids))
	for i, oid := range oids {
		switch v := oid.(type) {
		case int, int64, float64, float32:
			parts[i] = fmt.Sprintf("%v", v)
		case string:
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				parts[i] = v
			} else {
				parts[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
			}
		default:
			parts[i] = fmt.Sprintf("'%v'", v)
		}
	}
	return strings.Join(parts, ",")
}
