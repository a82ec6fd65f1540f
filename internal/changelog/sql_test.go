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

package changelog

import (
	"context"
	"testing"

	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/metriqueio/metrique-etl/internal/sqlsource"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	lastQuery string
	rows      []map[string]any
}

func (f *fakeEngine) Dialect() sqlsource.Dialect { return sqlsource.DialectPostgres }
func (f *fakeEngine) Close() error               { return nil }
func (f *fakeEngine) Query(_ context.Context, q string) ([]map[string]any, error) {
	f.lastQuery = q
	return f.rows, nil
}

func testConfig() Config {
	return Config{
		Coordinates: schema.Coordinates{DB: "tracker", Table: "bug_changes", OID: "bug_id"},
		WhenCol:     "when", FieldCol: "field", RemovedCol: "removed", AddedCol: "added",
	}
}

func testSchema() *schema.Schema {
	fs := schema.New()
	fs.Set("status", schema.FieldSpec{What: "2"})
	fs.Set("tags", schema.FieldSpec{})
	fs.Set("owner", schema.FieldSpec{})
	return fs
}

func TestChangeLogScansScalarColumns(t *testing.T) {
	eng := &fakeEngine{rows: []map[string]any{
		{"when": 1700000000.0, "field": "status", "removed": "open", "added": "closed"},
	}}
	src := NewSQLSource(eng, testConfig(), testSchema())

	entries, err := src.ChangeLog(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "status", entries[0].Field)
	require.Equal(t, "open", entries[0].Removed)
	require.Equal(t, "closed", entries[0].Added)
	require.Contains(t, eng.lastQuery, "WHERE bug_id = 42")
}

func TestChangeLogDecodesJSONArrayColumns(t *testing.T) {
	eng := &fakeEngine{rows: []map[string]any{
		{"when": 1.0, "field": "tags", "removed": `["a","b"]`, "added": `["c"]`},
	}}
	src := NewSQLSource(eng, testConfig(), testSchema())

	entries, err := src.ChangeLog(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b"}, entries[0].Removed)
	require.Equal(t, []any{"c"}, entries[0].Added)
	require.Contains(t, eng.lastQuery, "WHERE bug_id = 'abc'")
}

func TestChangeLogLeavesNonJSONStringsUntouched(t *testing.T) {
	eng := &fakeEngine{rows: []map[string]any{
		{"when": 1.0, "field": "owner", "removed": "alice", "added": "bob"},
	}}
	src := NewSQLSource(eng, testConfig(), testSchema())

	entries, err := src.ChangeLog(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "alice", entries[0].Removed)
}

func TestChangeLogFailsOnNonNumericWhen(t *testing.T) {
	eng := &fakeEngine{rows: []map[string]any{
		{"when": "not-a-number", "field": "status", "removed": "a", "added": "b"},
	}}
	src := NewSQLSource(eng, testConfig(), testSchema())

	_, err := src.ChangeLog(context.Background(), 1)
	require.Error(t, err)
}

func TestChangeLogTranslatesActivityFieldIDs(t *testing.T) {
	eng := &fakeEngine{rows: []map[string]any{
		{"when": 1.0, "field": "2", "removed": "open", "added": "closed"},
	}}
	src := NewSQLSource(eng, testConfig(), testSchema())

	entries, err := src.ChangeLog(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "status", entries[0].Field)
}

func TestChangeLogLeavesUnmappedFieldIDsUntouched(t *testing.T) {
	eng := &fakeEngine{rows: []map[string]any{
		{"when": 1.0, "field": "owner", "removed": "alice", "added": "bob"},
	}}
	src := NewSQLSource(eng, testConfig(), schema.New())

	entries, err := src.ChangeLog(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "owner", entries[0].Field)
}
