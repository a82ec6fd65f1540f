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

package sqlbuilder

import (
	"testing"

	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	fs := schema.New()
	fs.Set("status", schema.FieldSpec{})
	fs.Set("owner_name", schema.FieldSpec{
		Select: "u.name",
		SQL:    "LEFT JOIN tracker.users u ON u.id = bugs.owner_id",
	})
	return fs
}

func TestBuildEmitsSelectJoinAndOrder(t *testing.T) {
	b, err := New(schema.Coordinates{DB: "tracker", Table: "bugs", OID: "id"}, testSchema())
	require.NoError(t, err)

	sql := b.Build(nil, true)
	require.Contains(t, sql, "SELECT bugs.status as status, u.name as owner_name FROM tracker.bugs")
	require.Contains(t, sql, "LEFT JOIN tracker.users u ON u.id = bugs.owner_id")
	require.Contains(t, sql, "ORDER BY bugs.id ASC")
	require.NotContains(t, sql, "WHERE")
}

func TestBuildWithOidsAddsWhereIn(t *testing.T) {
	b, err := New(schema.Coordinates{DB: "tracker", Table: "bugs", OID: "id"}, testSchema())
	require.NoError(t, err)

	sql := b.Build([]any{3, "abc", 1}, false)
	require.Contains(t, sql, "WHERE bugs.id in (3,'abc',1)")
	require.NotContains(t, sql, "ORDER BY")
}

func TestBuildCollapsesWhitespace(t *testing.T) {
	fs := schema.New()
	fs.Set("x", schema.FieldSpec{SQL: "LEFT JOIN\n  a\n  ON   1=1"})
	b, err := New(schema.Coordinates{DB: "d", Table: "t", OID: "id"}, fs)
	require.NoError(t, err)

	sql := b.Build(nil, false)
	require.NotContains(t, sql, "\n")
	require.NotContains(t, sql, "  ")
}

func TestNewFailsOnMissingCoordinates(t *testing.T) {
	_, err := New(schema.Coordinates{Table: "t", OID: "id"}, schema.New())
	require.Error(t, err)

	_, err = New(schema.Coordinates{DB: "d", OID: "id"}, schema.New())
	require.Error(t, err)

	_, err = New(schema.Coordinates{DB: "d", Table: "t"}, schema.New())
	require.Error(t, err)
}
