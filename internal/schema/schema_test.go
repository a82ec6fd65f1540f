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

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetPreservesDeclarationOrder(t *testing.T) {
	fs := New()
	fs.Set("b", FieldSpec{}).Set("a", FieldSpec{}).Set("c", FieldSpec{})
	require.Equal(t, []string{"b", "a", "c"}, fs.Fields())
}

func TestSetReplaceKeepsOriginalPosition(t *testing.T) {
	fs := New()
	fs.Set("a", FieldSpec{Type: TypeString})
	fs.Set("b", FieldSpec{})
	fs.Set("a", FieldSpec{Type: TypeInt})

	require.Equal(t, []string{"a", "b"}, fs.Fields())
	spec, ok := fs.Get("a")
	require.True(t, ok)
	require.Equal(t, TypeInt, spec.Type)
}

func TestFieldByActivityID(t *testing.T) {
	fs := New()
	fs.Set("status", FieldSpec{What: "42"})
	fs.Set("owner", FieldSpec{What: "7"})

	name, ok := fs.FieldByActivityID("7")
	require.True(t, ok)
	require.Equal(t, "owner", name)

	_, ok = fs.FieldByActivityID("999")
	require.False(t, ok)
}

func TestLeftJoinDefaultsToCoordinatesDBAndTable(t *testing.T) {
	primary := Coordinates{DB: "tracker", Table: "bugs", OID: "id"}
	spec := LeftJoin(LeftJoinParams{
		Alias:      "u",
		SelectProp: "name",
		JoinProp:   "id",
		JoinTable:  "users",
		OnCol:      "owner_id",
	}, primary)

	require.Equal(t, "u.name", spec.Select)
	require.Equal(t, "LEFT JOIN tracker.users u ON u.id = tracker.bugs.owner_id", spec.SQL)
}

func TestLeftJoinHonorsExplicitOverrides(t *testing.T) {
	primary := Coordinates{DB: "tracker", Table: "bugs", OID: "id"}
	spec := LeftJoin(LeftJoinParams{
		Alias:      "u",
		SelectProp: "name",
		JoinProp:   "id",
		JoinTable:  "users",
		OnCol:      "owner_id",
		JoinDB:     "people",
		OnDB:       "tracker",
		OnTable:    "bugs_archive",
	}, primary)

	require.Equal(t, "LEFT JOIN people.users u ON u.id = tracker.bugs_archive.owner_id", spec.SQL)
}
