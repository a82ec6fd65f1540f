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

package normalize

import (
	"testing"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	return schema.New().
		Set("id", schema.FieldSpec{Type: schema.TypeInt}).
		Set("name", schema.FieldSpec{Type: schema.TypeString}).
		Set("tags", schema.FieldSpec{Container: true, Type: schema.TypeString})
}

func TestApplySetsOID(t *testing.T) {
	n := New(testSchema(), "id")
	obj, err := n.Apply(map[string]any{"id": float64(7), "name": "a"})
	require.NoError(t, err)
	require.EqualValues(t, 7, obj[model.FieldOID])
}

func TestApplyWrapsScalarIntoContainer(t *testing.T) {
	n := New(testSchema(), "id")
	obj, err := n.Apply(map[string]any{"id": float64(1), "tags": "solo"})
	require.NoError(t, err)
	require.Equal(t, []any{"solo"}, obj["tags"])
}

func TestApplyRejectsListForScalarField(t *testing.T) {
	n := New(testSchema(), "id")
	_, err := n.Apply(map[string]any{"id": float64(1), "name": []any{"a", "b"}})
	require.Error(t, err)
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestApplySortsContainerAscending(t *testing.T) {
	n := New(testSchema(), "id")
	obj, err := n.Apply(map[string]any{"id": float64(1), "tags": []any{"c", "a", "b"}})
	require.NoError(t, err)
	require.Equal(t, []any{"a", "b", "c"}, obj["tags"])
}

func TestApplyEmptyContainerBecomesEmptyList(t *testing.T) {
	n := New(testSchema(), "id")
	obj, err := n.Apply(map[string]any{"id": float64(1), "tags": nil})
	require.NoError(t, err)
	require.Equal(t, []any{}, obj["tags"])
}

func TestApplyEmptyStringScalarBecomesNil(t *testing.T) {
	n := New(testSchema(), "id")
	obj, err := n.Apply(map[string]any{"id": float64(1), "name": ""})
	require.NoError(t, err)
	require.Nil(t, obj["name"])
}

func TestApplyUnwrapsBlobIntoLines(t *testing.T) {
	s := schema.New().Set("notes", schema.FieldSpec{Container: true, Type: schema.TypeString})
	n := New(s, "")
	obj, err := n.Apply(map[string]any{"notes": []byte("\"line one\"\nline two")})
	require.NoError(t, err)
	require.Equal(t, []any{"line one", "line two"}, obj["notes"])
}

func TestApplyIsIdempotent(t *testing.T) {
	n := New(testSchema(), "id")
	row := map[string]any{"id": float64(9), "name": "x", "tags": []any{"z", "a"}}

	first, err := n.Apply(row)
	require.NoError(t, err)

	firstAsRow := map[string]any(first)
	second, err := n.Apply(firstAsRow)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestApplyConvertRunsElementwiseOnContainer(t *testing.T) {
	s := schema.New().Set("tags", schema.FieldSpec{
		Container: true,
		Type:      schema.TypeString,
		Convert: func(v any) (any, error) {
			return "pre-" + v.(string), nil
		},
	})
	n := New(s, "")
	obj, err := n.Apply(map[string]any{"tags": []any{"b", "a"}})
	require.NoError(t, err)
	require.Equal(t, []any{"pre-a", "pre-b"}, obj["tags"])
}
