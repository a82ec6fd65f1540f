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

// Package normalize turns raw SQL rows into pipeline objects: unwrap,
// container normalization, conversion, and typecasting, per field, in
// that order, enforced by the declarative Field Schema.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/schema"
)

// Normalizer applies a Field Schema to raw rows.
type Normalizer struct {
	fs  *schema.Schema
	oid string
}

// New returns a Normalizer for fs. oidField is the FS field name that
// holds the object identifier, copied onto model.FieldOID after
// normalization.
func New(fs *schema.Schema, oidField string) *Normalizer {
	return &Normalizer{fs: fs, oid: oidField}
}

// Apply normalizes one raw row into an Object. Fields not declared in
// fs are carried through unchanged; fields declared in fs but absent
// from row are treated as nil.
func (n *Normalizer) Apply(row map[string]any) (model.Object, error) {
	out := make(model.Object, len(row)+1)
	for k, v := range row {
		out[k] = v
	}

	for _, field := range n.fs.Fields() {
		spec, _ := n.fs.Get(field)
		value := out[field]

		value = unwrap(value)

		value, err := normalizeContainer(field, spec, value)
		if err != nil {
			return nil, err
		}

		value, err = convert(spec, value)
		if err != nil {
			return nil, err
		}

		value, err = typecast(spec, value)
		if err != nil {
			return nil, err
		}

		out[field] = value
	}

	if n.oid != "" {
		out[model.FieldOID] = out[n.oid]
	}
	return out, nil
}

// ApplyAll normalizes a batch of rows.
func (n *Normalizer) ApplyAll(rows []map[string]any) ([]model.Object, error) {
	out := make([]model.Object, 0, len(rows))
	for _, row := range rows {
		obj, err := n.Apply(row)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// unwrap decodes an opaque blob/buffer value into either a list of
// lines or nil, leaving every other value untouched.
func unwrap(value any) any {
	b, ok := value.([]byte)
	if !ok {
		return value
	}
	s := strings.TrimSpace(strings.ReplaceAll(string(b), `"`, ""))
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	out := make([]any, len(lines))
	for i, line := range lines {
		out[i] = line
	}
	return out
}

// normalizeContainer reconciles a raw scalar/list value with the
// field's declared container-ness: wrap bare scalars for container
// fields, reject lists for scalar fields.
func normalizeContainer(field string, spec schema.FieldSpec, value any) (any, error) {
	list, isList := asList(value)
	switch {
	case spec.Container && !isList:
		if isFalsy(value) {
			return nil, nil
		}
		return []any{value}, nil
	case !spec.Container && isList:
		return nil, model.NewSchemaError(field, "expected single value, got list")
	case isList:
		return list, nil
	default:
		return value, nil
	}
}

// convert applies spec.Convert to a scalar, or element-wise to a
// container's members. A nil value is passed through untouched.
func convert(spec schema.FieldSpec, value any) (any, error) {
	if value == nil || spec.Convert == nil {
		return value, nil
	}
	if spec.Container {
		list, _ := asList(value)
		out := make([]any, len(list))
		for i, item := range list {
			v, err := spec.Convert(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return spec.Convert(value)
}

// typecast coerces value to spec.Type: element-wise and
// ascending-sorted for containers, scalar otherwise.
func typecast(spec schema.FieldSpec, value any) (any, error) {
	if spec.Container {
		return typeContainer(value, spec.Type)
	}
	return typeSingle(value, spec.Type)
}

func typeContainer(value any, tag schema.TypeTag) (any, error) {
	if value == nil {
		return []any{}, nil
	}
	list, ok := asList(value)
	if !ok {
		return nil, model.NewSchemaError("", "expected list for container field")
	}
	out := make([]any, len(list))
	for i, item := range list {
		v, err := typeSingle(item, tag)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	sortScalars(out)
	return out, nil
}

func typeSingle(value any, tag schema.TypeTag) (any, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok && s == "" {
		return nil, nil
	}

	switch tag {
	case schema.TypeString:
		return toString(value), nil
	case schema.TypeInt:
		return toInt(value)
	case schema.TypeFloat:
		return toFloat(value)
	case schema.TypeBool:
		return toBool(value)
	default:
		return toString(value), nil
	}
}

func toString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	return toDisplay(value)
}

func toInt(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, model.NewSchemaError("", "cannot convert to int")
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, model.NewSchemaError("", "cannot convert to float")
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, model.NewSchemaError("", "cannot convert to bool")
	}
}

func toDisplay(value any) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	default:
		return strconvAny(v)
	}
}

func strconvAny(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// sortScalars sorts a slice of normalized scalars ascending,
// comparing numerically when every element is numeric and as strings
// otherwise.
func sortScalars(values []any) {
	allNumeric := true
	for _, v := range values {
		switch v.(type) {
		case int64, float64:
		default:
			allNumeric = false
		}
	}
	if allNumeric {
		sort.Slice(values, func(i, j int) bool { return asFloat(values[i]) < asFloat(values[j]) })
		return
	}
	sort.Slice(values, func(i, j int) bool { return sprint(values[i]) < sprint(values[j]) })
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}

func isFalsy(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case int:
		return v == 0
	case int64:
		return v == 0
	case float64:
		return v == 0
	default:
		return false
	}
}

func sprint(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
