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

// Package schema implements the declarative Field Schema (FS): the
// per-field source expression, converter, container flag, type tag,
// and activity-log identifier that every other pipeline stage consults.
package schema

import "fmt"

// TypeTag names the scalar type a field's value is coerced to by the
// normalizer's typecast step. The zero value, TypeAuto, reproduces the
// source language's untyped default: null stays null, empty string
// becomes null, everything else is normalized to a UTF-8 string.
type TypeTag int

// Supported scalar types.
const (
	TypeAuto TypeTag = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
)

func (t TypeTag) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	default:
		return "auto"
	}
}

// ActivityFieldID identifies a field within an externally supplied
// change-log, when the log's field identifiers differ from the FS
// field names (e.g. a numeric activity-type code).
type ActivityFieldID string

// ConvertFunc transforms a single raw scalar value. It is applied
// element-wise to container fields.
type ConvertFunc func(any) (any, error)

// FieldSpec is one entry of the declarative Field Schema.
type FieldSpec struct {
	// Select overrides the default "<table>.<field>" source expression.
	Select string
	// SQL is a free-form JOIN or filter fragment appended to the
	// generated query, in FS iteration order.
	SQL string
	// Convert is applied after container normalization, before
	// typecasting.
	Convert ConvertFunc
	// Container marks the field's value as an unordered multiset,
	// materialized as a type-sorted slice.
	Container bool
	// Type is the scalar type the normalizer coerces values to.
	Type TypeTag
	// What is the activity-log field identifier this FS field
	// corresponds to, if the object is reconstructed via activity
	// replay from an externally keyed change-log.
	What ActivityFieldID
}

// Coordinates identifies the source table a Schema's fields are drawn
// from, used both by the SQL builder and by LeftJoin to qualify
// defaulted database/table names.
type Coordinates struct {
	DB    string
	Table string
	OID   string
}

// Schema is an ordered map of field name to FieldSpec. Order matters:
// it determines both the SELECT list order and the order in which
// per-field SQL fragments (joins, filters) are appended to a generated
// query.
type Schema struct {
	order  []string
	fields map[string]FieldSpec
}

// New returns an empty Schema.
func New() *Schema {
	return &Schema{fields: make(map[string]FieldSpec)}
}

// Set declares or replaces a field. It returns the Schema to allow
// chaining declarations.
func (s *Schema) Set(name string, spec FieldSpec) *Schema {
	if _, exists := s.fields[name]; !exists {
		s.order = append(s.order, name)
	}
	s.fields[name] = spec
	return s
}

// Get returns the FieldSpec declared for name.
func (s *Schema) Get(name string) (FieldSpec, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether name is a declared field.
func (s *Schema) Has(name string) bool {
	_, ok := s.fields[name]
	return ok
}

// FieldByActivityID returns the FS field name whose What tag matches
// id, the way generic.py's fieldmap property does.
func (s *Schema) FieldByActivityID(id ActivityFieldID) (string, bool) {
	for _, name := range s.order {
		if s.fields[name].What == id {
			return name, true
		}
	}
	return "", false
}

// LeftJoinParams configures a left-join field fragment produced by
// LeftJoin.
type LeftJoinParams struct {
	// Alias is the table alias used for the joined table within the
	// generated query.
	Alias string
	// SelectProp is the column of the joined table to project.
	SelectProp string
	// JoinProp is the column of the joined table used on the right
	// side of the ON clause.
	JoinProp string
	// JoinTable is the table being joined in.
	JoinTable string
	// OnCol is the column of the primary table used on the left side
	// of the ON clause.
	OnCol string

	// JoinDB, OnDB, OnTable default to the primary Coordinates' DB and
	// Table when left empty.
	JoinDB  string
	OnDB    string
	OnTable string
}

// LeftJoin builds the {select, sql} FieldSpec fragment for a field
// sourced from a joined table, generalizing generic.py's _left_join
// helper to allow the joined-from database/table to be overridden
// independently of the primary Coordinates.
func LeftJoin(p LeftJoinParams, primary Coordinates) FieldSpec {
	onDB := p.OnDB
	if onDB == "" {
		onDB = primary.DB
	}
	onTable := p.OnTable
	if onTable == "" {
		onTable = primary.Table
	}
	joinDB := p.JoinDB
	if joinDB == "" {
		joinDB = primary.DB
	}
	return FieldSpec{
		Select: fmt.Sprintf("%s.%s", p.Alias, p.SelectProp),
		SQL: fmt.Sprintf("LEFT JOIN %s.%s %s ON %s.%s = %s.%s.%s",
			joinDB, p.JoinTable, p.Alias,
			p.Alias, p.JoinProp,
			onDB, onTable, p.OnCol),
	}
}
