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

package main

import "github.com/metriqueio/metrique-etl/internal/schema"

// jobSchema declares the Field Schema for this binary's deployment.
// A Field Schema is per-table domain knowledge supplied by whoever
// operates the engine against a given source, analogous to the
// per-cube field maps defined in Python modules in the original
// implementation this engine was modeled on; parsing one out of a
// config file is out of scope (spec.md §1). Operators embedding this
// engine against a different table replace this function.
func jobSchema() *schema.Schema {
	fs := schema.New()
	fs.Set("status", schema.FieldSpec{Type: schema.TypeString})
	fs.Set("owner", schema.FieldSpec{Type: schema.TypeString})
	fs.Set("priority", schema.FieldSpec{Type: schema.TypeInt})
	fs.Set("tags", schema.FieldSpec{Container: true, Type: schema.TypeString})
	return fs
}
