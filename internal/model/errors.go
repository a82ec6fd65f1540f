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

package model

import "fmt"

// ConfigError reports a missing or invalid pipeline configuration
// (missing db/table/_oid, an unknown field reference). It is fatal and
// is expected to be surfaced immediately rather than retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config error: " + e.Reason }

// NewConfigError constructs a ConfigError.
func NewConfigError(reason string) *ConfigError { return &ConfigError{Reason: reason} }

// SchemaError reports a scalar value where a container field was
// expected, or vice versa. It is fatal for the single object involved.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error on field %q: %s", e.Field, e.Reason)
}

// NewSchemaError constructs a SchemaError.
func NewSchemaError(field, reason string) *SchemaError {
	return &SchemaError{Field: field, Reason: reason}
}

// SourceTransportError wraps a failure talking to the source SQL
// engine. It is retryable within a batch, up to the configured retry
// count, after which it is surfaced to fail the batch.
type SourceTransportError struct {
	Cause error
}

func (e *SourceTransportError) Error() string { return "source transport error: " + e.Cause.Error() }

func (e *SourceTransportError) Unwrap() error { return e.Cause }

// NewSourceTransportError wraps cause as a SourceTransportError.
func NewSourceTransportError(cause error) *SourceTransportError {
	return &SourceTransportError{Cause: cause}
}

// ReplayInconsistency describes a single contradiction discovered while
// the activity replay engine walked a change-log backwards: the
// current value of a field did not match what the log said had been
// added. It is non-fatal; replay continues as if the entry were
// consistent, and the occurrence is recorded both in the inconsistency
// log and on the produced version's _corrupted map, which stores Added
// under the field name.
type ReplayInconsistency struct {
	OID         any
	Field       string
	Removed     any
	Added       any
	LastVal     any
	When        float64
	RemovedType string
	AddedType   string
	LastValType string
}

func (e *ReplayInconsistency) Error() string {
	return fmt.Sprintf("replay inconsistency: oid=%v field=%s removed=%v added=%v last=%v at=%v",
		e.OID, e.Field, e.Removed, e.Added, e.LastVal, e.When)
}

// StoreError wraps a failure writing to or reading from the document
// store. It is surfaced immediately and fails the job.
type StoreError struct {
	Cause error
}

func (e *StoreError) Error() string { return "store error: " + e.Cause.Error() }

func (e *StoreError) Unwrap() error { return e.Cause }

// NewStoreError wraps cause as a StoreError.
func NewStoreError(cause error) *StoreError { return &StoreError{Cause: cause} }

// CreationTimeError reports a failure to apply the configured
// creation-time backdate during activity replay (the creation field
// was missing, of the wrong type, or otherwise unusable). It is
// non-fatal: the object is kept with its un-backdated _start.
type CreationTimeError struct {
	OID   any
	Field string
	Cause error
}

func (e *CreationTimeError) Error() string {
	return fmt.Sprintf("creation time error: oid=%v field=%s: %v", e.OID, e.Field, e.Cause)
}

func (e *CreationTimeError) Unwrap() error { return e.Cause }
