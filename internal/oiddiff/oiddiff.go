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

// Package oiddiff computes the set of object identifiers the query
// planner must refresh on a given run: every oid (forced full
// refresh), an explicit set, or the union of not-yet-seen oids and
// oids whose configured mtime columns moved since the last run.
package oiddiff

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/metriqueio/metrique-etl/internal/sqlsource"
	log "github.com/sirupsen/logrus"
)

type forceKind int

const (
	forceAuto forceKind = iota
	forceAll
	forceExact
)

// Force selects the delta policy for one Resolve call. The zero value
// is the "falsy" policy: union of new-oids and changed-oids per
// config flags.
type Force struct {
	kind forceKind
	oids []any
}

// ForceAll requests every distinct oid from the source table.
func ForceAll() Force { return Force{kind: forceAll} }

// ForceExact requests exactly the given oids, no diffing.
func ForceExact(oids ...any) Force { return Force{kind: forceExact, oids: oids} }

// Config declares the OD-relevant slice of the pipeline configuration.
type Config struct {
	Coordinates schema.Coordinates
	// DeltaNewIDs enables the new-oids half of the auto policy.
	DeltaNewIDs bool
	// DeltaMtime names the column(s) to OR-compare against the
	// resolved mtime for the changed-oids half of the auto policy. A
	// nil/empty slice disables it.
	DeltaMtime []string
	// ParseTimestamp controls whether a resolved mtime is rendered
	// through the source dialect's parseTimestamp(...) function or
	// quoted as a plain literal.
	ParseTimestamp bool
}

// LastState is the prior-run state OD needs to diff against. The
// batch driver is responsible for reading it out of the document
// store before calling Resolve; oiddiff holds no store dependency of
// its own, per the "no mutable global state" design note.
type LastState struct {
	// LastOID is the maximum _oid previously persisted, or nil if no
	// prior state exists.
	LastOID any
	// LastStart is the maximum _start previously persisted, used as
	// the mtime fallback when no explicit last-update is supplied.
	LastStart *float64
}

// Resolver computes oid sets against one source table.
type Resolver struct {
	engine sqlsource.Engine
	cfg    Config
}

// New returns a Resolver querying engine for rows of cfg.Coordinates.
func New(engine sqlsource.Engine, cfg Config) (*Resolver, error) {
	if cfg.Coordinates.DB == "" || cfg.Coordinates.Table == "" || cfg.Coordinates.OID == "" {
		return nil, model.NewConfigError("must define db, table, _oid in config")
	}
	return &Resolver{engine: engine, cfg: cfg}, nil
}

// Resolve returns the sorted, deduplicated set of oids to refresh per
// force and the prior-run state in last. lastUpdate, when non-nil,
// overrides last.LastStart as the changed-oids mtime.
func (r *Resolver) Resolve(ctx context.Context, force Force, lastUpdate *time.Time, last LastState) ([]any, error) {
	var oids []any

	switch force.kind {
	case forceAll:
		all, err := r.sqlGetOids(ctx, nil)
		if err != nil {
			return nil, err
		}
		oids = all
	case forceExact:
		oids = append(oids, force.oids...)
	default:
		if r.cfg.DeltaNewIDs {
			newOIDs, err := r.newOIDs(ctx, last.LastOID)
			if err != nil {
				return nil, err
			}
			oids = append(oids, newOIDs...)
		}
		if len(r.cfg.DeltaMtime) > 0 {
			changed, err := r.changedOIDs(ctx, lastUpdate, last.LastStart)
			if err != nil {
				return nil, err
			}
			oids = append(oids, changed...)
		}
	}

	result := dedupeSort(oids)
	log.WithFields(log.Fields{"count": len(result)}).Debug("oid diff resolved")
	return result, nil
}

// newOIDs returns oids strictly greater than lastOID. It returns an
// empty set when no prior state exists: there is nothing yet to diff
// against, matching the source driver's own get_new_oids behavior.
func (r *Resolver) newOIDs(ctx context.Context, lastOID any) ([]any, error) {
	if lastOID == nil {
		return nil, nil
	}
	col := fmt.Sprintf("%s.%s", r.cfg.Coordinates.Table, r.cfg.Coordinates.OID)
	return r.sqlGetOids(ctx, []string{fmt.Sprintf("%s > %s", col, oidLiteral(lastOID))})
}

// changedOIDs returns oids whose configured mtime columns exceed the
// resolved mtime. It returns an empty set when no mtime can be
// resolved at all (no lastUpdate, no prior _start).
func (r *Resolver) changedOIDs(ctx context.Context, lastUpdate *time.Time, lastStart *float64) ([]any, error) {
	mtime, ok := r.fetchMtimeLiteral(lastUpdate, lastStart)
	if !ok {
		return nil, nil
	}
	where := make([]string, len(r.cfg.DeltaMtime))
	for i, col := range r.cfg.DeltaMtime {
		where[i] = fmt.Sprintf("%s > %s", col, mtime)
	}
	return r.sqlGetOids(ctx, where)
}

// fetchMtimeLiteral resolves the comparison timestamp for
// changed-oids and renders it as a source-dialect SQL literal. The
// explicit lastUpdate, when given, takes priority over the persisted
// max _start.
func (r *Resolver) fetchMtimeLiteral(lastUpdate *time.Time, lastStart *float64) (string, bool) {
	var mtime time.Time
	switch {
	case lastUpdate != nil:
		mtime = *lastUpdate
	case lastStart != nil:
		mtime = time.Unix(int64(*lastStart), 0)
	default:
		return "", false
	}

	if !r.cfg.ParseTimestamp {
		return "'" + mtime.UTC().Format("2006-01-02 15:04:05 -0700") + "'", true
	}
	rendered := mtime.UTC().Format("2006-01-02 15:04:05 -0700")
	return fmt.Sprintf("parseTimestamp('%s', 'yyyy-MM-dd HH:mm:ss z')", rendered), true
}

// sqlGetOids queries for the distinct oid column, OR-joining any
// where predicates, and returns the raw (unsorted) values found.
func (r *Resolver) sqlGetOids(ctx context.Context, where []string) ([]any, error) {
	coords := r.cfg.Coordinates
	sql := fmt.Sprintf("SELECT DISTINCT %s.%s FROM %s.%s", coords.Table, coords.OID, coords.DB, coords.Table)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " OR ")
	}

	rows, err := r.engine.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row[coords.OID])
	}
	return out, nil
}

// oidLiteral renders an oid as a SQL literal: numeric if it parses as
// a number, else a quoted string, matching get_new_oids' numeric-else-
// string comparison fallback.
func oidLiteral(oid any) string {
	switch v := oid.(type) {
	case int, int64, float64, float32:
		return fmt.Sprintf("%v", v)
	case string:
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return v
		}
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return fmt.Sprintf("'%v'", v)
	}
}

// dedupeSort deduplicates oids by their string representation and
// sorts the result, preferring numeric comparison when every
// remaining oid parses as a number. This is the Go equivalent of the
// source's final `sorted(set(oids))`.
func dedupeSort(oids []any) []any {
	seen := make(map[string]any, len(oids))
	order := make([]string, 0, len(oids))
	for _, oid := range oids {
		key := fmt.Sprintf("%v", oid)
		if _, ok := seen[key]; !ok {
			seen[key] = oid
			order = append(order, key)
		}
	}

	out := make([]any, len(order))
	allNumeric := true
	for i, key := range order {
		out[i] = seen[key]
		if _, err := strconv.ParseFloat(key, 64); err != nil {
			allNumeric = false
		}
	}

	if allNumeric {
		sort.Slice(out, func(i, j int) bool {
			fi, _ := strconv.ParseFloat(fmt.Sprintf("%v", out[i]), 64)
			fj, _ := strconv.ParseFloat(fmt.Sprintf("%v", out[j]), 64)
			return fi < fj
		})
		return out
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
	})
	return out
}
