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

package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/metriqueio/metrique-etl/internal/changelog"
	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/oiddiff"
	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/metriqueio/metrique-etl/internal/sqlsource"
	"github.com/metriqueio/metrique-etl/internal/store"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// fakeEngine returns canned rows for every query and records each one
// it was asked to run.
type fakeEngine struct {
	mu      sync.Mutex
	rows    []map[string]any
	queries []string
	failN   int // fail the first failN Query calls with a transport error
}

func (f *fakeEngine) Dialect() sqlsource.Dialect { return sqlsource.DialectPostgres }
func (f *fakeEngine) Close() error               { return nil }
func (f *fakeEngine) Query(_ context.Context, q string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.failN > 0 {
		f.failN--
		return nil, model.NewSourceTransportError(errors.New("transient"))
	}
	return f.rows, nil
}

// fakeStore is an in-memory store.Store sufficient for Driver's needs:
// Find, Update, Insert, and NewID.
type fakeStore struct {
	mu   sync.Mutex
	docs []model.Object
	next int
}

func (s *fakeStore) EnsureIndex(context.Context, []store.IndexKey) error { return nil }

func (s *fakeStore) Find(_ context.Context, filter bson.M) ([]model.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Object
	for _, d := range s.docs {
		if endFilter, ok := filter["_end"]; ok && endFilter == nil {
			if _, closed := d.End(); closed {
				continue
			}
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (s *fakeStore) Update(_ context.Context, filter bson.M, set model.Object, upsert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.docs {
		if match(d, filter) {
			for k, v := range set {
				s.docs[i][k] = v
			}
			return nil
		}
	}
	if upsert {
		s.docs = append(s.docs, set.Clone())
	}
	return nil
}

func match(d model.Object, filter bson.M) bool {
	for k, v := range filter {
		if d[k] != v {
			return false
		}
	}
	return true
}

func (s *fakeStore) Insert(_ context.Context, docs []model.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs = append(s.docs, d.Clone())
	}
	return nil
}

func (s *fakeStore) Drop(context.Context) error { s.docs = nil; return nil }

func (s *fakeStore) IndexInformation(context.Context) (map[string]bson.M, error) { return nil, nil }

func (s *fakeStore) NewID() any {
	s.next++
	return s.next
}

func testDeps(engine *fakeEngine, st *fakeStore) Deps {
	fs := schema.New()
	fs.Set("status", schema.FieldSpec{})
	return Deps{
		Schema:      fs,
		Coordinates: schema.Coordinates{DB: "tracker", Table: "bugs", OID: "id"},
		OIDField:    "id",
		DeltaNewIDs: true,
		Store:       st,
		BatchSize:   100,
		Workers:     1,
		Retries:     2,
		Now:         func() float64 { return 1000 },
	}
}

func withFakeEngine(d *Driver, engine *fakeEngine) {
	d.openEngine = func(context.Context, sqlsource.Credentials) (sqlsource.Engine, error) {
		return engine, nil
	}
}

func TestNewRequiresStore(t *testing.T) {
	fs := schema.New()
	_, err := New(Deps{Schema: fs, Coordinates: schema.Coordinates{DB: "d", Table: "t", OID: "id"}})
	require.Error(t, err)
}

func TestGetCurrentWritesNormalizedRowsToStore(t *testing.T) {
	engine := &fakeEngine{rows: []map[string]any{{"id": 1.0, "status": "open"}}}
	st := &fakeStore{}
	d, err := New(testDeps(engine, st))
	require.NoError(t, err)
	withFakeEngine(d, engine)

	err = d.GetCurrent(context.Background(), oiddiff.ForceAll(), nil)
	require.NoError(t, err)
	require.Len(t, st.docs, 1)
	require.Equal(t, "open", st.docs[0]["status"])
	require.Equal(t, float64(1000), st.docs[0]["_start"])
}

func TestGetCurrentNoOIDsIsANoop(t *testing.T) {
	engine := &fakeEngine{rows: nil}
	st := &fakeStore{}
	d, err := New(testDeps(engine, st))
	require.NoError(t, err)
	withFakeEngine(d, engine)

	err = d.GetCurrent(context.Background(), oiddiff.Force{}, nil)
	require.NoError(t, err)
	require.Empty(t, st.docs)
}

func TestGetCurrentRetriesTransportErrorThenSucceeds(t *testing.T) {
	engine := &fakeEngine{rows: []map[string]any{{"id": 1.0, "status": "open"}}, failN: 1}
	st := &fakeStore{}
	d, err := New(testDeps(engine, st))
	require.NoError(t, err)
	withFakeEngine(d, engine)

	err = d.GetCurrent(context.Background(), oiddiff.ForceExact(1), nil)
	require.NoError(t, err)
	require.Len(t, st.docs, 1)
}

func TestGetCurrentSurfacesNonTransportErrorWithoutRetry(t *testing.T) {
	st := &fakeStore{}
	fs := schema.New()
	fs.Set("bad", schema.FieldSpec{})
	deps := testDeps(&fakeEngine{}, st)
	deps.Schema = fs
	engine := &fakeEngine{rows: []map[string]any{{"id": 1.0, "bad": []any{1, 2}}}}
	d, err := New(deps)
	require.NoError(t, err)
	withFakeEngine(d, engine)

	// "bad" is declared scalar but the row carries a list: normalize
	// rejects it with a model.SchemaError, which processWithRetry must
	// not retry.
	err = d.GetCurrent(context.Background(), oiddiff.ForceExact(1), nil)
	var schemaErr *model.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, engine.queries, 1)
}

func TestGetFullHistoryRequiresChangeLogConfig(t *testing.T) {
	engine := &fakeEngine{}
	st := &fakeStore{}
	d, err := New(testDeps(engine, st))
	require.NoError(t, err)
	withFakeEngine(d, engine)

	err = d.GetFullHistory(context.Background(), oiddiff.ForceAll(), nil)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

// splitEngine answers SB queries and change-log queries differently
// off the same connection, so a test can assert both paths share one
// opened engine instead of dialing twice.
type splitEngine struct {
	sourceRows     []map[string]any
	changeLogRows  []map[string]any
	changeLogTable string
}

func (e *splitEngine) Dialect() sqlsource.Dialect { return sqlsource.DialectPostgres }
func (e *splitEngine) Close() error               { return nil }
func (e *splitEngine) Query(_ context.Context, q string) ([]map[string]any, error) {
	if strings.Contains(q, e.changeLogTable) {
		return e.changeLogRows, nil
	}
	return e.sourceRows, nil
}

func TestGetFullHistoryReusesOneCachedEngineAcrossSBAndChangeLog(t *testing.T) {
	engine := &splitEngine{
		sourceRows:     []map[string]any{{"id": 1.0, "status": "closed", "_start": 2000.0}},
		changeLogRows:  []map[string]any{{"when": 1000.0, "field": "status", "removed": "open", "added": "closed"}},
		changeLogTable: "bug_changes",
	}
	st := &fakeStore{}
	deps := testDeps(&fakeEngine{}, st)
	deps.ChangeLogConfig = &changelog.Config{
		Coordinates: schema.Coordinates{DB: "tracker", Table: "bug_changes", OID: "id"},
		WhenCol:     "when", FieldCol: "field", RemovedCol: "removed", AddedCol: "added",
	}
	d, err := New(deps)
	require.NoError(t, err)

	opens := 0
	d.openEngine = func(context.Context, sqlsource.Credentials) (sqlsource.Engine, error) {
		opens++
		return engine, nil
	}

	err = d.GetFullHistory(context.Background(), oiddiff.ForceExact(1), nil)
	require.NoError(t, err)
	// One open for the oid-diff resolver's own engine, one for the
	// worker's cache — shared by both the SB query and the change-log
	// query, which would otherwise make it two more.
	require.Equal(t, 2, opens, "the worker cache should reuse one engine for both SB and change-log queries")
	require.Len(t, st.docs, 2, "replay should write both the current and the reconstructed prior version")
}

func TestChunkAnySplitsIntoOrderedChunks(t *testing.T) {
	oids := []any{1, 2, 3, 4, 5}
	chunks := chunkAny(oids, 2)
	require.Equal(t, [][]any{{1, 2}, {3, 4}, {5}}, chunks)
}

func TestChunkAnyZeroSizeReturnsOneChunk(t *testing.T) {
	oids := []any{1, 2, 3}
	chunks := chunkAny(oids, 0)
	require.Equal(t, [][]any{{1, 2, 3}}, chunks)
}

func TestOidLessComparesNumericallyWhenBothParse(t *testing.T) {
	require.True(t, oidLess(2, "10"))
	require.False(t, oidLess("10", 2))
}

func TestOidLessFallsBackToStringCompare(t *testing.T) {
	require.True(t, oidLess("abc", "abd"))
}
