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

// Package batch is the batch driver (BD): it orchestrates OD, SB, the
// source engine, NZ, optionally AR, and SW across one or more
// parallel workers, fanning an oid list out into worker-batches and
// those into query sub-batches, per spec.md §4.6 and §5.
package batch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/metriqueio/metrique-etl/internal/changelog"
	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/normalize"
	"github.com/metriqueio/metrique-etl/internal/oiddiff"
	"github.com/metriqueio/metrique-etl/internal/replay"
	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/metriqueio/metrique-etl/internal/snapshot"
	"github.com/metriqueio/metrique-etl/internal/sqlbuilder"
	"github.com/metriqueio/metrique-etl/internal/sqlsource"
	"github.com/metriqueio/metrique-etl/internal/store"
	"github.com/metriqueio/metrique-etl/internal/util/stopper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/semaphore"
)

// ChangeLogSource supplies the externally maintained change-log that
// the activity replay engine replays backwards for one oid. It is
// only consulted by GetFullHistory.
type ChangeLogSource interface {
	ChangeLog(ctx context.Context, oid any) ([]model.ChangeLogEntry, error)
}

// Deps is everything one Driver needs to run a get-current or
// get-full-history job. Workers share Deps as read-only configuration
// (spec.md §5: "sharing only configuration") and each opens its own
// sqlsource.Engine.
type Deps struct {
	Schema      *schema.Schema
	Coordinates schema.Coordinates
	Credentials sqlsource.Credentials
	OIDField    string

	DeltaNewIDs    bool
	DeltaMtime     []string
	ParseTimestamp bool
	CreationField  string

	Store store.Store
	// ChangeLogConfig describes the relational change-log table
	// consulted by GetFullHistory. The driver opens it lazily through
	// the per-worker engine cache, sharing the source connection with
	// the SB query engine whenever they resolve to the same (dialect,
	// credentials, endpoint) tuple (spec.md §5). Nil for get-current
	// jobs, which never replay.
	ChangeLogConfig *changelog.Config
	Sink            replay.Sink

	BatchSize       int
	WorkerBatchSize int
	Retries         int
	Workers         int

	// Now supplies the wall clock for snapshot.Writer's default
	// _start. Defaults to time.Now-derived seconds when nil.
	Now func() float64
}

func (d *Deps) withDefaults() Deps {
	out := *d
	if out.BatchSize <= 0 {
		out.BatchSize = 1000
	}
	if out.WorkerBatchSize <= 0 {
		out.WorkerBatchSize = 5000
	}
	if out.Retries <= 0 {
		out.Retries = 1
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.Now == nil {
		out.Now = func() float64 { return float64(time.Now().Unix()) }
	}
	return out
}

// Driver runs batch jobs against Deps.
type Driver struct {
	deps      Deps
	builder   *sqlbuilder.Builder
	normalize *normalize.Normalizer
	writer    *snapshot.Writer

	// openEngine opens a fresh source engine per call. It defaults to
	// sqlsource.Open; tests substitute a fake so GetCurrent/GetFullHistory
	// can run against an in-memory engine.
	openEngine func(ctx context.Context, creds sqlsource.Credentials) (sqlsource.Engine, error)
}

// New validates deps and returns a Driver.
func New(deps Deps) (*Driver, error) {
	d := deps.withDefaults()

	b, err := sqlbuilder.New(d.Coordinates, d.Schema)
	if err != nil {
		return nil, err
	}
	if d.Store == nil {
		return nil, model.NewConfigError("store must be configured")
	}

	return &Driver{
		deps:       d,
		builder:    b,
		normalize:  normalize.New(d.Schema, d.OIDField),
		writer:     snapshot.New(d.Store, d.Now),
		openEngine: sqlsource.Open,
	}, nil
}

// GetCurrent resolves the oid diff and, for each batch, snapshots
// newly extracted objects against their live versions (spec.md §4.6).
func (d *Driver) GetCurrent(ctx context.Context, force oiddiff.Force, lastUpdate *time.Time) error {
	return d.run(ctx, force, lastUpdate, false)
}

// GetFullHistory is identical to GetCurrent except each sub-batch
// additionally runs activity replay between NZ and SW so every
// historical version of a touched object is reconstructed and written
// via SW's no-snapshot path (spec.md §4.6).
func (d *Driver) GetFullHistory(ctx context.Context, force oiddiff.Force, lastUpdate *time.Time) error {
	if d.deps.ChangeLogConfig == nil {
		return model.NewConfigError("get-full-history requires a ChangeLogConfig")
	}
	return d.run(ctx, force, lastUpdate, true)
}

func (d *Driver) run(ctx context.Context, force oiddiff.Force, lastUpdate *time.Time, withReplay bool) error {
	coordEngine, err := d.openEngine(ctx, d.deps.Credentials)
	if err != nil {
		return err
	}
	defer coordEngine.Close()

	resolver, err := oiddiff.New(coordEngine, oiddiff.Config{
		Coordinates:    d.deps.Coordinates,
		DeltaNewIDs:    d.deps.DeltaNewIDs,
		DeltaMtime:     d.deps.DeltaMtime,
		ParseTimestamp: d.deps.ParseTimestamp,
	})
	if err != nil {
		return err
	}

	last, err := d.lastState(ctx)
	if err != nil {
		return err
	}

	oids, err := resolver.Resolve(ctx, force, lastUpdate, last)
	if err != nil {
		return err
	}
	if len(oids) == 0 {
		log.Debug("oid diff resolved to an empty set; nothing to do")
		return nil
	}

	observeOIDsResolved(d.deps.Coordinates.Table, len(oids))

	if d.deps.Workers <= 1 {
		return d.runWorker(ctx, oids, withReplay)
	}
	return d.runWorkers(ctx, oids, withReplay)
}

// runWorkers partitions oids into stable, deterministic
// worker-batches (spec.md §5: "sort(unique(oids)) then chunk in
// order" — OD.Resolve already dedupes/sorts) and fans them out across
// at most d.deps.Workers concurrent goroutines. A failing worker is
// recorded but never cancels its peers.
func (d *Driver) runWorkers(ctx context.Context, oids []any, withReplay bool) error {
	chunks := chunkAny(oids, d.deps.WorkerBatchSize)
	sem := semaphore.NewWeighted(int64(d.deps.Workers))
	sctx := stopper.WithContext(ctx)

	for i, chunk := range chunks {
		idx, wchunk := i, chunk
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		sctx.Go(func() error {
			defer sem.Release(1)
			if err := d.runWorker(sctx, wchunk, withReplay); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"table": d.deps.Coordinates.Table, "worker": idx,
				}).Error("worker failed; other workers continue")
				return err
			}
			return nil
		})
	}

	if errs := sctx.Wait(); len(errs) > 0 {
		return errors.Errorf("%d of %d workers failed: %v", len(errs), len(chunks), errs)
	}
	return nil
}

// runWorker opens a per-worker sqlsource.Cache (spec.md §5: "cached
// per (dialect, credentials, endpoint) tuple") and processes its
// assigned oids sequentially in BatchSize sub-batches. When withReplay
// is set, the change-log source is built against the same cache, so
// it reuses the SB query engine's connection whenever both resolve to
// the same credentials.
func (d *Driver) runWorker(ctx context.Context, oids []any, withReplay bool) error {
	cache := sqlsource.NewCache(d.openEngine)
	defer cache.CloseAll()

	engine, err := cache.Get(ctx, d.deps.Credentials)
	if err != nil {
		return err
	}

	var changeLog ChangeLogSource
	if withReplay {
		clEngine, err := cache.Get(ctx, d.deps.Credentials)
		if err != nil {
			return err
		}
		changeLog = changelog.NewSQLSource(clEngine, *d.deps.ChangeLogConfig, d.deps.Schema)
	}

	for _, sub := range chunkAny(oids, d.deps.BatchSize) {
		if err := d.processWithRetry(ctx, engine, changeLog, sub, withReplay); err != nil {
			return err
		}
	}
	return nil
}

// processWithRetry retries processSubBatch up to d.deps.Retries
// attempts when the failure is a model.SourceTransportError; any
// other error kind is surfaced immediately without retrying, per
// spec.md §7's propagation policy.
func (d *Driver) processWithRetry(ctx context.Context, engine sqlsource.Engine, changeLog ChangeLogSource, oids []any, withReplay bool) error {
	var lastErr error
	for attempt := 0; attempt < d.deps.Retries; attempt++ {
		err := d.processSubBatch(ctx, engine, changeLog, oids, withReplay)
		if err == nil {
			return nil
		}
		lastErr = err
		var transport *model.SourceTransportError
		if !errors.As(err, &transport) {
			return err
		}
		if attempt+1 < d.deps.Retries {
			observeBatchRetry(d.deps.Coordinates.Table)
			log.WithError(err).WithField("attempt", attempt+1).Warn("source transport error; retrying batch")
		}
	}
	observeBatchFailure(d.deps.Coordinates.Table)
	return lastErr
}

func (d *Driver) processSubBatch(ctx context.Context, engine sqlsource.Engine, changeLog ChangeLogSource, oids []any, withReplay bool) error {
	sql := d.builder.Build(oids, true)
	rows, err := engine.Query(ctx, sql)
	if err != nil {
		return err
	}

	objects, err := d.normalize.ApplyAll(rows)
	if err != nil {
		return err
	}

	out := objects
	if withReplay {
		out, err = d.replayAll(ctx, changeLog, objects)
		if err != nil {
			return err
		}
	}

	if err := d.writer.Write(ctx, out); err != nil {
		return err
	}
	observeBatchWritten(d.deps.Coordinates.Table, len(out))
	return nil
}

// replayAll runs activity replay for each current-value object
// against its externally supplied change-log, flattening every
// object's reconstructed version history into a single slice for SW.
func (d *Driver) replayAll(ctx context.Context, changeLog ChangeLogSource, objects []model.Object) ([]model.Object, error) {
	replayer := replay.New(d.deps.CreationField, d.deps.Sink)

	var out []model.Object
	for _, obj := range objects {
		entries, err := changeLog.ChangeLog(ctx, obj.OID())
		if err != nil {
			return nil, err
		}
		versions, err := replayer.Replay(obj, entries)
		if err != nil {
			return nil, err
		}
		out = append(out, versions...)
	}
	return out, nil
}

// lastState reads the prior-run watermark OD needs: the maximum
// previously persisted _oid and _start, drawn from the store's live
// versions (exactly one per oid, per the bitemporal invariant). The
// document store's external interface (spec.md §6) has no native
// max/sort primitive, so this is computed in-process over the live
// set rather than pushed down.
func (d *Driver) lastState(ctx context.Context) (oiddiff.LastState, error) {
	live, err := d.deps.Store.Find(ctx, bson.M{"_end": nil})
	if err != nil {
		return oiddiff.LastState{}, err
	}
	if len(live) == 0 {
		return oiddiff.LastState{}, nil
	}

	var maxOID any
	var maxStart float64
	haveStart := false
	for _, doc := range live {
		if maxOID == nil || oidLess(maxOID, doc.OID()) {
			maxOID = doc.OID()
		}
		if start := doc.Start(); !haveStart || start > maxStart {
			maxStart = start
			haveStart = true
		}
	}

	state := oiddiff.LastState{LastOID: maxOID}
	if haveStart {
		state.LastStart = &maxStart
	}
	return state, nil
}

// oidLess orders two oids numerically when both parse as numbers,
// else lexically, matching oiddiff's own dedupe/sort comparator.
func oidLess(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// chunkAny splits oids into ordered slices of at most size elements,
// preserving the stable order OD.Resolve already established (spec.md
// §5: "stable and deterministic").
func chunkAny(oids []any, size int) [][]any {
	if size <= 0 {
		size = len(oids)
	}
	var out [][]any
	for i := 0; i < len(oids); i += size {
		end := i + size
		if end > len(oids) {
			end = len(oids)
		}
		out = append(out, oids[i:end])
	}
	return out
}
