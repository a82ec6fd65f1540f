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

// Package snapshot persists objects into the document store, either
// diffing against and closing the live version (the snapshot path) or
// writing explicit, already-bounded versions directly (the
// no-snapshot path used by activity replay output).
package snapshot

import (
	"context"
	"fmt"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/metriqueio/metrique-etl/internal/store"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
)

// insertChunkSize is the bulk-insert batch size (spec §4.5).
const insertChunkSize = 1000

// Writer persists objects into a Store.
type Writer struct {
	store store.Store
	now   func() float64
}

// New returns a Writer backed by s. now supplies the default _start
// when an object carries neither _start nor _mtime; production
// callers pass a wall-clock reader, tests pass a fixed value.
func New(s store.Store, now func() float64) *Writer {
	return &Writer{store: s, now: now}
}

// Write prepares and persists objects, routing each to the snapshot
// or no-snapshot path by the presence of _end.
func (w *Writer) Write(ctx context.Context, objects []model.Object) error {
	prepared := make([]model.Object, 0, len(objects))
	for _, o := range objects {
		p, err := w.prepare(o)
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}

	var noSnap, toSnap []model.Object
	for _, o := range prepared {
		if _, ok := o[model.FieldEnd]; ok {
			noSnap = append(noSnap, o)
		} else {
			toSnap = append(toSnap, o)
		}
	}

	if len(noSnap) > 0 {
		if err := w.saveNoSnapshot(ctx, noSnap); err != nil {
			return err
		}
	}
	if len(toSnap) > 0 {
		if err := w.saveAndSnapshot(ctx, toSnap); err != nil {
			return err
		}
	}
	return nil
}

// prepare computes _hash, renames _mtime to _start, defaults _start
// to now, and validates _oid/_start per spec §4.5.
func (w *Writer) prepare(obj model.Object) (model.Object, error) {
	out := obj.Clone()

	if _, ok := out[model.FieldOID]; !ok {
		return nil, model.NewSchemaError(model.FieldOID, "object must have an _oid specified")
	}

	out[model.FieldHash] = Hash(map[string]any(out.NonUnderscoreFields()))

	if mtime, ok := out[model.FieldMTime]; ok {
		out[model.FieldStart] = mtime
		delete(out, model.FieldMTime)
	}
	if _, ok := out[model.FieldStart]; !ok {
		out[model.FieldStart] = w.now()
	}
	if !isNumeric(out[model.FieldStart]) {
		return nil, model.NewSchemaError(model.FieldStart, fmt.Sprintf("expected numeric type, got %T", out[model.FieldStart]))
	}

	return out, nil
}

// saveAndSnapshot is the snapshot path: diff incoming objects against
// their live versions, closing and overlaying where content changed,
// then bulk-inserting the survivors as new live versions.
func (w *Writer) saveAndSnapshot(ctx context.Context, objects []model.Object) error {
	if err := w.store.EnsureIndex(ctx, []store.IndexKey{{Field: "_oid", Ascending: true}, {Field: "_end", Ascending: true}}); err != nil {
		return err
	}
	if err := w.store.EnsureIndex(ctx, []store.IndexKey{{Field: "_oid", Ascending: true}, {Field: "_start", Ascending: true}}); err != nil {
		return err
	}

	docmap := make(map[string]model.Object, len(objects))
	oids := make([]any, 0, len(objects))
	for _, o := range objects {
		docmap[oidKey(o.OID())] = o
		oids = append(oids, o.OID())
	}

	liveVersions, err := w.store.Find(ctx, bson.M{"_oid": bson.M{"$in": oids}, "_end": nil})
	if err != nil {
		return err
	}

	handled := make(map[string]bool, len(docmap))
	for _, live := range liveVersions {
		key := oidKey(live.OID())
		doc, ok := docmap[key]
		if !ok || handled[key] {
			log.WithFields(log.Fields{"oid": live.OID()}).Warn(
				"document has more than one version with _end == nil; please repair")
			continue
		}
		handled[key] = true

		newStart := doc[model.FieldStart]
		if semanticDiff(doc, live) {
			if err := w.store.Update(ctx, bson.M{"_id": live[model.FieldID]}, model.Object{model.FieldEnd: newStart}, true); err != nil {
				return err
			}
			merged := live.Clone()
			for k, v := range doc {
				if k == model.FieldStart {
					continue
				}
				merged[k] = v
			}
			merged[model.FieldStart] = newStart
			docmap[key] = merged
		} else {
			delete(docmap, key)
		}
	}

	survivors := make([]model.Object, 0, len(docmap))
	for _, doc := range docmap {
		doc[model.FieldID] = w.store.NewID()
		doc[model.FieldEnd] = nil
		survivors = append(survivors, doc)
	}

	return w.bulkInsert(ctx, survivors)
}

// saveNoSnapshot is the no-snapshot path: objects carrying an _id
// overwrite the existing document by _id; objects without one receive
// a fresh _id and are bulk-inserted.
func (w *Writer) saveNoSnapshot(ctx context.Context, objects []model.Object) error {
	var toInsert []model.Object
	for _, o := range objects {
		if _, ok := o[model.FieldID]; ok {
			if err := w.store.Update(ctx, bson.M{"_id": o[model.FieldID]}, o, true); err != nil {
				return err
			}
			continue
		}
		o[model.FieldID] = w.store.NewID()
		toInsert = append(toInsert, o)
	}
	return w.bulkInsert(ctx, toInsert)
}

func (w *Writer) bulkInsert(ctx context.Context, docs []model.Object) error {
	for i := 0; i < len(docs); i += insertChunkSize {
		end := i + insertChunkSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := w.store.Insert(ctx, docs[i:end]); err != nil {
			return err
		}
	}
	return nil
}

// semanticDiff reports whether any key/value pair in doc other than
// _start and _hash is absent (by key or by value) from live, meaning
// the incoming object actually changed content relative to the stored
// live version. _start is excluded because it always differs by
// construction; _hash is excluded because it is derived from the
// non-underscore fields that are compared directly.
func semanticDiff(doc, live model.Object) bool {
	for k, v := range doc {
		if k == model.FieldStart || k == model.FieldHash {
			continue
		}
		lv, ok := live[k]
		if !ok || !valuesEqual(v, lv) {
			return true
		}
	}
	return false
}

func valuesEqual(a, b any) bool {
	return Hash(a) == Hash(b)
}

func oidKey(oid any) string {
	return fmt.Sprintf("%v", oid)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int64, float64, float32:
		return true
	default:
		return false
	}
}
