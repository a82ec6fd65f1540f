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

// Package store is the document store the snapshot writer persists
// versions to: ensure_index, find, upsert, insert, drop, and
// index_information, plus fresh opaque _id minting. It is backed by a
// MongoDB collection.
package store

import (
	"context"

	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexKey names one field of a compound index and its sort
// direction.
type IndexKey struct {
	Field     string
	Ascending bool
}

// Store is the document store contract the snapshot writer consumes.
type Store interface {
	EnsureIndex(ctx context.Context, keys []IndexKey) error
	Find(ctx context.Context, filter bson.M) ([]model.Object, error)
	Update(ctx context.Context, filter bson.M, set model.Object, upsert bool) error
	Insert(ctx context.Context, docs []model.Object) error
	Drop(ctx context.Context) error
	IndexInformation(ctx context.Context) (map[string]bson.M, error)
	NewID() any
}

// Collection is a Store backed by a single MongoDB collection.
type Collection struct {
	coll *mongo.Collection
}

// New wraps an existing *mongo.Collection as a Store.
func New(coll *mongo.Collection) *Collection {
	return &Collection{coll: coll}
}

// EnsureIndex creates a compound index over keys if it does not
// already exist. Mongo's CreateIndex is idempotent on an identical key
// pattern, matching the source's ensure_index semantics.
func (c *Collection) EnsureIndex(ctx context.Context, keys []IndexKey) error {
	doc := bson.D{}
	for _, k := range keys {
		dir := 1
		if !k.Ascending {
			dir = -1
		}
		doc = append(doc, bson.E{Key: k.Field, Value: dir})
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: doc})
	if err != nil {
		return model.NewStoreError(errors.Wrap(err, "ensure index"))
	}
	return nil
}

// Find loads every document matching filter into memory. Large result
// sets are out of this package's scope to bound.
func (c *Collection) Find(ctx context.Context, filter bson.M) ([]model.Object, error) {
	cur, err := c.coll.Find(ctx, filter)
	if err != nil {
		return nil, model.NewStoreError(errors.Wrap(err, "find"))
	}
	defer cur.Close(ctx)

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, model.NewStoreError(errors.Wrap(err, "decode find results"))
	}

	out := make([]model.Object, len(raw))
	for i, doc := range raw {
		out[i] = model.Object(doc)
	}
	return out, nil
}

// Update applies a $set of the given fields to the document matching
// filter, optionally upserting.
func (c *Collection) Update(ctx context.Context, filter bson.M, set model.Object, upsert bool) error {
	opts := options.Update().SetUpsert(upsert)
	_, err := c.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M(set)}, opts)
	if err != nil {
		return model.NewStoreError(errors.Wrap(err, "update"))
	}
	return nil
}

// Insert bulk-inserts docs, unordered, matching the source's
// insert(..., manipulate=False).
func (c *Collection) Insert(ctx context.Context, docs []model.Object) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = bson.M(d)
	}
	_, err := c.coll.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	if err != nil {
		return model.NewStoreError(errors.Wrap(err, "insert"))
	}
	return nil
}

// Drop removes the entire collection.
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.coll.Drop(ctx); err != nil {
		return model.NewStoreError(errors.Wrap(err, "drop"))
	}
	return nil
}

// IndexInformation returns the collection's current indices keyed by
// name.
func (c *Collection) IndexInformation(ctx context.Context) (map[string]bson.M, error) {
	cur, err := c.coll.Indexes().List(ctx)
	if err != nil {
		return nil, model.NewStoreError(errors.Wrap(err, "list indexes"))
	}
	defer cur.Close(ctx)

	var specs []bson.M
	if err := cur.All(ctx, &specs); err != nil {
		return nil, model.NewStoreError(errors.Wrap(err, "decode index list"))
	}

	out := make(map[string]bson.M, len(specs))
	for _, spec := range specs {
		name, _ := spec["name"].(string)
		out[name] = spec
	}
	return out, nil
}

// NewID mints a fresh opaque document identifier.
func (c *Collection) NewID() any {
	return primitive.NewObjectID()
}

// Open connects to uri and returns a Store bound to db.collection.
func Open(ctx context.Context, uri, db, collection string) (*Collection, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, model.NewStoreError(errors.Wrap(err, "connect"))
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, model.NewStoreError(errors.Wrap(err, "ping"))
	}
	log.WithFields(log.Fields{"db": db, "collection": collection}).Debug("opened document store")
	return New(client.Database(db).Collection(collection)), nil
}
