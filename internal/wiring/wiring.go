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

// Package wiring declares the wire provider set for constructing one
// engine run's dependency graph from a config.Config: the source
// credentials, the document store client, the inconsistency log sink,
// and the assembled batch.Driver. It follows the same division of
// labor the teacher uses between internal/source/logical/provider.go
// (the Set) and a committed wire_gen.go (the hand-expanded injector,
// see cmd/metrique-etl/wire_gen.go).
package wiring

import (
	"context"

	"github.com/metriqueio/metrique-etl/internal/batch"
	"github.com/metriqueio/metrique-etl/internal/changelog"
	"github.com/metriqueio/metrique-etl/internal/config"
	"github.com/metriqueio/metrique-etl/internal/incon"
	"github.com/metriqueio/metrique-etl/internal/replay"
	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/metriqueio/metrique-etl/internal/sqlsource"
	"github.com/metriqueio/metrique-etl/internal/store"
	"github.com/google/wire"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideCredentials,
	ProvideCoordinates,
	ProvideStore,
	ProvideInconSink,
	ProvideChangeLogConfig,
	ProvideDriver,
)

// ProvideCredentials extracts the source connection credentials from
// cfg.
func ProvideCredentials(cfg *config.Config) (sqlsource.Credentials, error) {
	return cfg.Credentials()
}

// ProvideCoordinates extracts the source table coordinates from cfg.
func ProvideCoordinates(cfg *config.Config) schema.Coordinates {
	return cfg.Coordinates()
}

// ProvideStore opens the document store connection described by cfg.
func ProvideStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	s, err := store.Open(ctx, cfg.StoreURI, cfg.StoreDB, cfg.StoreCollection)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {}, nil
}

// ProvideInconSink opens the append-only inconsistency log file
// described by cfg.
func ProvideInconSink(cfg *config.Config) (replay.Sink, func(), error) {
	sink, err := incon.Open(cfg.InconLogPath)
	if err != nil {
		return nil, nil, err
	}
	return sink, func() { _ = sink.Close() }, nil
}

// ProvideChangeLogConfig builds the change-log table description
// GetFullHistory needs from cfg, or nil when no --changeLogTable was
// given (the get-current job never consults it).
func ProvideChangeLogConfig(cfg *config.Config) *changelog.Config {
	if cfg.ChangeLogTable == "" {
		return nil
	}
	return &changelog.Config{
		Coordinates: cfg.ChangeLogCoordinates(),
		WhenCol:     cfg.ChangeLogWhenCol,
		FieldCol:    cfg.ChangeLogFieldCol,
		RemovedCol:  cfg.ChangeLogRemovedCol,
		AddedCol:    cfg.ChangeLogAddedCol,
	}
}

// ProvideDriver assembles a batch.Driver from cfg and the rest of the
// provided graph. fs is the declarative field schema for the job; it
// is caller-supplied rather than wired, since a Field Schema is
// per-table domain knowledge, not something this engine synthesizes
// (spec.md §1 excludes schema-evolution/config-file parsing from
// scope).
func ProvideDriver(
	cfg *config.Config,
	creds sqlsource.Credentials,
	coords schema.Coordinates,
	st store.Store,
	sink replay.Sink,
	changeLogConfig *changelog.Config,
	fs *schema.Schema,
) (*batch.Driver, error) {
	return batch.New(batch.Deps{
		Schema:          fs,
		Coordinates:     coords,
		Credentials:     creds,
		OIDField:        cfg.OIDCol,
		DeltaNewIDs:     cfg.DeltaNewIDs,
		DeltaMtime:      cfg.DeltaMtime,
		ParseTimestamp:  cfg.ParseTimestamp,
		CreationField:   cfg.CreationField,
		Store:           st,
		ChangeLogConfig: changeLogConfig,
		Sink:            sink,
		BatchSize:       cfg.BatchSize,
		WorkerBatchSize: cfg.WorkerBatchSize,
		Retries:         cfg.Retries,
		Workers:         cfg.Workers,
	})
}
