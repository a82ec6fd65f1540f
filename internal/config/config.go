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

// Package config is the user-visible configuration for one engine
// run: source coordinates, delta policy knobs, connection
// credentials, and document-store coordinates (spec.md §6).
// Config-file parsing itself is an external collaborator (spec.md
// §1); this package only binds and validates flags, following
// internal/source/server/config.go's Config.Bind/Config.Preflight
// pattern.
package config

import (
	"strings"

	"github.com/metriqueio/metrique-etl/internal/schema"
	"github.com/metriqueio/metrique-etl/internal/sqlsource"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the full set of flags a single `get-current` or
// `get-full-history` invocation needs.
type Config struct {
	// Source coordinates, required (spec.md §6).
	DB     string
	Table  string
	OIDCol string

	// Delta policy.
	BatchSize       int
	WorkerBatchSize int
	Retries         int
	Workers         int
	CreationField   string
	DeltaNewIDs     bool
	DeltaMtime      []string
	ForceAll        bool
	ForceOIDs       []string
	ParseTimestamp  bool

	// Source connection.
	Dialect  string
	Username string
	Password string
	Host     string
	Port     int
	VDB      string

	// Document store.
	StoreURI        string
	StoreDB         string
	StoreCollection string

	// Inconsistency log sink path (spec.md §6).
	InconLogPath string

	// Change-log table, consulted only by get-full-history (spec.md
	// §4.4): same source connection, different table/columns.
	ChangeLogTable      string
	ChangeLogWhenCol    string
	ChangeLogFieldCol   string
	ChangeLogRemovedCol string
	ChangeLogAddedCol   string
}

// Bind registers every flag above on flags, with the defaults spec.md
// §6 specifies.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.DB, "db", "", "source database name (required)")
	flags.StringVar(&c.Table, "table", "", "source table name (required)")
	flags.StringVar(&c.OIDCol, "oid", "", "source column holding the stable object identifier (required)")

	flags.IntVar(&c.BatchSize, "batchSize", 1000, "number of oids fetched per sub-batch")
	flags.IntVar(&c.WorkerBatchSize, "workerBatchSize", 5000, "number of oids assigned to each worker")
	flags.IntVar(&c.Retries, "retries", 1, "number of attempts per sub-batch before a source transport error fails it")
	flags.IntVar(&c.Workers, "workers", 1, "number of parallel oid-batch workers")
	flags.StringVar(&c.CreationField, "cfield", "", "creation-time field name used to backdate replayed history")
	flags.BoolVar(&c.DeltaNewIDs, "deltaNewIds", true, "include not-yet-seen oids in the default delta policy")
	flags.StringSliceVar(&c.DeltaMtime, "deltaMtime", nil, "column(s) compared against the resolved mtime for the changed-oids delta policy")
	flags.BoolVar(&c.ForceAll, "force", false, "force a full refresh of every oid in the source table")
	flags.StringSliceVar(&c.ForceOIDs, "forceOids", nil, "force a refresh of exactly these oids")
	flags.BoolVar(&c.ParseTimestamp, "parseTimestamp", true, "render the changed-oids mtime through the source dialect's parseTimestamp function")

	flags.StringVar(&c.Dialect, "dialect", "postgres", "source dialect: postgres, mysql, or redshift")
	flags.StringVar(&c.Username, "username", "", "source connection username")
	flags.StringVar(&c.Password, "password", "", "source connection password")
	flags.StringVar(&c.Host, "host", "", "source connection host")
	flags.IntVar(&c.Port, "port", 0, "source connection port")
	flags.StringVar(&c.VDB, "vdb", "", "source connection database/vdb name")

	flags.StringVar(&c.StoreURI, "storeUri", "", "document store connection URI (required)")
	flags.StringVar(&c.StoreDB, "storeDb", "", "document store database name (required)")
	flags.StringVar(&c.StoreCollection, "storeCollection", "", "document store collection name (required)")

	flags.StringVar(&c.InconLogPath, "inconLog", "inconsistencies.log", "path to the append-only inconsistency log")

	flags.StringVar(&c.ChangeLogTable, "changeLogTable", "", "table holding the external change-log (required for get-full-history)")
	flags.StringVar(&c.ChangeLogWhenCol, "changeLogWhenCol", "when", "change-log column holding the mutation timestamp")
	flags.StringVar(&c.ChangeLogFieldCol, "changeLogFieldCol", "field", "change-log column holding the mutated field name")
	flags.StringVar(&c.ChangeLogRemovedCol, "changeLogRemovedCol", "removed", "change-log column holding the pre-mutation value")
	flags.StringVar(&c.ChangeLogAddedCol, "changeLogAddedCol", "added", "change-log column holding the post-mutation value")
}

// Preflight validates the bound flags and fails fast on the
// model.ConfigError conditions spec.md §7 requires to surface
// immediately, before any batch runs.
func (c *Config) Preflight() error {
	if c.DB == "" || c.Table == "" || c.OIDCol == "" {
		return errors.New("must define db, table, and oid in config")
	}
	if c.StoreURI == "" || c.StoreDB == "" || c.StoreCollection == "" {
		return errors.New("must define storeUri, storeDb, and storeCollection in config")
	}
	if c.BatchSize <= 0 {
		return errors.New("batchSize must be positive")
	}
	if c.WorkerBatchSize <= 0 {
		return errors.New("workerBatchSize must be positive")
	}
	if c.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if _, err := c.dialect(); err != nil {
		return err
	}
	return nil
}

// Coordinates returns the schema.Coordinates this config describes.
func (c *Config) Coordinates() schema.Coordinates {
	return schema.Coordinates{DB: c.DB, Table: c.Table, OID: c.OIDCol}
}

// Credentials returns the sqlsource.Credentials this config describes.
func (c *Config) Credentials() (sqlsource.Credentials, error) {
	d, err := c.dialect()
	if err != nil {
		return sqlsource.Credentials{}, err
	}
	return sqlsource.Credentials{
		Dialect:  d,
		Username: c.Username,
		Password: c.Password,
		Host:     c.Host,
		Port:     c.Port,
		VDB:      c.VDB,
	}, nil
}

// ChangeLogCoordinates returns the schema.Coordinates of the
// configured change-log table, reusing the source db/oid column.
func (c *Config) ChangeLogCoordinates() schema.Coordinates {
	return schema.Coordinates{DB: c.DB, Table: c.ChangeLogTable, OID: c.OIDCol}
}

func (c *Config) dialect() (sqlsource.Dialect, error) {
	switch strings.ToLower(c.Dialect) {
	case "postgres", "postgresql", "":
		return sqlsource.DialectPostgres, nil
	case "mysql":
		return sqlsource.DialectMySQL, nil
	case "redshift":
		return sqlsource.DialectRedshift, nil
	default:
		return 0, errors.Errorf("unsupported dialect %q", c.Dialect)
	}
}
