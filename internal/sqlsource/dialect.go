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

// Package sqlsource opens and caches connections to the relational
// source the query planner reads from. Dialect, connection pooling,
// and the source SQL engine itself are external collaborators (see
// spec.md §1); this package is the thin seam between them and the
// rest of the pipeline.
package sqlsource

import "fmt"

// Dialect names a supported source-database wire protocol.
type Dialect int

// Supported dialects. Redshift speaks the PostgreSQL wire protocol but
// is named separately: it is opened through lib/pq rather than pgx
// (see driverName), and its SQL surface (e.g. no native UPSERT)
// differs enough to matter to callers that branch on it.
const (
	DialectPostgres Dialect = iota
	DialectMySQL
	DialectRedshift
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	case DialectRedshift:
		return "redshift"
	default:
		return "unknown"
	}
}

// driverName returns the database/sql driver name registered for this
// dialect.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectPostgres:
		return "pgx", nil
	case DialectRedshift:
		// Redshift speaks the Postgres wire protocol well enough for
		// lib/pq but not always for pgx's newer protocol extensions,
		// so it gets its own, more conservative driver.
		return "postgres", nil
	case DialectMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported dialect %v", d)
	}
}

// Credentials identifies one source connection: the coordinates a
// worker needs to open (or reuse, via Cache) a *sql.DB.
type Credentials struct {
	Dialect  Dialect
	Username string
	Password string
	Host     string
	Port     int
	VDB      string
}

// key renders a cache key unique per (dialect, credentials, endpoint)
// tuple, per spec.md §5's engine-caching requirement.
func (c Credentials) key() string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s", c.Dialect, c.Username, c.Password, c.Host, c.Port, c.VDB)
}

func (c Credentials) dsn() (string, error) {
	switch c.Dialect {
	case DialectMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?sql_mode=ansi", c.Username, c.Password, c.Host, c.Port, c.VDB), nil
	case DialectPostgres, DialectRedshift:
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.Username, c.Password, c.Host, c.Port, c.VDB), nil
	default:
		return "", fmt.Errorf("unsupported dialect %v", c.Dialect)
	}
}

func (c Credentials) driverName() (string, error) { return c.Dialect.driverName() }
