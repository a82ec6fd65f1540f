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

package sqlsource

import (
	"context"
	"database/sql"
	"sync"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" database/sql driver, used for Redshift
	"github.com/metriqueio/metrique-etl/internal/model"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Engine executes SQL against one source connection and yields rows as
// field-name to value maps, the Go equivalent of generic.py's
// `_load_sql`'s `[dict(row) for row in rows]`.
type Engine interface {
	Dialect() Dialect
	Query(ctx context.Context, query string) ([]map[string]any, error)
	Close() error
}

// Open connects to the source described by creds. Connection failures,
// including the initial ping, are reported as
// model.SourceTransportError so batch.Driver's retry policy (spec.md
// §4.6, §7) can apply uniformly; an unsupported dialect or an
// unparsable DSN is reported as model.ConfigError.
// Postgres sources are driven natively through pgxpool; MySQL and
// Redshift sources go through database/sql with their respective
// registered drivers.
func Open(ctx context.Context, creds Credentials) (Engine, error) {
	if creds.Dialect == DialectPostgres {
		return openPgx(ctx, creds)
	}
	return openStdlib(ctx, creds)
}

// pgxEngine drives a Postgres source directly through pgxpool rather
// than database/sql, so the richer native type decoding in pgx.Rows
// is available to the normalizer.
type pgxEngine struct {
	pool *pgxpool.Pool
}

func openPgx(ctx context.Context, creds Credentials) (*pgxEngine, error) {
	dsn, err := creds.dsn()
	if err != nil {
		return nil, model.NewConfigError(err.Error())
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, model.NewConfigError(err.Error())
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, model.NewSourceTransportError(errors.Wrap(err, "open pgx pool"))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, model.NewSourceTransportError(errors.Wrap(err, "ping pgx pool"))
	}
	log.WithFields(log.Fields{"dialect": creds.Dialect, "host": creds.Host}).Debug("opened source engine")
	return &pgxEngine{pool: pool}, nil
}

func (e *pgxEngine) Dialect() Dialect { return DialectPostgres }

func (e *pgxEngine) Close() error {
	e.pool.Close()
	return nil
}

func (e *pgxEngine) Query(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return nil, model.NewSourceTransportError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, model.NewSourceTransportError(err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewSourceTransportError(err)
	}
	return out, nil
}

// stdlibEngine drives a source through database/sql, used for
// dialects whose driver only exposes that interface (MySQL) or for
// which the plain Postgres wire driver is the safer choice (Redshift).
type stdlibEngine struct {
	db      *sql.DB
	dialect Dialect
}

func openStdlib(ctx context.Context, creds Credentials) (*stdlibEngine, error) {
	dsn, err := creds.dsn()
	if err != nil {
		return nil, model.NewConfigError(err.Error())
	}
	driver, err := creds.driverName()
	if err != nil {
		return nil, model.NewConfigError(err.Error())
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, model.NewSourceTransportError(errors.Wrap(err, "open source engine"))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, model.NewSourceTransportError(errors.Wrap(err, "ping source engine"))
	}
	log.WithFields(log.Fields{"dialect": creds.Dialect, "host": creds.Host}).Debug("opened source engine")
	return &stdlibEngine{db: db, dialect: creds.Dialect}, nil
}

func (e *stdlibEngine) Dialect() Dialect { return e.dialect }

func (e *stdlibEngine) Close() error { return e.db.Close() }

func (e *stdlibEngine) Query(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, model.NewSourceTransportError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, model.NewSourceTransportError(err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, model.NewSourceTransportError(err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewSourceTransportError(err)
	}
	return out, nil
}

// Cache memoizes one Engine per (dialect, credentials, endpoint)
// tuple, per spec.md §5. A Cache is not shared across workers: each
// worker opens and owns its own.
type Cache struct {
	mu      sync.Mutex
	engines map[string]Engine
	open    func(ctx context.Context, creds Credentials) (Engine, error)
}

// NewCache returns an empty, worker-local engine cache that opens new
// engines through open. Tests substitute a fake opener the same way
// batch.Driver does for a single unsynchronized engine; production
// callers pass sqlsource.Open.
func NewCache(open func(ctx context.Context, creds Credentials) (Engine, error)) *Cache {
	return &Cache{engines: make(map[string]Engine), open: open}
}

// Get returns the cached engine for creds, opening and caching one if
// none exists yet.
func (c *Cache) Get(ctx context.Context, creds Credentials) (Engine, error) {
	key := creds.key()

	c.mu.Lock()
	if e, ok := c.engines[key]; ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	e, err := c.open(ctx, creds)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.engines[key]; ok {
		// Lost a race with another caller; keep the existing one.
		_ = e.Close()
		return existing, nil
	}
	c.engines[key] = e
	return e, nil
}

// CloseAll closes every cached engine.
func (c *Cache) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, e := range c.engines {
		if err := e.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.engines, key)
	}
	return firstErr
}
