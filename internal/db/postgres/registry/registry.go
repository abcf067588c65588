// Copyright 2025 Greenmask
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

package registry

import (
	"context"
	"fmt"
	"path"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
	"github.com/greenmaskio/pgmaskdump/internal/domains"
)

const relationsQuery = `
SELECT n.nspname,
       c.relname,
       c.relkind::text,
       EXISTS (
           SELECT 1
           FROM pg_catalog.pg_depend d
           WHERE d.classid = 'pg_catalog.pg_class'::regclass
             AND d.objid = c.oid
             AND d.deptype = 'e'
       ) AS extension_owned
FROM pg_catalog.pg_class c
         JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p', 'v', 'm', 'f')
  AND n.nspname = ANY ($1)
ORDER BY n.nspname, c.relname
`

const columnsQuery = `
SELECT n.nspname, c.relname, a.attname
FROM pg_catalog.pg_attribute a
         JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
         JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind = 'r'
  AND a.attnum > 0
  AND NOT a.attisdropped
  AND n.nspname = ANY ($1)
ORDER BY n.nspname, c.relname, a.attnum
`

const foreignKeysQuery = `
SELECT n.nspname, c.relname, con.conname, array_agg(a.attname::text ORDER BY a.attnum)
FROM pg_catalog.pg_constraint con
         JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
         JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
         JOIN LATERAL unnest(con.conkey) AS k(attnum) ON true
         JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
WHERE con.contype = 'f'
  AND n.nspname = ANY ($1)
GROUP BY n.nspname, c.relname, con.conname
ORDER BY n.nspname, c.relname, con.conname
`

const junctionIdColumn = "id"

type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Options struct {
	Schemas        []string
	ExcludeSchemas []string
	// ExcludeTables - "schema.name" or "name" glob patterns
	ExcludeTables []string
	// Static - when set the catalog is not introspected
	Static []*domains.TableConfig
}

func NewOptions(cfg *domains.Dump) Options {
	return Options{
		Schemas:        cfg.Schemas,
		ExcludeSchemas: cfg.ExcludeSchemas,
		ExcludeTables:  cfg.ExcludeTables,
		Static:         cfg.Tables,
	}
}

// Registry - resolves the tables of the dump. The order of the returned tables is total and stable within a run
type Registry struct {
	opts Options
}

func New(opts Options) *Registry {
	if len(opts.Schemas) == 0 {
		opts.Schemas = []string{domains.DefaultSchema}
	}
	return &Registry{opts: opts}
}

func (r *Registry) Tables(ctx context.Context, q Querier) ([]*Table, error) {
	var tables []*Table
	var err error
	if len(r.opts.Static) > 0 {
		tables, err = r.staticTables()
	} else {
		tables, err = r.introspect(ctx, q)
	}
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if r.isExcluded(t.Name) {
			t.Excluded = true
		}
	}
	return tables, nil
}

func (r *Registry) staticTables() ([]*Table, error) {
	res := make([]*Table, 0, len(r.opts.Static))
	seen := make(map[string]struct{}, len(r.opts.Static))
	for idx, tc := range r.opts.Static {
		if tc.Name == "" {
			return nil, fmt.Errorf("table %d: name is required", idx)
		}
		kind, err := ParseKind(tc.Kind)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", tc.Name, err)
		}
		name := pgident.NormalizeTableName(tc.Schema, tc.Name, domains.DefaultSchema)
		if _, ok := seen[name.Key()]; ok {
			return nil, fmt.Errorf("table %s is listed twice", name.Key())
		}
		seen[name.Key()] = struct{}{}
		res = append(res, &Table{Name: name, Kind: kind})
	}
	return res, nil
}

func (r *Registry) introspect(ctx context.Context, q Querier) ([]*Table, error) {
	rows, err := q.Query(ctx, relationsQuery, r.opts.Schemas)
	if err != nil {
		return nil, fmt.Errorf("cannot query relations: %w", err)
	}
	var tables []*Table
	for rows.Next() {
		var schema, name, relkind string
		var extensionOwned bool
		if err = rows.Scan(&schema, &name, &relkind, &extensionOwned); err != nil {
			rows.Close()
			return nil, fmt.Errorf("cannot scan relation: %w", err)
		}
		tables = append(tables, &Table{
			Name: pgident.NewTableName(schema, name),
			Kind: r.classify(schema, relkind, extensionOwned),
		})
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot query relations: %w", err)
	}

	columns, err := r.queryColumns(ctx, q)
	if err != nil {
		return nil, err
	}
	fks, err := r.queryForeignKeys(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if t.Kind == KindOrdinary && isJunction(columns[t.Name.Key()], fks[t.Name.Key()]) {
			t.Kind = KindJunction
		}
		log.Debug().
			Str("TableName", t.Name.Key()).
			Str("Kind", string(t.Kind)).
			Msg("table registered")
	}
	return tables, nil
}

func (r *Registry) classify(schema, relkind string, extensionOwned bool) Kind {
	if extensionOwned || lo.Contains(r.opts.ExcludeSchemas, schema) {
		return KindExternal
	}
	switch relkind {
	case "r":
		return KindOrdinary
	case "f":
		return KindExternal
	}
	// partitioned parents, views and materialized views
	return KindProxy
}

func (r *Registry) queryColumns(ctx context.Context, q Querier) (map[string][]string, error) {
	rows, err := q.Query(ctx, columnsQuery, r.opts.Schemas)
	if err != nil {
		return nil, fmt.Errorf("cannot query columns: %w", err)
	}
	defer rows.Close()
	res := make(map[string][]string)
	for rows.Next() {
		var schema, table, column string
		if err = rows.Scan(&schema, &table, &column); err != nil {
			return nil, fmt.Errorf("cannot scan column: %w", err)
		}
		key := pgident.NewTableName(schema, table).Key()
		res[key] = append(res[key], column)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot query columns: %w", err)
	}
	return res, nil
}

func (r *Registry) queryForeignKeys(ctx context.Context, q Querier) (map[string][][]string, error) {
	rows, err := q.Query(ctx, foreignKeysQuery, r.opts.Schemas)
	if err != nil {
		return nil, fmt.Errorf("cannot query foreign keys: %w", err)
	}
	defer rows.Close()
	res := make(map[string][][]string)
	for rows.Next() {
		var schema, table, name string
		var columns []string
		if err = rows.Scan(&schema, &table, &name, &columns); err != nil {
			return nil, fmt.Errorf("cannot scan foreign key: %w", err)
		}
		key := pgident.NewTableName(schema, table).Key()
		res[key] = append(res[key], columns)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot query foreign keys: %w", err)
	}
	return res, nil
}

// isJunction - exactly two foreign keys covering every column except the surrogate id
func isJunction(columns []string, fks [][]string) bool {
	if len(fks) != 2 {
		return false
	}
	covered := lo.Flatten(fks)
	rest := lo.Without(columns, junctionIdColumn)
	if len(rest) == 0 {
		return false
	}
	return lo.Every(covered, rest)
}

func (r *Registry) isExcluded(name pgident.TableName) bool {
	for _, pattern := range r.opts.ExcludeTables {
		if ok, _ := path.Match(pattern, name.Key()); ok {
			return true
		}
		if ok, _ := path.Match(pattern, name.Name); ok && name.Schema == domains.DefaultSchema {
			return true
		}
	}
	return false
}
