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

package masking

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
	"github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/utils/pgerrors"
)

const columnsQuery = `
SELECT table_schema, table_name, column_name
FROM information_schema.columns
WHERE table_schema = ANY($1) AND table_name = ANY($2)
`

type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Applier - runs the masking rules inside the dump transaction
type Applier struct{}

func NewApplier() *Applier {
	return &Applier{}
}

// Validate - checks that every table and column referenced by the non-skip rules exists. Nothing is modified.
func (a *Applier) Validate(ctx context.Context, q Querier, rs *RuleSet) error {
	rules := lo.Filter(rs.Rules(), func(r Rule, _ int) bool {
		return r.Kind() != KindSkip
	})
	if len(rules) == 0 {
		return nil
	}
	schemas := lo.Uniq(lo.Map(rules, func(r Rule, _ int) string { return r.Table().Schema }))
	tables := lo.Uniq(lo.Map(rules, func(r Rule, _ int) string { return r.Table().Name }))

	rows, err := q.Query(ctx, columnsQuery, schemas, tables)
	if err != nil {
		return fmt.Errorf("cannot query columns: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]map[string]struct{})
	for rows.Next() {
		var schema, table, column string
		if err = rows.Scan(&schema, &table, &column); err != nil {
			return fmt.Errorf("cannot scan column: %w", err)
		}
		key := pgident.NewTableName(schema, table).Key()
		if existing[key] == nil {
			existing[key] = make(map[string]struct{})
		}
		existing[key][column] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("cannot query columns: %w", err)
	}

	for _, r := range rules {
		table := r.Table()
		columns, ok := existing[table.Key()]
		if !ok {
			return domains.NewSchemaMismatchError(table.Schema, table.Name, "", nil)
		}
		for _, as := range r.Assignments() {
			if _, ok := columns[as.Column]; !ok {
				return domains.NewSchemaMismatchError(table.Schema, table.Name, as.Column, nil)
			}
		}
	}
	return nil
}

// Apply - executes one unconditional UPDATE per non-skip rule in rule order and returns the altered tables.
func (a *Applier) Apply(ctx context.Context, tx Execer, rs *RuleSet) ([]pgident.TableName, error) {
	var altered []pgident.TableName
	for _, r := range rs.Rules() {
		if err := ctx.Err(); err != nil {
			return altered, err
		}
		table := r.Table()
		if r.Kind() == KindSkip {
			log.Debug().Str("TableName", table.Key()).Msg("masking skipped")
			continue
		}

		tag, err := tx.Exec(ctx, UpdateStatement(r))
		if err != nil {
			if pgerrors.IsUndefinedObject(err) {
				return altered, domains.NewSchemaMismatchError(table.Schema, table.Name, "", err)
			}
			return altered, fmt.Errorf("cannot mask table %s: %w", table.Key(), err)
		}
		log.Info().
			Str("TableName", table.Key()).
			Str("RuleKind", string(r.Kind())).
			Int64("RowsAffected", tag.RowsAffected()).
			Msg("table masked")
		altered = append(altered, table)
	}
	return altered, nil
}
