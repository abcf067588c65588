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
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
	"github.com/greenmaskio/pgmaskdump/internal/domains"
)

type Kind string

const (
	KindOrdinary Kind = "ordinary"
	// KindJunction - many-to-many link table. Exported as an ordinary one
	KindJunction Kind = "junction"
	// KindProxy - views, materialized views and partitioned parents. Their rows are not stored in the table
	KindProxy Kind = "proxy"
	// KindExternal - tables managed by an extension or living in an extension schema
	KindExternal Kind = "external"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case "":
		return KindOrdinary, nil
	case KindOrdinary, KindJunction, KindProxy, KindExternal:
		return k, nil
	}
	return "", fmt.Errorf("unknown table kind \"%s\"", s)
}

// Table - descriptor of a relation known to the dump
type Table struct {
	Name pgident.TableName `json:"name"`
	Kind Kind              `json:"kind"`
	// HasOverride - a masking rule changes the table content
	HasOverride bool `json:"has_override"`
	// Excluded - excluded by the configuration
	Excluded bool `json:"excluded"`
}

// Exported - the table rows are streamed into the dump
func (t *Table) Exported() bool {
	return !t.Excluded && (t.Kind == KindOrdinary || t.Kind == KindJunction)
}

// ApplyOverrides - sets HasOverride from the masking rules
func ApplyOverrides(tables []*Table, hasOverride func(pgident.TableName) bool) {
	for _, t := range tables {
		t.HasOverride = hasOverride(t.Name)
	}
}

// Contains - reports whether the table is exported
func Contains(tables []*Table, name pgident.TableName) bool {
	return lo.ContainsBy(tables, func(t *Table) bool {
		return t.Name == name && t.Exported()
	})
}

// ExportOrder - tables altered by masking first (in masking order), then the rest of exported tables in
// registry order, then the migrations table. Tables that are not exported are dropped.
func ExportOrder(tables []*Table, altered []pgident.TableName, migrations pgident.TableName) []*Table {
	exported := lo.Filter(tables, func(t *Table, _ int) bool {
		return t.Exported()
	})
	byKey := lo.KeyBy(exported, func(t *Table) string {
		return t.Name.Key()
	})

	res := make([]*Table, 0, len(exported))
	seen := make(map[string]struct{}, len(exported))
	push := func(t *Table) {
		if _, ok := seen[t.Name.Key()]; ok {
			return
		}
		seen[t.Name.Key()] = struct{}{}
		res = append(res, t)
	}

	for _, name := range altered {
		if name == migrations {
			continue
		}
		if t, ok := byKey[name.Key()]; ok {
			push(t)
		}
	}
	for _, t := range exported {
		if t.Name == migrations {
			continue
		}
		push(t)
	}
	if t, ok := byKey[migrations.Key()]; ok {
		push(t)
	}
	return res
}

// ParseTableName - parses "[schema.]name" with the default schema. Bare names are folded to lower case
func ParseTableName(s string) (pgident.TableName, error) {
	return pgident.ParseTableName(s, domains.DefaultSchema)
}
