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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
	"github.com/greenmaskio/pgmaskdump/internal/domains"
)

type Kind string

const (
	KindLiteral          Kind = "literal"
	KindHashedCredential Kind = "hashed_credential"
	KindSkip             Kind = "skip"
)

// Assignment - a single "column = value" item of the SET clause. Value is rendered SQL
type Assignment struct {
	Column string
	Value  string
}

// Rule - masking rule of a single table. The set of implementations is closed: LiteralSet, HashedCredential
// and Skip.
type Rule interface {
	Table() pgident.TableName
	Kind() Kind
	// Assignments - SET clause items. Empty for Skip
	Assignments() []Assignment
	isRule()
}

// LiteralSet - overwrites the columns with constant literals and rendered expressions
type LiteralSet struct {
	table       pgident.TableName
	assignments []Assignment
}

// NewLiteralSet - renders the values once. Literal columns go first, then expressions, each group ordered by
// column name.
func NewLiteralSet(table pgident.TableName, columns map[string]any, expressions map[string]string) (*LiteralSet, error) {
	if len(columns) == 0 && len(expressions) == 0 {
		return nil, fmt.Errorf("rule for %s has no columns", table.Key())
	}
	var assignments []Assignment
	for _, name := range sortedKeys(columns) {
		if _, ok := expressions[name]; ok {
			return nil, fmt.Errorf("column %s of %s is set by both literal and expression", name, table.Key())
		}
		v, err := RenderLiteral(columns[name])
		if err != nil {
			return nil, fmt.Errorf("column %s of %s: %w", name, table.Key(), err)
		}
		assignments = append(assignments, Assignment{Column: name, Value: v})
	}
	for _, name := range sortedKeys(expressions) {
		v, err := RenderExpression(expressions[name], ExpressionData{
			Schema: table.Schema,
			Table:  table.Name,
			Column: name,
		})
		if err != nil {
			return nil, fmt.Errorf("column %s of %s: %w", name, table.Key(), err)
		}
		assignments = append(assignments, Assignment{Column: name, Value: v})
	}
	return &LiteralSet{table: table, assignments: assignments}, nil
}

// withAssignments - copy of the rule where the given assignments replace the ones on the same columns
func (r *LiteralSet) withAssignments(items ...Assignment) *LiteralSet {
	replaced := lo.Associate(items, func(a Assignment) (string, struct{}) {
		return a.Column, struct{}{}
	})
	assignments := lo.Reject(r.assignments, func(a Assignment, _ int) bool {
		_, ok := replaced[a.Column]
		return ok
	})
	return &LiteralSet{table: r.table, assignments: append(assignments, items...)}
}

func (r *LiteralSet) Table() pgident.TableName  { return r.table }
func (r *LiteralSet) Kind() Kind                { return KindLiteral }
func (r *LiteralSet) Assignments() []Assignment { return r.assignments }
func (r *LiteralSet) isRule()                   {}

// HashedCredential - overwrites the secret column with the hash of a known password
type HashedCredential struct {
	table  pgident.TableName
	column string
	hasher string
	hash   string
}

// NewHashedCredential - the hash is computed once here and reused as a constant literal
func NewHashedCredential(table pgident.TableName, column, password string, hasher Hasher) (*HashedCredential, error) {
	if column == "" {
		return nil, fmt.Errorf("credential rule for %s has no column", table.Key())
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("cannot hash credential: %w", err)
	}
	return &HashedCredential{table: table, column: column, hasher: hasher.Name(), hash: hash}, nil
}

func (r *HashedCredential) Table() pgident.TableName { return r.table }
func (r *HashedCredential) Kind() Kind               { return KindHashedCredential }
func (r *HashedCredential) Hash() string             { return r.hash }
func (r *HashedCredential) Column() string           { return r.column }
func (r *HashedCredential) isRule()                  {}

func (r *HashedCredential) Assignments() []Assignment {
	return []Assignment{{Column: r.column, Value: pgident.QuoteLiteral(r.hash)}}
}

// Skip - the table is explicitly left as is
type Skip struct {
	table pgident.TableName
}

func NewSkip(table pgident.TableName) *Skip {
	return &Skip{table: table}
}

func (r *Skip) Table() pgident.TableName  { return r.table }
func (r *Skip) Kind() Kind                { return KindSkip }
func (r *Skip) Assignments() []Assignment { return nil }
func (r *Skip) isRule()                   {}

// RuleSet - ordered masking rules, at most one per table
type RuleSet struct {
	rules []Rule
	byKey map[string]Rule
}

func NewRuleSet(rules ...Rule) (*RuleSet, error) {
	rs := &RuleSet{byKey: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if err := rs.add(r); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

func (rs *RuleSet) add(r Rule) error {
	key := r.Table().Key()
	if _, ok := rs.byKey[key]; ok {
		return fmt.Errorf("duplicate masking rule for table %s", key)
	}
	rs.rules = append(rs.rules, r)
	rs.byKey[key] = r
	return nil
}

// NewRuleSetFromConfig - builds the rules in the config order
func NewRuleSetFromConfig(cfg []*domains.MaskingRuleConfig) (*RuleSet, error) {
	rules := make([]Rule, 0, len(cfg))
	var errs []error
	for idx, rc := range cfg {
		r, err := ruleFromConfig(rc)
		if err != nil {
			errs = append(errs, fmt.Errorf("masking rule %d: %w", idx, err))
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return NewRuleSet(rules...)
}

func ruleFromConfig(rc *domains.MaskingRuleConfig) (Rule, error) {
	if rc.Table == "" {
		return nil, errors.New("table name is required")
	}
	table := pgident.NormalizeTableName(rc.Schema, rc.Table, domains.DefaultSchema)

	switch Kind(strings.ToLower(rc.Kind)) {
	case "", KindLiteral:
		return NewLiteralSet(table, rc.Columns, rc.Expressions)
	case KindHashedCredential:
		hasher, err := NewHasher(rc.Hasher, rc.Salt, rc.Iterations)
		if err != nil {
			return nil, err
		}
		return NewHashedCredential(table, rc.Column, rc.Password, hasher)
	case KindSkip:
		return NewSkip(table), nil
	}
	return nil, fmt.Errorf("unknown masking rule kind \"%s\"", rc.Kind)
}

// WithCredential - adds the built-in credential rule. It is not added when it is disabled, the credential
// table is not exported, or a skip or hashed_credential rule already targets the table. A literal rule on the
// table is merged with it: the hash replaces any literal on the secret column.
func (rs *RuleSet) WithCredential(cfg domains.CredentialConfig, present func(pgident.TableName) bool) (*RuleSet, error) {
	if !cfg.Enabled {
		return rs, nil
	}
	table := pgident.NormalizeTableName(cfg.Schema, cfg.Table, domains.DefaultSchema)
	if !present(table) {
		log.Debug().Str("TableName", table.Key()).Msg("credential table is not found: rule is not applied")
		return rs, nil
	}
	existing, hasRule := rs.Get(table)
	if hasRule && existing.Kind() != KindLiteral {
		log.Debug().
			Str("TableName", table.Key()).
			Str("RuleKind", string(existing.Kind())).
			Msg("credential table has explicit rule: built-in rule is not applied")
		return rs, nil
	}

	hasher, err := NewHasher(cfg.Hasher, cfg.Salt, cfg.Iterations)
	if err != nil {
		return nil, fmt.Errorf("credential rule: %w", err)
	}
	cr, err := NewHashedCredential(table, cfg.Column, cfg.Password, hasher)
	if err != nil {
		return nil, fmt.Errorf("credential rule: %w", err)
	}
	if !hasRule {
		return NewRuleSet(append(rs.Rules(), cr)...)
	}

	merged := existing.(*LiteralSet).withAssignments(cr.Assignments()...)
	log.Debug().
		Str("TableName", table.Key()).
		Str("ColumnName", cr.Column()).
		Msg("credential hash merged into literal rule")
	rules := lo.Map(rs.rules, func(r Rule, _ int) Rule {
		if r == existing {
			return merged
		}
		return r
	})
	return NewRuleSet(rules...)
}

// Rules - copy of the rules in application order
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule(nil), rs.rules...)
}

func (rs *RuleSet) Get(table pgident.TableName) (Rule, bool) {
	r, ok := rs.byKey[table.Key()]
	return r, ok
}

// HasOverride - the table content is changed before it is streamed
func (rs *RuleSet) HasOverride(table pgident.TableName) bool {
	r, ok := rs.Get(table)
	return ok && r.Kind() != KindSkip
}

// Tables - tables that are going to be updated, in rule order
func (rs *RuleSet) Tables() []pgident.TableName {
	return lo.FilterMap(rs.rules, func(r Rule, _ int) (pgident.TableName, bool) {
		return r.Table(), r.Kind() != KindSkip
	})
}

// UpdateStatement - unconditional UPDATE of the whole table. Empty for Skip
func UpdateStatement(r Rule) string {
	assignments := r.Assignments()
	if len(assignments) == 0 {
		return ""
	}
	items := lo.Map(assignments, func(a Assignment, _ int) string {
		return pgident.QuoteIdent(a.Column) + " = " + a.Value
	})
	return fmt.Sprintf("UPDATE %s SET %s", r.Table().String(), strings.Join(items, ", "))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
