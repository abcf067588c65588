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

package pgident

import (
	"errors"
	"fmt"
	"strings"
)

var errMalformedIdent = errors.New("malformed identifier")

// keywords - reserved, column name and type/function name keywords. They cannot be used as bare identifiers.
var keywords = map[string]struct{}{}

func init() {
	for _, kw := range strings.Fields(`
all analyse analyze and any array as asc asymmetric both case cast check collate column constraint create
current_catalog current_date current_role current_time current_timestamp current_user default deferrable desc
distinct do else end except false fetch for foreign from grant group having in initially intersect into lateral
leading limit localtime localtimestamp not null offset on only or order placing primary references returning
select session_user some symmetric system_user table then to trailing true union unique user using variadic when
where window with
authorization binary collation concurrently cross current_schema freeze full ilike inner is isnull join left like
natural notnull outer overlaps right similar tablesample verbose
between bigint bit boolean char character coalesce dec decimal exists extract float greatest grouping inout int
integer interval json json_array json_arrayagg json_exists json_object json_objectagg json_query json_scalar
json_serialize json_table json_value least merge_action national nchar none normalize nullif numeric out overlay
position precision real row setof smallint substring time timestamp treat trim values varchar xmlattributes
xmlconcat xmlelement xmlexists xmlforest xmlnamespaces xmlparse xmlpi xmlroot xmlserialize xmltable
`) {
		keywords[kw] = struct{}{}
	}
}

// QuoteIdent - quotes the identifier only when it is required, the same way pg_dump does. Lower case names
// consisting of letters, digits and underscores that are not keywords are returned as is.
func QuoteIdent(name string) string {
	if isSafeIdent(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isSafeIdent(name string) bool {
	if name == "" {
		return false
	}
	if c := name[0]; !(c >= 'a' && c <= 'z') && c != '_' {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '_' {
			return false
		}
	}
	_, isKeyword := keywords[name]
	return !isKeyword
}

// QuoteLiteral - renders the value as a standard conforming SQL string literal
func QuoteLiteral(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// TableName - schema qualified table name
type TableName struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

func NewTableName(schema, name string) TableName {
	return TableName{Schema: schema, Name: name}
}

// String - quoted qualified name usable in SQL (public.users, public."Order")
func (t TableName) String() string {
	return QuoteIdent(t.Schema) + "." + QuoteIdent(t.Name)
}

// Key - unquoted qualified name used for lookups and logging
func (t TableName) Key() string {
	return t.Schema + "." + t.Name
}

// NormalizeIdent - resolves an identifier written by a user the way Postgres does: a double quoted identifier is
// taken as is, a bare one is folded to lower case
func NormalizeIdent(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return strings.ToLower(s)
}

// NormalizeTableName - NormalizeIdent applied to both parts. An empty schema becomes defaultSchema
func NormalizeTableName(schema, name, defaultSchema string) TableName {
	if schema == "" {
		return NewTableName(defaultSchema, NormalizeIdent(name))
	}
	return NewTableName(NormalizeIdent(schema), NormalizeIdent(name))
}

// ParseTableName - parses "[schema.]name" where each part is a bare or a double quoted identifier. Dots inside
// quotes belong to the identifier.
func ParseTableName(s, defaultSchema string) (TableName, error) {
	parts, err := splitQualified(s)
	if err != nil {
		return TableName{}, fmt.Errorf("table name \"%s\": %w", s, err)
	}
	switch len(parts) {
	case 1:
		return NormalizeTableName("", parts[0], defaultSchema), nil
	case 2:
		return NormalizeTableName(parts[0], parts[1], defaultSchema), nil
	}
	return TableName{}, fmt.Errorf("table name \"%s\": %w", s, errMalformedIdent)
}

func splitQualified(s string) ([]string, error) {
	var parts []string
	start := 0
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '"':
			inQuotes = !inQuotes
		case s[i] == '.' && !inQuotes:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	if inQuotes {
		return nil, errMalformedIdent
	}
	for _, p := range parts {
		if p == "" || p == `""` {
			return nil, errMalformedIdent
		}
	}
	return parts, nil
}
