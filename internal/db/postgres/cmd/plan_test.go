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

package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/masking"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/registry"
)

func newTestPlan(t *testing.T) *Plan {
	t.Helper()
	users := &registry.Table{Name: pgident.NewTableName("public", "users"), Kind: registry.KindOrdinary, HasOverride: true}
	orders := &registry.Table{Name: pgident.NewTableName("public", "orders"), Kind: registry.KindOrdinary}
	view := &registry.Table{Name: pgident.NewTableName("public", "active_users"), Kind: registry.KindProxy}
	rule, err := masking.NewLiteralSet(users.Name, map[string]any{"email": "masked@example.com"}, nil)
	require.NoError(t, err)
	return &Plan{
		Tables: []*registry.Table{orders, users, view},
		Export: []*registry.Table{users, orders},
		Rules: []masking.Rule{
			rule,
			masking.NewSkip(pgident.NewTableName("public", "auth_user")),
		},
	}
}

func TestPlan_PrintJson(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, newTestPlan(t).Print(buf, FormatJson))

	doc := &planDocument{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), doc))
	require.Len(t, doc.Tables, 3)
	assert.Equal(t, planTable{Order: 2, Name: "public.orders", Kind: "ordinary"}, doc.Tables[0])
	assert.Equal(t, planTable{Order: 1, Name: "public.users", Kind: "ordinary", Masked: true}, doc.Tables[1])
	assert.Equal(t, 0, doc.Tables[2].Order)
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, map[string]string{"email": "'masked@example.com'"}, doc.Rules[0].Assignments)
	assert.Equal(t, "skip", doc.Rules[1].Kind)
	assert.Empty(t, doc.Rules[1].Assignments)
}

func TestPlan_PrintYaml(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, newTestPlan(t).Print(buf, FormatYaml))

	doc := &planDocument{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), doc))
	assert.Len(t, doc.Tables, 3)
	assert.Equal(t, "public.users", doc.Rules[0].Table)
}

func TestPlan_PrintText(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, newTestPlan(t).Print(buf, FormatText))

	out := buf.String()
	assert.Contains(t, out, "public.active_users")
	assert.Contains(t, out, "'masked@example.com'")
	assert.Contains(t, out, "skip")
}

func TestPlan_PrintUnknownFormat(t *testing.T) {
	err := newTestPlan(t).Print(&bytes.Buffer{}, "xml")
	require.ErrorContains(t, err, "unknown format")
}
