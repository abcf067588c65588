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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/utils/testutils"
)

func TestIsJunction(t *testing.T) {
	tests := []struct {
		name     string
		columns  []string
		fks      [][]string
		expected bool
	}{
		{
			name:     "classic link table",
			columns:  []string{"id", "user_id", "group_id"},
			fks:      [][]string{{"user_id"}, {"group_id"}},
			expected: true,
		},
		{
			name:     "without surrogate id",
			columns:  []string{"user_id", "group_id"},
			fks:      [][]string{{"user_id"}, {"group_id"}},
			expected: true,
		},
		{
			name:     "extra payload column",
			columns:  []string{"id", "user_id", "group_id", "created_at"},
			fks:      [][]string{{"user_id"}, {"group_id"}},
			expected: false,
		},
		{
			name:     "single fk",
			columns:  []string{"id", "user_id"},
			fks:      [][]string{{"user_id"}},
			expected: false,
		},
		{
			name:     "three fks",
			columns:  []string{"a", "b", "c"},
			fks:      [][]string{{"a"}, {"b"}, {"c"}},
			expected: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isJunction(tt.columns, tt.fks))
		})
	}
}

func TestRegistry_Static(t *testing.T) {
	r := New(Options{
		Static: []*domains.TableConfig{
			{Name: "users"},
			{Schema: "billing", Name: "invoices", Kind: "ordinary"},
			{Name: "users_view", Kind: "proxy"},
			{Name: "audit"},
		},
		ExcludeTables: []string{"audit"},
	})
	tables, err := r.Tables(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"public.users", "billing.invoices", "public.users_view", "public.audit"}, names(tables))
	assert.Equal(t, KindProxy, tables[2].Kind)
	assert.True(t, tables[3].Excluded)
	assert.False(t, tables[3].Exported())
}

func TestRegistry_StaticErrors(t *testing.T) {
	_, err := New(Options{Static: []*domains.TableConfig{{Name: "a"}, {Schema: "public", Name: "a"}}}).
		Tables(context.Background(), nil)
	require.ErrorContains(t, err, "listed twice")

	_, err = New(Options{Static: []*domains.TableConfig{{Name: "a", Kind: "weird"}}}).
		Tables(context.Background(), nil)
	require.ErrorContains(t, err, "unknown table kind")
}

const registryMigrationUp = `
CREATE SCHEMA tiger;
CREATE TABLE tiger.geocode_settings (name text);
CREATE TABLE users (id serial PRIMARY KEY, email text);
CREATE TABLE groups (id serial PRIMARY KEY, name text);
CREATE TABLE users_groups (
    id       serial PRIMARY KEY,
    user_id  int REFERENCES users (id),
    group_id int REFERENCES groups (id)
);
CREATE TABLE spatial_ref_sys (srid int PRIMARY KEY);
ALTER EXTENSION plpgsql ADD TABLE spatial_ref_sys;
CREATE VIEW active_users AS SELECT * FROM users;
CREATE MATERIALIZED VIEW user_emails AS SELECT email FROM users;
CREATE TABLE events (id int, created date) PARTITION BY RANGE (created);
CREATE TABLE events_2024 PARTITION OF events FOR VALUES FROM ('2024-01-01') TO ('2025-01-01');
CREATE TABLE django_migrations (id serial PRIMARY KEY, app text, name text);
`

const registryMigrationDown = `
ALTER EXTENSION plpgsql DROP TABLE spatial_ref_sys;
DROP SCHEMA tiger CASCADE;
DROP MATERIALIZED VIEW user_emails;
DROP VIEW active_users;
DROP TABLE users_groups, groups, users, spatial_ref_sys, events, django_migrations;
`

type registrySuite struct {
	testutils.PgContainerSuite
}

func (s *registrySuite) SetupSuite() {
	s.SetMigrationUp(registryMigrationUp).SetMigrationDown(registryMigrationDown)
	s.PgContainerSuite.SetupSuite()
}

func (s *registrySuite) TestIntrospection() {
	ctx := context.Background()
	conn, err := s.GetConnection(ctx)
	s.Require().NoError(err)
	defer conn.Close(ctx)

	r := New(Options{
		Schemas:        []string{"public", "tiger"},
		ExcludeSchemas: domains.DefaultExcludeSchemas,
	})
	tables, err := r.Tables(ctx, conn)
	s.Require().NoError(err)

	kinds := make(map[string]Kind, len(tables))
	for _, t := range tables {
		kinds[t.Name.Key()] = t.Kind
	}
	s.Equal(map[string]Kind{
		"public.active_users":      KindProxy,
		"public.django_migrations": KindOrdinary,
		"public.events":            KindProxy,
		"public.events_2024":       KindOrdinary,
		"public.groups":            KindOrdinary,
		"public.spatial_ref_sys":   KindExternal,
		"public.user_emails":       KindProxy,
		"public.users":             KindOrdinary,
		"public.users_groups":      KindJunction,
		"tiger.geocode_settings":   KindExternal,
	}, kinds)

	s.Equal([]string{
		"public.active_users",
		"public.django_migrations",
		"public.events",
		"public.events_2024",
		"public.groups",
		"public.spatial_ref_sys",
		"public.user_emails",
		"public.users",
		"public.users_groups",
		"tiger.geocode_settings",
	}, names(tables))
}

func (s *registrySuite) TestExcludeTables() {
	ctx := context.Background()
	conn, err := s.GetConnection(ctx)
	s.Require().NoError(err)
	defer conn.Close(ctx)

	r := New(Options{ExcludeTables: []string{"public.user*"}})
	tables, err := r.Tables(ctx, conn)
	s.Require().NoError(err)
	for _, t := range tables {
		switch t.Name.Name {
		case "users", "users_groups", "user_emails":
			s.True(t.Excluded, t.Name.Key())
		default:
			s.False(t.Excluded, t.Name.Key())
		}
	}
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(registrySuite))
}
