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
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/output"
	"github.com/greenmaskio/pgmaskdump/internal/utils/testutils"
)

const usersMigrationUp = `
CREATE TABLE auth_user (
    id serial PRIMARY KEY,
    username text NOT NULL UNIQUE,
    email text NOT NULL,
    password text NOT NULL
);
CREATE TABLE auth_group (id serial PRIMARY KEY, name text NOT NULL);
CREATE TABLE auth_user_groups (
    id serial PRIMARY KEY,
    user_id int NOT NULL REFERENCES auth_user (id),
    group_id int NOT NULL REFERENCES auth_group (id)
);
CREATE TABLE profile (
    id serial PRIMARY KEY,
    user_id int NOT NULL REFERENCES auth_user (id),
    "Phone" text
);
CREATE TABLE users (id serial PRIMARY KEY, name text NOT NULL, email text NOT NULL);
CREATE TABLE django_migrations (id serial PRIMARY KEY, app text NOT NULL, name text NOT NULL);
CREATE VIEW active_users AS SELECT id, username FROM auth_user;
CREATE INDEX profile_user_idx ON profile (user_id);

INSERT INTO auth_user (username, email, password) VALUES
    ('alice', 'alice@corp.example', 'pbkdf2_sha256$1$real$secret1'),
    ('bob', 'bob@corp.example', 'pbkdf2_sha256$1$real$secret2');
INSERT INTO auth_group (name) VALUES ('staff');
INSERT INTO auth_user_groups (user_id, group_id) VALUES (1, 1);
INSERT INTO profile (user_id, "Phone") VALUES (1, '+100000001'), (2, '+100000002');
INSERT INTO users (name, email) VALUES
    ('Ann', 'ann@corp.example'), ('Ben', 'ben@corp.example'), ('Cid', 'cid@corp.example');
INSERT INTO django_migrations (app, name) VALUES ('auth', '0001_initial');
`

const usersMigrationDown = `
DROP VIEW active_users;
DROP TABLE users, profile, auth_user_groups, auth_group, auth_user, django_migrations;
`

type dumpSuite struct {
	testutils.PgContainerSuite
	pgBinPath string
}

func (s *dumpSuite) SetupSuite() {
	s.SetMigrationUp(usersMigrationUp).SetMigrationDown(usersMigrationDown)
	s.PgContainerSuite.SetupSuite()
}

func (s *dumpSuite) SetupTest() {
	s.pgBinPath = filepath.Dir(s.RequirePgDump())
}

func (s *dumpSuite) config(ctx context.Context) *domains.Config {
	cfg := domains.NewConfig()
	res := *cfg
	res.Common.PgBinPath = s.pgBinPath
	res.Databases = map[string]*domains.DatabaseConfig{
		domains.DefaultDatabaseAlias: s.DatabaseConfig(ctx),
	}
	res.Dump.Masking = []*domains.MaskingRuleConfig{
		{Table: "users", Columns: map[string]any{"email": "masked@example.com"}},
		{Table: "profile", Columns: map[string]any{"Phone": nil}},
	}
	res.Dump.Credential.Iterations = 1000
	return &res
}

func (s *dumpSuite) dump(ctx context.Context, cfg *domains.Config) (string, *Dump, error) {
	d, err := NewDump(cfg)
	s.Require().NoError(err)
	buf := &bytes.Buffer{}
	sink := output.NewSink(output.NewWriterTarget(buf), output.Options{})
	runErr := d.Run(ctx, sink)
	s.Require().NoError(sink.Close())
	return buf.String(), d, runErr
}

// sequences - last values of the database sequences, -1 for a sequence that was never called
func (s *dumpSuite) sequences(ctx context.Context) map[string]int64 {
	conn, err := s.GetConnection(ctx)
	s.Require().NoError(err)
	defer conn.Close(ctx)
	rows, err := conn.Query(ctx,
		"SELECT schemaname || '.' || sequencename, coalesce(last_value, -1) FROM pg_sequences ORDER BY 1",
	)
	s.Require().NoError(err)
	defer rows.Close()
	res := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		s.Require().NoError(rows.Scan(&name, &value))
		res[name] = value
	}
	s.Require().NoError(rows.Err())
	return res
}

func (s *dumpSuite) TestUsersScenario() {
	ctx := context.Background()
	seqBefore := s.sequences(ctx)
	s.Require().NotEmpty(seqBefore)
	out, d, err := s.dump(ctx, s.config(ctx))
	s.Require().NoError(err)

	preData := strings.Index(out, "CREATE TABLE public.auth_user")
	s.Require().GreaterOrEqual(preData, 0)

	usersCopy := strings.Index(out, "COPY public.users FROM stdin;\n")
	profileCopy := strings.Index(out, "COPY public.profile FROM stdin;\n")
	authUserCopy := strings.Index(out, "COPY public.auth_user FROM stdin;\n")
	groupsCopy := strings.Index(out, "COPY public.auth_user_groups FROM stdin;\n")
	migrationsCopy := strings.Index(out, "COPY public.django_migrations FROM stdin;\n")
	setval := strings.Index(out, "SELECT pg_catalog.setval('public.users_id_seq', 3, true);")
	postData := strings.Index(out, "CREATE INDEX profile_user_idx")

	// masked tables first in rule order, the credential rule is the last one
	s.Require().Greater(usersCopy, preData)
	s.Less(usersCopy, profileCopy)
	s.Less(profileCopy, authUserCopy)
	s.Less(authUserCopy, groupsCopy)
	s.Less(groupsCopy, migrationsCopy)
	s.Less(migrationsCopy, setval)
	s.Less(setval, postData)

	usersBlock := out[usersCopy:]
	usersBlock = usersBlock[:strings.Index(usersBlock, "\\.\n\n")]
	rows := strings.Split(strings.TrimSuffix(usersBlock, "\n"), "\n")[1:]
	s.ElementsMatch([]string{
		"1\tAnn\tmasked@example.com",
		"2\tBen\tmasked@example.com",
		"3\tCid\tmasked@example.com",
	}, rows)
	s.Equal(1, strings.Count(out, "COPY public.auth_user FROM stdin;"))
	s.Equal(0, strings.Count(out, "COPY public.active_users"))
	s.NotContains(out, "ann@corp.example")
	s.NotContains(out, "secret1")
	s.NotContains(out, "+100000001")
	s.Contains(out, "1\talice\talice@corp.example\tpbkdf2_sha256$1000$pgmaskdumpfixedsalt000$")
	s.Contains(out, "1\t1\t\\N\n")
	s.Contains(out, "SELECT pg_catalog.setval('public.auth_group_id_seq', 1, true);")

	s.Equal(3, d.Stats().Masked)
	s.Equal(StateRolledBack, d.State())

	conn, err := s.GetConnection(ctx)
	s.Require().NoError(err)
	defer conn.Close(ctx)
	var email, phone string
	s.Require().NoError(conn.QueryRow(ctx, "SELECT email FROM users WHERE id = 1").Scan(&email))
	s.Require().NoError(conn.QueryRow(ctx, `SELECT "Phone" FROM profile WHERE id = 1`).Scan(&phone))
	s.Equal("ann@corp.example", email)
	s.Equal("+100000001", phone)
	s.Equal(seqBefore, s.sequences(ctx))
}

func (s *dumpSuite) TestCredentialMergedIntoLiteralRule() {
	ctx := context.Background()
	cfg := s.config(ctx)
	cfg.Dump.Masking = append(cfg.Dump.Masking, &domains.MaskingRuleConfig{
		Table: "Auth_User", Columns: map[string]any{"email": "user@example.com"},
	})

	out, d, err := s.dump(ctx, cfg)
	s.Require().NoError(err)
	s.Equal(1, strings.Count(out, "COPY public.auth_user FROM stdin;"))
	s.NotContains(out, "alice@corp.example")
	s.NotContains(out, "secret1")
	s.Contains(out, "1\talice\tuser@example.com\tpbkdf2_sha256$1000$pgmaskdumpfixedsalt000$")
	s.Equal(3, d.Stats().Masked)
}

func (s *dumpSuite) TestRepeatedRunsProduceSameDump() {
	ctx := context.Background()
	first, _, err := s.dump(ctx, s.config(ctx))
	s.Require().NoError(err)
	second, _, err := s.dump(ctx, s.config(ctx))
	s.Require().NoError(err)
	s.Equal(first, second)
}

func (s *dumpSuite) TestSchemaMismatch() {
	ctx := context.Background()
	cfg := s.config(ctx)
	cfg.Dump.Masking = append(cfg.Dump.Masking, &domains.MaskingRuleConfig{
		Table: "profile_v2", Columns: map[string]any{"phone": "0"},
	})

	out, _, err := s.dump(ctx, cfg)
	s.Require().ErrorIs(err, domains.ErrSchemaMismatch)
	s.Empty(out)
}

func (s *dumpSuite) TestInterruptedBeforeStart() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, _, err := s.dump(ctx, s.config(context.Background()))
	s.Require().ErrorIs(err, domains.ErrInterrupted)
	s.Empty(out)
}

func TestDump(t *testing.T) {
	suite.Run(t, new(dumpSuite))
}
