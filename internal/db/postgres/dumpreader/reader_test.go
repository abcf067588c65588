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

package dumpreader

import (
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `--
-- PostgreSQL database dump
--

CREATE TABLE public.users (
    id integer NOT NULL,
    name text NOT NULL,
    "E-mail" text,
    name_len integer GENERATED ALWAYS AS (length(name)) STORED,
    CONSTRAINT users_name_check CHECK ((name <> ''::text))
);

CREATE TABLE public.django_migrations (
    id integer NOT NULL,
    app character varying(255) NOT NULL
);

COPY public.users FROM stdin;
1	Ann	masked@example.com
2	Ben	masked@example.com
3	Cid	\N
\.

COPY public.django_migrations FROM stdin;
1	auth
\.

SELECT pg_catalog.setval('public.users_id_seq', 3, true);
SELECT pg_catalog.setval('public.django_migrations_id_seq', 1, true);

ALTER TABLE ONLY public.users
    ADD CONSTRAINT users_pkey PRIMARY KEY (id);
`

func mustCheck(t *testing.T, s string) *ColumnCheck {
	t.Helper()
	c, err := ParseColumnCheck(s)
	require.NoError(t, err)
	return c
}

func TestReader_CompleteDump(t *testing.T) {
	r := NewReader(strings.NewReader(sampleDump),
		mustCheck(t, `users."E-mail"=masked@example.com`),
		mustCheck(t, "public.users.name=Ann"),
	)
	report, err := r.Read(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Truncated)
	assert.Equal(t, 2, report.Setvals)
	require.Len(t, report.Blocks, 2)
	assert.Equal(t, "public.users", report.Blocks[0].Table)
	assert.Equal(t, 18, report.Blocks[0].Line)
	assert.EqualValues(t, 3, report.Blocks[0].Rows)
	assert.True(t, report.Blocks[0].Complete)
	assert.Equal(t, "public.django_migrations", report.Blocks[1].Table)
	assert.EqualValues(t, 1, report.Blocks[1].Rows)

	require.Len(t, report.Checks, 2)
	email := report.Checks[0]
	assert.Empty(t, email.Err)
	assert.EqualValues(t, 3, email.Rows)
	assert.EqualValues(t, 1, email.Mismatches)
	assert.Equal(t, []string{`\N`}, email.Samples)

	name := report.Checks[1]
	assert.EqualValues(t, 2, name.Mismatches)
	assert.Equal(t, []string{"Ben", "Cid"}, name.Samples)
	assert.False(t, report.Passed())
}

func TestReader_TruncatedBlock(t *testing.T) {
	cut := strings.Index(sampleDump, "2\tBen")
	r := NewReader(strings.NewReader(sampleDump[:cut+4]), mustCheck(t, `users."E-mail"=masked@example.com`))
	report, err := r.Read(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Truncated)
	require.Len(t, report.Blocks, 1)
	assert.False(t, report.Blocks[0].Complete)
	assert.Empty(t, report.CompleteBlocks())
	// rows of the incomplete block are not trusted
	assert.Zero(t, report.Checks[0].Rows)
	assert.Equal(t, "no complete COPY block for the table", report.Checks[0].Err)
}

func TestReader_TruncatedGzip(t *testing.T) {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	_, err := gz.Write([]byte(sampleDump))
	require.NoError(t, err)
	require.NoError(t, gz.Flush())
	// the stream is cut without the gzip footer
	data := buf.Bytes()

	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	report, err := NewReader(gr).Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.CompleteBlocks(), 2)
}

func TestReader_CheckErrors(t *testing.T) {
	dump := "COPY public.orders FROM stdin;\n1\t2\n\\.\n\n" +
		"CREATE TABLE public.items (\n    id integer\n);\n" +
		"COPY public.items FROM stdin;\n1\n\\.\n"
	r := NewReader(strings.NewReader(dump),
		mustCheck(t, "orders.total=0"),
		mustCheck(t, "items.price=0"),
		mustCheck(t, "missing.col=0"),
	)
	report, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "column list of the table is unknown", report.Checks[0].Err)
	assert.Equal(t, "column price is not found", report.Checks[1].Err)
	assert.Equal(t, "no complete COPY block for the table", report.Checks[2].Err)
	assert.False(t, report.Passed())
}

func TestReader_CopyWithColumnList(t *testing.T) {
	dump := "COPY public.items (id, \"Price\") FROM stdin;\n1\t0\n2\t0\n\\.\n"
	report, err := NewReader(strings.NewReader(dump), mustCheck(t, `items.Price=0`)).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Blocks, 1)
	assert.Equal(t, "public.items", report.Blocks[0].Table)
	assert.True(t, report.Passed())
	assert.EqualValues(t, 2, report.Checks[0].Rows)
}

func TestReader_MixedCaseTable(t *testing.T) {
	dump := "CREATE TABLE public.\"Invoice\" (\n    id integer,\n    total numeric\n);\n\n" +
		"COPY public.\"Invoice\" (id, total) FROM stdin;\n1\t0\n2\t0\n\\.\n\n" +
		"COPY public.invoice (id, total) FROM stdin;\n1\t5\n\\.\n"
	r := NewReader(strings.NewReader(dump),
		mustCheck(t, `public."Invoice".total=0`),
		mustCheck(t, `"Invoice".total=0`),
		mustCheck(t, "Invoice.total=5"),
	)
	report, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Blocks, 2)
	assert.Equal(t, `public."Invoice"`, report.Blocks[0].Table)

	for _, cr := range report.Checks[:2] {
		assert.Empty(t, cr.Err)
		assert.EqualValues(t, 2, cr.Rows)
		assert.Zero(t, cr.Mismatches)
	}
	// a bare name is folded and matches the lower case table only
	assert.Equal(t, "public.invoice", report.Checks[2].Check.Table)
	assert.EqualValues(t, 1, report.Checks[2].Rows)
	assert.Zero(t, report.Checks[2].Mismatches)
	assert.True(t, report.Passed())
}

func TestReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReader(strings.NewReader(sampleDump)).Read(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseColumnCheck(t *testing.T) {
	c, err := ParseColumnCheck("users.email=a=b")
	require.NoError(t, err)
	assert.Equal(t, "public.users", c.Table)
	assert.Equal(t, "email", c.Column)
	assert.Equal(t, "a=b", c.Expected)
	assert.Equal(t, "public.users.email=a=b", c.String())

	c, err = ParseColumnCheck("crm.users.email=")
	require.NoError(t, err)
	assert.Equal(t, "crm.users", c.Table)
	assert.Empty(t, c.Expected)

	c, err = ParseColumnCheck(`Sales."Order".total=0`)
	require.NoError(t, err)
	assert.Equal(t, `sales."Order"`, c.Table)

	for _, bad := range []string{"users.email", "email=1", ".email=1", "users.=1", `"open.total=1`} {
		_, err = ParseColumnCheck(bad)
		assert.Error(t, err, bad)
	}
}
