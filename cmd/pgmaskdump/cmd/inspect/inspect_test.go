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

package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/dumpreader"
)

const dump = `CREATE TABLE public.users (
    id integer NOT NULL,
    email text
);

COPY public.users (id, email) FROM stdin;
1	masked@example.com
2	masked@example.com
\.

SELECT pg_catalog.setval('public.users_id_seq', 2, true);
`

func reader(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestInspect_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	err := inspect(context.Background(), reader(dump), []string{"users.email=masked@example.com"}, formatText, buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "public.users")
	assert.Contains(t, out, "setval lines: 1")
	assert.Contains(t, out, "truncated: false")
	assert.Contains(t, out, "ok")
}

func TestInspect_JsonGzip(t *testing.T) {
	compressed := &bytes.Buffer{}
	gz := pgzip.NewWriter(compressed)
	_, err := gz.Write([]byte(dump))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	buf := &bytes.Buffer{}
	err = inspect(context.Background(), io.NopCloser(compressed), nil, formatJson, buf)
	require.NoError(t, err)

	report := &dumpreader.Report{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), report))
	require.Len(t, report.Blocks, 1)
	assert.Equal(t, int64(2), report.Blocks[0].Rows)
	assert.True(t, report.Blocks[0].Complete)
	assert.Equal(t, 1, report.Setvals)
}

func TestInspect_CheckFailed(t *testing.T) {
	buf := &bytes.Buffer{}
	err := inspect(context.Background(), reader(dump), []string{"users.email=\\N"}, formatText, buf)
	require.ErrorIs(t, err, errChecksFailed)
	assert.Contains(t, buf.String(), "failed")
}

func TestInspect_Truncated(t *testing.T) {
	cut := dump[:strings.Index(dump, "2\tmasked")]
	buf := &bytes.Buffer{}
	err := inspect(context.Background(), reader(cut), []string{"users.email=masked@example.com"}, formatJson, buf)
	require.ErrorIs(t, err, errChecksFailed)

	report := &dumpreader.Report{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), report))
	assert.True(t, report.Truncated)
	assert.Empty(t, report.CompleteBlocks())
}

func TestInspect_InvalidArguments(t *testing.T) {
	err := inspect(context.Background(), reader(dump), []string{"users"}, formatText, &bytes.Buffer{})
	require.ErrorContains(t, err, "must be in form")

	err = inspect(context.Background(), reader(dump), nil, "xml", &bytes.Buffer{})
	require.ErrorContains(t, err, "unknown format")
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte(dump), 0644))

	r, err := open(context.Background(), path)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	require.NoError(t, inspect(context.Background(), r, nil, formatText, buf))
	assert.Contains(t, buf.String(), "public.users")
}
