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

package memory

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenmaskio/pgmaskdump/internal/storages"
)

func TestStorage_PutAndGet(t *testing.T) {
	ctx := context.Background()
	st := New("/root")

	err := st.PutObject(ctx, "dump.sql", bytes.NewBufferString("COPY public.users FROM stdin;\n"))
	require.NoError(t, err)

	r, err := st.GetObject(ctx, "dump.sql")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "COPY public.users FROM stdin;\n", string(data))
}

func TestStorage_GetObjectNotFound(t *testing.T) {
	st := New("/root")
	_, err := st.GetObject(context.Background(), "nope")
	require.ErrorIs(t, err, storages.ErrFileNotFound)
}

func TestStorage_ExistsAndDelete(t *testing.T) {
	ctx := context.Background()
	st := New("")

	ok, err := st.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.PutObject(ctx, "a", bytes.NewBufferString("1")))
	ok, err = st.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, st.Delete(ctx, "a"))
	ok, err = st.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorage_SubStorageSharesObjects(t *testing.T) {
	ctx := context.Background()
	st := New("/root")
	sub := st.SubStorage("dumps", true)
	assert.Equal(t, "/root/dumps", sub.GetCwd())

	require.NoError(t, sub.PutObject(ctx, "x.sql", bytes.NewBufferString("x")))

	ok, err := st.Exists(ctx, "dumps/x.sql")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_PutObjectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := New("")
	err := st.PutObject(ctx, "a", bytes.NewBufferString("1"))
	require.ErrorIs(t, err, context.Canceled)

	ok, err := st.Exists(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
