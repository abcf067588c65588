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

package ioutils

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaybeGzipReader(t *testing.T) {
	data := "COPY public.users FROM stdin;\n1\tadmin\n\\.\n\n"

	t.Run("plain", func(t *testing.T) {
		r, err := MaybeGzipReader(io.NopCloser(bytes.NewBufferString(data)))
		require.NoError(t, err)
		res, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Equal(t, data, string(res))
		require.NoError(t, r.Close())
	})

	for _, usePgzip := range []bool{false, true} {
		t.Run("compressed", func(t *testing.T) {
			dst := &writeCloserMock{}
			w := NewGzipWriter(dst, usePgzip)
			_, err := w.Write([]byte(data))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := MaybeGzipReader(io.NopCloser(bytes.NewReader(dst.data)))
			require.NoError(t, err)
			res, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, data, string(res))
			require.NoError(t, r.Close())
		})
	}

	t.Run("empty", func(t *testing.T) {
		r, err := MaybeGzipReader(io.NopCloser(bytes.NewBuffer(nil)))
		require.NoError(t, err)
		res, err := io.ReadAll(r)
		require.NoError(t, err)
		require.Empty(t, res)
	})
}

func TestGzipWriter_FlushProducesDecodablePrefix(t *testing.T) {
	dst := &writeCloserMock{}
	w := NewGzipWriter(dst, false)
	_, err := w.Write([]byte("COPY public.users FROM stdin;\n"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	gz, err := GetGzipReadCloser(bytes.NewReader(dst.data), false)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, _ := io.ReadAtLeast(gz, buf, len("COPY public.users FROM stdin;\n"))
	require.Equal(t, "COPY public.users FROM stdin;\n", string(buf[:n]))
}
