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

package cmd_runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}
}

func TestRun(t *testing.T) {
	requireShell(t)

	t.Run("stdout copied and stderr logged", func(t *testing.T) {
		logBuf := &bytes.Buffer{}
		logger := zerolog.New(logBuf)
		out := &bytes.Buffer{}

		err := Run(
			context.Background(), &logger, out, []string{"GREETING=hello"},
			"sh", "-c", `echo "$GREETING"; echo warning 1>&2`,
		)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", out.String())
		assert.Contains(t, logBuf.String(), `"Stderr":"warning"`)
	})

	t.Run("non zero exit", func(t *testing.T) {
		logger := zerolog.Nop()
		err := Run(context.Background(), &logger, &bytes.Buffer{}, nil, "sh", "-c", "exit 3")
		require.ErrorContains(t, err, "external command runtime error")
	})

	t.Run("write error kills process", func(t *testing.T) {
		logger := zerolog.Nop()
		err := Run(context.Background(), &logger, failingWriter{}, nil, "sh", "-c", "yes")
		var writeErr *WriteError
		require.ErrorAs(t, err, &writeErr)
	})

	t.Run("cancelled", func(t *testing.T) {
		logger := zerolog.Nop()
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := Run(ctx, &logger, &bytes.Buffer{}, nil, "sh", "-c", "sleep 5")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
