// Copyright 2023 Greenmask
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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Run - runs the external command and copies its stdout into the provided writer. Stderr is forwarded line by
// line into the logger. The function returns only when stdout is fully drained and the process exited. A
// failed write into stdout kills the process.
func Run(
	ctx context.Context, logger *zerolog.Logger, stdout io.Writer, env []string, name string, args ...string,
) error {
	eg, gtx := errgroup.WithContext(ctx)

	cmd := exec.CommandContext(gtx, name, args...)
	if env != nil {
		cmd.Env = env
	}

	errReader, errWriter := io.Pipe()
	outReader, outWriter := io.Pipe()

	cmd.Stderr = errWriter
	cmd.Stdout = outWriter
	if err := cmd.Start(); err != nil {
		_ = errReader.Close()
		_ = outReader.Close()
		return fmt.Errorf("external command runtime error: %w", err)
	}

	// stderr reader
	eg.Go(func() error {
		defer errReader.Close()
		lineScanner := bufio.NewReader(errReader)
		for {
			line, _, err := lineScanner.ReadLine()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			logger.Info().Str("Executable", name).Str("Stderr", string(line)).Msg("stderr forwarding")
		}
	})

	// stdout reader
	eg.Go(func() error {
		// Closing the reader unblocks the process output copying when the destination fails
		defer outReader.Close()
		if _, err := io.Copy(stdout, outReader); err != nil {
			return &WriteError{Err: err}
		}
		return nil
	})

	eg.Go(func() error {
		defer outWriter.Close()
		defer errWriter.Close()
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("external command runtime error: %w", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("cannot execute command: %w", ctxErr)
		}
		return fmt.Errorf("cannot execute command: %w", err)
	}

	return nil
}

// WriteError - the command output could not be written into the destination
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("error writing command output: %s", e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
