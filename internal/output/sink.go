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

package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/utils/countwriter"
	"github.com/greenmaskio/pgmaskdump/internal/utils/ioutils"
)

const defaultBufferSize = 64 * 1024

// Target - the final destination of the dump stream. Abort releases it after a failed or stopped run
type Target interface {
	io.WriteCloser
	Abort(cause error) error
}

type Options struct {
	Compress bool
	Pgzip    bool
}

// Sink - the single consumer of the dump stream. The first write error is sticky and every following write
// returns it. After Stop every write returns ErrInterrupted, so nothing reaches the target after an interrupt.
type Sink struct {
	mu      sync.Mutex
	target  Target
	counter *countwriter.Writer
	buf     *bufferedWriter
	gz      *ioutils.GzipWriter
	top     io.WriteCloser
	err     error
	stopped atomic.Bool
	closed  bool
}

func NewSink(target Target, opts Options) *Sink {
	counter := countwriter.NewWriter(target)
	buf := newBufferedWriter(counter)
	s := &Sink{
		target:  target,
		counter: counter,
		buf:     buf,
		top:     buf,
	}
	if opts.Compress {
		s.gz = ioutils.NewGzipWriter(buf, opts.Pgzip)
		s.top = s.gz
	}
	return s
}

func (s *Sink) Write(p []byte) (int, error) {
	if s.stopped.Load() {
		return 0, domains.ErrInterrupted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := s.top.Write(p)
	if err != nil {
		s.err = classify(err)
		return n, s.err
	}
	return n, nil
}

// Flush - pushes everything written so far down to the target
func (s *Sink) Flush() error {
	if s.stopped.Load() {
		return domains.ErrInterrupted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.gz != nil {
		if err := s.gz.Flush(); err != nil {
			s.err = classify(err)
			return s.err
		}
	}
	if err := s.buf.Flush(); err != nil {
		s.err = classify(err)
		return s.err
	}
	return nil
}

// Stop - forbids any further write. Safe to call concurrently with a blocked Write
func (s *Sink) Stop() {
	s.stopped.Store(true)
}

func (s *Sink) Stopped() bool {
	return s.stopped.Load()
}

// Err - the sticky write error if any
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Count - bytes that reached the target
func (s *Sink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter.GetCount()
}

// Close - finalizes the stream. A failed or stopped stream is aborted without flushing the buffered data so the
// target does not receive anything written after the failure point.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.err != nil || s.stopped.Load() {
		cause := s.err
		if cause == nil {
			cause = domains.ErrInterrupted
		}
		log.Debug().Err(cause).Int64("Bytes", s.counter.GetCount()).Msg("aborting dump output")
		return s.target.Abort(cause)
	}
	return s.abortOnError(s.top.Close())
}

func (s *Sink) abortOnError(closeErr error) error {
	if closeErr == nil {
		return nil
	}
	if err := s.target.Abort(closeErr); err != nil {
		log.Warn().Err(err).Msg("cannot abort dump output")
	}
	return classify(closeErr)
}

func classify(err error) error {
	if domains.IsCleanStop(err) {
		return err
	}
	if errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %w", domains.ErrReaderClosed, err)
	}
	return fmt.Errorf("output write error: %w", err)
}

type bufferedWriter struct {
	*bufio.Writer
	w io.WriteCloser
}

func newBufferedWriter(w io.WriteCloser) *bufferedWriter {
	return &bufferedWriter{
		Writer: bufio.NewWriterSize(w, defaultBufferSize),
		w:      w,
	}
}

func (bw *bufferedWriter) Close() error {
	if err := bw.Flush(); err != nil {
		return err
	}
	return bw.w.Close()
}
