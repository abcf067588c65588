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

package ioutils

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
	"github.com/rs/zerolog/log"
)

var gzipMagic = []byte{0x1f, 0x8b}

type GzipReader struct {
	gz io.ReadCloser
	r  io.ReadCloser
}

func NewGzipReader(r io.ReadCloser, usePgzip bool) (*GzipReader, error) {
	gz, err := GetGzipReadCloser(r, usePgzip)
	if err != nil {
		if err := r.Close(); err != nil {
			log.Warn().
				Err(err).
				Msg("error closing dump file")
		}
		return nil, fmt.Errorf("cannot create gzip reader: %w", err)
	}

	return &GzipReader{
		gz: gz,
		r:  r,
	}, nil
}

func GetGzipReadCloser(r io.Reader, usePgzip bool) (io.ReadCloser, error) {
	if usePgzip {
		return pgzip.NewReader(r)
	}
	return gzip.NewReader(r)
}

func (r *GzipReader) Read(p []byte) (n int, err error) {
	return r.gz.Read(p)
}

func (r *GzipReader) Close() error {
	var lastErr error
	if err := r.gz.Close(); err != nil {
		lastErr = fmt.Errorf("error closing gzip reader: %w", err)
		log.Warn().
			Err(err).
			Msg("error closing gzip reader")
	}
	if err := r.r.Close(); err != nil {
		lastErr = fmt.Errorf("error closing dump file: %w", err)
		log.Warn().
			Err(err).
			Msg("error closing dump file")
	}
	return lastErr
}

type bufferedReadCloser struct {
	*bufio.Reader
	c io.Closer
}

func (b *bufferedReadCloser) Close() error {
	return b.c.Close()
}

// MaybeGzipReader - detects the gzip magic and transparently decompresses the stream. Plain streams are
// returned as is.
func MaybeGzipReader(r io.ReadCloser) (io.ReadCloser, error) {
	br := &bufferedReadCloser{Reader: bufio.NewReader(r), c: r}
	head, err := br.Peek(len(gzipMagic))
	if err != nil && len(head) < len(gzipMagic) {
		// too short to be compressed
		return br, nil
	}
	if !bytes.Equal(head, gzipMagic) {
		return br, nil
	}
	return NewGzipReader(br, false)
}
