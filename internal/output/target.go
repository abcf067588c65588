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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/greenmaskio/pgmaskdump/internal/storages"
)

const (
	objectExt   = ".sql"
	gzipExt     = ".gz"
	abortPeriod = 30 * time.Second
)

// WriterTarget - plain writer destination such as stdout. Closing does not close the underlying writer
type WriterTarget struct {
	w io.Writer
}

func NewWriterTarget(w io.Writer) *WriterTarget {
	return &WriterTarget{w: w}
}

func NewStdoutTarget() *WriterTarget {
	return NewWriterTarget(os.Stdout)
}

func (wt *WriterTarget) Write(p []byte) (int, error) {
	return wt.w.Write(p)
}

func (wt *WriterTarget) Close() error {
	return nil
}

func (wt *WriterTarget) Abort(error) error {
	return nil
}

// StorageTarget - streams the dump into one storage object through a pipe. The upload runs in a separate
// goroutine for the whole dump lifetime.
type StorageTarget struct {
	st     storages.Storager
	name   string
	pw     *io.PipeWriter
	eg     *errgroup.Group
	once   sync.Once
	result error
}

func NewStorageTarget(ctx context.Context, st storages.Storager, name string) *StorageTarget {
	pr, pw := io.Pipe()
	// The upload must outlive the run context, otherwise an interrupt would leave no chance to clean up
	eg, gtx := errgroup.WithContext(context.WithoutCancel(ctx))
	eg.Go(func() error {
		err := st.PutObject(gtx, name, pr)
		if err != nil {
			err = fmt.Errorf("cannot upload dump object %s: %w", name, err)
		}
		pr.CloseWithError(err)
		return err
	})
	return &StorageTarget{
		st:   st,
		name: name,
		pw:   pw,
		eg:   eg,
	}
}

func (t *StorageTarget) Name() string {
	return t.name
}

func (t *StorageTarget) Write(p []byte) (int, error) {
	return t.pw.Write(p)
}

// Close - finishes the object and waits for the upload
func (t *StorageTarget) Close() error {
	t.once.Do(func() {
		_ = t.pw.Close()
		t.result = t.eg.Wait()
	})
	return t.result
}

// Abort - interrupts the upload and removes the partial object
func (t *StorageTarget) Abort(cause error) error {
	if cause == nil {
		cause = errors.New("dump aborted")
	}
	t.once.Do(func() {
		_ = t.pw.CloseWithError(cause)
		t.result = t.eg.Wait()
	})
	ctx, cancel := context.WithTimeout(context.Background(), abortPeriod)
	defer cancel()
	exists, err := t.st.Exists(ctx, t.name)
	if err != nil {
		return fmt.Errorf("cannot check partial dump object %s: %w", t.name, err)
	}
	if !exists {
		return nil
	}
	log.Debug().Str("Object", t.name).Msg("removing partial dump object")
	if err := t.st.Delete(ctx, t.name); err != nil {
		return fmt.Errorf("cannot remove partial dump object %s: %w", t.name, err)
	}
	return nil
}

// ObjectName - storage object name of a dump started at ts
func ObjectName(ts time.Time, compressed bool) string {
	name := strconv.FormatInt(ts.UnixMilli(), 10) + objectExt
	if compressed {
		name += gzipExt
	}
	return name
}
