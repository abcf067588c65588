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
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/greenmaskio/pgmaskdump/internal/storages"
)

type memoryObject struct {
	data         []byte
	lastModified time.Time
}

type objects struct {
	mu    sync.RWMutex
	files map[string]*memoryObject
}

// Storage - in-memory Storager. Sub storages share the objects of the root
type Storage struct {
	basePath string
	objs     *objects
}

func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		objs:     &objects{files: make(map[string]*memoryObject)},
	}
}

func (s *Storage) GetCwd() string {
	return s.basePath
}

func (s *Storage) GetObject(_ context.Context, filePath string) (io.ReadCloser, error) {
	s.objs.mu.RLock()
	defer s.objs.mu.RUnlock()

	obj, ok := s.objs.files[s.key(filePath)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storages.ErrFileNotFound, filePath)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Storage) PutObject(ctx context.Context, filePath string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}

	s.objs.mu.Lock()
	defer s.objs.mu.Unlock()
	s.objs.files[s.key(filePath)] = &memoryObject{
		data:         data,
		lastModified: time.Now(),
	}
	return nil
}

func (s *Storage) Delete(_ context.Context, filePaths ...string) error {
	s.objs.mu.Lock()
	defer s.objs.mu.Unlock()

	for _, filePath := range filePaths {
		delete(s.objs.files, s.key(filePath))
	}
	return nil
}

func (s *Storage) Exists(_ context.Context, fileName string) (bool, error) {
	s.objs.mu.RLock()
	defer s.objs.mu.RUnlock()

	_, ok := s.objs.files[s.key(fileName)]
	return ok, nil
}

func (s *Storage) SubStorage(subPath string, relative bool) storages.Storager {
	newBase := subPath
	if relative {
		newBase = path.Join(s.basePath, subPath)
	}
	return &Storage{
		basePath: newBase,
		objs:     s.objs,
	}
}

func (s *Storage) key(filePath string) string {
	return path.Join(s.basePath, filePath)
}
