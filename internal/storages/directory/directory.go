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

package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/greenmaskio/pgmaskdump/internal/storages"
)

const (
	dirMode  os.FileMode = 0750
	fileMode os.FileMode = 0640
)

type Storage struct {
	dirMode  os.FileMode
	fileMode os.FileMode
	cwd      string
	mx       *sync.Mutex
}

func NewStorage(cfg *Config) (*Storage, error) {
	fileInfo, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, err
	}
	if !fileInfo.IsDir() {
		return nil, errors.New("received directory path is file")
	}
	return &Storage{
		dirMode:  dirMode,
		fileMode: fileMode,
		cwd:      cfg.Path,
		mx:       &sync.Mutex{},
	}, nil
}

func (s *Storage) GetCwd() string {
	return s.cwd
}

func (s *Storage) GetObject(ctx context.Context, filePath string) (reader io.ReadCloser, err error) {
	f, err := os.Open(path.Join(s.cwd, filePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storages.ErrFileNotFound, filePath)
		}
		return nil, err
	}
	return f, nil
}

func (s *Storage) PutObject(ctx context.Context, filePath string, body io.Reader) error {
	dir := path.Join(s.cwd, path.Dir(filePath))
	s.mx.Lock()
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		s.mx.Unlock()
		return fmt.Errorf("error creating directory: %w", err)
	}
	s.mx.Unlock()

	f, err := os.OpenFile(path.Join(s.cwd, filePath), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, s.fileMode)
	if err != nil {
		return fmt.Errorf("unable to create file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("FileName", filePath).Msg("error closing file")
		}
	}()

	done := make(chan struct{})
	go func() {
		_, err = io.Copy(f, body)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if err != nil {
		return fmt.Errorf("error writing data: %w", err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, filePaths ...string) error {
	for _, fp := range filePaths {
		fileInfo, err := os.Stat(path.Join(s.cwd, fp))
		if err != nil {
			return err
		}
		if fileInfo.IsDir() {
			if err = os.RemoveAll(path.Join(s.cwd, fp)); err != nil {
				return fmt.Errorf(`error deleting directory %s: %w`, fp, err)
			}
		} else {
			if err = os.Remove(path.Join(s.cwd, fp)); err != nil {
				return fmt.Errorf(`error deleting file %s: %w`, fp, err)
			}
		}
	}
	return nil
}

func (s *Storage) Exists(ctx context.Context, fileName string) (bool, error) {
	_, err := os.Stat(path.Join(s.cwd, fileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Storage) SubStorage(dp string, relative bool) storages.Storager {
	dirPath := dp
	if relative {
		dirPath = path.Join(s.cwd, dp)
	}
	return &Storage{
		cwd:      dirPath,
		dirMode:  s.dirMode,
		fileMode: s.fileMode,
		mx:       s.mx,
	}
}
