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

package domains

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection - the database cannot be reached. Fatal.
	ErrConnection = errors.New("connection error")
	// ErrIsolation - serializable isolation cannot be established. Fatal.
	ErrIsolation = errors.New("isolation error")
	// ErrSchemaMismatch - a masking rule references a table or column that does not exist. Fatal.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrInterrupted - the run was cancelled by a signal. Clean stop.
	ErrInterrupted = errors.New("interrupted")
	// ErrReaderClosed - the consumer of the output stream went away. Clean stop.
	ErrReaderClosed = errors.New("output reader closed")
)

type SchemaMismatchError struct {
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
	Column string `json:"column,omitempty"`
	Err    error  `json:"err,omitempty"`
}

func NewSchemaMismatchError(schema, table, column string, err error) *SchemaMismatchError {
	return &SchemaMismatchError{
		Schema: schema,
		Table:  table,
		Column: column,
		Err:    err,
	}
}

func (e *SchemaMismatchError) Error() string {
	target := fmt.Sprintf("table %s.%s", e.Schema, e.Table)
	if e.Column != "" {
		target = fmt.Sprintf("column %s.%s.%s", e.Schema, e.Table, e.Column)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s does not exist: %s", ErrSchemaMismatch, target, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s does not exist", ErrSchemaMismatch, target)
}

func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}

// IsCleanStop - reports whether err must end the run without being treated as a failure
func IsCleanStop(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, ErrReaderClosed)
}
