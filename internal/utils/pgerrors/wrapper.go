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

package pgerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

type PgError struct {
	Err *pgconn.PgError
}

func NewPgError(err *pgconn.PgError) error {
	return &PgError{Err: err}
}

func (e *PgError) Error() string {
	if e.Err.Detail != "" {
		return fmt.Sprintf("%s %s (code %s)", e.Err.Message, e.Err.Detail, e.Err.Code)
	}
	return fmt.Sprintf("%s (code %s)", e.Err.Message, e.Err.Code)
}

func (e *PgError) Unwrap() error {
	return e.Err
}

// Code - returns SQLSTATE of the wrapped postgres error or empty string
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUndefinedObject - the statement references a table or a column that does not exist
func IsUndefinedObject(err error) bool {
	switch Code(err) {
	case pgerrcode.UndefinedTable, pgerrcode.UndefinedColumn:
		return true
	}
	return false
}

func IsSerializationFailure(err error) bool {
	return Code(err) == pgerrcode.SerializationFailure
}

func IsQueryCanceled(err error) bool {
	return Code(err) == pgerrcode.QueryCanceled
}
