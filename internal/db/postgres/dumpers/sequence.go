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

package dumpers

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
)

const sequencesQuery = `
SELECT schemaname, sequencename, start_value, last_value
FROM pg_catalog.pg_sequences
ORDER BY schemaname, sequencename
`

// SequenceState - LastValue is nil when nextval was never called (or it is not readable by the current user)
type SequenceState struct {
	Schema     string
	Name       string
	StartValue int64
	LastValue  *int64
}

func (s *SequenceState) Current() int64 {
	if s.LastValue != nil {
		return *s.LastValue
	}
	return s.StartValue
}

func (s *SequenceState) IsCalled() bool {
	return s.LastValue != nil
}

// SetvalStatement - the statement restoring the sequence position
func (s *SequenceState) SetvalStatement() string {
	name := pgident.NewTableName(s.Schema, s.Name).String()
	return fmt.Sprintf(
		"SELECT pg_catalog.setval(%s, %d, %t);\n", pgident.QuoteLiteral(name), s.Current(), s.IsCalled(),
	)
}

// SequenceReconciler - emits setval statements for every sequence in the database
type SequenceReconciler struct{}

func NewSequenceReconciler() *SequenceReconciler {
	return &SequenceReconciler{}
}

// Reconcile - writes one statement per sequence in catalog order as soon as the row is read
func (sr *SequenceReconciler) Reconcile(ctx context.Context, q Querier, w io.Writer) (int, error) {
	rows, err := q.Query(ctx, sequencesQuery)
	if err != nil {
		return 0, fmt.Errorf("cannot query sequences: %w", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		s := &SequenceState{}
		if err = rows.Scan(&s.Schema, &s.Name, &s.StartValue, &s.LastValue); err != nil {
			return count, fmt.Errorf("cannot scan sequence: %w", err)
		}
		if _, err = io.WriteString(w, s.SetvalStatement()); err != nil {
			return count, fmt.Errorf("cannot write sequence %s.%s: %w", s.Schema, s.Name, err)
		}
		count++
		log.Debug().
			Str("SequenceName", s.Schema+"."+s.Name).
			Int64("Value", s.Current()).
			Bool("IsCalled", s.IsCalled()).
			Msg("sequence reconciled")
	}
	if err = rows.Err(); err != nil {
		return count, fmt.Errorf("cannot query sequences: %w", err)
	}
	return count, nil
}
