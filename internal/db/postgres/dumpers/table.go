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

var copyTerminationSeq = []byte("\\.\n\n")

// TableDumper - streams table rows as a pg_dump compatible COPY block. Every table is streamed at most once per
// run, the ledger tracks what was already exported.
type TableDumper struct {
	ledger *Ledger
}

func NewTableDumper(ledger *Ledger) *TableDumper {
	return &TableDumper{
		ledger: ledger,
	}
}

// CopyFromStatement - the header of the COPY block
func CopyFromStatement(table pgident.TableName) string {
	return fmt.Sprintf("COPY %s FROM stdin;\n", table.String())
}

// CopyToStatement - the query producing the block payload
func CopyToStatement(table pgident.TableName) string {
	return fmt.Sprintf("COPY %s TO STDOUT", table.String())
}

// Dump - writes the header, copies the payload verbatim and writes the terminator. The header is flushed before
// the query starts. On error or cancellation the terminator is not written so the block stays incomplete.
// Returns false when the table is already in the ledger.
func (td *TableDumper) Dump(ctx context.Context, c Copier, table pgident.TableName, w io.Writer) (bool, error) {
	if td.ledger.Contains(table) {
		log.Debug().Str("TableName", table.Key()).Msg("table is already dumped: skipping")
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := io.WriteString(w, CopyFromStatement(table)); err != nil {
		return false, NewDumpError(table.Schema, table.Name, fmt.Errorf("cannot write COPY header: %w", err))
	}
	if err := flush(w); err != nil {
		return false, NewDumpError(table.Schema, table.Name, fmt.Errorf("cannot flush COPY header: %w", err))
	}

	query := CopyToStatement(table)
	log.Debug().
		Str("query", query).
		Msgf("dumping table %s using pgcopy query", table.Key())
	tag, err := c.CopyTo(ctx, w, query)
	if err != nil {
		return false, NewDumpError(table.Schema, table.Name, err)
	}
	if err = ctx.Err(); err != nil {
		return false, err
	}

	if _, err = w.Write(copyTerminationSeq); err != nil {
		return false, NewDumpError(table.Schema, table.Name, fmt.Errorf("error end of dump symbols: %w", err))
	}
	td.ledger.Add(table)

	log.Info().
		Str("TableName", table.Key()).
		Int64("Rows", tag.RowsAffected()).
		Msg("table dumped")
	return true, nil
}
