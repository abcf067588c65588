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

package dumpreader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgcopy"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
	"github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/utils/reader"
)

const (
	copyPrefix        = "COPY "
	copySuffix        = " FROM stdin;"
	copyTerminator    = `\.`
	setvalPrefix      = "SELECT pg_catalog.setval("
	createTablePrefix = "CREATE TABLE "
	createUnlogged    = "CREATE UNLOGGED TABLE "
	generatedColumn   = " GENERATED ALWAYS AS ("
	maxSamples        = 3
	readerBufferSize  = 1024 * 1024
)

// Block - one COPY block of the dump
type Block struct {
	Table string `json:"table"`
	name  pgident.TableName
	// Line - line number of the COPY header
	Line int   `json:"line"`
	Rows int64 `json:"rows"`
	// Complete - the block is terminated. Rows of an incomplete block are not trusted
	Complete bool `json:"complete"`
}

// ColumnCheck - every row of the table must have the expected value in the column
type ColumnCheck struct {
	Table    string `json:"table"`
	name     pgident.TableName
	Column   string `json:"column"`
	Expected string `json:"expected"`
}

// ParseColumnCheck - parses "[schema.]table.column=value". A bare table belongs to the public schema. Schema and
// table are folded to lower case unless double quoted, the column is taken as is and may be double quoted.
// \N stands for NULL.
func ParseColumnCheck(s string) (*ColumnCheck, error) {
	target, expected, ok := strings.Cut(s, "=")
	if !ok {
		return nil, fmt.Errorf("column check \"%s\" must be in form [schema.]table.column=value", s)
	}
	idx := strings.LastIndex(target, ".")
	if idx <= 0 || idx == len(target)-1 {
		return nil, fmt.Errorf("column check \"%s\" must be in form [schema.]table.column=value", s)
	}
	table, column := target[:idx], target[idx+1:]
	if strings.HasPrefix(column, `"`) {
		if column, ok = parseIdent(column); !ok {
			return nil, fmt.Errorf("column check \"%s\": malformed quoted column", s)
		}
	}
	name, err := pgident.ParseTableName(table, domains.DefaultSchema)
	if err != nil {
		return nil, fmt.Errorf("column check \"%s\": %w", s, err)
	}
	return &ColumnCheck{
		Table:    name.String(),
		name:     name,
		Column:   column,
		Expected: expected,
	}, nil
}

func (c *ColumnCheck) String() string {
	return fmt.Sprintf("%s.%s=%s", c.Table, c.Column, c.Expected)
}

type CheckResult struct {
	Check      *ColumnCheck `json:"check"`
	Rows       int64        `json:"rows"`
	Mismatches int64        `json:"mismatches"`
	// Samples - first mismatched values
	Samples []string `json:"samples,omitempty"`
	Err     string   `json:"error,omitempty"`
}

func (cr *CheckResult) Passed() bool {
	return cr.Err == "" && cr.Mismatches == 0
}

type Report struct {
	Blocks  []*Block       `json:"blocks"`
	Setvals int            `json:"setvals"`
	Checks  []*CheckResult `json:"checks,omitempty"`
	// Truncated - the stream ended inside a COPY block
	Truncated bool `json:"truncated"`
}

// CompleteBlocks - blocks that can be trusted
func (r *Report) CompleteBlocks() []*Block {
	return lo.Filter(r.Blocks, func(b *Block, _ int) bool {
		return b.Complete
	})
}

func (r *Report) Passed() bool {
	return lo.EveryBy(r.Checks, func(cr *CheckResult) bool {
		return cr.Passed()
	})
}

// activeCheck - check bound to the column position of the current block. Counters are merged into the result
// only when the block is complete
type activeCheck struct {
	result     *CheckResult
	idx        int
	rows       int64
	mismatches int64
	samples    []string
}

type Reader struct {
	br      *bufio.Reader
	checks  []*CheckResult
	columns map[string][]string
	row     *pgcopy.Row
	report  *Report

	lineNum int
	block   *Block
	active  []*activeCheck
	// createTable - table whose CREATE TABLE statement is being read
	createTable string
}

func NewReader(r io.Reader, checks ...*ColumnCheck) *Reader {
	results := lo.Map(checks, func(c *ColumnCheck, _ int) *CheckResult {
		return &CheckResult{Check: c}
	})
	return &Reader{
		br:      bufio.NewReaderSize(r, readerBufferSize),
		checks:  results,
		columns: make(map[string][]string),
		row:     pgcopy.NewRow(),
		report:  &Report{Checks: results},
	}
}

// Read - reads the whole stream. The end of the stream in the middle of a COPY block, including a truncated
// gzip stream, is not an error: the block is reported as incomplete.
func (r *Reader) Read(ctx context.Context) (*Report, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}
		line, err := reader.ReadLine(r.br)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return r.report, err
		}
		if err != nil && len(line) == 0 {
			break
		}
		r.lineNum++
		r.processLine(string(line))
		if err != nil {
			break
		}
	}

	if r.block != nil {
		log.Debug().
			Str("TableName", r.block.Table).
			Int("Line", r.block.Line).
			Msg("stream ended inside COPY block")
		r.report.Truncated = true
		r.block = nil
		r.active = nil
	}
	complete := r.report.CompleteBlocks()
	for _, cr := range r.checks {
		found := lo.ContainsBy(complete, func(b *Block) bool {
			return b.name == cr.Check.name
		})
		if !found && cr.Err == "" {
			cr.Err = "no complete COPY block for the table"
		}
	}
	return r.report, nil
}

func (r *Reader) processLine(line string) {
	switch {
	case r.block != nil:
		if line == copyTerminator {
			r.completeBlock()
			return
		}
		r.block.Rows++
		r.checkRow(line)
	case r.createTable != "":
		r.readColumn(line)
	case strings.HasPrefix(line, copyPrefix) && strings.HasSuffix(line, copySuffix):
		r.startBlock(line)
	case strings.HasPrefix(line, setvalPrefix):
		r.report.Setvals++
	case strings.HasPrefix(line, createTablePrefix) || strings.HasPrefix(line, createUnlogged):
		if table, ok := parseCreateTable(line); ok {
			r.createTable = table
			r.columns[table] = nil
		}
	}
}

func (r *Reader) startBlock(line string) {
	target := strings.TrimSuffix(strings.TrimPrefix(line, copyPrefix), copySuffix)
	table := target
	columns, hasList := r.columns[table]
	if idx := strings.Index(target, " ("); idx > 0 {
		table = target[:idx]
		columns = parseColumnList(target[idx+1:])
		hasList = true
	}
	// pg_dump quotes every identifier that is not lower case, so folding keeps its names intact
	name, err := pgident.ParseTableName(table, domains.DefaultSchema)
	if err != nil {
		log.Debug().Err(err).Int("Line", r.lineNum).Msg("cannot parse COPY table name")
	}
	r.block = &Block{Table: table, name: name, Line: r.lineNum}
	r.report.Blocks = append(r.report.Blocks, r.block)

	r.active = nil
	for _, cr := range r.checks {
		if err != nil || cr.Check.name != name {
			continue
		}
		if !hasList {
			cr.Err = "column list of the table is unknown"
			continue
		}
		idx := lo.IndexOf(columns, cr.Check.Column)
		if idx == -1 {
			cr.Err = fmt.Sprintf("column %s is not found", cr.Check.Column)
			continue
		}
		r.active = append(r.active, &activeCheck{result: cr, idx: idx})
	}
}

func (r *Reader) checkRow(line string) {
	if len(r.active) == 0 {
		return
	}
	r.row.Decode([]byte(line))
	for _, ac := range r.active {
		ac.rows++
		v, err := r.row.GetColumn(ac.idx)
		var got string
		switch {
		case err != nil:
			got = fmt.Sprintf("<%s>", err)
		case v.String() == ac.result.Check.Expected:
			continue
		default:
			got = v.String()
		}
		ac.mismatches++
		if len(ac.samples) < maxSamples {
			ac.samples = append(ac.samples, got)
		}
	}
}

func (r *Reader) completeBlock() {
	r.block.Complete = true
	for _, ac := range r.active {
		ac.result.Rows += ac.rows
		ac.result.Mismatches += ac.mismatches
		for _, s := range ac.samples {
			if len(ac.result.Samples) < maxSamples {
				ac.result.Samples = append(ac.result.Samples, s)
			}
		}
	}
	r.block = nil
	r.active = nil
}

func (r *Reader) readColumn(line string) {
	if strings.HasPrefix(line, ")") {
		r.createTable = ""
		return
	}
	def := strings.TrimSpace(line)
	if def == "" || strings.HasPrefix(def, "CONSTRAINT ") || strings.Contains(def, generatedColumn) {
		return
	}
	if name, ok := parseIdent(def); ok {
		r.columns[r.createTable] = append(r.columns[r.createTable], name)
	}
}

// parseCreateTable - returns the table of "CREATE [UNLOGGED] TABLE name (" as it is written in the dump
func parseCreateTable(line string) (string, bool) {
	if !strings.HasSuffix(line, " (") {
		return "", false
	}
	rest := strings.TrimPrefix(line, createUnlogged)
	rest = strings.TrimPrefix(rest, createTablePrefix)
	return strings.TrimSuffix(rest, " ("), true
}

// parseColumnList - parses "(a, "B", c)"
func parseColumnList(s string) []string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	var res []string
	for s != "" {
		s = strings.TrimLeft(s, " ,")
		name, ok := parseIdent(s)
		if !ok {
			break
		}
		res = append(res, name)
		s = s[identLen(s):]
	}
	return res
}

// parseIdent - unquotes the leading identifier of s
func parseIdent(s string) (string, bool) {
	n := identLen(s)
	if n == 0 {
		return "", false
	}
	ident := s[:n]
	if strings.HasPrefix(ident, `"`) {
		if len(ident) < 2 || !strings.HasSuffix(ident, `"`) {
			return "", false
		}
		return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`), true
	}
	return ident, true
}

func identLen(s string) int {
	if strings.HasPrefix(s, `"`) {
		for i := 1; i < len(s); i++ {
			if s[i] != '"' {
				continue
			}
			if i+1 < len(s) && s[i+1] == '"' {
				i++
				continue
			}
			return i + 1
		}
		return len(s)
	}
	return len(s) - len(strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyz0123456789_$"))
}
