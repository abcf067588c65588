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

package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/dumpreader"
	pgDomains "github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/storages/builder"
	"github.com/greenmaskio/pgmaskdump/internal/utils/ioutils"
	"github.com/greenmaskio/pgmaskdump/internal/utils/logger"
	stringsUtils "github.com/greenmaskio/pgmaskdump/internal/utils/strings"
)

const (
	formatText    = "text"
	formatJson    = "json"
	stdinName     = "-"
	maxWrapLength = 40
)

var errChecksFailed = errors.New("column checks failed")

var (
	Cmd = &cobra.Command{
		Use:   "inspect [FILE|-]",
		Short: "summarise a dump and verify masked columns",
		Long: "Reads a plain or gzip compressed dump from a file, stdin or the storage and reports its COPY " +
			"blocks and setval lines. Every --column check requires all rows of the table to carry the " +
			"expected value, \\N stands for NULL. A dump cut in the middle of a COPY block is reported as " +
			"truncated, the incomplete block is not checked.",
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := logger.SetLogLevel(Config.Log.Level, Config.Log.Format); err != nil {
				log.Fatal().Err(err).Msg("")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			name := stdinName
			if len(args) > 0 {
				name = args[0]
			}
			r, err := open(ctx, name)
			if err != nil {
				log.Fatal().Err(err).Msg("cannot open dump")
			}
			if err := inspect(ctx, r, checks, format, os.Stdout); err != nil {
				stop()
				log.Fatal().Err(err).Msg("")
			}
		},
	}
	Config      = pgDomains.NewConfig()
	checks      []string
	format      string
	fromStorage bool
)

func init() {
	Cmd.Flags().StringArrayVarP(
		&checks, "column", "c", nil, "expected column value in form [schema.]table.column=value, repeatable",
	)
	Cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format [text|json]")
	Cmd.Flags().BoolVarP(&fromStorage, "from-storage", "", false, "FILE is an object name in the storage")
}

func open(ctx context.Context, name string) (io.ReadCloser, error) {
	switch {
	case fromStorage:
		st, err := builder.GetStorage(ctx, &Config.Storage, &Config.Log)
		if err != nil {
			return nil, fmt.Errorf("cannot build storage: %w", err)
		}
		return st.GetObject(ctx, name)
	case name == stdinName:
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

// inspect - reads the dump and prints the report. Returns errChecksFailed when any column check did not pass
func inspect(ctx context.Context, r io.ReadCloser, rawChecks []string, format string, w io.Writer) error {
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing dump")
		}
	}()

	columnChecks := make([]*dumpreader.ColumnCheck, 0, len(rawChecks))
	for _, raw := range rawChecks {
		c, err := dumpreader.ParseColumnCheck(raw)
		if err != nil {
			return err
		}
		columnChecks = append(columnChecks, c)
	}

	src, err := ioutils.MaybeGzipReader(r)
	if err != nil {
		return fmt.Errorf("cannot open gzip stream: %w", err)
	}
	report, err := dumpreader.NewReader(src, columnChecks...).Read(ctx)
	if err != nil {
		return fmt.Errorf("cannot read dump: %w", err)
	}

	switch format {
	case formatJson:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	case formatText:
		printText(w, report)
	default:
		return fmt.Errorf("unknown format \"%s\"", format)
	}

	if !report.Passed() {
		return errChecksFailed
	}
	return nil
}

func printText(w io.Writer, report *dumpreader.Report) {
	blocks := tablewriter.NewWriter(w)
	blocks.SetHeader([]string{"Line", "Table", "Rows", "Complete"})
	for _, b := range report.Blocks {
		blocks.Append([]string{
			strconv.Itoa(b.Line), b.Table, strconv.FormatInt(b.Rows, 10), strconv.FormatBool(b.Complete),
		})
	}
	blocks.Render()
	_, _ = fmt.Fprintf(w, "setval lines: %d\ntruncated: %t\n", report.Setvals, report.Truncated)

	if len(report.Checks) == 0 {
		return
	}
	results := tablewriter.NewWriter(w)
	results.SetHeader([]string{"Check", "Rows", "Mismatches", "Samples", "Result"})
	results.SetAutoWrapText(false)
	for _, cr := range report.Checks {
		result := "ok"
		if !cr.Passed() {
			result = "failed"
			if cr.Err != "" {
				result = stringsUtils.WrapString(cr.Err, maxWrapLength)
			}
		}
		results.Append([]string{
			stringsUtils.WrapString(cr.Check.String(), maxWrapLength),
			strconv.FormatInt(cr.Rows, 10),
			strconv.FormatInt(cr.Mismatches, 10),
			stringsUtils.WrapString(strings.Join(cr.Samples, ", "), maxWrapLength),
			result,
		})
	}
	results.Render()
}
