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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/dumpers"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/masking"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgdump"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/registry"
	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/session"
	"github.com/greenmaskio/pgmaskdump/internal/domains"
)

var errAlreadyRun = errors.New("dump can be run only once")

// SnapshotSession - the single transaction every step of the dump runs in
type SnapshotSession interface {
	Begin(ctx context.Context) error
	ExportSnapshot(ctx context.Context) (string, error)
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyTo(ctx context.Context, w io.Writer, sql string) (pgconn.CommandTag, error)
}

type SchemaDumper interface {
	Run(ctx context.Context, options *pgdump.Options, w io.Writer) error
}

type MaskingApplier interface {
	Validate(ctx context.Context, q masking.Querier, rs *masking.RuleSet) error
	Apply(ctx context.Context, tx masking.Execer, rs *masking.RuleSet) ([]pgident.TableName, error)
}

type TableEnumerator interface {
	Tables(ctx context.Context, q registry.Querier) ([]*registry.Table, error)
}

type RowStreamer interface {
	Dump(ctx context.Context, c dumpers.Copier, table pgident.TableName, w io.Writer) (bool, error)
}

type SequenceReconciler interface {
	Reconcile(ctx context.Context, q dumpers.Querier, w io.Writer) (int, error)
}

// Sink - the dump output. Stop is called when the run context is cancelled and must make every later write
// fail
type Sink interface {
	io.Writer
	Flush() error
	Stop()
}

type components struct {
	session    SnapshotSession
	pgDump     SchemaDumper
	applier    MaskingApplier
	enumerator TableEnumerator
	streamer   RowStreamer
	reconciler SequenceReconciler
}

type settings struct {
	pgDumpOptions *pgdump.Options
	rules         *masking.RuleSet
	credential    domains.CredentialConfig
	migrations    pgident.TableName
}

type Stats struct {
	Tables    int           `json:"tables"`
	Masked    int           `json:"masked"`
	Sequences int           `json:"sequences"`
	Duration  time.Duration `json:"duration"`
}

// Dump - drives one masked dump: snapshot, pre-data, masking, rows, sequences, post-data. The transaction is
// rolled back exactly once whatever the outcome is.
type Dump struct {
	components
	settings
	state State
	stats Stats
}

// NewDump - builds the dump with the real components from the run configuration
func NewDump(cfg *domains.Config) (*Dump, error) {
	c, s, err := buildComponents(cfg)
	if err != nil {
		return nil, err
	}
	return newDump(c, s), nil
}

func buildComponents(cfg *domains.Config) (components, settings, error) {
	dbCfg, err := cfg.Database(cfg.Dump.Database)
	if err != nil {
		return components{}, settings{}, err
	}
	sessOpts, err := session.NewOptions(cfg.Dump.LockTimeout, cfg.Dump.StatementTimeout)
	if err != nil {
		return components{}, settings{}, err
	}
	rules, err := masking.NewRuleSetFromConfig(cfg.Dump.Masking)
	if err != nil {
		return components{}, settings{}, fmt.Errorf("cannot build masking rules: %w", err)
	}
	pgDumpOptions, err := pgdump.NewOptions(dbCfg, cfg.Dump.PgDumpArgs)
	if err != nil {
		return components{}, settings{}, err
	}
	var migrations pgident.TableName
	if cfg.Dump.MigrationsTable != "" {
		if migrations, err = registry.ParseTableName(cfg.Dump.MigrationsTable); err != nil {
			return components{}, settings{}, fmt.Errorf("migrations table: %w", err)
		}
	}

	c := components{
		session:    session.New(dbCfg, sessOpts),
		pgDump:     pgdump.NewPgDump(cfg.Common.PgBinPath),
		applier:    masking.NewApplier(),
		enumerator: registry.New(registry.NewOptions(&cfg.Dump)),
		streamer:   dumpers.NewTableDumper(dumpers.NewLedger()),
		reconciler: dumpers.NewSequenceReconciler(),
	}
	s := settings{
		pgDumpOptions: pgDumpOptions,
		rules:         rules,
		credential:    cfg.Dump.Credential,
		migrations:    migrations,
	}
	return c, s, nil
}

func newDump(c components, s settings) *Dump {
	if s.rules == nil {
		s.rules, _ = masking.NewRuleSet()
	}
	return &Dump{
		components: c,
		settings:   s,
		state:      StateIdle,
	}
}

func (d *Dump) State() State {
	return d.state
}

func (d *Dump) Stats() Stats {
	return d.stats
}

// step - runs one forward transition. Cancellation is checked before the step starts
func (d *Dump) step(ctx context.Context, next State, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	log.Debug().Str("From", d.state.String()).Str("To", next.String()).Msg("dump state changed")
	d.state = next
	return nil
}

// Run - performs the dump writing into w. Interruption and a closed reader are reported as ErrInterrupted and
// ErrReaderClosed, everything else is fatal.
func (d *Dump) Run(ctx context.Context, w Sink) (err error) {
	if d.state != StateIdle {
		return errAlreadyRun
	}
	startedAt := time.Now()
	stopSink := context.AfterFunc(ctx, w.Stop)
	defer stopSink()

	defer func() {
		err = classifyRunError(ctx, err)
		if rbErr := d.rollback(ctx); rbErr != nil && err == nil {
			err = rbErr
		}
		d.stats.Duration = time.Since(startedAt)
	}()

	var snapshot string
	var tables []*registry.Table
	var rules *masking.RuleSet
	var altered []pgident.TableName

	if err = d.step(ctx, StateSessionOpen, func() error {
		return d.session.Begin(ctx)
	}); err != nil {
		return err
	}

	if err = d.step(ctx, StateSnapshotExported, func() (err error) {
		snapshot, err = d.session.ExportSnapshot(ctx)
		if err != nil {
			return err
		}
		log.Debug().Str("Snapshot", snapshot).Msg("snapshot exported")
		tables, rules, err = d.resolve(ctx)
		return err
	}); err != nil {
		return err
	}

	if err = d.step(ctx, StatePreDataEmitted, func() error {
		return d.pgDump.Run(ctx, d.pgDumpOptions.WithSection(snapshot, pgdump.SectionPreData), w)
	}); err != nil {
		return fmt.Errorf("pre-data section dumping error: %w", err)
	}

	if err = d.step(ctx, StateMasked, func() (err error) {
		altered, err = d.applier.Apply(ctx, d.session, rules)
		return err
	}); err != nil {
		return fmt.Errorf("masking error: %w", err)
	}
	d.stats.Masked = len(altered)
	for _, name := range altered {
		if !registry.Contains(tables, name) {
			log.Warn().Str("TableName", name.Key()).Msg("masked table is not exported")
		}
	}

	if err = d.step(ctx, StateStreaming, func() error {
		return d.streamTables(ctx, registry.ExportOrder(tables, altered, d.migrations), w)
	}); err != nil {
		return fmt.Errorf("data dumping error: %w", err)
	}

	if err = d.step(ctx, StateSequencesReconciled, func() (err error) {
		d.stats.Sequences, err = d.reconciler.Reconcile(ctx, d.session, w)
		return err
	}); err != nil {
		return fmt.Errorf("sequences dumping error: %w", err)
	}

	if err = d.step(ctx, StatePostDataEmitted, func() error {
		if err := d.pgDump.Run(ctx, d.pgDumpOptions.WithSection(snapshot, pgdump.SectionPostData), w); err != nil {
			return err
		}
		return w.Flush()
	}); err != nil {
		return fmt.Errorf("post-data section dumping error: %w", err)
	}

	return nil
}

// resolve - enumerates the tables, completes the rules with the built-in credential rule and validates them
// against the catalog. Nothing is written and nothing is changed yet.
func (d *Dump) resolve(ctx context.Context) ([]*registry.Table, *masking.RuleSet, error) {
	tables, err := d.enumerator.Tables(ctx, d.session)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot enumerate tables: %w", err)
	}
	rules, err := d.rules.WithCredential(d.credential, func(t pgident.TableName) bool {
		return registry.Contains(tables, t)
	})
	if err != nil {
		return nil, nil, err
	}
	registry.ApplyOverrides(tables, rules.HasOverride)
	if err = d.applier.Validate(ctx, d.session, rules); err != nil {
		return nil, nil, err
	}
	log.Debug().
		Int("Tables", len(lo.Filter(tables, func(t *registry.Table, _ int) bool { return t.Exported() }))).
		Int("Rules", len(rules.Rules())).
		Msg("dump resolved")
	return tables, rules, nil
}

func (d *Dump) streamTables(ctx context.Context, tables []*registry.Table, w io.Writer) error {
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		dumped, err := d.streamer.Dump(ctx, d.session, t.Name, w)
		if err != nil {
			return err
		}
		if dumped {
			d.stats.Tables++
		}
	}
	return nil
}

func (d *Dump) rollback(ctx context.Context) error {
	defer func() {
		d.state = StateRolledBack
	}()
	if err := d.session.Rollback(ctx); err != nil {
		log.Warn().Err(err).Msg("cannot rollback dump transaction")
		if closeErr := d.session.Close(ctx); closeErr != nil {
			log.Warn().Err(closeErr).Msg("cannot close connection")
		}
		return err
	}
	if err := d.session.Close(ctx); err != nil {
		log.Debug().Err(err).Msg("cannot close connection")
	}
	return nil
}

// classifyRunError - maps cancellation to ErrInterrupted. A clean stop error takes precedence over any error
// caused by the stop itself.
func classifyRunError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if domains.IsCleanStop(err) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domains.ErrInterrupted, err)
	}
	return err
}
