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

package pgdump

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/utils/cmd_runner"
)

const pgDumpExecutable = "pg_dump"

const (
	SectionPreData  = "pre-data"
	SectionPostData = "post-data"
)

const (
	passwordEnv = "PGPASSWORD"
	sslModeEnv  = "PGSSLMODE"
)

type PgDump struct {
	BinPath string
}

func NewPgDump(binPath string) *PgDump {
	return &PgDump{
		BinPath: binPath,
	}
}

func (pd *PgDump) Executable() string {
	if pd.BinPath == "" {
		return pgDumpExecutable
	}
	return path.Join(pd.BinPath, pgDumpExecutable)
}

// Run - runs pg_dump and writes its whole stdout into w. The call returns only after the output is drained, so
// the next write into w from the caller cannot interleave with the subprocess output.
func (pd *PgDump) Run(ctx context.Context, options *Options, w io.Writer) error {
	params := options.GetParams()
	log.Debug().
		Str("Section", options.Section).
		Msgf("pg_dump: %s %s", pd.Executable(), strings.Join(params, " "))
	if err := cmd_runner.Run(ctx, &log.Logger, w, options.Env(), pd.Executable(), params...); err != nil {
		return fmt.Errorf("pg_dump %s section: %w", options.Section, err)
	}
	return nil
}

// Options - the connection parameters and flags of one pg_dump invocation. The password never gets into the
// argument list.
type Options struct {
	Host     string
	Port     int
	UserName string
	DbName   string
	Password string
	SslMode  string
	// ExtraArgs - pass-through flags from the config
	ExtraArgs []string
	Snapshot  string
	Section   string
}

// NewOptions - builds pg_dump options from the database config. A DSN is parsed so the password can be moved
// into the environment.
func NewOptions(db *domains.DatabaseConfig, extraArgs []string) (*Options, error) {
	o := &Options{
		Host:      db.Host,
		Port:      db.Port,
		UserName:  db.User,
		DbName:    db.DbName,
		Password:  db.Password,
		SslMode:   db.SslMode,
		ExtraArgs: extraArgs,
	}
	if db.Dsn == "" {
		return o, nil
	}
	cfg, err := pgconn.ParseConfig(db.Dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot parse dsn: %w", err)
	}
	o.Host = cfg.Host
	o.Port = int(cfg.Port)
	o.UserName = cfg.User
	o.DbName = cfg.Database
	o.Password = cfg.Password
	if cfg.TLSConfig == nil && o.SslMode == "" {
		o.SslMode = "disable"
	}
	return o, nil
}

// WithSection - copy of the options bound to the snapshot and section
func (o *Options) WithSection(snapshot, section string) *Options {
	res := *o
	res.ExtraArgs = append([]string(nil), o.ExtraArgs...)
	res.Snapshot = snapshot
	res.Section = section
	return &res
}

func (o *Options) GetParams() []string {
	var args []string

	// Connection options
	if o.UserName != "" {
		args = append(args, "-U", o.UserName)
	}
	if o.Host != "" {
		args = append(args, "-h", o.Host)
	}
	if o.Port != 0 {
		args = append(args, "-p", strconv.FormatInt(int64(o.Port), 10))
	}
	if o.DbName != "" {
		args = append(args, o.DbName)
	}

	// Pass-through options controlling the output content
	args = append(args, o.ExtraArgs...)

	if o.Snapshot != "" {
		args = append(args, fmt.Sprintf("--snapshot=%s", o.Snapshot))
	}
	if o.Section != "" {
		args = append(args, fmt.Sprintf("--section=%s", o.Section))
	}

	return args
}

// Env - process environment of the child with the password and ssl mode injected
func (o *Options) Env() []string {
	env := os.Environ()
	if o.Password != "" {
		env = append(env, fmt.Sprintf("%s=%s", passwordEnv, o.Password))
	}
	if o.SslMode != "" {
		env = append(env, fmt.Sprintf("%s=%s", sslModeEnv, o.SslMode))
	}
	return env
}
