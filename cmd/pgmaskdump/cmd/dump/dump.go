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

package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdInternals "github.com/greenmaskio/pgmaskdump/internal/db/postgres/cmd"
	pgDomains "github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/output"
	"github.com/greenmaskio/pgmaskdump/internal/storages/builder"
	"github.com/greenmaskio/pgmaskdump/internal/utils/logger"
)

const exitCodeFatal = 1

var (
	Cmd = &cobra.Command{
		Use:   "dump",
		Short: "make a masked plain SQL dump and write it to stdout or to the storage",
		Run: func(cmd *cobra.Command, args []string) {
			if err := logger.SetLogLevel(Config.Log.Level, Config.Log.Format); err != nil {
				log.Fatal().Err(err).Msg("")
			}

			// A closed stdout reader must surface as EPIPE on write instead of killing the process
			signal.Ignore(syscall.SIGPIPE)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := run(ctx, Config, os.Stdout)
			if code := exitCode(err, Config.Dump.InterruptExitCode); code != 0 {
				stop()
				os.Exit(code)
			}
		},
	}
	Config = pgDomains.NewConfig()
)

func init() {
	Cmd.Flags().BoolP("compress", "", false, "gzip the dump")
	Cmd.Flags().BoolP("pgzip", "", false, "use parallel gzip implementation")
	Cmd.Flags().StringP(
		"target", "", pgDomains.OutputTargetStdout,
		fmt.Sprintf("where to write the dump %s|%s", pgDomains.OutputTargetStdout, pgDomains.OutputTargetStorage),
	)

	for key, flagName := range map[string]string{
		"dump.output.compress": "compress",
		"dump.output.pgzip":    "pgzip",
		"dump.output.target":   "target",
	} {
		if err := viper.BindPFlag(key, Cmd.Flags().Lookup(flagName)); err != nil {
			log.Fatal().Err(err).Msg("")
		}
	}
}

// run - makes one dump. Every error is logged here, the caller only maps it to the exit code
func run(ctx context.Context, cfg *pgDomains.Config, stdout io.Writer) error {
	log.Logger = log.With().Str("RunId", uuid.NewString()).Logger()

	dump, err := cmdInternals.NewDump(cfg)
	if err != nil {
		log.Error().Err(err).Msg("cannot initialise dump")
		return err
	}

	target, err := newTarget(ctx, cfg, stdout)
	if err != nil {
		log.Error().Err(err).Msg("cannot initialise output")
		return err
	}
	sink := output.NewSink(target, output.Options{
		Compress: cfg.Dump.Output.Compress,
		Pgzip:    cfg.Dump.Output.Pgzip,
	})

	runErr := dump.Run(ctx, sink)
	if runErr != nil {
		// Nothing written after a failure may reach the reader
		sink.Stop()
	}
	if closeErr := sink.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	stats := dump.Stats()
	event := log.Info()
	switch {
	case runErr == nil:
	case pgDomains.IsCleanStop(runErr):
		event = log.Debug().Err(runErr)
	default:
		event = log.Error().Err(runErr)
	}
	event.
		Int("Tables", stats.Tables).
		Int("Masked", stats.Masked).
		Int("Sequences", stats.Sequences).
		Int64("Bytes", sink.Count()).
		Str("Elapsed", stats.Duration.String()).
		Str("State", dump.State().String()).
		Msg("dump finished")
	return runErr
}

// newTarget - stdout or a new object in the configured storage
func newTarget(ctx context.Context, cfg *pgDomains.Config, stdout io.Writer) (output.Target, error) {
	switch cfg.Dump.Output.Target {
	case pgDomains.OutputTargetStdout, "":
		return output.NewWriterTarget(stdout), nil
	case pgDomains.OutputTargetStorage:
		st, err := builder.GetStorage(ctx, &cfg.Storage, &cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("cannot build storage: %w", err)
		}
		name := output.ObjectName(time.Now(), cfg.Dump.Output.Compress)
		log.Info().
			Str("StorageCwd", st.GetCwd()).
			Str("ObjectName", name).
			Msg("writing dump to storage")
		return output.NewStorageTarget(ctx, st, name), nil
	default:
		return nil, fmt.Errorf("unknown output target \"%s\"", cfg.Dump.Output.Target)
	}
}

// exitCode - 0 on success, interruptCode on a clean stop and 1 on any other failure
func exitCode(err error, interruptCode int) int {
	switch {
	case err == nil:
		return 0
	case pgDomains.IsCleanStop(err):
		return interruptCode
	case errors.Is(err, context.Canceled):
		return interruptCode
	}
	return exitCodeFatal
}
