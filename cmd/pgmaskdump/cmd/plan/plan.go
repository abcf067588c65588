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

package plan

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	cmdInternals "github.com/greenmaskio/pgmaskdump/internal/db/postgres/cmd"
	pgDomains "github.com/greenmaskio/pgmaskdump/internal/domains"
	"github.com/greenmaskio/pgmaskdump/internal/utils/logger"
)

var (
	Cmd = &cobra.Command{
		Use:   "plan",
		Short: "show tables, their export order and masking rules without dumping anything",
		Run: func(cmd *cobra.Command, args []string) {
			if err := logger.SetLogLevel(Config.Log.Level, Config.Log.Format); err != nil {
				log.Fatal().Err(err).Msg("")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dump, err := cmdInternals.NewDump(Config)
			if err != nil {
				log.Fatal().Err(err).Msg("cannot initialise dump")
			}
			plan, err := dump.Plan(ctx)
			if err != nil {
				log.Fatal().Err(err).Msg("cannot build dump plan")
			}
			if err := plan.Print(os.Stdout, format); err != nil {
				log.Fatal().Err(err).Msg("")
			}
		},
	}
	Config = pgDomains.NewConfig()
	format string
)

func init() {
	Cmd.Flags().StringVarP(
		&format, "format", "f", cmdInternals.FormatText, "output format [text|json|yaml]",
	)
}
