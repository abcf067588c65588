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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/greenmaskio/pgmaskdump/cmd/pgmaskdump/cmd/dump"
	"github.com/greenmaskio/pgmaskdump/cmd/pgmaskdump/cmd/inspect"
	"github.com/greenmaskio/pgmaskdump/cmd/pgmaskdump/cmd/plan"
	pgDomains "github.com/greenmaskio/pgmaskdump/internal/domains"
	configUtils "github.com/greenmaskio/pgmaskdump/internal/utils/config"
)

const (
	appName           = "pgmaskdump"
	defaultConfigName = "config.yml"
)

var (
	Version    string
	Commit     string
	CommitDate string

	RootCmd = &cobra.Command{
		Use:   appName,
		Short: "pgmaskdump produces a masked plain SQL dump of a PostgreSQL database",
		Long: "Produces a plain SQL dump of a live PostgreSQL database with sensitive columns masked. " +
			"Masking rules are applied inside a single serializable transaction that is always rolled " +
			"back, so the source database is never changed. The dump is written to stdout or to a " +
			"storage (directory and S3)",
	}
	cfgFile string
	Config  = pgDomains.NewConfig()
)

// pgEnv - libpq environment variables bound to the default database alias
var pgEnv = []struct {
	key string
	env string
}{
	{key: "host", env: "PGHOST"},
	{key: "port", env: "PGPORT"},
	{key: "dbname", env: "PGDATABASE"},
	{key: "user", env: "PGUSER"},
	{key: "password", env: "PGPASSWORD"},
	{key: "sslmode", env: "PGSSLMODE"},
}

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				Commit = setting.Value
			}
			if setting.Key == "vcs.time" {
				CommitDate = setting.Value
			}
		}
	}
	if Version != "" {
		RootCmd.Version = fmt.Sprintf("%s %s %s", Version, Commit, CommitDate)
	} else {
		RootCmd.Version = fmt.Sprintf("%s %s", Commit, CommitDate)
	}

	cobra.OnInitialize(initConfig)
	// Removing short help flag from default
	RootCmd.PersistentFlags().BoolP("help", "", false, "help for pgmaskdump")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file ")
	RootCmd.PersistentFlags().StringP("log-format", "", "text", "logging format [text|json]")
	RootCmd.PersistentFlags().StringP("log-level", "", zerolog.LevelInfoValue,
		fmt.Sprintf(
			"logging level %s|%s|%s",
			zerolog.LevelDebugValue,
			zerolog.LevelInfoValue,
			zerolog.LevelWarnValue,
		),
	)
	RootCmd.PersistentFlags().StringP(
		"database", "", pgDomains.DefaultDatabaseAlias, "alias of the database from the databases section",
	)
	RootCmd.PersistentFlags().StringP("pg-bin-path", "", "", "directory containing pg_dump")

	RootCmd.AddCommand(dump.Cmd)
	RootCmd.AddCommand(plan.Cmd)
	RootCmd.AddCommand(inspect.Cmd)

	for key, flagName := range map[string]string{
		"log.format":         "log-format",
		"log.level":          "log-level",
		"dump.database":      "database",
		"common.pg_bin_path": "pg-bin-path",
	} {
		if err := viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(flagName)); err != nil {
			log.Fatal().Err(err).Msg("")
		}
	}
	bindPgEnv()

	RootCmd.InitDefaultCompletionCmd()
	RootCmd.InitDefaultHelpCmd()
	RootCmd.InitDefaultVersionFlag()

	for _, c := range RootCmd.Commands() {
		if c.Name() == "completion" || c.Name() == "help" {
			c.DisableFlagParsing = true
			for _, subc := range c.Commands() {
				subc.DisableFlagParsing = true
			}
		}
	}
}

func bindPgEnv() {
	for _, e := range pgEnv {
		key := fmt.Sprintf("databases.%s.%s", pgDomains.DefaultDatabaseAlias, e.key)
		if err := viper.BindEnv(key, e.env); err != nil {
			log.Fatal().Err(err).Msg("")
		}
	}
}

// defaultConfigPath - <user config dir>/pgmaskdump/config.yml if the file exists
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(dir, appName, defaultConfigName)
	if _, err := os.Stat(p); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("Path", p).Msg("cannot access default config file")
		}
		return ""
	}
	return p
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = defaultConfigPath()
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			log.Fatal().Err(err).Msg("error reading from config file")
		}
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// viper.Reset drops env bindings made in init
	bindPgEnv()

	decoderCfg := func(cfg *mapstructure.DecoderConfig) {
		cfg.DecodeHook = configUtils.DecoderHooks()
	}

	if err := viper.Unmarshal(Config, decoderCfg); err != nil {
		log.Fatal().Err(err).Msg("")
	}

	if cfgFile != "" {
		if err := configUtils.ParseMaskingColumnsManually(cfgFile, Config); err != nil {
			log.Fatal().Err(err).Msg("error parsing masking columns")
		}
	}
}
