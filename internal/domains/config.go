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

package domains

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/greenmaskio/pgmaskdump/internal/storages/directory"
	"github.com/greenmaskio/pgmaskdump/internal/storages/s3"
)

var (
	Cfg  *Config
	once sync.Once
)

const (
	DefaultDatabaseAlias   = "default"
	DefaultMigrationsTable = "django_migrations"
	DefaultSchema          = "public"

	defaultPgPort          = 5432
	defaultStorageType     = "directory"
	defaultDirectoryPath   = "/tmp"
	defaultCredentialTable = "auth_user"
	defaultCredentialCol   = "password"
	// defaultCredentialPassword - the fixed known password every account is reset to
	defaultCredentialPassword = "password"
)

const (
	OutputTargetStdout  = "stdout"
	OutputTargetStorage = "storage"
)

// DefaultPgDumpArgs - pass-through flags used when dump.pg_dump_args is not set
var DefaultPgDumpArgs = []string{"--no-owner", "--no-privileges"}

// DefaultExcludeSchemas - schemas created and managed by PostGIS, they cannot be restored via COPY
var DefaultExcludeSchemas = []string{"topology", "tiger", "tiger_data"}

func NewConfig() *Config {
	once.Do(
		func() {
			Cfg = newDefaultConfig()
		},
	)
	return Cfg
}

func newDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Storage: StorageConfig{
			Type:      defaultStorageType,
			S3:        s3.NewConfig(),
			Directory: &directory.Config{Path: defaultDirectoryPath},
		},
		Databases: map[string]*DatabaseConfig{},
		Dump: Dump{
			Database:        DefaultDatabaseAlias,
			PgDumpArgs:      DefaultPgDumpArgs,
			Schemas:         []string{DefaultSchema},
			ExcludeSchemas:  DefaultExcludeSchemas,
			MigrationsTable: DefaultMigrationsTable,
			Credential: CredentialConfig{
				Enabled:  true,
				Schema:   DefaultSchema,
				Table:    defaultCredentialTable,
				Column:   defaultCredentialCol,
				Password: defaultCredentialPassword,
			},
			Output: OutputConfig{
				Target: OutputTargetStdout,
			},
		},
	}
}

type Config struct {
	Common    Common                     `mapstructure:"common" yaml:"common" json:"common"`
	Log       LogConfig                  `mapstructure:"log" yaml:"log" json:"log"`
	Storage   StorageConfig              `mapstructure:"storage" yaml:"storage" json:"storage"`
	Databases map[string]*DatabaseConfig `mapstructure:"databases" yaml:"databases" json:"databases,omitempty"`
	Dump      Dump                       `mapstructure:"dump" yaml:"dump" json:"dump"`
}

// Database - returns connection settings by alias. The default alias falls back to PG* environment variables
// bound into an empty config.
func (c *Config) Database(alias string) (*DatabaseConfig, error) {
	if alias == "" {
		alias = DefaultDatabaseAlias
	}
	db, ok := c.Databases[alias]
	if !ok {
		if alias == DefaultDatabaseAlias {
			return &DatabaseConfig{Port: defaultPgPort}, nil
		}
		return nil, fmt.Errorf("database alias \"%s\" is not configured", alias)
	}
	if db.Port == 0 {
		db.Port = defaultPgPort
	}
	return db, nil
}

type Common struct {
	PgBinPath string `mapstructure:"pg_bin_path" yaml:"pg_bin_path,omitempty" json:"pg_bin_path,omitempty"`
}

type StorageConfig struct {
	Type      string            `mapstructure:"type" yaml:"type" json:"type,omitempty"`
	S3        *s3.Config        `mapstructure:"s3"  json:"s3,omitempty" yaml:"s3"`
	Directory *directory.Config `mapstructure:"directory" json:"directory,omitempty" yaml:"directory"`
}

type LogConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format,omitempty"`
	Level  string `mapstructure:"level" yaml:"level" json:"level,omitempty"`
}

type DatabaseConfig struct {
	// Dsn - full connection string. When set the other fields are used only for pg_dump flags
	Dsn      string `mapstructure:"dsn" yaml:"dsn" json:"dsn,omitempty"`
	Host     string `mapstructure:"host" yaml:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port,omitempty"`
	DbName   string `mapstructure:"dbname" yaml:"dbname" json:"dbname,omitempty"`
	User     string `mapstructure:"user" yaml:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	SslMode  string `mapstructure:"sslmode" yaml:"sslmode" json:"sslmode,omitempty"`
}

// GetPgDSN - builds a key/value connection string. The password is included because pgx needs it, pg_dump
// receives it through PGPASSWORD instead.
func (d *DatabaseConfig) GetPgDSN() string {
	if d.Dsn != "" {
		return d.Dsn
	}
	var parts []string
	if d.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", quoteDSNValue(d.Host)))
	}
	if d.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", d.Port))
	}
	if d.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", quoteDSNValue(d.User)))
	}
	if d.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", quoteDSNValue(d.Password)))
	}
	if d.DbName != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", quoteDSNValue(d.DbName)))
	}
	if d.SslMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", quoteDSNValue(d.SslMode)))
	}
	return strings.Join(parts, " ")
}

// Redacted - connection description safe for logging
func (d *DatabaseConfig) Redacted() string {
	if d.Dsn != "" {
		if u, err := url.Parse(d.Dsn); err == nil && u.Scheme != "" {
			return u.Redacted()
		}
		return "dsn"
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s", d.Host, d.Port, d.User, d.DbName)
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

type Dump struct {
	// Database - alias from the databases section
	Database string `mapstructure:"database" yaml:"database" json:"database,omitempty"`
	// PgDumpArgs - extra flags passed as is to both pg_dump invocations
	PgDumpArgs []string `mapstructure:"pg_dump_args" yaml:"pg_dump_args" json:"pg_dump_args,omitempty"`
	// Schemas - schemas introspected for tables when Tables is empty
	Schemas        []string `mapstructure:"schemas" yaml:"schemas" json:"schemas,omitempty"`
	ExcludeSchemas []string `mapstructure:"exclude_schemas" yaml:"exclude_schemas" json:"exclude_schemas,omitempty"`
	ExcludeTables  []string `mapstructure:"exclude_tables" yaml:"exclude_tables" json:"exclude_tables,omitempty"`
	// Tables - static table registry. When set the catalog is not introspected
	Tables            []*TableConfig       `mapstructure:"tables" yaml:"tables" json:"tables,omitempty"`
	MigrationsTable   string               `mapstructure:"migrations_table" yaml:"migrations_table" json:"migrations_table,omitempty"`
	Masking           []*MaskingRuleConfig `mapstructure:"masking" yaml:"masking" json:"masking,omitempty"`
	Credential        CredentialConfig     `mapstructure:"credential" yaml:"credential" json:"credential"`
	LockTimeout       string               `mapstructure:"lock_timeout" yaml:"lock_timeout" json:"lock_timeout,omitempty"`
	StatementTimeout  string               `mapstructure:"statement_timeout" yaml:"statement_timeout" json:"statement_timeout,omitempty"`
	InterruptExitCode int                  `mapstructure:"interrupt_exit_code" yaml:"interrupt_exit_code" json:"interrupt_exit_code,omitempty"`
	Output            OutputConfig         `mapstructure:"output" yaml:"output" json:"output"`
}

// TableConfig - static registry entry. Names are resolved like the ones of MaskingRuleConfig
type TableConfig struct {
	Schema string `mapstructure:"schema" yaml:"schema" json:"schema,omitempty"`
	Name   string `mapstructure:"name" yaml:"name" json:"name,omitempty"`
	// Kind - ordinary, junction, proxy or external. Only ordinary and junction tables are exported
	Kind string `mapstructure:"kind" yaml:"kind" json:"kind,omitempty"`
}

// MaskingRuleConfig - masking rule of one table. Schema and table are folded to lower case unless double
// quoted, the same way Postgres treats unquoted identifiers: Users and users both name public.users while
// '"Users"' keeps the case.
type MaskingRuleConfig struct {
	Schema string `mapstructure:"schema" yaml:"schema" json:"schema,omitempty"`
	Table  string `mapstructure:"table" yaml:"table" json:"table,omitempty"`
	// Kind - literal (default), hashed_credential or skip
	Kind string `mapstructure:"kind" yaml:"kind" json:"kind,omitempty"`
	// Columns - column name to the replacement literal. The keys are case-sensitive and viper lowercases them,
	// so the attribute is replaced in runtime by internal/utils/config/viper_workaround.go
	Columns map[string]any `mapstructure:"columns" yaml:"columns" json:"columns,omitempty"`
	// Expressions - column name to the raw SQL expression template
	Expressions map[string]string `mapstructure:"expressions" yaml:"expressions" json:"expressions,omitempty"`

	// hashed_credential settings
	Column     string `mapstructure:"column" yaml:"column" json:"column,omitempty"`
	Password   string `mapstructure:"password" yaml:"password" json:"password,omitempty"`
	Hasher     string `mapstructure:"hasher" yaml:"hasher" json:"hasher,omitempty"`
	Salt       string `mapstructure:"salt" yaml:"salt" json:"salt,omitempty"`
	Iterations int    `mapstructure:"iterations" yaml:"iterations" json:"iterations,omitempty"`
}

// CredentialConfig - the built-in rule that resets the authentication table secret column
type CredentialConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Schema     string `mapstructure:"schema" yaml:"schema" json:"schema,omitempty"`
	Table      string `mapstructure:"table" yaml:"table" json:"table,omitempty"`
	Column     string `mapstructure:"column" yaml:"column" json:"column,omitempty"`
	Password   string `mapstructure:"password" yaml:"password" json:"password,omitempty"`
	Hasher     string `mapstructure:"hasher" yaml:"hasher" json:"hasher,omitempty"`
	Salt       string `mapstructure:"salt" yaml:"salt" json:"salt,omitempty"`
	Iterations int    `mapstructure:"iterations" yaml:"iterations" json:"iterations,omitempty"`
}

type OutputConfig struct {
	// Target - stdout or storage
	Target   string `mapstructure:"target" yaml:"target" json:"target,omitempty"`
	Compress bool   `mapstructure:"compress" yaml:"compress" json:"compress,omitempty"`
	// Pgzip - use pgzip compression instead of gzip
	Pgzip bool `mapstructure:"pgzip" yaml:"pgzip" json:"pgzip,omitempty"`
}

// DummyConfig - mirror of the config parts that must be decoded without viper key lowercasing
type DummyConfig struct {
	Dump struct {
		Masking []struct {
			Columns     map[string]any    `yaml:"columns" json:"columns"`
			Expressions map[string]string `yaml:"expressions" json:"expressions"`
		} `yaml:"masking" json:"masking"`
	} `yaml:"dump" json:"dump"`
}
