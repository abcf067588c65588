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

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/greenmaskio/pgmaskdump/internal/domains"
)

// ParseMaskingColumnsManually - manually parse dump.masking[a].columns and dump.masking[a].expressions.
// Viper lowercases map keys but column names are case-sensitive ("Email" and "email" are different
// columns), so the original keys are restored using the plain yaml and json decoders.
func ParseMaskingColumnsManually(cfgFilePath string, cfg *domains.Config) error {
	ext := path.Ext(cfgFilePath)
	tmpCfg := &domains.DummyConfig{}
	f, err := os.Open(cfgFilePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing config file")
		}
	}()

	switch ext {
	case ".json":
		if err = json.NewDecoder(f).Decode(&tmpCfg); err != nil {
			return err
		}
	case ".yaml", ".yml":
		if err = yaml.NewDecoder(f).Decode(&tmpCfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported file extension \"%s\"", ext)
	}
	return setMaskingColumns(tmpCfg, cfg)
}

func setMaskingColumns(tmpCfg *domains.DummyConfig, cfg *domains.Config) error {
	if len(tmpCfg.Dump.Masking) != len(cfg.Dump.Masking) {
		return fmt.Errorf(
			"masking rules count mismatch: parsed %d expected %d",
			len(tmpCfg.Dump.Masking), len(cfg.Dump.Masking),
		)
	}
	for idx, tmpRule := range tmpCfg.Dump.Masking {
		rule := cfg.Dump.Masking[idx]
		if tmpRule.Columns != nil {
			rule.Columns = tmpRule.Columns
		}
		if tmpRule.Expressions != nil {
			rule.Expressions = tmpRule.Expressions
		}
	}
	return nil
}
