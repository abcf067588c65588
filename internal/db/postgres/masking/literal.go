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

package masking

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
)

const nullLiteral = "NULL"

var errNulByte = errors.New("literal contains NUL byte")

// RenderLiteral - renders the configured replacement value as an untyped SQL literal. Postgres coerces it to
// the column type. Nil becomes NULL. Floats are rendered without exponent because some types (numeric, money)
// reject the exponent notation.
func RenderLiteral(v any) (string, error) {
	var s string
	switch vv := v.(type) {
	case nil:
		return nullLiteral, nil
	case string:
		s = vv
	case []byte:
		s = string(vv)
	case float64:
		s = decimal.NewFromFloat(vv).String()
	case float32:
		s = decimal.NewFromFloat32(vv).String()
	case decimal.Decimal:
		s = vv.String()
	case time.Time:
		s = vv.Format(time.RFC3339Nano)
	case map[string]any, []any:
		data, err := json.Marshal(vv)
		if err != nil {
			return "", fmt.Errorf("cannot encode value as json: %w", err)
		}
		s = string(data)
	default:
		var err error
		s, err = cast.ToStringE(v)
		if err != nil {
			return "", fmt.Errorf("unsupported literal type %T: %w", v, err)
		}
	}
	if strings.ContainsRune(s, 0) {
		return "", errNulByte
	}
	return pgident.QuoteLiteral(s), nil
}
