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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
)

var errEmptyExpression = errors.New("expression rendered to empty string")

// ExpressionData - values available in an expression template
type ExpressionData struct {
	Schema string
	Table  string
	Column string
}

func expressionFuncMap() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["ident"] = pgident.QuoteIdent
	funcs["literal"] = pgident.QuoteLiteral
	return funcs
}

// RenderExpression - renders the raw SQL expression template once. The result is inserted into the SET clause as
// is, so it must stay idempotent (depend only on columns that are not masked by the same rule).
func RenderExpression(tmpl string, data ExpressionData) (string, error) {
	t, err := template.New(data.Table + "." + data.Column).
		Funcs(expressionFuncMap()).
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("cannot parse expression template: %w", err)
	}
	buf := &bytes.Buffer{}
	if err = t.Execute(buf, data); err != nil {
		return "", fmt.Errorf("cannot render expression template: %w", err)
	}
	res := strings.TrimSpace(buf.String())
	if res == "" {
		return "", errEmptyExpression
	}
	return res, nil
}
