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
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderLiteral(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{name: "null", value: nil, expected: "NULL"},
		{name: "string", value: "masked@example.com", expected: "'masked@example.com'"},
		{name: "quote", value: "O'Brien", expected: "'O''Brien'"},
		{name: "empty string", value: "", expected: "''"},
		{name: "int", value: 42, expected: "'42'"},
		{name: "int64", value: int64(-7), expected: "'-7'"},
		{name: "bool", value: true, expected: "'true'"},
		{name: "float", value: 1.5, expected: "'1.5'"},
		{name: "large float without exponent", value: 1e21, expected: "'1000000000000000000000'"},
		{name: "decimal", value: decimal.RequireFromString("10.01"), expected: "'10.01'"},
		{name: "time", value: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), expected: "'2024-01-02T03:04:05Z'"},
		{name: "map", value: map[string]any{"a": 1}, expected: `'{"a":1}'`},
		{name: "slice", value: []any{"x", "y"}, expected: `'["x","y"]'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := RenderLiteral(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, res)
		})
	}
}

func TestRenderLiteral_Errors(t *testing.T) {
	_, err := RenderLiteral("a\x00b")
	require.ErrorIs(t, err, errNulByte)

	_, err = RenderLiteral(struct{ A int }{A: 1})
	require.ErrorContains(t, err, "unsupported literal type")
}
