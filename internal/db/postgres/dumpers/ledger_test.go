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

package dumpers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
)

func TestLedger(t *testing.T) {
	l := NewLedger()
	users := pgident.NewTableName("public", "users")
	orders := pgident.NewTableName("public", "orders")

	assert.True(t, l.Add(users))
	assert.True(t, l.Add(orders))
	assert.False(t, l.Add(users))
	assert.True(t, l.Contains(orders))
	assert.False(t, l.Contains(pgident.NewTableName("billing", "users")))
	assert.Equal(t, []pgident.TableName{users, orders}, l.Tables())
	assert.Equal(t, 2, l.Len())
}
