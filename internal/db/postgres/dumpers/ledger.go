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
	"sync"

	"github.com/greenmaskio/pgmaskdump/internal/db/postgres/pgident"
)

// Ledger - insertion ordered set of the tables already exported in this run
type Ledger struct {
	mx    sync.Mutex
	order []pgident.TableName
	seen  map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Add - records the table. Returns false when it was recorded before
func (l *Ledger) Add(t pgident.TableName) bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	if _, ok := l.seen[t.Key()]; ok {
		return false
	}
	l.seen[t.Key()] = struct{}{}
	l.order = append(l.order, t)
	return true
}

func (l *Ledger) Contains(t pgident.TableName) bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	_, ok := l.seen[t.Key()]
	return ok
}

// Tables - exported tables in export order
func (l *Ledger) Tables() []pgident.TableName {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]pgident.TableName(nil), l.order...)
}

func (l *Ledger) Len() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.order)
}
