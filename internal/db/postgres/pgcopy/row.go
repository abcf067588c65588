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

package pgcopy

import (
	"errors"
	"slices"
)

var ErrIndexOutOfRange = errors.New("wrong column idx: index out of range")

type columnPos struct {
	start int
	end   int
}

const defaultBufferPoolSize = 128

// Row - read-only view of one line of the text COPY format. Columns are located on Decode and unescaped lazily
// on GetColumn.
type Row struct {
	// raw - the line as it is in the COPY payload
	raw []byte
	// decodeBufferPool - per column buffers reused between rows
	decodeBufferPool [][]byte
	// columnPos - list of the column pos within the raw data
	columnPos []*columnPos
	// length - number of columns found by the last Decode
	length int
}

func NewRow() *Row {
	return &Row{}
}

// Decode - splits the line by the delimiter. The line must not contain the trailing newline
func (r *Row) Decode(raw []byte) {
	var colStartPos, colEndPos int

	idx := 0
	for colStartPos <= len(raw) {
		colEndPos = slices.Index(raw[colStartPos:], Delimiter)
		if colEndPos == -1 {
			colEndPos = len(raw)
		} else {
			colEndPos = colStartPos + colEndPos
		}
		if idx >= len(r.columnPos) {
			r.appendNewEmptyBuffer()
		}

		p := r.columnPos[idx]
		p.start = colStartPos
		p.end = colEndPos

		colStartPos = colEndPos + 1
		idx++
	}
	r.raw = raw
	r.length = idx
}

// GetColumn - find raw data and decode it using DecodeAttr. The returned value is valid until the next Decode
func (r *Row) GetColumn(idx int) (*Value, error) {
	if idx < 0 || idx >= r.length {
		return nil, ErrIndexOutOfRange
	}
	pos := r.columnPos[idx]
	v, err := DecodeAttr(r.raw[pos.start:pos.end], r.decodeBufferPool[idx][:0])
	if err != nil {
		return nil, err
	}
	if !v.IsNull {
		r.decodeBufferPool[idx] = v.Data
	}
	return v, nil
}

func (r *Row) GetColumnRaw(idx int) ([]byte, error) {
	if idx < 0 || idx >= r.length {
		return nil, ErrIndexOutOfRange
	}
	pos := r.columnPos[idx]
	return r.raw[pos.start:pos.end], nil
}

func (r *Row) appendNewEmptyBuffer() {
	r.columnPos = append(r.columnPos, &columnPos{})
	r.decodeBufferPool = append(r.decodeBufferPool, make([]byte, 0, defaultBufferPoolSize))
}

func (r *Row) Length() int {
	return r.length
}
