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

package pgcopy

var (
	// NullSeq - NULL marker of the text COPY format
	NullSeq = []byte("\\N")
	// TerminationSeq - end of COPY data marker
	TerminationSeq = []byte("\\.")
)

const Delimiter byte = '\t'

// Value - decoded attribute of a COPY row
type Value struct {
	Data   []byte
	IsNull bool
}

func NewValue(data []byte, isNull bool) *Value {
	return &Value{
		Data:   data,
		IsNull: isNull,
	}
}

// String - the text representation. NULL is rendered as \N
func (v *Value) String() string {
	if v.IsNull {
		return string(NullSeq)
	}
	return string(v.Data)
}
