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

package cmd

// State - stage of the dump. Transitions go only forward, any failure jumps straight to StateRolledBack
type State int

const (
	StateIdle State = iota
	StateSessionOpen
	StateSnapshotExported
	StatePreDataEmitted
	StateMasked
	StateStreaming
	StateSequencesReconciled
	StatePostDataEmitted
	StateRolledBack
)

var stateNames = map[State]string{
	StateIdle:                "Idle",
	StateSessionOpen:         "SessionOpen",
	StateSnapshotExported:    "SnapshotExported",
	StatePreDataEmitted:      "PreDataEmitted",
	StateMasked:              "Masked",
	StateStreaming:           "Streaming",
	StateSequencesReconciled: "SequencesReconciled",
	StatePostDataEmitted:     "PostDataEmitted",
	StateRolledBack:          "RolledBack",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}
