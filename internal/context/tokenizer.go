// Copyright 2024 Google Inc. All Rights Reserved.
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

package context

// CountTokens approximates the token count a cl100k-class BPE tokenizer
// would produce, without shipping a BPE vocabulary. The heuristic
// (chars/4, floor 1 per non-empty run) is stable and monotonic, which is
// all the token-budget cutoff in Build requires; it is not used for
// anything requiring exact provider-side parity.
func CountTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}
