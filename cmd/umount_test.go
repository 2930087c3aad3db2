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

package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnderPath(t *testing.T) {
	require.True(t, underPath("/mnt/touchfs", "/mnt/touchfs"))
	require.True(t, underPath("/mnt/touchfs/sub/file", "/mnt/touchfs"))
	require.False(t, underPath("/mnt/touchfs-other", "/mnt/touchfs"))
	require.False(t, underPath("/mnt/other", "/mnt/touchfs"))
}

func TestBusyProcessesOnHostProcTable(t *testing.T) {
	// /proc is read-only ambient state; no process can have its cwd under a
	// path that does not exist, so the scan must come back empty.
	busy := busyProcesses("/nonexistent-touchfs-mount-for-test")
	require.Empty(t, busy)
}
