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

package vfs

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse/fuseops"
)

// dirHandle buffers the child-name snapshot taken at OpenDir time, filled
// by a single ChildNames call since the whole tree lives in memory.
type dirHandle struct {
	path     string
	children []string
}

// handleTable is the fileSystem.handles map from fs/fs.go, split into its
// own type since touchfs has no other per-process mutable state that needs
// the same lock.
type handleTable struct {
	mu    sync.Mutex
	dirs  map[fuseops.HandleID]*dirHandle
	files map[fuseops.HandleID]string
}

func newHandleTable() *handleTable {
	return &handleTable{
		dirs:  make(map[fuseops.HandleID]*dirHandle),
		files: make(map[fuseops.HandleID]string),
	}
}

// newHandleID mints a process-lifetime handle ID from a random UUID's low
// bits rather than a sequential counter: unlike node IDs (stable identities
// that must double as inode numbers), handle IDs are ephemeral per-open
// state with no requirement to be small, dense, or stable across restarts.
func newHandleID() fuseops.HandleID {
	id := uuid.New()
	var v uint64
	for _, b := range id[8:] {
		v = v<<8 | uint64(b)
	}
	return fuseops.HandleID(v)
}

func (t *handleTable) openDir(path string, children []string) fuseops.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := newHandleID()
	t.dirs[id] = &dirHandle{path: path, children: children}
	return id
}

func (t *handleTable) dir(id fuseops.HandleID) (*dirHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dh, ok := t.dirs[id]
	return dh, ok
}

func (t *handleTable) closeDir(id fuseops.HandleID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dirs, id)
}

func (t *handleTable) openFile(path string) fuseops.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := newHandleID()
	t.files[id] = path
	return id
}

func (t *handleTable) closeFile(id fuseops.HandleID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, id)
}
