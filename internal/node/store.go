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

package node

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the concurrent in-memory tree backing the VFS adapter. The
// flat path index is authoritative; directory children maps mirror it and
// must be kept consistent under mu.
type Store struct {
	mu sync.RWMutex // GUARDED_BY below

	byPath map[string]*Node // GUARDED_BY(mu)
	byID   map[uint64]string // GUARDED_BY(mu): inode ID -> current path
	nextID uint64            // GUARDED_BY(mu)

	// generation increments on every structural or content mutation;
	// serializeCache is invalidated whenever it goes stale, so repeated
	// SerializePublic calls on an unchanged tree return byte-identical
	// output without re-marshaling.
	generation     uint64
	serializeCache []byte
	serializeGen   uint64
}

// New constructs a store with a single root directory at "/".
func New() *Store {
	s := &Store{byPath: make(map[string]*Node), byID: make(map[uint64]string)}
	root := &Node{
		id:       s.allocID(),
		typ:      TypeDirectory,
		children: make(map[string]string),
		xattrs:   make(map[string][]byte),
	}
	now := time.Now()
	root.stat = Stat{Mode: 0755, Atime: now, Mtime: now, Ctime: now}
	s.byPath["/"] = root
	s.byID[root.id] = "/"
	return s
}

// PathByID returns the current path of the node with the given inode ID, if
// it still exists. Used by the VFS adapter to translate fuseops.InodeID
// back into a store lookup.
func (s *Store) PathByID(id uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	return p, ok
}

// FindByID looks up the node with the given inode ID, if it still exists.
func (s *Store) FindByID(id uint64) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.byPath[p]
}

func (s *Store) allocID() uint64 {
	s.nextID++
	return s.nextID
}

// Normalize cleans a path into the store's canonical absolute form.
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "/"
	}
	return cleaned
}

// Find looks up path p, returning nil when absent.
func (s *Store) Find(p string) *Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath[Normalize(p)]
}

// NewFile allocates a detached file node ready for Insert.
func (s *Store) NewFile(mode uint32, content []byte) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return &Node{
		id:      s.allocID(),
		typ:     TypeFile,
		content: content,
		xattrs:  make(map[string][]byte),
		stat:    Stat{Mode: mode, Nlink: 1, Atime: now, Mtime: now, Ctime: now},
	}
}

// NewDirectory allocates a detached directory node ready for Insert.
func (s *Store) NewDirectory(mode uint32) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return &Node{
		id:       s.allocID(),
		typ:      TypeDirectory,
		children: make(map[string]string),
		xattrs:   make(map[string][]byte),
		stat:     Stat{Mode: mode, Atime: now, Mtime: now, Ctime: now},
	}
}

// NewSymlink allocates a detached symlink node ready for Insert.
func (s *Store) NewSymlink(target string) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return &Node{
		id:     s.allocID(),
		typ:    TypeSymlink,
		target: target,
		xattrs: make(map[string][]byte),
		stat:   Stat{Mode: 0777, Nlink: 1, Atime: now, Mtime: now, Ctime: now},
	}
}

// Insert places n at path p. The parent of p must already exist and be a
// directory; p itself must not already be occupied.
func (s *Store) Insert(p string, n *Node) error {
	p = Normalize(p)
	if p == "/" {
		return &ExistsError{Path: p}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPath[p]; exists {
		return &ExistsError{Path: p}
	}

	parentPath := path.Dir(p)
	parent, ok := s.byPath[parentPath]
	if !ok {
		return &NotFoundError{Path: parentPath}
	}
	if parent.typ != TypeDirectory {
		return &NotDirectoryError{Path: parentPath}
	}

	n.checkInvariants()

	name := path.Base(p)
	parent.children[name] = p
	parent.stat.Mtime = time.Now()
	s.byPath[p] = n
	s.byID[n.id] = p
	s.bumpGenerationLocked()
	return nil
}

// Remove deletes the node at p. Removing a non-empty directory fails with
// NotEmptyError.
func (s *Store) Remove(p string) error {
	p = Normalize(p)
	if p == "/" {
		return &InvalidPathError{Path: p, Reason: "cannot remove root"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byPath[p]
	if !ok {
		return &NotFoundError{Path: p}
	}
	if n.typ == TypeDirectory && len(n.children) > 0 {
		return &NotEmptyError{Path: p}
	}

	parentPath := path.Dir(p)
	if parent, ok := s.byPath[parentPath]; ok {
		delete(parent.children, path.Base(p))
		parent.stat.Mtime = time.Now()
	}
	delete(s.byPath, p)
	delete(s.byID, n.id)
	s.bumpGenerationLocked()
	return nil
}

// Rename atomically re-links oldPath to newPath, in both the flat index and
// the parents' children maps. newPath's parent must exist and be a
// directory; newPath must not already be occupied.
func (s *Store) Rename(oldPath, newPath string) error {
	oldPath = Normalize(oldPath)
	newPath = Normalize(newPath)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byPath[oldPath]
	if !ok {
		return &NotFoundError{Path: oldPath}
	}
	if _, exists := s.byPath[newPath]; exists {
		return &ExistsError{Path: newPath}
	}

	newParentPath := path.Dir(newPath)
	newParent, ok := s.byPath[newParentPath]
	if !ok {
		return &NotFoundError{Path: newParentPath}
	}
	if newParent.typ != TypeDirectory {
		return &NotDirectoryError{Path: newParentPath}
	}

	oldParentPath := path.Dir(oldPath)
	if oldParent, ok := s.byPath[oldParentPath]; ok {
		delete(oldParent.children, path.Base(oldPath))
		oldParent.stat.Mtime = time.Now()
	}

	delete(s.byPath, oldPath)
	s.byPath[newPath] = n
	s.byID[n.id] = newPath
	newParent.children[path.Base(newPath)] = newPath
	newParent.stat.Mtime = time.Now()

	if n.typ == TypeDirectory {
		s.reparentChildrenLocked(oldPath, newPath, n)
	}

	s.bumpGenerationLocked()
	return nil
}

// reparentChildrenLocked fixes up the flat index for every descendant of a
// renamed directory, since their absolute paths embed the old prefix.
func (s *Store) reparentChildrenLocked(oldPrefix, newPrefix string, dir *Node) {
	for name, childPath := range dir.children {
		newChildPath := newPrefix + "/" + name
		child, ok := s.byPath[childPath]
		if !ok {
			continue
		}
		delete(s.byPath, childPath)
		s.byPath[newChildPath] = child
		s.byID[child.id] = newChildPath
		dir.children[name] = newChildPath
		if child.typ == TypeDirectory {
			s.reparentChildrenLocked(childPath, newChildPath, child)
		}
	}
}

// SetXattr sets (or overwrites) a named extended attribute on the node at p.
func (s *Store) SetXattr(p string, name string, value []byte) error {
	p = Normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byPath[p]
	if !ok {
		return &NotFoundError{Path: p}
	}
	n.xattrs[name] = value
	s.bumpGenerationLocked()
	return nil
}

// GetXattr returns the named xattr of the node at p.
func (s *Store) GetXattr(p, name string) ([]byte, error) {
	p = Normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.byPath[p]
	if !ok {
		return nil, &NotFoundError{Path: p}
	}
	v, ok := n.xattrs[name]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// ListXattr returns the sorted xattr names of the node at p.
func (s *Store) ListXattr(p string) ([]string, error) {
	p = Normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.byPath[p]
	if !ok {
		return nil, &NotFoundError{Path: p}
	}
	names := n.XattrNames()
	sort.Strings(names)
	return names, nil
}

// RemoveXattr deletes the named xattr from the node at p, if present.
func (s *Store) RemoveXattr(p, name string) error {
	p = Normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byPath[p]
	if !ok {
		return &NotFoundError{Path: p}
	}
	delete(n.xattrs, name)
	s.bumpGenerationLocked()
	return nil
}

// WriteContent replaces the content of the file at p and bumps its mtime.
func (s *Store) WriteContent(p string, content []byte) error {
	p = Normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byPath[p]
	if !ok {
		return &NotFoundError{Path: p}
	}
	if n.typ != TypeFile {
		return &InvalidPathError{Path: p, Reason: "not a file"}
	}
	n.content = content
	n.stat.Mtime = time.Now()
	s.bumpGenerationLocked()
	return nil
}

// Truncate resizes the file at p to size, padding with NUL bytes when
// growing, per the ftruncate(2) contract SetInodeAttributes relies on.
func (s *Store) Truncate(p string, size int64) error {
	p = Normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byPath[p]
	if !ok {
		return &NotFoundError{Path: p}
	}
	if n.typ != TypeFile {
		return &InvalidPathError{Path: p, Reason: "not a file"}
	}
	switch {
	case size < int64(len(n.content)):
		n.content = n.content[:size]
	case size > int64(len(n.content)):
		grown := make([]byte, size)
		copy(grown, n.content)
		n.content = grown
	}
	n.stat.Mtime = time.Now()
	s.bumpGenerationLocked()
	return nil
}

// SetTimes updates the atime and/or mtime of the node at p, per the
// utimensat(2) contract SetInodeAttributes relies on. A nil argument
// leaves the corresponding timestamp unchanged.
func (s *Store) SetTimes(p string, atime, mtime *time.Time) error {
	p = Normalize(p)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byPath[p]
	if !ok {
		return &NotFoundError{Path: p}
	}
	if atime != nil {
		n.stat.Atime = *atime
	}
	if mtime != nil {
		n.stat.Mtime = *mtime
	}
	s.bumpGenerationLocked()
	return nil
}

// ChildNames returns the sorted child names of the directory at p.
func (s *Store) ChildNames(p string) ([]string, error) {
	p = Normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.byPath[p]
	if !ok {
		return nil, &NotFoundError{Path: p}
	}
	if n.typ != TypeDirectory {
		return nil, &NotDirectoryError{Path: p}
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) bumpGenerationLocked() {
	s.generation++
}

// Generation returns the store's current monotonic mutation counter, used
// by config.Resolver to invalidate its per-path memo.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}
