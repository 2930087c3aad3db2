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

// Package node implements touchfs's in-memory node store: the tree of
// files, directories and symlinks that backs the VFS adapter. A flat
// path-to-node index is the authoritative representation; per-directory
// children maps mirror it.
package node

import (
	"time"
)

// Type distinguishes the three kinds of node the store can hold.
type Type int

const (
	TypeFile Type = iota
	TypeDirectory
	TypeSymlink
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Reserved xattr names in the touchfs namespace.
const (
	XattrGenerator       = "generator"
	XattrGenerateContent = "generate_content"
)

// KernelXattrNamespace is the prefix real setxattr(2)/getxattr(2) callers
// must use against a mounted path, since the kernel's generic xattr
// permission check requires a namespaced name. Store keeps the bare names
// above; callers going through the kernel (golang.org/x/sys/unix.Setxattr,
// getfattr/setfattr) need KernelXattrNamespace+XattrGenerateContent etc.
const KernelXattrNamespace = "user.touchfs."

// Stat mirrors the POSIX stat(2) fields the VFS adapter needs to answer
// GetInodeAttributes, modeled on fs/inode/inode.go's use of
// fuseops.InodeAttributes rather than reinventing a parallel struct.
type Stat struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Nlink uint32
}

// Node is a single entry in the tree. Every field below Mutable state must
// only be touched while the owning Store's mu (or, once detached for
// serialization, a private copy) is held.
type Node struct {
	// --- Constant data: set at construction, never mutated. ---
	id   uint64
	typ  Type

	// --- Mutable state: GUARDED_BY(store.mu). ---
	stat    Stat
	xattrs  map[string][]byte
	content []byte            // TypeFile only
	target  string            // TypeSymlink only
	children map[string]string // TypeDirectory only: child name -> absolute path
}

// ID is a process-lifetime-unique identifier, handed out by the store when
// NewFile/NewDirectory/NewSymlink allocates the node, and used as the FUSE
// inode number by internal/vfs.
func (n *Node) ID() uint64 { return n.id }

// Kind reports the node's type.
func (n *Node) Kind() Type { return n.typ }

// Size derives the node's apparent size; it is never stored
// authoritatively.
func (n *Node) Size() uint64 {
	switch n.typ {
	case TypeDirectory:
		return 0
	case TypeSymlink:
		return uint64(len(n.target))
	default:
		return uint64(len(n.content))
	}
}

// Stat returns a copy of the node's POSIX attributes; for directories Nlink
// is derived live from the child count. Size is not part of Stat (see
// Size). Callers must not assume the returned value stays current.
func (n *Node) Stat() Stat {
	st := n.stat
	if n.typ == TypeDirectory {
		st.Nlink = uint32(2 + len(n.children))
	}
	return st
}

// Content returns the file's raw bytes. Only meaningful for TypeFile.
func (n *Node) Content() []byte { return n.content }

// Target returns the symlink's destination. Only meaningful for TypeSymlink.
func (n *Node) Target() string { return n.target }

// Xattr returns the named extended attribute and whether it is present.
func (n *Node) Xattr(name string) ([]byte, bool) {
	v, ok := n.xattrs[name]
	return v, ok
}

// XattrNames returns the node's xattr names in no particular order; callers
// that need deterministic ordering should sort the result themselves.
func (n *Node) XattrNames() []string {
	names := make([]string, 0, len(n.xattrs))
	for k := range n.xattrs {
		names = append(names, k)
	}
	return names
}

// IsPluginOwned reports whether the node carries a `generator` xattr,
// which pins generation of the file to a named plugin.
func (n *Node) IsPluginOwned() bool {
	_, ok := n.xattrs[XattrGenerator]
	return ok
}

// GeneratorName returns the value of the `generator` xattr, if any. Safe to
// call on a nil node (reports not-present), since plugin dispatch routinely
// probes paths that may not yet have a resolved node.
func (n *Node) GeneratorName() (string, bool) {
	if n == nil {
		return "", false
	}
	v, ok := n.xattrs[XattrGenerator]
	if !ok {
		return "", false
	}
	return string(v), true
}

// checkInvariants panics if n is structurally inconsistent with its own
// type. Only ever called with store.mu held; mirrors
// fs/inode/dir.go:DirInode.CheckInvariants's panic-don't-return-error style
// since these are programmer errors, not runtime faults.
func (n *Node) checkInvariants() {
	switch n.typ {
	case TypeDirectory:
		if n.content != nil {
			panic("directory node carries file content")
		}
		if n.target != "" {
			panic("directory node carries a symlink target")
		}
	case TypeFile:
		if n.children != nil {
			panic("file node carries a children map")
		}
		if n.target != "" {
			panic("file node carries a symlink target")
		}
	case TypeSymlink:
		if n.children != nil {
			panic("symlink node carries a children map")
		}
		if n.content != nil {
			panic("symlink node carries file content")
		}
	}
}
