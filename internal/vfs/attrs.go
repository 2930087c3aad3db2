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
	"os"
	"path"
	"strings"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/kristerhedfors/touchfs-sub000/internal/generation"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// nodeAttributes derives fuseops.InodeAttributes from a node, mirroring
// fs/inode/inode.go's Attributes() contract: size and link count are always
// computed live, never trusted from a stale cache.
func nodeAttributes(n *node.Node) fuseops.InodeAttributes {
	st := n.Stat()

	mode := os.FileMode(st.Mode) & os.ModePerm
	switch n.Kind() {
	case node.TypeDirectory:
		mode |= os.ModeDir
	case node.TypeSymlink:
		mode |= os.ModeSymlink
	}

	nlink := st.Nlink
	if n.Kind() == node.TypeFile && nlink == 0 {
		nlink = 1
	}

	return fuseops.InodeAttributes{
		Size:  n.Size(),
		Nlink: nlink,
		Mode:  mode,
		Atime: st.Atime,
		Mtime: st.Mtime,
		Ctime: st.Ctime,
		Uid:   st.UID,
		Gid:   st.GID,
	}
}

// needsGeneration reports whether stat/open of a file should trigger
// generation first: an empty file carrying generate_content=true or owned
// by a plugin generator is due for its (possibly one-shot)
// materialization.
func needsGeneration(n *node.Node) bool {
	if n == nil || n.Kind() != node.TypeFile {
		return false
	}
	if n.Size() != 0 {
		return false
	}
	if v, ok := n.Xattr(node.XattrGenerateContent); ok && string(v) == "true" {
		return true
	}
	return n.IsPluginOwned()
}

// isOverlayPath is the VFS-side alias of generation.IsOverlayPath, kept as
// a thin wrapper so call sites in this package read like the rest of the
// adapter rather than reaching into an unrelated package name at every use.
func isOverlayPath(p string) bool {
	return generation.IsOverlayPath(p)
}

// isBinaryPath reports whether writes to p should pad with NUL rather than
// space when growing past the current length. Content is always []byte
// and carries no separate text/bytes tag, so the image plugin's suffix
// list stands in for a binary marker.
func isBinaryPath(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// errno translates the node/generation package's typed errors into the
// syscall.Errno values jacobsa/fuse expects an Op method to return, the
// same translation point fs/fs.go performs inline at each call site (e.g.
// "Special case: *gcs.PreconditionError means the name already exists").
func errno(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *node.NotFoundError:
		return syscall.ENOENT
	case *node.ExistsError:
		return syscall.EEXIST
	case *node.NotDirectoryError:
		return syscall.ENOTDIR
	case *node.NotEmptyError:
		return syscall.ENOTEMPTY
	case *node.InvalidPathError:
		return syscall.EINVAL
	case *generation.NoGeneratorError:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}
