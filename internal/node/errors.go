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

import "fmt"

// NotFoundError reports that a path has no corresponding node, the typed
// equivalent of fs/fs.go's fuse.ENOENT translation point.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node: no such path %q", e.Path)
}

// ExistsError reports that insert was asked to create a path that is
// already occupied.
type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("node: path %q already exists", e.Path)
}

// NotDirectoryError reports that an operation required a directory at Path
// but found a different node type.
type NotDirectoryError struct {
	Path string
}

func (e *NotDirectoryError) Error() string {
	return fmt.Sprintf("node: %q is not a directory", e.Path)
}

// NotEmptyError reports that remove was asked to delete a non-empty
// directory.
type NotEmptyError struct {
	Path string
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("node: directory %q is not empty", e.Path)
}

// InvalidPathError reports a structurally malformed path argument (empty,
// not absolute, or containing `..`/`.` segments after normalization).
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("node: invalid path %q: %s", e.Path, e.Reason)
}
