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
	"context"
	"encoding/json"
	"syscall"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/suite"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
	"github.com/kristerhedfors/touchfs-sub000/internal/cache"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/generation"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
	"github.com/kristerhedfors/touchfs-sub000/internal/plugin"
)

type stubProvider struct{}

func (stubProvider) Chat(ctx context.Context, model string, messages []backend.Message, schema *jsonschema.Schema) (json.RawMessage, error) {
	return json.RawMessage(`{"content":"generated content"}`), nil
}

func (stubProvider) Image(ctx context.Context, model, prompt string, size backend.ImageSize, quality backend.ImageQuality) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0xFF}, nil
}

type FileSystemTest struct {
	suite.Suite
	store *node.Store
	fs    *FileSystem
}

func TestFileSystemSuite(t *testing.T) {
	suite.Run(t, new(FileSystemTest))
}

func (t *FileSystemTest) SetupTest() {
	t.store = node.New()
	resolver := config.New(t.store, "default prompt", "default-model")

	c, err := cache.New(t.T().TempDir())
	t.Require().NoError(err)

	b := backend.New(stubProvider{}, c, 1000, 10, time.Second)
	registry := plugin.NewRegistry(
		plugin.NewCacheControlPlugin(c),
		plugin.NewDefaultGenerator(b, resolver),
	)
	t.Require().NoError(registry.MaterializeOverlays(t.store))

	engine := generation.New(t.store, resolver, c, registry)
	t.fs = New(t.store, engine, 1000, 1000)
	t.fs.SetMountpoint(t.T().TempDir())
	t.fs.SetTouchDetector(func(string) bool { return false })
}

func (t *FileSystemTest) rootID() fuseops.InodeID {
	return fuseops.InodeID(t.store.Find("/").ID())
}

func (t *FileSystemTest) TestLookUpInodeNotFound() {
	op := &fuseops.LookUpInodeOp{Parent: t.rootID(), Name: "missing"}
	err := t.fs.LookUpInode(op)
	t.Equal(syscall.ENOENT, err)
}

func (t *FileSystemTest) TestMkDirAndLookUp() {
	mkdir := &fuseops.MkDirOp{Parent: t.rootID(), Name: "sub", Mode: 0755}
	t.Require().NoError(t.fs.MkDir(mkdir))
	t.True(mkdir.Entry.Attributes.Mode.IsDir())

	lookup := &fuseops.LookUpInodeOp{Parent: t.rootID(), Name: "sub"}
	t.Require().NoError(t.fs.LookUpInode(lookup))
	t.Equal(mkdir.Entry.Child, lookup.Entry.Child)
}

func (t *FileSystemTest) TestMkDirRejectsTouchfsNamespace() {
	op := &fuseops.MkDirOp{Parent: t.rootID(), Name: ".touchfs", Mode: 0755}
	err := t.fs.MkDir(op)
	t.Equal(syscall.EPERM, err)
}

func (t *FileSystemTest) TestCreateFileThenReadEmptyNoGeneration() {
	create := &fuseops.CreateFileOp{
		Parent: t.rootID(),
		Name:   "plain.txt",
		Mode:   0644,
	}
	t.Require().NoError(t.fs.CreateFile(create))

	read := &fuseops.ReadFileOp{
		Inode:  create.Entry.Child,
		Offset: 0,
		Size:   1024,
	}
	t.Require().NoError(t.fs.ReadFile(read))
	t.Empty(read.Data)
}

func (t *FileSystemTest) TestGetInodeAttributesTriggersGeneration() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "gen.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.store.SetXattr("/gen.txt", node.XattrGenerateContent, []byte("true")))

	getattr := &fuseops.GetInodeAttributesOp{Inode: create.Entry.Child}
	t.Require().NoError(t.fs.GetInodeAttributes(getattr))
	t.Equal(uint64(len("generated content")), getattr.Attributes.Size)
}

func (t *FileSystemTest) TestOpenFileAndReadGeneratesOnce() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "gen2.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.store.SetXattr("/gen2.txt", node.XattrGenerateContent, []byte("true")))

	open := &fuseops.OpenFileOp{Inode: create.Entry.Child}
	t.Require().NoError(t.fs.OpenFile(open))

	read := &fuseops.ReadFileOp{Inode: create.Entry.Child, Offset: 0, Size: 1024}
	t.Require().NoError(t.fs.ReadFile(read))
	t.Equal("generated content", string(read.Data))
}

func (t *FileSystemTest) TestWriteFilePadsTextWithSpace() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "pad.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Offset: 4, Data: []byte("end")}
	t.Require().NoError(t.fs.WriteFile(write))

	t.Equal("    end", string(t.store.Find("/pad.txt").Content()))
}

func (t *FileSystemTest) TestWriteFilePadsBinaryWithNUL() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "pad.png", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Offset: 3, Data: []byte("Z")}
	t.Require().NoError(t.fs.WriteFile(write))

	got := t.store.Find("/pad.png").Content()
	t.Equal([]byte{0, 0, 0, 'Z'}, got)
}

func (t *FileSystemTest) TestWriteFileClearsGenerateContentUnlessPluginOwned() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "flag.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.store.SetXattr("/flag.txt", node.XattrGenerateContent, []byte("true")))

	write := &fuseops.WriteFileOp{Inode: create.Entry.Child, Offset: 0, Data: []byte("hi")}
	t.Require().NoError(t.fs.WriteFile(write))

	v, ok := t.store.Find("/flag.txt").Xattr(node.XattrGenerateContent)
	t.False(ok, "expected generate_content to be cleared, got %q", v)
}

func (t *FileSystemTest) TestRenameRejectsTouchfsNamespace() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "x.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))

	rename := &fuseops.RenameOp{
		OldParent: t.rootID(),
		OldName:   "x.txt",
		NewParent: t.rootID(),
		NewName:   ".touchfs",
	}
	err := t.fs.Rename(rename)
	t.Equal(syscall.EPERM, err)
}

func (t *FileSystemTest) TestOpenDirAndReadDirListsChildren() {
	t.Require().NoError(t.fs.MkDir(&fuseops.MkDirOp{Parent: t.rootID(), Name: "d1", Mode: 0755}))
	t.Require().NoError(t.fs.MkDir(&fuseops.MkDirOp{Parent: t.rootID(), Name: "d2", Mode: 0755}))

	open := &fuseops.OpenDirOp{Inode: t.rootID()}
	t.Require().NoError(t.fs.OpenDir(open))

	dst := make([]byte, 4096)
	read := &fuseops.ReadDirOp{Handle: open.Handle, Offset: 0, Dst: dst}
	t.Require().NoError(t.fs.ReadDir(read))
	t.Greater(read.BytesRead, 0)

	release := &fuseops.ReleaseDirHandleOp{Handle: open.Handle}
	t.Require().NoError(t.fs.ReleaseDirHandle(release))

	_, ok := t.fs.handles.dir(open.Handle)
	t.False(ok)
}

func (t *FileSystemTest) TestUnlinkAndRmDir() {
	t.Require().NoError(t.fs.MkDir(&fuseops.MkDirOp{Parent: t.rootID(), Name: "d", Mode: 0755}))
	t.Require().NoError(t.fs.RmDir(&fuseops.RmDirOp{Parent: t.rootID(), Name: "d"}))
	t.Nil(t.store.Find("/d"))

	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "f.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.fs.Unlink(&fuseops.UnlinkOp{Parent: t.rootID(), Name: "f.txt"}))
	t.Nil(t.store.Find("/f.txt"))
}

func (t *FileSystemTest) TestXattrRoundTrip() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "xa.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))

	set := &fuseops.SetXattrOp{Inode: create.Entry.Child, Name: "user.note", Value: []byte("hello")}
	t.Require().NoError(t.fs.SetXattr(set))

	get := &fuseops.GetXattrOp{Inode: create.Entry.Child, Name: "user.note", Dst: make([]byte, 16)}
	t.Require().NoError(t.fs.GetXattr(get))
	t.Equal("hello", string(get.Dst[:get.BytesRead]))

	list := &fuseops.ListXattrOp{Inode: create.Entry.Child, Dst: make([]byte, 64)}
	t.Require().NoError(t.fs.ListXattr(list))
	t.Contains(string(list.Dst[:list.BytesRead]), "user.note")

	t.Require().NoError(t.fs.RemoveXattr(&fuseops.RemoveXattrOp{Inode: create.Entry.Child, Name: "user.note"}))
	getAfter := &fuseops.GetXattrOp{Inode: create.Entry.Child, Name: "user.note", Dst: make([]byte, 16)}
	err := t.fs.GetXattr(getAfter)
	t.Equal(syscall.ENODATA, err)
}

func (t *FileSystemTest) TestOverlayPathAlwaysRegenerates() {
	p := t.store.Find("/.touchfs/cache_stats")
	t.Require().NotNil(p, "plugin overlays must be materialized by MaterializeOverlays in SetupTest")

	id := fuseops.InodeID(p.ID())
	read := &fuseops.ReadFileOp{Inode: id, Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(read))
	t.Contains(string(read.Data), "Hits:")

	// Overlay reads never write back into the node: the node's content stays
	// whatever pending-write payload was last stored there, untouched by
	// the generated output just served above.
	t.Empty(t.store.Find("/.touchfs/cache_stats").Content())
}

func (t *FileSystemTest) TestSetInodeAttributesTruncate() {
	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "tr.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.store.WriteContent("/tr.txt", []byte("hello world")))

	size := uint64(5)
	setattr := &fuseops.SetInodeAttributesOp{Inode: create.Entry.Child, Size: &size}
	t.Require().NoError(t.fs.SetInodeAttributes(setattr))
	t.Equal("hello", string(t.store.Find("/tr.txt").Content()))
	t.Equal(uint64(5), setattr.Attributes.Size)
}

func (t *FileSystemTest) TestStatFSSucceeds() {
	t.Require().NoError(t.fs.StatFS(&fuseops.StatFSOp{}))
}
