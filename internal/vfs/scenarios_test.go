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
	"errors"
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
	"github.com/kristerhedfors/touchfs-sub000/internal/seed"
)

// seedingProvider distinguishes seed.Propose's flat file-list schema from
// generation's per-file content schema by the schema's declared required
// field, so a single stub can drive both ends of the §8 "Seed and read"
// scenario without the real openai.Client.
type seedingProvider struct {
	files     []string
	failUntil int
	calls     int
}

func (p *seedingProvider) Chat(ctx context.Context, model string, messages []backend.Message, schema *jsonschema.Schema) (json.RawMessage, error) {
	p.calls++
	if p.calls <= p.failUntil {
		return nil, errors.New("simulated backend outage")
	}
	if schema != nil && len(schema.Required) > 0 && schema.Required[0] == "files" {
		raw, _ := json.Marshal(map[string][]string{"files": p.files})
		return raw, nil
	}
	return json.RawMessage(`{"content":"generated content"}`), nil
}

func (p *seedingProvider) Image(ctx context.Context, model, prompt string, size backend.ImageSize, quality backend.ImageQuality) ([]byte, error) {
	return []byte{0xFF, 0xD8, 0xFF}, nil
}

// ScenarioTest exercises end-to-end flows (seeding, touch-then-read,
// cache control, config resolution, failure retry) against the same
// component graph cmd/app.go wires, rather than FileSystemTest's minimal
// two-plugin fixture.
type ScenarioTest struct {
	suite.Suite
	store    *node.Store
	resolver *config.Resolver
	cache    *cache.Cache
	provider *seedingProvider
	backendA *backend.Adapter
	engine   *generation.Engine
	fs       *FileSystem
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioTest))
}

func (t *ScenarioTest) SetupTest() {
	t.store = node.New()
	t.resolver = config.New(t.store, "default prompt", "default-model")

	c, err := cache.New(t.T().TempDir())
	t.Require().NoError(err)
	t.cache = c

	t.provider = &seedingProvider{}
	t.backendA = backend.New(t.provider, c, 1000, 10, time.Second)

	registry := plugin.NewRegistry(
		plugin.NewCacheControlPlugin(c),
		plugin.NewDefaultGenerator(t.backendA, t.resolver),
	)
	t.Require().NoError(registry.MaterializeOverlays(t.store))

	t.engine = generation.New(t.store, t.resolver, c, registry)
	t.fs = New(t.store, t.engine, 1000, 1000)
	t.fs.SetMountpoint(t.T().TempDir())
	t.fs.SetTouchDetector(func(string) bool { return false })
}

func (t *ScenarioTest) rootID() fuseops.InodeID {
	return fuseops.InodeID(t.store.Find("/").ID())
}

func (t *ScenarioTest) read(p string) []byte {
	n := t.store.Find(p)
	t.Require().NotNil(n, "expected %q to exist", p)
	data, err := t.engine.Read(context.Background(), p)
	t.Require().NoError(err)
	return data
}

// 1. Seed and read.
func (t *ScenarioTest) TestSeedAndRead() {
	t.provider.files = []string{
		"/calculator/__init__.py",
		"/calculator/operations.py",
		"/tests/test_operations.py",
	}

	plan, err := seed.Propose(context.Background(), t.backendA, "default-model", "Create a Python calculator package")
	t.Require().NoError(err)
	t.Require().NoError(seed.Apply(t.store, plan))

	for _, p := range t.provider.files {
		n := t.store.Find(p)
		t.Require().NotNil(n, "expected %q to be seeded", p)
		t.Empty(n.Content())
	}

	first := t.read("/calculator/operations.py")
	t.NotEmpty(first)
	second := t.read("/calculator/operations.py")
	t.Equal(first, second)
}

// 2. Touch then read.
func (t *ScenarioTest) TestTouchThenRead() {
	t.Require().NoError(t.store.Insert("/notes", t.store.NewDirectory(0755)))
	dirNode := t.store.Find("/notes")
	t.Require().NotNil(dirNode)

	createFile := &fuseops.CreateFileOp{Parent: fuseops.InodeID(dirNode.ID()), Name: "today.md", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(createFile))
	t.Require().NoError(t.store.SetXattr("/notes/today.md", node.XattrGenerateContent, []byte("true")))

	getattr := &fuseops.GetInodeAttributesOp{Inode: createFile.Entry.Child}
	t.Require().NoError(t.fs.GetInodeAttributes(getattr))
	t.Equal(uint64(0), getattr.Attributes.Size, "size before any read must still be 0")

	open := &fuseops.OpenFileOp{Inode: createFile.Entry.Child}
	t.Require().NoError(t.fs.OpenFile(open))

	firstRead := &fuseops.ReadFileOp{Inode: createFile.Entry.Child, Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(firstRead))
	t.NotEmpty(firstRead.Data)

	_, ok := t.store.Find("/notes/today.md").Xattr(node.XattrGenerateContent)
	t.False(ok, "generate_content must be cleared after the first read")

	callsAfterFirst := t.provider.calls
	secondRead := &fuseops.ReadFileOp{Inode: createFile.Entry.Child, Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(secondRead))
	t.Equal(firstRead.Data, secondRead.Data)
	t.Equal(callsAfterFirst, t.provider.calls, "second read must be served from cache")
}

// 3. Cache control.
func (t *ScenarioTest) TestCacheControl() {
	cacheEnabled := t.store.Find("/.touchfs/cache_enabled")
	t.Require().NotNil(cacheEnabled, "CacheControlPlugin must materialize /.touchfs/cache_enabled")

	write := &fuseops.WriteFileOp{Inode: fuseops.InodeID(cacheEnabled.ID()), Offset: 0, Data: []byte("0\n")}
	t.Require().NoError(t.fs.WriteFile(write))

	read := &fuseops.ReadFileOp{Inode: fuseops.InodeID(cacheEnabled.ID()), Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(read))
	t.Equal("0\n", string(read.Data))
	stats, err := t.cache.Stats()
	t.Require().NoError(err)
	t.False(stats.Enabled)

	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "once.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.store.SetXattr("/once.txt", node.XattrGenerateContent, []byte("true")))
	genRead := &fuseops.ReadFileOp{Inode: create.Entry.Child, Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(genRead))

	statsNode := t.store.Find("/.touchfs/cache_stats")
	t.Require().NotNil(statsNode)
	statsRead := &fuseops.ReadFileOp{Inode: fuseops.InodeID(statsNode.ID()), Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(statsRead))
	t.Contains(string(statsRead.Data), "Enabled: false")

	reEnable := &fuseops.WriteFileOp{Inode: fuseops.InodeID(cacheEnabled.ID()), Offset: 0, Data: []byte("1\n")}
	t.Require().NoError(t.fs.WriteFile(reEnable))
	reRead := &fuseops.ReadFileOp{Inode: fuseops.InodeID(cacheEnabled.ID()), Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(reRead))
	t.Equal("1\n", string(reRead.Data))
	statsAfter, err := t.cache.Stats()
	t.Require().NoError(err)
	t.True(statsAfter.Enabled)
}

// 4. Config resolution.
func (t *ScenarioTest) TestConfigResolution() {
	t.Require().NoError(t.store.Insert("/project", t.store.NewDirectory(0755)))
	prompt := t.store.NewFile(0644, []byte("only emit the literal string OK"))
	t.Require().NoError(t.store.Insert("/project/.prompt", prompt))

	projectDir := t.store.Find("/project")
	create := &fuseops.CreateFileOp{Parent: fuseops.InodeID(projectDir.ID()), Name: "file.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.store.SetXattr("/project/file.txt", node.XattrGenerateContent, []byte("true")))

	resolvedPrompt, _ := t.resolver.Resolve("/project/file.txt")
	t.Equal("only emit the literal string OK", resolvedPrompt)

	t.Require().NoError(t.store.Insert("/other", t.store.NewDirectory(0755)))
	otherDir := t.store.Find("/other")
	createOther := &fuseops.CreateFileOp{Parent: fuseops.InodeID(otherDir.ID()), Name: "file.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(createOther))

	fallbackPrompt, _ := t.resolver.Resolve("/other/file.txt")
	t.Equal("default prompt", fallbackPrompt)
}

// 5. Failure retry.
func (t *ScenarioTest) TestFailureRetry() {
	t.provider.failUntil = 1

	create := &fuseops.CreateFileOp{Parent: t.rootID(), Name: "flaky.txt", Mode: 0644}
	t.Require().NoError(t.fs.CreateFile(create))
	t.Require().NoError(t.store.SetXattr("/flaky.txt", node.XattrGenerateContent, []byte("true")))

	read := &fuseops.ReadFileOp{Inode: create.Entry.Child, Offset: 0, Size: 4096}
	err := t.fs.ReadFile(read)
	t.Equal(syscall.EIO, err)

	n := t.store.Find("/flaky.txt")
	t.Empty(n.Content())
	_, ok := n.Xattr(node.XattrGenerateContent)
	t.True(ok, "generate_content must survive a failed generation")

	retry := &fuseops.ReadFileOp{Inode: create.Entry.Child, Offset: 0, Size: 4096}
	t.Require().NoError(t.fs.ReadFile(retry))
	t.Equal("generated content", string(retry.Data))
}

// 6. Rmdir non-empty.
func (t *ScenarioTest) TestRmdirNonEmpty() {
	t.Require().NoError(t.fs.MkDir(&fuseops.MkDirOp{Parent: t.rootID(), Name: "d", Mode: 0755}))
	dirNode := t.store.Find("/d")
	t.Require().NoError(t.fs.CreateFile(&fuseops.CreateFileOp{Parent: fuseops.InodeID(dirNode.ID()), Name: "f", Mode: 0644}))

	err := t.fs.RmDir(&fuseops.RmDirOp{Parent: t.rootID(), Name: "d"})
	t.Equal(syscall.ENOTEMPTY, err)

	t.NotNil(t.store.Find("/d"))
	t.NotNil(t.store.Find("/d/f"))
}
