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

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

type ResolverTest struct {
	suite.Suite
	store    *node.Store
	resolver *Resolver
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverTest))
}

func (t *ResolverTest) SetupTest() {
	t.store = node.New()
	t.resolver = New(t.store, "default prompt", "default-model")
}

func (t *ResolverTest) mkdir(p string) {
	t.Require().NoError(t.store.Insert(p, t.store.NewDirectory(0755)))
}

func (t *ResolverTest) touch(p, content string) {
	t.Require().NoError(t.store.Insert(p, t.store.NewFile(0644, []byte(content))))
}

func (t *ResolverTest) TestFallsBackToDefaultWhenNothingFound() {
	t.mkdir("/a")
	t.touch("/a/f.txt", "")

	prompt, model := t.resolver.Resolve("/a/f.txt")
	t.Equal("default prompt", prompt)
	t.Equal("default-model", model)
}

func (t *ResolverTest) TestNearestAncestorPromptWins() {
	t.mkdir("/a")
	t.mkdir("/a/b")
	t.touch("/a/.prompt", "outer")
	t.touch("/a/b/.prompt", "inner")
	t.touch("/a/b/f.txt", "")

	prompt, _ := t.resolver.Resolve("/a/b/f.txt")
	t.Equal("inner", prompt)
}

func (t *ResolverTest) TestDotTouchfsPrefersOverPlainDotfile() {
	t.mkdir("/a")
	t.touch("/a/.prompt", "plain")
	t.touch("/a/.touchfs.prompt", "namespaced")
	t.touch("/a/f.txt", "")

	prompt, _ := t.resolver.Resolve("/a/f.txt")
	t.Equal("namespaced", prompt)
}

func (t *ResolverTest) TestEmptyFileDoesNotSatisfyResolution() {
	t.mkdir("/a")
	t.mkdir("/a/b")
	t.touch("/a/.prompt", "outer")
	t.touch("/a/b/.prompt", "")
	t.touch("/a/b/f.txt", "")

	prompt, _ := t.resolver.Resolve("/a/b/f.txt")
	t.Equal("outer", prompt)
}

func (t *ResolverTest) TestJSONObjectFieldExtraction() {
	t.mkdir("/a")
	t.touch("/a/.prompt", `{"prompt": "from json"}`)
	t.touch("/a/f.txt", "")

	prompt, _ := t.resolver.Resolve("/a/f.txt")
	t.Equal("from json", prompt)
}

func (t *ResolverTest) TestSelfReferenceExcluded() {
	t.mkdir("/a")
	t.touch("/a/.prompt", "should not see self")

	prompt, _ := t.resolver.Resolve("/a/.prompt")
	t.Equal("default prompt", prompt)
}

func (t *ResolverTest) TestModelEnvVarOverridesFile() {
	t.mkdir("/a")
	t.touch("/a/.model", "file-model")
	t.touch("/a/f.txt", "")

	t.Require().NoError(os.Setenv(ModelEnvVar, "env-model"))
	defer os.Unsetenv(ModelEnvVar)

	_, model := t.resolver.Resolve("/a/f.txt")
	t.Equal("env-model", model)
}

func (t *ResolverTest) TestMemoInvalidatedByMutation() {
	t.mkdir("/a")
	t.touch("/a/f.txt", "")

	prompt1, _ := t.resolver.Resolve("/a/f.txt")
	t.Equal("default prompt", prompt1)

	t.touch("/a/.prompt", "now set")
	prompt2, _ := t.resolver.Resolve("/a/f.txt")
	t.Equal("now set", prompt2)
}

func (t *ResolverTest) TestOverlayRootTakesPrecedence() {
	dir := t.T().TempDir()
	t.Require().NoError(os.MkdirAll(dir+"/a", 0755))
	t.Require().NoError(os.WriteFile(dir+"/a/.prompt", []byte("overlay prompt"), 0644))

	t.mkdir("/a")
	t.touch("/a/f.txt", "")
	t.resolver.SetOverlayRoot(dir)

	prompt, _ := t.resolver.Resolve("/a/f.txt")
	t.Equal("overlay prompt", prompt)
}
