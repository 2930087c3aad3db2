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
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type StoreTest struct {
	suite.Suite
	store *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTest))
}

func (t *StoreTest) SetupTest() {
	t.store = New()
}

func (t *StoreTest) TestRootExists() {
	root := t.store.Find("/")
	t.Require().NotNil(root)
	t.Equal(TypeDirectory, root.Kind())
}

func (t *StoreTest) TestInsertRequiresExistingParentDirectory() {
	f := t.store.NewFile(0644, []byte("hi"))
	err := t.store.Insert("/missing/file.txt", f)
	t.Require().Error(err)
	t.IsType(&NotFoundError{}, err)
}

func (t *StoreTest) TestInsertAndFind() {
	dir := t.store.NewDirectory(0755)
	t.Require().NoError(t.store.Insert("/a", dir))

	f := t.store.NewFile(0644, []byte("hello"))
	t.Require().NoError(t.store.Insert("/a/b.txt", f))

	found := t.store.Find("/a/b.txt")
	t.Require().NotNil(found)
	t.Equal([]byte("hello"), found.Content())
	t.Equal(uint64(5), found.Size())
}

func (t *StoreTest) TestInsertRejectsDuplicatePath() {
	f1 := t.store.NewFile(0644, nil)
	t.Require().NoError(t.store.Insert("/dup.txt", f1))

	f2 := t.store.NewFile(0644, nil)
	err := t.store.Insert("/dup.txt", f2)
	t.Require().Error(err)
	t.IsType(&ExistsError{}, err)
}

func (t *StoreTest) TestRemoveNonEmptyDirectoryFails() {
	dir := t.store.NewDirectory(0755)
	t.Require().NoError(t.store.Insert("/a", dir))
	f := t.store.NewFile(0644, nil)
	t.Require().NoError(t.store.Insert("/a/b.txt", f))

	err := t.store.Remove("/a")
	t.Require().Error(err)
	t.IsType(&NotEmptyError{}, err)
}

func (t *StoreTest) TestRemoveEmptyDirectorySucceeds() {
	dir := t.store.NewDirectory(0755)
	t.Require().NoError(t.store.Insert("/a", dir))

	t.Require().NoError(t.store.Remove("/a"))
	t.Nil(t.store.Find("/a"))
}

func (t *StoreTest) TestRenameReindexesDescendants() {
	dir := t.store.NewDirectory(0755)
	t.Require().NoError(t.store.Insert("/a", dir))
	f := t.store.NewFile(0644, []byte("x"))
	t.Require().NoError(t.store.Insert("/a/b.txt", f))

	t.Require().NoError(t.store.Rename("/a", "/z"))

	t.Nil(t.store.Find("/a"))
	t.Nil(t.store.Find("/a/b.txt"))
	t.NotNil(t.store.Find("/z"))
	moved := t.store.Find("/z/b.txt")
	t.Require().NotNil(moved)
	t.Equal([]byte("x"), moved.Content())
}

func (t *StoreTest) TestFindByIDTracksRenamesAndRemoval() {
	dir := t.store.NewDirectory(0755)
	t.Require().NoError(t.store.Insert("/a", dir))
	f := t.store.NewFile(0644, []byte("x"))
	t.Require().NoError(t.store.Insert("/a/b.txt", f))

	id := f.ID()
	p, ok := t.store.PathByID(id)
	t.Require().True(ok)
	t.Equal("/a/b.txt", p)

	t.Require().NoError(t.store.Rename("/a", "/z"))
	p, ok = t.store.PathByID(id)
	t.Require().True(ok)
	t.Equal("/z/b.txt", p)
	t.Same(f, t.store.FindByID(id))

	t.Require().NoError(t.store.Remove("/z/b.txt"))
	_, ok = t.store.PathByID(id)
	t.False(ok)
	t.Nil(t.store.FindByID(id))
}

func (t *StoreTest) TestFindByIDRoot() {
	root := t.store.Find("/")
	t.Same(root, t.store.FindByID(root.ID()))
}

func (t *StoreTest) TestXattrRoundTrip() {
	f := t.store.NewFile(0644, nil)
	t.Require().NoError(t.store.Insert("/x.txt", f))

	t.Require().NoError(t.store.SetXattr("/x.txt", XattrGenerator, []byte("default")))
	v, err := t.store.GetXattr("/x.txt", XattrGenerator)
	t.Require().NoError(err)
	t.Equal("default", string(v))

	names, err := t.store.ListXattr("/x.txt")
	t.Require().NoError(err)
	t.Contains(names, XattrGenerator)

	t.Require().NoError(t.store.RemoveXattr("/x.txt", XattrGenerator))
	v, err = t.store.GetXattr("/x.txt", XattrGenerator)
	t.Require().NoError(err)
	t.Nil(v)
}

func (t *StoreTest) TestIsPluginOwned() {
	f := t.store.NewFile(0644, nil)
	t.Require().NoError(t.store.Insert("/p.txt", f))
	t.False(f.IsPluginOwned())

	t.Require().NoError(t.store.SetXattr("/p.txt", XattrGenerator, []byte("readme")))
	t.True(f.IsPluginOwned())
	name, ok := f.GeneratorName()
	t.True(ok)
	t.Equal("readme", name)
}

func (t *StoreTest) TestSerializePublicStableWhenUnchanged() {
	dir := t.store.NewDirectory(0755)
	t.Require().NoError(t.store.Insert("/a", dir))

	first := t.store.SerializePublic()
	second := t.store.SerializePublic()

	t.Same(&first[0], &second[0])
}

func (t *StoreTest) TestSerializePublicChangesAfterMutation() {
	before := t.store.SerializePublic()

	dir := t.store.NewDirectory(0755)
	t.Require().NoError(t.store.Insert("/a", dir))

	after := t.store.SerializePublic()
	t.NotEqual(before, after)
}

func (t *StoreTest) TestConcurrentInsertsAreLinearizable() {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := t.store.NewFile(0644, nil)
			_ = t.store.Insert(pathFor(i), f)
		}()
	}
	wg.Wait()

	names, err := t.store.ChildNames("/")
	t.Require().NoError(err)
	t.Len(names, 50)
}

func pathFor(i int) string {
	return "/" + string(rune('a'+(i%26))) + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var digits []byte
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
