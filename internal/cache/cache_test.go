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

package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
)

type CacheTest struct {
	suite.Suite
	cache *Cache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTest))
}

func (t *CacheTest) SetupTest() {
	c, err := New(t.T().TempDir())
	t.Require().NoError(err)
	t.cache = c
}

func (t *CacheTest) TestMissOnEmptyCache() {
	_, ok := t.cache.Get(map[string]string{"path": "/a"})
	t.False(ok)
}

func (t *CacheTest) TestPutThenGetHits() {
	req := map[string]string{"path": "/a", "prompt": "hello"}
	resp := json.RawMessage(`{"content":"world"}`)

	t.Require().NoError(t.cache.Put(req, resp))

	got, ok := t.cache.Get(req)
	t.True(ok)
	t.JSONEq(string(resp), string(got))
}

func (t *CacheTest) TestKeyIsOrderIndependent() {
	k1, err := Key(map[string]string{"a": "1", "b": "2"})
	t.Require().NoError(err)
	k2, err := Key(map[string]string{"b": "2", "a": "1"})
	t.Require().NoError(err)
	t.Equal(k1, k2)
}

func (t *CacheTest) TestDisabledCacheIsNoop() {
	t.cache.SetEnabled(false)
	req := map[string]string{"path": "/a"}

	t.Require().NoError(t.cache.Put(req, json.RawMessage(`{"content":"x"}`)))
	_, ok := t.cache.Get(req)
	t.False(ok)
}

func (t *CacheTest) TestStatsTracksHitsAndMisses() {
	req := map[string]string{"path": "/a"}
	t.cache.Get(req) // miss

	t.Require().NoError(t.cache.Put(req, json.RawMessage(`{"content":"x"}`)))
	t.cache.Get(req) // hit

	stats, err := t.cache.Stats()
	t.Require().NoError(err)
	t.Equal(uint64(1), stats.Hits)
	t.Equal(uint64(1), stats.Misses)
	t.True(stats.Enabled)
}

func (t *CacheTest) TestClearRemovesAllEntries() {
	t.Require().NoError(t.cache.Put(map[string]string{"path": "/a"}, json.RawMessage(`{"content":"x"}`)))
	t.Require().NoError(t.cache.Put(map[string]string{"path": "/b"}, json.RawMessage(`{"content":"y"}`)))

	entries, err := t.cache.List(64)
	t.Require().NoError(err)
	t.Len(entries, 2)

	t.Require().NoError(t.cache.Clear())
	entries, err = t.cache.List(64)
	t.Require().NoError(err)
	t.Len(entries, 0)
}

func (t *CacheTest) TestListOrdersMostRecentFirst() {
	t.Require().NoError(t.cache.Put(map[string]string{"path": "/old"}, json.RawMessage(`{"content":"1"}`)))
	t.Require().NoError(t.cache.Put(map[string]string{"path": "/new"}, json.RawMessage(`{"content":"2"}`)))

	entries, err := t.cache.List(1)
	t.Require().NoError(err)
	t.Require().Len(entries, 1)
	t.Equal("/new", entries[0].Label)
}
