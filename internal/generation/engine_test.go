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

package generation

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/suite"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
	"github.com/kristerhedfors/touchfs-sub000/internal/cache"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
	"github.com/kristerhedfors/touchfs-sub000/internal/plugin"
)

type countingProvider struct {
	calls int32
}

func (p *countingProvider) Chat(ctx context.Context, model string, messages []backend.Message, schema *jsonschema.Schema) (json.RawMessage, error) {
	atomic.AddInt32(&p.calls, 1)
	time.Sleep(5 * time.Millisecond)
	return json.RawMessage(`{"content":"generated content"}`), nil
}

func (p *countingProvider) Image(ctx context.Context, model, prompt string, size backend.ImageSize, quality backend.ImageQuality) ([]byte, error) {
	return nil, nil
}

type EngineTest struct {
	suite.Suite
	store    *node.Store
	provider *countingProvider
	engine   *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTest))
}

func (t *EngineTest) SetupTest() {
	t.store = node.New()
	resolver := config.New(t.store, "default prompt", "default-model")

	c, err := cache.New(t.T().TempDir())
	t.Require().NoError(err)

	t.provider = &countingProvider{}
	b := backend.New(t.provider, c, 1000, 10, time.Second)

	registry := plugin.NewRegistry(plugin.NewDefaultGenerator(b, resolver))
	t.Require().NoError(registry.MaterializeOverlays(t.store))

	t.engine = New(t.store, resolver, c, registry)
}

func (t *EngineTest) TestGeneratesAndCaches() {
	t.Require().NoError(t.store.Insert("/a.txt", t.store.NewFile(0644, nil)))

	out, err := t.engine.Read(context.Background(), "/a.txt")
	t.Require().NoError(err)
	t.Equal("generated content", string(out))

	out2, err := t.engine.Read(context.Background(), "/a.txt")
	t.Require().NoError(err)
	t.Equal(out, out2)
	t.Equal(int32(1), t.provider.calls)
}

func (t *EngineTest) TestWriteBackClearsGenerateContentXattr() {
	t.Require().NoError(t.store.Insert("/a.txt", t.store.NewFile(0644, nil)))
	t.Require().NoError(t.store.SetXattr("/a.txt", node.XattrGenerateContent, []byte("true")))

	_, err := t.engine.Read(context.Background(), "/a.txt")
	t.Require().NoError(err)

	v, _ := t.store.GetXattr("/a.txt", node.XattrGenerateContent)
	t.Nil(v)
}

func (t *EngineTest) TestMissingPathFails() {
	_, err := t.engine.Read(context.Background(), "/missing.txt")
	t.Require().Error(err)
	t.IsType(&node.NotFoundError{}, err)
}

func (t *EngineTest) TestConcurrentReadsOfSamePathShareOneGeneration() {
	t.Require().NoError(t.store.Insert("/a.txt", t.store.NewFile(0644, nil)))

	var wg sync.WaitGroup
	results := make([][]byte, 20)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := t.engine.Read(context.Background(), "/a.txt")
			t.Require().NoError(err)
			results[i] = out
		}()
	}
	wg.Wait()

	for _, r := range results {
		t.Equal("generated content", string(r))
	}
	t.Equal(int32(1), t.provider.calls)
}

func (t *EngineTest) TestUnregisteredOverlayPathFailsNotFound() {
	out, err := t.engine.Read(context.Background(), "/.touchfs/readme.md")
	t.Require().Error(err)
	t.Nil(out)
	t.IsType(&node.NotFoundError{}, err)
}
