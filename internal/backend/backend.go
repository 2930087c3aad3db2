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

// Package backend implements touchfs's completion backend adapter: a
// narrow chat/image capability wrapping an opaque external provider,
// rate-limited and cached with its own inner fingerprint, distinct from
// the generation engine's outer fingerprint cache. The Provider interface
// narrows to exactly the two operations the rest of the system needs.
package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/kristerhedfors/touchfs-sub000/internal/cache"
)

// Message is one entry of a chat conversation handed to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ImageSize and ImageQuality mirror the narrow set of knobs the image
// operation exposes, deliberately not the provider's full surface.
type ImageSize string

const (
	ImageSize256  ImageSize = "256x256"
	ImageSize512  ImageSize = "512x512"
	ImageSize1024 ImageSize = "1024x1024"
)

type ImageQuality string

const (
	ImageQualityStandard ImageQuality = "standard"
	ImageQualityHD       ImageQuality = "hd"
)

// BackendError wraps a provider failure; the generation engine decides
// whether to fail the operation.
type BackendError struct {
	Op    string
	Cause error
}

func (e *BackendError) Error() string {
	return "backend: " + e.Op + ": " + e.Cause.Error()
}

func (e *BackendError) Unwrap() error { return e.Cause }

// Provider is the opaque external completion service. touchfs never
// assumes a concrete SDK here; cmd/ wires in a real implementation at
// startup.
type Provider interface {
	// Chat sends messages to model and returns a JSON payload conforming
	// to schema.
	Chat(ctx context.Context, model string, messages []Message, schema *jsonschema.Schema) (json.RawMessage, error)
	// Image renders prompt with model and returns raw image bytes.
	Image(ctx context.Context, model, prompt string, size ImageSize, quality ImageQuality) ([]byte, error)
}

// Adapter is the cache-first, rate-limited façade over a Provider.
type Adapter struct {
	provider Provider
	cache    *cache.Cache
	limiter  *rate.Limiter
	timeout  time.Duration
}

// New builds an Adapter. ratePerSec/burst configure the shared token
// bucket in front of both chat and image calls.
func New(provider Provider, c *cache.Cache, ratePerSec float64, burst int, timeout time.Duration) *Adapter {
	return &Adapter{
		provider: provider,
		cache:    c,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		timeout:  timeout,
	}
}

type chatRequest struct {
	Op       string          `json:"op"`
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Schema   json.RawMessage `json:"schema,omitempty"`
}

// Chat returns a parsed JSON object conforming to schema, going through
// the cache first.
func (a *Adapter) Chat(ctx context.Context, model string, messages []Message, schema *jsonschema.Schema) (json.RawMessage, error) {
	var schemaJSON json.RawMessage
	if schema != nil {
		encoded, err := json.Marshal(schema)
		if err != nil {
			return nil, errors.Wrap(err, "backend: chat: marshal schema")
		}
		schemaJSON = encoded
	}

	req := chatRequest{Op: "chat", Model: model, Messages: messages, Schema: schemaJSON}

	if resp, ok := a.cache.Get(req); ok {
		return resp, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &BackendError{Op: "chat", Cause: err}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if a.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	resp, err := a.provider.Chat(callCtx, model, messages, schema)
	if err != nil {
		return nil, &BackendError{Op: "chat", Cause: err}
	}

	if err := a.cache.Put(req, resp); err != nil {
		return resp, nil // cache is strictly an optimization; surface the result anyway
	}

	return resp, nil
}

type imageRequest struct {
	Op      string       `json:"op"`
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Size    ImageSize    `json:"size"`
	Quality ImageQuality `json:"quality"`
}

// Image returns raw image bytes, going through the cache first.
func (a *Adapter) Image(ctx context.Context, model, prompt string, size ImageSize, quality ImageQuality) ([]byte, error) {
	req := imageRequest{Op: "image", Model: model, Prompt: prompt, Size: size, Quality: quality}

	if resp, ok := a.cache.Get(req); ok {
		var decoded []byte
		if err := json.Unmarshal(resp, &decoded); err == nil {
			return decoded, nil
		}
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, &BackendError{Op: "image", Cause: err}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if a.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	data, err := a.provider.Image(callCtx, model, prompt, size, quality)
	if err != nil {
		return nil, &BackendError{Op: "image", Cause: err}
	}

	encoded, err := json.Marshal(data)
	if err == nil {
		if err := a.cache.Put(req, encoded); err != nil {
			return data, nil
		}
	}

	return data, nil
}
