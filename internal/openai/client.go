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

// Package openai implements backend.Provider against the OpenAI chat
// completions and image generation REST endpoints, talking to the HTTP
// API directly with net/http and encoding/json.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/pkg/errors"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
)

// Client implements backend.Provider over the OpenAI HTTP API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New constructs a Client. apiKey is typically sourced from the
// OPENAI_API_KEY environment variable.
func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat sends messages to model, requesting a JSON response shaped by
// schema via OpenAI's structured-output response_format.
func (c *Client) Chat(ctx context.Context, model string, messages []backend.Message, schema *jsonschema.Schema) (json.RawMessage, error) {
	req := chatCompletionRequest{Model: model}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if schema != nil {
		req.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "touchfs_response",
				"schema": schema,
				"strict": true,
			},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "openai: marshal chat request")
	}

	raw, err := c.do(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "openai: decode chat response")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: chat response had no choices")
	}
	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
	N       int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Image renders prompt with model via OpenAI's image generation endpoint.
func (c *Client) Image(ctx context.Context, model, prompt string, size backend.ImageSize, quality backend.ImageQuality) ([]byte, error) {
	req := imageRequest{Model: model, Prompt: prompt, Size: string(size), Quality: string(quality), N: 1}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "openai: marshal image request")
	}

	raw, err := c.do(ctx, "/images/generations", body)
	if err != nil {
		return nil, err
	}

	var resp imageResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "openai: decode image response")
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: image response had no data")
	}

	decoded, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, errors.Wrap(err, "openai: decode image base64")
	}
	return decoded, nil
}

func (c *Client) do(ctx context.Context, path string, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "openai: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "openai: request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "openai: read response body")
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai: HTTP %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
