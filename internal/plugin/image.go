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

package plugin

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// ImagePlugin dispatches on .jpg/.jpeg/.png suffixes and calls the image
// backend.
type ImagePlugin struct {
	backend  *backend.Adapter
	resolver *config.Resolver
	size     backend.ImageSize
	quality  backend.ImageQuality
}

func NewImagePlugin(b *backend.Adapter, resolver *config.Resolver) *ImagePlugin {
	return &ImagePlugin{
		backend:  b,
		resolver: resolver,
		size:     backend.ImageSize1024,
		quality:  backend.ImageQualityStandard,
	}
}

func (p *ImagePlugin) Name() string { return "image" }

func (p *ImagePlugin) CanHandle(path string, n *node.Node) bool {
	if name, ok := n.GeneratorName(); ok {
		return name == p.Name()
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") || strings.HasSuffix(lower, ".png")
}

func (p *ImagePlugin) OverlayNodes() []OverlayNode { return nil }

func (p *ImagePlugin) Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error) {
	prompt, model := p.resolver.Resolve(path)
	data, err := p.backend.Image(ctx, model, prompt, p.size, p.quality)
	if err != nil {
		return nil, errors.Wrap(err, "image plugin")
	}
	return data, nil
}
