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
	"github.com/fsnotify/fsnotify"

	"github.com/kristerhedfors/touchfs-sub000/internal/logger"
)

// OverlayWatcher invalidates a Resolver's memo whenever an entry directly
// inside the configured overlay root changes; subdirectories of the root
// are not watched. Without an overlay root the resolver
// instead rides the node store's own generation counter, so no watcher is
// needed.
type OverlayWatcher struct {
	watcher  *fsnotify.Watcher
	resolver *Resolver
	done     chan struct{}
}

// WatchOverlay starts watching root for changes and wires invalidation
// into resolver. SetOverlayRoot must be called separately (or already
// have been called) with the same root.
func WatchOverlay(resolver *Resolver, root string) (*OverlayWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, err
	}

	ow := &OverlayWatcher{watcher: w, resolver: resolver, done: make(chan struct{})}
	go ow.loop()
	return ow, nil
}

func (w *OverlayWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.resolver.Invalidate()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config: overlay watcher error: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *OverlayWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
