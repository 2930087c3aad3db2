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

// Package cache implements touchfs's content-addressable response cache:
// a directory of JSON records on the host filesystem, keyed by the
// lowercase hex SHA-256 of the canonical JSON encoding of the request.
// Writes are atomic (temp file then rename); hit/miss accounting is kept
// in prometheus counters private to each Cache and not registered.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kristerhedfors/touchfs-sub000/internal/logger"
)

// counterValue reads a prometheus.Counter's current value directly, the
// same dto.Metric-based technique prometheus/client_golang/prometheus/
// testutil.ToFloat64 uses, kept local so production code never imports a
// testutil package.
func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// Record is the on-disk shape of a single cache entry: {request, response}.
type Record struct {
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
}

// Entry summarizes a record for the cache_list proc file.
type Entry struct {
	Key         string
	CreatedAt   time.Time
	Label       string
	ResponseLen int
}

// Cache is the content-addressable store. The enabled flag is process-
// global mutable state toggled without locking.
type Cache struct {
	dir     string
	enabled atomic.Bool

	hits   prometheus.Counter
	misses prometheus.Counter
}

// New constructs a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "cache: create directory %q", dir)
	}

	c := &Cache{
		dir: dir,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "touchfs_cache_hits_total",
			Help: "Number of cache lookups that found a stored response.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "touchfs_cache_misses_total",
			Help: "Number of cache lookups that found nothing.",
		}),
	}
	c.enabled.Store(true)
	return c, nil
}

// SetEnabled atomically toggles the cache; the update is visible to all
// subsequent operations without locking.
func (c *Cache) SetEnabled(v bool) { c.enabled.Store(v) }

// Enabled reports the current enabled state.
func (c *Cache) Enabled() bool { return c.enabled.Load() }

// Key computes the lowercase hex SHA-256 of the canonical JSON encoding of
// request.
func Key(request any) (string, error) {
	canon, err := canonicalJSON(request)
	if err != nil {
		return "", errors.Wrap(err, "cache: canonicalize request")
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the stored response for request, or nil on disabled, missing,
// or unreadable entries.
func (c *Cache) Get(request any) (response json.RawMessage, ok bool) {
	if !c.Enabled() {
		return nil, false
	}

	key, err := Key(request)
	if err != nil {
		c.misses.Inc()
		return nil, false
	}

	data, err := os.ReadFile(c.pathFor(key))
	if err != nil {
		c.misses.Inc()
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		c.misses.Inc()
		return nil, false
	}

	c.hits.Inc()
	return rec.Response, true
}

// Put stores response for request, a silent no-op when disabled. Writes
// are atomic: a temp file is written then renamed into place.
func (c *Cache) Put(request any, response json.RawMessage) error {
	if !c.Enabled() {
		return nil
	}

	key, err := Key(request)
	if err != nil {
		return errors.Wrap(err, "cache: put")
	}

	reqCanon, err := canonicalJSON(request)
	if err != nil {
		return errors.Wrap(err, "cache: put")
	}

	rec := Record{
		Request:   reqCanon,
		Response:  response,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "cache: marshal record")
	}

	final := c.pathFor(key)
	tmp := final + ".tmp-" + hex.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "cache: write temp file for %q", key)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "cache: rename into place for %q", key)
	}

	return nil
}

// Clear deletes all entries.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return errors.Wrap(err, "cache: clear: read directory")
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			logger.Warnf("cache: clear: failed to remove %q: %v", e.Name(), err)
		}
	}
	return nil
}

// List returns at most limit entries, most recent first.
func (c *Cache) List(limit int) ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, errors.Wrap(err, "cache: list: read directory")
	}

	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, de.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, Entry{
			Key:         shortKey(de.Name()),
			CreatedAt:   rec.CreatedAt,
			Label:       labelFromRequest(rec.Request),
			ResponseLen: len(rec.Response),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats reports hit/miss counts, total on-disk byte size, and the enabled
// flag.
type Stats struct {
	Hits    uint64
	Misses  uint64
	Size    int64
	Enabled bool
}

func (c *Cache) Stats() (Stats, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return Stats{}, errors.Wrap(err, "cache: stats: read directory")
	}

	var size int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil {
			size += info.Size()
		}
	}

	return Stats{
		Hits:    uint64(counterValue(c.hits)),
		Misses:  uint64(counterValue(c.misses)),
		Size:    size,
		Enabled: c.Enabled(),
	}, nil
}

func (c *Cache) pathFor(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func shortKey(filename string) string {
	name := filename
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	if len(name) > 12 {
		return name[:12]
	}
	return name
}

// labelFromRequest extracts a human label (a "prompt" or "path" field)
// from an arbitrary canonical-JSON request blob.
func labelFromRequest(request json.RawMessage) string {
	var obj map[string]any
	if err := json.Unmarshal(request, &obj); err != nil {
		return ""
	}
	if v, ok := obj["path"].(string); ok && v != "" {
		return v
	}
	if v, ok := obj["prompt"].(string); ok && v != "" {
		return v
	}
	return ""
}

// canonicalJSON marshals v with object keys sorted. encoding/json already
// sorts map keys; for struct values we round-trip through a
// map[string]any so field order never leaks into the hash.
func canonicalJSON(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	canon, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return canon, nil
}
