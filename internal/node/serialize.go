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
	"encoding/json"
	"sort"
)

// PublicView is the JSON-shaped structural view returned by
// SerializePublic. Time and size attributes are deliberately excluded so
// plugins needing only structural context see a stable view.
type PublicView struct {
	Path     string       `json:"path"`
	Type     string       `json:"type"`
	Xattrs   []string     `json:"xattrs,omitempty"`
	Target   string       `json:"target,omitempty"`
	Children []PublicView `json:"children,omitempty"`
}

// SerializePublic produces a stable structural view of the whole tree. Two
// calls with no intervening mutation return byte-identical output without
// re-walking the tree.
func (s *Store) SerializePublic() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serializeCache != nil && s.serializeGen == s.generation {
		return s.serializeCache
	}

	view := s.buildViewLocked("/")
	out, err := json.Marshal(view)
	if err != nil {
		// Marshal can only fail on unsupported types, and PublicView
		// contains none; this would indicate a programming error.
		panic("node: serialize_public: " + err.Error())
	}

	s.serializeCache = out
	s.serializeGen = s.generation
	return out
}

func (s *Store) buildViewLocked(p string) PublicView {
	n := s.byPath[p]
	names := n.XattrNames()
	sort.Strings(names)

	view := PublicView{
		Path:   p,
		Type:   n.typ.String(),
		Xattrs: names,
	}

	switch n.typ {
	case TypeSymlink:
		view.Target = n.target
	case TypeDirectory:
		childNames := make([]string, 0, len(n.children))
		for name := range n.children {
			childNames = append(childNames, name)
		}
		sort.Strings(childNames)
		for _, name := range childNames {
			view.Children = append(view.Children, s.buildViewLocked(n.children[name]))
		}
	}

	return view
}
