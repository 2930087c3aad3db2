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

package seed

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Confirm shows an interactive accept/reject preview of plan's proposed
// tree and returns whether the user accepted it. touchfs-native addition,
// not present in the original: `-y/--yes` in spec §6 only makes sense if
// there is otherwise something to accept. When stdout isn't a real
// terminal, skips the TUI and accepts the plan unconditionally — scripted
// invocations (CI, pipes) have no one to prompt.
func Confirm(plan *Plan) (bool, error) {
	if !term.IsTerminal(int(ttyFD)) {
		return true, nil
	}

	m := previewModel{
		paths:    plan.Paths,
		viewport: viewport.New(80, 20),
	}
	m.viewport.SetContent(strings.Join(plan.Paths, "\n"))

	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return false, err
	}

	result := final.(previewModel)
	return result.accepted, nil
}

// ttyFD is stdout's descriptor, a var (not a literal 1) so a test build
// could swap it, though no current test exercises the interactive path.
var ttyFD uintptr = 1

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	footerStyle = lipgloss.NewStyle().Faint(true)
)

type previewModel struct {
	paths    []string
	viewport viewport.Model
	accepted bool
	done     bool
}

func (m previewModel) Init() tea.Cmd { return nil }

func (m previewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "y", "enter":
			m.accepted = true
			m.done = true
			return m, tea.Quit
		case "n", "q", "esc", "ctrl+c":
			m.accepted = false
			m.done = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m previewModel) View() string {
	if m.done {
		return ""
	}
	header := titleStyle.Render(fmt.Sprintf("Proposed filesystem (%d files)", len(m.paths)))
	footer := footerStyle.Render("y/enter accept · n/q/esc reject")
	return header + "\n" + m.viewport.View() + "\n" + footer
}
