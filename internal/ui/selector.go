package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// SelectorItem is one choice. Label falls back to ID when empty.
type SelectorItem struct {
	ID          string
	Label       string
	Description string
	Current     bool
}

func (it SelectorItem) display() string {
	if it.Label != "" {
		return it.Label
	}
	return it.ID
}

// Outcome is where a Selector stands.
type Outcome int

const (
	Pending Outcome = iota
	Chosen
	Backed
)

// Selector picks one item from a short list with arrows, tab or a digit
// (1-9). Enter chooses, esc backs out.
type Selector struct {
	title   string
	items   []SelectorItem
	cursor  int
	outcome Outcome
	compact bool
}

// NewSelector starts with the cursor on the item marked Current.
func NewSelector(title string, items []SelectorItem) Selector {
	s := Selector{title: title, items: items}
	for i, it := range items {
		if it.Current {
			s.cursor = i
			break
		}
	}
	return s
}

// SetWidth switches to narrower labels on small terminals.
func (s *Selector) SetWidth(w int) {
	s.compact = w < 60
}

func (s *Selector) Active() bool {
	return s.outcome == Pending
}

// Outcome reports the state and, once Chosen, the chosen ID.
func (s *Selector) Outcome() (Outcome, string) {
	if s.outcome != Chosen {
		return s.outcome, ""
	}
	return Chosen, s.items[s.cursor].ID
}

func (s *Selector) move(delta int) {
	n := len(s.items)
	s.cursor = ((s.cursor+delta)%n + n) % n
}

// Update applies one key press.
func (s *Selector) Update(msg tea.Msg) (*Selector, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || s.outcome != Pending || len(s.items) == 0 {
		return s, nil
	}

	k := key.String()
	switch k {
	case "up", "k", "shift+tab":
		s.move(-1)
	case "down", "j", "tab":
		s.move(1)
	case "enter":
		s.outcome = Chosen
	case "esc", "q":
		s.outcome = Backed
	}
	if len(k) == 1 && '1' <= k[0] && k[0] <= '9' {
		if i := int(k[0] - '1'); i < len(s.items) {
			s.cursor = i
		}
	}
	return s, nil
}

// View draws the list while a choice is pending.
func (s *Selector) View() string {
	if s.outcome != Pending {
		return ""
	}

	width := 24
	if s.compact {
		width = 16
	}

	var b strings.Builder
	b.WriteString(HelpStyle.Render(s.title + " (↑/↓ or 1-9, enter select, esc back)"))
	b.WriteString("\n\n")
	for i, it := range s.items {
		label := fmt.Sprintf("%d. %-*s", i+1, width, it.display())
		if i == s.cursor {
			b.WriteString(SelectorCursor.Render(SymbolArrow) + " " + SelectorActive.Render(label))
		} else {
			b.WriteString("  " + SelectorItemStyle.Render(label))
		}

		note := it.Description
		if it.Current {
			note = strings.TrimSpace(note + " (current)")
		}
		if note != "" {
			b.WriteString(SelectorDim.Render(note))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
