package ui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Prompt is a one-line text field. Its validator runs on Submit and the
// last failure is drawn under the field until the next Submit.
type Prompt struct {
	input    textinput.Model
	validate func(string) error
	err      error
}

// NewPrompt creates a blurred prompt. validate may be nil.
func NewPrompt(placeholder string, validate func(string) error) Prompt {
	ti := textinput.New()
	ti.Prompt = ""
	ti.Placeholder = placeholder
	ti.CharLimit = 256
	ti.Width = 40
	return Prompt{input: ti, validate: validate}
}

func (p *Prompt) Focus() tea.Cmd {
	return p.input.Focus()
}

func (p *Prompt) Blur() {
	p.input.Blur()
}

func (p *Prompt) Value() string {
	return p.input.Value()
}

func (p *Prompt) SetValue(s string) {
	p.input.SetValue(s)
}

// Submit validates the current value.
func (p *Prompt) Submit() error {
	p.err = nil
	if p.validate != nil {
		p.err = p.validate(p.input.Value())
	}
	return p.err
}

// Err returns the error of the last Submit.
func (p *Prompt) Err() error {
	return p.err
}

func (p *Prompt) Update(msg tea.Msg) (*Prompt, tea.Cmd) {
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p *Prompt) View() string {
	symbol := SelectorDim.Render(SymbolPrompt)
	if p.input.Focused() {
		symbol = PromptStyle.Render(SymbolPrompt)
	}
	out := symbol + " " + p.input.View()
	if p.err != nil {
		out += "\n" + Failure("%v", p.err)
	}
	return out
}
