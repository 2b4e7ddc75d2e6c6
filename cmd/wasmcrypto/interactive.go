package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-openssl/openssl"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	actionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateLoading modelState = iota
	stateSelectAction
	stateInput
	stateShowResult
)

type interactiveModel struct {
	err      error
	loader   *openssl.Loader
	mod      *openssl.Module
	input    textarea.Model
	spinner  spinner.Model
	output   string
	count    int
	selected int
	state    modelState
}

type loadedMsg struct {
	err error
	mod *openssl.Module
}

type actionResultMsg struct {
	err    error
	output string
}

func newInteractiveModel(loader *openssl.Loader, count int) *interactiveModel {
	ta := textarea.New()
	ta.Placeholder = "Enter text to hash or encode"
	ta.SetWidth(60)
	ta.SetHeight(4)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &interactiveModel{
		loader:  loader,
		input:   ta,
		spinner: sp,
		count:   count,
		state:   stateLoading,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load)
}

func (m *interactiveModel) load() tea.Msg {
	mod, err := m.loader.Load(context.Background())
	return loadedMsg{mod: mod, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInput {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectAction && m.selected > 0 {
				m.selected--
				return m, nil
			}

		case "down", "j":
			if m.state == stateSelectAction && m.selected < len(actions)-1 {
				m.selected++
				return m, nil
			}

		case "enter":
			switch m.state {
			case stateSelectAction:
				if actions[m.selected] == actionRandom {
					return m, m.runSelected
				}
				m.state = stateInput
				return m, m.input.Focus()

			case stateShowResult:
				m.state = stateSelectAction
				m.output = ""
				m.err = nil
				return m, nil
			}

		case "ctrl+s":
			if m.state == stateInput {
				m.input.Blur()
				return m, m.runSelected
			}

		case "esc":
			switch m.state {
			case stateInput:
				m.input.Blur()
				m.state = stateSelectAction
				return m, nil
			case stateShowResult:
				m.state = stateSelectAction
				m.output = ""
				m.err = nil
				return m, nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.mod = msg.mod
		m.state = stateSelectAction
		return m, nil

	case actionResultMsg:
		m.output = msg.output
		m.err = msg.err
		m.state = stateShowResult
		return m, nil

	case spinner.TickMsg:
		if m.state != stateLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) runSelected() tea.Msg {
	ctx := context.Background()
	res, err := runAction(ctx, m.mod, actions[m.selected], m.input.Value(), m.count)
	if err != nil {
		return actionResultMsg{err: fmt.Errorf("%w\nOpenSSL: %s", err, lastError(ctx, m.mod))}
	}
	return actionResultMsg{output: res.String()}
}

func (m *interactiveModel) View() string {
	if m.state == stateLoading {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("Failed to load OpenSSL\nError: %v\n\nPress q to quit.", m.err))
		}
		return m.spinner.View() + " Loading OpenSSL..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("OpenSSL WebAssembly"))
	b.WriteString(" OpenSSL loaded\n\n")

	switch m.state {
	case stateSelectAction:
		b.WriteString("Select an operation:\n\n")
		for i, a := range actions {
			label := actionLabels[a]
			if a == actionRandom {
				label = fmt.Sprintf("Random %d bytes", m.count)
			}
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + label))
			} else {
				b.WriteString("  " + actionStyle.Render(label))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter choose • q quit"))

	case stateInput:
		b.WriteString(actionStyle.Render(actionLabels[actions[m.selected]]))
		b.WriteString("\n\n")
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("ctrl+s run • esc back • ctrl+c quit"))

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.output))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func runInteractive(loader *openssl.Loader, count int) error {
	p := tea.NewProgram(newInteractiveModel(loader, count), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
