package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/huddle-chat/huddle/internal/server"
	"github.com/huddle-chat/huddle/pkg/crypto"
)

// setupModel is a minimal bubbletea model for first-run server configuration.
type setupModel struct {
	inputs  []textinput.Model
	focused int
	done    bool
	err     string
}

const (
	fieldHost = iota
	fieldPort
	fieldDB
	fieldUploads
	fieldSecret
	numFields
)

func newSetupModel() setupModel {
	defaults := server.DefaultConfig()
	secret, err := crypto.GenerateSecureID(32)
	if err != nil {
		secret = ""
	}

	inputs := make([]textinput.Model, numFields)

	inputs[fieldHost] = textinput.New()
	inputs[fieldHost].Placeholder = defaults.Host
	inputs[fieldHost].SetValue(defaults.Host)
	inputs[fieldHost].Focus()
	inputs[fieldHost].CharLimit = 64

	inputs[fieldPort] = textinput.New()
	inputs[fieldPort].Placeholder = strconv.Itoa(defaults.Port)
	inputs[fieldPort].SetValue(strconv.Itoa(defaults.Port))
	inputs[fieldPort].CharLimit = 5

	inputs[fieldDB] = textinput.New()
	inputs[fieldDB].Placeholder = defaults.DatabasePath
	inputs[fieldDB].SetValue(defaults.DatabasePath)
	inputs[fieldDB].CharLimit = 128

	inputs[fieldUploads] = textinput.New()
	inputs[fieldUploads].Placeholder = defaults.UploadDir
	inputs[fieldUploads].SetValue(defaults.UploadDir)
	inputs[fieldUploads].CharLimit = 128

	inputs[fieldSecret] = textinput.New()
	inputs[fieldSecret].Placeholder = "at least 16 characters"
	inputs[fieldSecret].SetValue(secret)
	inputs[fieldSecret].EchoMode = textinput.EchoPassword
	inputs[fieldSecret].CharLimit = 128

	return setupModel{inputs: inputs}
}

func (m setupModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			fmt.Fprintln(os.Stderr, "Setup cancelled.")
			os.Exit(1)

		case "tab", "down", "enter":
			if msg.String() == "enter" && m.focused == numFields-1 {
				if err := m.validate(); err != "" {
					m.err = err
					return m, nil
				}
				m.done = true
				return m, tea.Quit
			}
			m.inputs[m.focused].Blur()
			m.focused = (m.focused + 1) % numFields
			m.inputs[m.focused].Focus()

		case "shift+tab", "up":
			m.inputs[m.focused].Blur()
			m.focused = (m.focused - 1 + numFields) % numFields
			m.inputs[m.focused].Focus()
		}
	}

	// Forward key events to focused input
	var cmd tea.Cmd
	m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
	return m, cmd
}

func (m setupModel) validate() string {
	port, err := strconv.Atoi(strings.TrimSpace(m.inputs[fieldPort].Value()))
	if err != nil || port <= 0 || port > 65535 {
		return "Port must be a number between 1 and 65535."
	}
	if len(strings.TrimSpace(m.inputs[fieldSecret].Value())) < 16 {
		return "Token secret must be at least 16 characters."
	}
	return ""
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#bd93f9")).Bold(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555"))
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#f8f8f2")).
			Background(lipgloss.Color("#bd93f9")).
			Bold(true).
			Padding(0, 2)
)

func (m setupModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("  Huddle First-Run Setup  "))
	b.WriteString("\n\n")
	b.WriteString(hintStyle.Render("Tab/↑↓ to navigate · Enter on last field to confirm · Esc to cancel"))
	b.WriteString("\n\n")

	labels := []string{"Bind Host", "Port", "Database Path", "Upload Directory", "Token Secret (generated)"}
	for i, label := range labels {
		b.WriteString(labelStyle.Render(label))
		b.WriteString("\n")
		b.WriteString("  " + m.inputs[i].View())
		b.WriteString("\n\n")
	}

	if m.err != "" {
		b.WriteString(errStyle.Render("  ⚠ " + m.err))
		b.WriteString("\n")
	}

	return b.String()
}

// configFilename is the default config file written by setup.
const configFilename = "huddle-server.toml"

// runFirstRunSetup runs the interactive TUI setup and returns the resulting Config.
// It also writes huddle-server.toml to the working directory.
func runFirstRunSetup() *server.Config {
	m := newSetupModel()
	p := tea.NewProgram(m)
	result, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup error: %v\n", err)
		os.Exit(1)
	}

	final := result.(setupModel)
	if !final.done {
		os.Exit(0)
	}

	port, _ := strconv.Atoi(strings.TrimSpace(final.inputs[fieldPort].Value()))

	cfg := server.DefaultConfig()
	cfg.Host = strings.TrimSpace(final.inputs[fieldHost].Value())
	cfg.Port = port
	cfg.DatabasePath = strings.TrimSpace(final.inputs[fieldDB].Value())
	cfg.UploadDir = strings.TrimSpace(final.inputs[fieldUploads].Value())
	cfg.JWTSecret = strings.TrimSpace(final.inputs[fieldSecret].Value())

	if err := server.SaveConfig(configFilename, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	} else {
		fmt.Printf("\nConfig written to %s\n", configFilename)
	}

	fmt.Printf("Share this address: http://%s:%d\n\n", cfg.Host, cfg.Port)
	return cfg
}
