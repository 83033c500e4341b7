package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/client"
	"github.com/huddle-chat/huddle/internal/models"
	"go.uber.org/zap"
)

// View represents the screens of the application
type View int

const (
	ViewLogin View = iota
	ViewMain
)

// FocusArea represents which area of the main view has focus
type FocusArea int

const (
	FocusInput FocusArea = iota
	FocusSidebar
	FocusChat
)

// App is the bubbletea model for the terminal client
type App struct {
	ctx      context.Context
	session  *client.Session
	configs  *client.ConfigManager
	config   *client.Config
	themeDir string
	logger   *zap.Logger

	width  int
	height int
	view   View
	focus  FocusArea

	theme  *Theme
	styles *Styles

	loginEmail    textinput.Model
	loginPassword textinput.Model
	loginFocus    int
	loginError    string
	loggingIn     bool

	teams     []*models.Team
	teamIndex int
	current   *models.Team

	input        textinput.Model
	chat         viewport.Model
	lastInput    string
	mention      client.Mention
	candidates   []models.Member
	candidateSel int

	connState     client.ConnectionState
	statusMessage string
	statusError   bool
}

// NewApp creates the application. The session must not be started yet;
// the app owns its update loop.
func NewApp(ctx context.Context, session *client.Session, configs *client.ConfigManager, config *client.Config, themeDir string, logger *zap.Logger) *App {
	input := textinput.New()
	input.Placeholder = "Type a message... (/help for commands)"
	input.CharLimit = models.MaxContentLength

	loginEmail := textinput.New()
	loginEmail.Placeholder = "Email"
	loginEmail.SetValue(config.Email)
	loginEmail.Focus()

	loginPassword := textinput.New()
	loginPassword.Placeholder = "Password"
	loginPassword.EchoMode = textinput.EchoPassword

	theme, err := GetTheme(themeDir, config.Theme)
	if err != nil {
		logger.Warn("theme not found, using default", zap.String("theme", config.Theme), zap.Error(err))
		theme = DefaultTheme()
	}

	return &App{
		ctx:           ctx,
		session:       session,
		configs:       configs,
		config:        config,
		themeDir:      themeDir,
		logger:        logger,
		view:          ViewLogin,
		theme:         theme,
		styles:        theme.BuildStyles(),
		loginEmail:    loginEmail,
		loginPassword: loginPassword,
		input:         input,
		chat:          viewport.New(80, 20),
	}
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	a.session.Start(a.ctx)
	cmds := []tea.Cmd{textinput.Blink, a.waitForUpdate()}
	if a.config.Token != "" {
		a.loggingIn = true
		cmds = append(cmds, a.resume(a.config.Token))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case tea.KeyMsg:
		if cmd, handled := a.handleKeyPress(msg); handled {
			return a, cmd
		}

	case sessionUpdateMsg:
		cmds = append(cmds, a.applyUpdate(client.Update(msg)), a.waitForUpdate())
		return a, tea.Batch(cmds...)

	case loginResultMsg:
		a.loggingIn = false
		if msg.err != nil {
			if msg.resumed && errors.Is(msg.err, client.ErrSessionExpired) {
				// saved token no longer works; fall back to the form
				a.saveConfig(func(c *client.Config) { c.Token = "" })
				return a, nil
			}
			a.loginError = client.UserMessage(msg.err)
			return a, nil
		}
		a.teams = msg.teams
		a.view = ViewMain
		a.focus = FocusInput
		a.input.Focus()
		a.saveConfig(func(c *client.Config) {
			c.Email = strings.TrimSpace(a.loginEmail.Value())
			c.Token = a.session.Creds.Token()
		})
		a.loginPassword.Reset()
		return a, tea.Batch(a.connect(), a.selectTeam(a.initialTeam()))

	case teamOpenedMsg:
		if msg.err != nil {
			a.setStatus(client.UserMessage(msg.err), true)
			return a, nil
		}
		if a.current != nil && a.current.ID == msg.team.ID {
			a.current = msg.team
			a.refreshChat()
		}
		return a, nil

	case statusMsg:
		a.setStatus(msg.text, msg.isError)
		return a, nil
	}

	switch a.view {
	case ViewLogin:
		cmds = append(cmds, a.updateLoginForm(msg))
	case ViewMain:
		switch a.focus {
		case FocusInput:
			var cmd tea.Cmd
			a.input, cmd = a.input.Update(msg)
			cmds = append(cmds, cmd)
			a.afterInput()
		case FocusChat:
			var cmd tea.Cmd
			a.chat, cmd = a.chat.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	switch a.view {
	case ViewLogin:
		return a.renderLoginView()
	case ViewMain:
		return a.renderMainView()
	default:
		return "Unknown view"
	}
}

// handleKeyPress handles keys with app-level meaning. It reports whether
// the key was consumed.
func (a *App) handleKeyPress(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		a.session.Close()
		return tea.Quit, true

	case "tab":
		if a.view == ViewMain && a.focus == FocusInput && len(a.candidates) > 0 {
			a.candidateSel = (a.candidateSel + 1) % len(a.candidates)
			return nil, true
		}
		a.cycleFocus()
		return nil, true

	case "enter":
		if a.view == ViewLogin {
			return a.handleLoginSubmit(), true
		}
		if a.focus == FocusSidebar {
			a.focus = FocusInput
			a.input.Focus()
			return a.selectTeam(a.teamIndex), true
		}
		if a.focus == FocusInput {
			if len(a.candidates) > 0 {
				a.completeMention()
				return nil, true
			}
			return a.handleSubmit(), true
		}

	case "esc":
		if a.view == ViewMain {
			if len(a.candidates) > 0 {
				a.candidates = nil
				return nil, true
			}
			a.focus = FocusSidebar
			a.input.Blur()
			return nil, true
		}

	case "up", "down":
		if a.view == ViewMain && a.focus == FocusSidebar && len(a.teams) > 0 {
			delta := 1
			if msg.String() == "up" {
				delta = -1
			}
			a.teamIndex = (a.teamIndex + delta + len(a.teams)) % len(a.teams)
			return nil, true
		}

	case "pgup":
		if a.view == ViewMain {
			a.chat.HalfViewUp()
			return nil, true
		}

	case "pgdown":
		if a.view == ViewMain {
			a.chat.HalfViewDown()
			return nil, true
		}
	}
	return nil, false
}

func (a *App) cycleFocus() {
	if a.view == ViewLogin {
		a.loginFocus = (a.loginFocus + 1) % 2
		if a.loginFocus == 0 {
			a.loginEmail.Focus()
			a.loginPassword.Blur()
		} else {
			a.loginEmail.Blur()
			a.loginPassword.Focus()
		}
		return
	}

	switch a.focus {
	case FocusInput:
		a.focus = FocusSidebar
		a.input.Blur()
	case FocusSidebar:
		a.focus = FocusChat
	case FocusChat:
		a.focus = FocusInput
		a.input.Focus()
	}
}

func (a *App) updateLoginForm(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if a.loginFocus == 0 {
		a.loginEmail, cmd = a.loginEmail.Update(msg)
	} else {
		a.loginPassword, cmd = a.loginPassword.Update(msg)
	}
	return cmd
}

func (a *App) handleLoginSubmit() tea.Cmd {
	if a.loggingIn {
		return nil
	}
	email := strings.TrimSpace(a.loginEmail.Value())
	password := a.loginPassword.Value()
	if email == "" || password == "" {
		a.loginError = "Email and password are required."
		return nil
	}
	a.loggingIn = true
	a.loginError = ""
	return a.login(email, password)
}

// afterInput reacts to edits in the composer: typing presence and mention
// completion.
func (a *App) afterInput() {
	value := a.input.Value()
	if value == a.lastInput {
		return
	}
	a.lastInput = value

	if a.current != nil && value != "" && !strings.HasPrefix(value, "/") {
		a.session.Input(a.current.ID)
	}

	a.candidates = nil
	a.candidateSel = 0
	if a.current == nil {
		return
	}
	if m, ok := client.ActiveMention(value, a.input.Position()); ok {
		a.mention = m
		a.candidates = client.MentionCandidates(a.current.Members, m.Query)
		if len(a.candidates) > maxCandidates {
			a.candidates = a.candidates[:maxCandidates]
		}
	}
}

func (a *App) completeMention() {
	if a.candidateSel >= len(a.candidates) {
		return
	}
	name := a.candidates[a.candidateSel].DisplayName
	text, cursor := client.ApplyMention(a.input.Value(), a.mention, name)
	a.input.SetValue(text)
	a.input.SetCursor(cursor)
	a.lastInput = text
	a.candidates = nil
}

// handleSubmit sends the composer content as a message or command
func (a *App) handleSubmit() tea.Cmd {
	content := strings.TrimSpace(a.input.Value())
	if content == "" {
		return nil
	}
	a.input.Reset()
	a.lastInput = ""

	if strings.HasPrefix(content, "/") {
		return a.runCommand(content)
	}
	if a.current == nil {
		a.setStatus("Select a team first.", true)
		return nil
	}
	return a.send(a.current.ID, content)
}

func (a *App) runCommand(input string) tea.Cmd {
	cmd, err := ParseCommand(input)
	if err != nil {
		a.setStatus(err.Error(), true)
		return nil
	}

	switch cmd.Name {
	case "help":
		a.setStatus(helpText, false)

	case "quit":
		a.session.Close()
		return tea.Quit

	case "react":
		if len(cmd.Args) < 2 {
			a.setStatus("usage: /react <N> <emoji>", true)
			return nil
		}
		msg, err := a.messageByRef(cmd.Args[0])
		if err != nil {
			a.setStatus(err.Error(), true)
			return nil
		}
		return a.react(msg.TeamID, msg.ID, cmd.Args[1])

	case "download":
		if len(cmd.Args) < 1 {
			a.setStatus("usage: /download <N> [index]", true)
			return nil
		}
		msg, err := a.messageByRef(cmd.Args[0])
		if err != nil {
			a.setStatus(err.Error(), true)
			return nil
		}
		index := 0
		if len(cmd.Args) > 1 {
			if index, err = strconv.Atoi(cmd.Args[1]); err != nil {
				a.setStatus("attachment index must be a number", true)
				return nil
			}
		}
		if _, ok := msg.Attachment(index); !ok {
			a.setStatus("that message has no such attachment", true)
			return nil
		}
		return a.download(msg.TeamID, msg.ID, index)

	case "upload":
		if len(cmd.Args) < 1 || a.current == nil {
			a.setStatus("usage: /upload <path> [caption]", true)
			return nil
		}
		return a.upload(a.current.ID, cmd.Args[0], strings.Join(cmd.Args[1:], " "))

	case "team":
		if len(cmd.Args) < 1 {
			a.setStatus("usage: /team <number|name>", true)
			return nil
		}
		index, ok := a.findTeam(strings.Join(cmd.Args, " "))
		if !ok {
			a.setStatus("no such team", true)
			return nil
		}
		return a.selectTeam(index)

	case "leave":
		if a.current == nil {
			return nil
		}
		teamID := a.current.ID
		a.current = nil
		a.refreshChat()
		return a.closeTeam(teamID)

	case "reconnect":
		return a.connect()

	case "theme":
		if len(cmd.Args) == 0 {
			a.setStatus("Themes: "+strings.Join(ListThemes(a.themeDir), ", "), false)
			return nil
		}
		theme, err := GetTheme(a.themeDir, cmd.Args[0])
		if err != nil {
			a.setStatus(err.Error(), true)
			return nil
		}
		a.theme = theme
		a.styles = theme.BuildStyles()
		a.saveConfig(func(c *client.Config) { c.Theme = cmd.Args[0] })
		a.refreshChat()

	default:
		a.setStatus("unknown command: /"+cmd.Name, true)
	}
	return nil
}

func (a *App) messageByRef(arg string) (*models.Message, error) {
	if a.current == nil {
		return nil, fmt.Errorf("select a team first")
	}
	messages := a.session.Store.Messages(a.current.ID)
	i, err := messageRef(arg, len(messages))
	if err != nil {
		return nil, err
	}
	return messages[i], nil
}

func (a *App) findTeam(arg string) (int, bool) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(a.teams) {
			return n - 1, true
		}
		return 0, false
	}
	for i, t := range a.teams {
		if strings.EqualFold(t.Name, arg) {
			return i, true
		}
	}
	return 0, false
}

func (a *App) initialTeam() int {
	for i, t := range a.teams {
		if t.ID.String() == a.config.LastTeam {
			return i
		}
	}
	return 0
}

// selectTeam switches the open team. The previous team's room is left so
// only one room streams at a time.
func (a *App) selectTeam(index int) tea.Cmd {
	if index < 0 || index >= len(a.teams) {
		return nil
	}
	team := a.teams[index]
	if a.current != nil && a.current.ID == team.ID {
		return nil
	}

	var cmds []tea.Cmd
	if a.current != nil {
		cmds = append(cmds, a.closeTeam(a.current.ID))
	}

	a.teamIndex = index
	a.current = team
	a.candidates = nil
	a.refreshChat()
	a.saveConfig(func(c *client.Config) { c.LastTeam = team.ID.String() })

	cmds = append(cmds, a.openTeam(team.ID))
	return tea.Batch(cmds...)
}

// applyUpdate reacts to a session update
func (a *App) applyUpdate(u client.Update) tea.Cmd {
	switch u.Kind {
	case client.UpdateConnection:
		a.connState = u.State
	case client.UpdateMessages, client.UpdateTyping, client.UpdateJoined:
		if a.current != nil && a.current.ID == u.TeamID {
			a.refreshChat()
		}
	case client.UpdateNotice:
		a.setStatus(u.Notice, true)
	}
	return nil
}

func (a *App) setStatus(text string, isError bool) {
	a.statusMessage = text
	a.statusError = isError
}

func (a *App) saveConfig(edit func(*client.Config)) {
	edit(a.config)
	if a.configs == nil {
		return
	}
	if err := a.configs.Save(a.config); err != nil {
		a.logger.Warn("failed to save client config", zap.Error(err))
	}
}

func (a *App) currentID() uuid.UUID {
	if a.current == nil {
		return uuid.Nil
	}
	return a.current.ID
}
