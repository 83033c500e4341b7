package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/huddle-chat/huddle/internal/client"
	"github.com/huddle-chat/huddle/internal/models"
)

const (
	sidebarWidth  = 24
	maxCandidates = 5
)

// resize lays out the viewport and input for the window size
func (a *App) resize() {
	chatWidth := a.width - sidebarWidth - 4
	if chatWidth < 20 {
		chatWidth = 20
	}
	// input box, typing line, status line, title
	chatHeight := a.height - 7
	if chatHeight < 3 {
		chatHeight = 3
	}

	a.chat.Width = chatWidth
	a.chat.Height = chatHeight
	a.input.Width = chatWidth - 6
	a.refreshChat()
}

// refreshChat rebuilds the viewport content from the store
func (a *App) refreshChat() {
	if a.current == nil {
		a.chat.SetContent(a.styles.Hint.Render("No team selected. Tab to the sidebar and press Enter."))
		return
	}

	atBottom := a.chat.AtBottom()
	messages := a.session.Store.Messages(a.current.ID)

	var b strings.Builder
	var prev *models.Message
	for i, msg := range messages {
		// newest message is #1 for /react and /download
		a.renderMessage(&b, msg, prev, len(messages)-i)
		prev = msg
	}
	a.chat.SetContent(b.String())
	if atBottom || prev == nil {
		a.chat.GotoBottom()
	}
}

func (a *App) renderMessage(b *strings.Builder, msg, prev *models.Message, ref int) {
	self := a.session.Creds.UserID()

	showHeader := prev == nil || prev.SenderID != msg.SenderID || msg.CreatedAt.Sub(prev.CreatedAt).Minutes() >= 5
	if showHeader {
		name := "unknown"
		if msg.Sender != nil {
			name = msg.Sender.GetDisplayName()
		}
		nameStyle := a.styles.UsernameOther
		if msg.SenderID == self {
			nameStyle = a.styles.UsernameSelf
		}
		fmt.Fprintf(b, "%s  %s\n",
			nameStyle.Render(name),
			a.styles.Timestamp.Render(msg.CreatedAt.Local().Format("Jan 2 15:04")))
	}

	prefix := a.styles.Timestamp.Render(fmt.Sprintf("%3d ", ref))
	if msg.Content != "" {
		content := msg.Content
		for _, id := range msg.Mentions {
			if id == self {
				content = a.styles.Mention.Render(content)
				break
			}
		}
		b.WriteString(prefix + a.styles.MessageContent.Render(content) + "\n")
		prefix = "    "
	}

	for _, att := range msg.Attachments {
		label := fmt.Sprintf("[%d] %s (%s, %s)", att.Index, att.Filename, att.MediaType, humanSize(att.Size))
		b.WriteString(prefix + a.styles.Attachment.Render(label) + "\n")
		prefix = "    "
	}

	if groups := models.GroupReactions(msg.Reactions); len(groups) > 0 {
		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			marker := ""
			for _, u := range g.Users {
				if u == self {
					marker = "*"
					break
				}
			}
			parts = append(parts, fmt.Sprintf("%s %d%s", g.Emoji, g.Count, marker))
		}
		b.WriteString("    " + a.styles.Reaction.Render(strings.Join(parts, "  ")) + "\n")
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

// typingLine describes who else is typing in the current team
func typingLine(users []models.TypingSignal) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0].UserName + " is typing..."
	case 2:
		return users[0].UserName + " and " + users[1].UserName + " are typing..."
	default:
		return fmt.Sprintf("%s and %d others are typing...", users[0].UserName, len(users)-1)
	}
}

func (a *App) renderLoginView() string {
	var b strings.Builder
	b.WriteString(a.styles.Title.Render("Huddle"))
	b.WriteString("\n\n")
	b.WriteString(a.styles.Hint.Render("Server: " + a.config.Server))
	b.WriteString("\n\n")
	b.WriteString(a.loginEmail.View())
	b.WriteString("\n")
	b.WriteString(a.loginPassword.View())
	b.WriteString("\n\n")

	switch {
	case a.loggingIn:
		b.WriteString(a.styles.Info.Render("Signing in..."))
	case a.loginError != "":
		b.WriteString(a.styles.Error.Render(a.loginError))
	default:
		b.WriteString(a.styles.Hint.Render("Tab to switch fields · Enter to sign in · Ctrl+C to quit"))
	}
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, b.String())
}

func (a *App) renderMainView() string {
	sidebar := a.renderSidebar()

	var chat strings.Builder
	title := "Huddle"
	if a.current != nil {
		title = a.current.Name
		if !a.session.Rooms.Joined(a.current.ID) {
			title += " (joining...)"
		}
	}
	chat.WriteString(a.styles.Title.Render(title))
	chat.WriteString("\n")
	chat.WriteString(a.chat.View())
	chat.WriteString("\n")

	if a.current != nil {
		chat.WriteString(a.styles.Typing.Render(typingLine(a.session.Typing.Typing(a.current.ID))))
	}
	chat.WriteString("\n")

	inputStyle := a.styles.InputField
	if a.focus == FocusInput {
		inputStyle = a.styles.InputFocused
	}
	chat.WriteString(inputStyle.Render(a.input.View()))
	if len(a.candidates) > 0 {
		chat.WriteString("\n")
		chat.WriteString(a.renderCandidates())
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, chat.String())
	return lipgloss.JoinVertical(lipgloss.Left, main, a.renderStatusBar())
}

func (a *App) renderSidebar() string {
	var b strings.Builder
	b.WriteString(a.styles.Hint.Render("TEAMS"))
	b.WriteString("\n")
	for i, team := range a.teams {
		label := fmt.Sprintf("%d. %s", i+1, team.Name)
		style := a.styles.SidebarItem
		if team.ID == a.currentID() || (a.focus == FocusSidebar && i == a.teamIndex) {
			style = a.styles.SidebarSelected
		}
		b.WriteString(style.Render(label))
		b.WriteString("\n")
	}

	if a.current != nil {
		b.WriteString("\n")
		b.WriteString(a.styles.Hint.Render("MEMBERS"))
		b.WriteString("\n")
		for _, m := range a.current.ActiveMembers() {
			b.WriteString(a.styles.SidebarItem.Render(m.DisplayName))
			b.WriteString("\n")
		}
	}

	return a.styles.Sidebar.
		Width(sidebarWidth).
		Height(max(a.height-3, 1)).
		Render(b.String())
}

func (a *App) renderCandidates() string {
	var lines []string
	for i, m := range a.candidates {
		style := a.styles.Candidate
		if i == a.candidateSel {
			style = a.styles.CandidateSel
		}
		lines = append(lines, style.Render("@"+m.DisplayName))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderStatusBar() string {
	state := a.styles.StatusOffline.Render("● " + a.connState.String())
	if a.connState == client.StateConnected {
		state = a.styles.StatusOnline.Render("● " + a.connState.String())
	}

	status := a.statusMessage
	if i := strings.IndexByte(status, '\n'); i >= 0 && !strings.HasPrefix(status, "Commands:") {
		status = status[:i]
	}
	style := a.styles.Info
	if a.statusError {
		style = a.styles.Error
	}
	return state + "  " + style.Render(status)
}
