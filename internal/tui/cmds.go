package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/client"
	"github.com/huddle-chat/huddle/internal/models"
)

// --- Message types for tea.Cmd ---

// sessionUpdateMsg wraps an update published by the session
type sessionUpdateMsg client.Update

// loginResultMsg is the outcome of signing in and listing teams
type loginResultMsg struct {
	teams   []*models.Team
	err     error
	resumed bool // signed in with the saved token
}

// teamOpenedMsg carries the roster of a team after its room was joined
type teamOpenedMsg struct {
	team *models.Team
	err  error
}

// statusMsg sets the status line
type statusMsg struct {
	text    string
	isError bool
}

func (a *App) waitForUpdate() tea.Cmd {
	updates := a.session.Updates()
	done := a.ctx.Done()
	return func() tea.Msg {
		select {
		case u := <-updates:
			return sessionUpdateMsg(u)
		case <-done:
			return nil
		}
	}
}

func (a *App) login(email, password string) tea.Cmd {
	return func() tea.Msg {
		if _, err := a.session.Login(a.ctx, email, password); err != nil {
			return loginResultMsg{err: err}
		}
		teams, err := a.session.API.Teams(a.ctx)
		return loginResultMsg{teams: teams, err: err}
	}
}

func (a *App) resume(token string) tea.Cmd {
	return func() tea.Msg {
		if _, err := a.session.Resume(a.ctx, token); err != nil {
			return loginResultMsg{err: err, resumed: true}
		}
		teams, err := a.session.API.Teams(a.ctx)
		return loginResultMsg{teams: teams, err: err, resumed: true}
	}
}

func (a *App) connect() tea.Cmd {
	return func() tea.Msg {
		if err := a.session.Connect(a.ctx); err != nil {
			return statusMsg{text: client.UserMessage(err), isError: true}
		}
		return statusMsg{text: "Connected."}
	}
}

func (a *App) openTeam(teamID uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		team, err := a.session.API.Team(a.ctx, teamID)
		if err != nil {
			return teamOpenedMsg{err: err}
		}
		if err := a.session.OpenTeam(a.ctx, teamID); err != nil {
			return teamOpenedMsg{err: err}
		}
		return teamOpenedMsg{team: team}
	}
}

func (a *App) closeTeam(teamID uuid.UUID) tea.Cmd {
	return func() tea.Msg {
		if err := a.session.CloseTeam(teamID); err != nil {
			return statusMsg{text: client.UserMessage(err), isError: true}
		}
		return nil
	}
}

func (a *App) send(teamID uuid.UUID, content string) tea.Cmd {
	return func() tea.Msg {
		// failures arrive as session notices
		a.session.Send(a.ctx, teamID, content)
		return nil
	}
}

func (a *App) upload(teamID uuid.UUID, path, caption string) tea.Cmd {
	return func() tea.Msg {
		if err := a.session.SendFile(a.ctx, teamID, caption, path); err != nil {
			return nil
		}
		return statusMsg{text: "Uploaded " + path}
	}
}

func (a *App) react(teamID, messageID uuid.UUID, emoji string) tea.Cmd {
	return func() tea.Msg {
		a.session.ToggleReaction(a.ctx, teamID, messageID, emoji)
		return nil
	}
}

func (a *App) download(teamID, messageID uuid.UUID, index int) tea.Cmd {
	dir := a.config.DownloadDir
	return func() tea.Msg {
		path, err := a.session.Download(a.ctx, teamID, messageID, index, dir)
		if err != nil {
			return nil
		}
		return statusMsg{text: fmt.Sprintf("Saved %s", path)}
	}
}
