package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pelletier/go-toml/v2"
)

// Theme is a color theme loaded from TOML
type Theme struct {
	Meta     ThemeMeta      `toml:"meta"`
	Colors   ThemeColors    `toml:"colors"`
	Semantic SemanticColors `toml:"semantic"`
}

// ThemeMeta contains metadata about the theme
type ThemeMeta struct {
	Name    string `toml:"name"`
	Author  string `toml:"author"`
	Variant string `toml:"variant"` // "dark" or "light"
}

// ThemeColors contains the base color palette
type ThemeColors struct {
	Background string `toml:"background"`
	Selection  string `toml:"selection"`
	Foreground string `toml:"foreground"`
	Comment    string `toml:"comment"`
	Red        string `toml:"red"`
	Orange     string `toml:"orange"`
	Green      string `toml:"green"`
	Cyan       string `toml:"cyan"`
	Purple     string `toml:"purple"`
	Pink       string `toml:"pink"`
}

// SemanticColors maps colors to UI purposes
type SemanticColors struct {
	SidebarFg       string `toml:"sidebar_fg"`
	SidebarSelected string `toml:"sidebar_selected"`

	ChatFg            string `toml:"chat_fg"`
	ChatTimestamp     string `toml:"chat_timestamp"`
	ChatUsernameSelf  string `toml:"chat_username_self"`
	ChatUsernameOther string `toml:"chat_username_other"`
	ChatMention       string `toml:"chat_mention"`
	ChatAttachment    string `toml:"chat_attachment"`
	ChatReaction      string `toml:"chat_reaction"`

	InputBorder      string `toml:"input_border"`
	InputBorderFocus string `toml:"input_border_focus"`

	StatusOnline  string `toml:"status_online"`
	StatusOffline string `toml:"status_offline"`

	Error string `toml:"error"`
	Info  string `toml:"info"`

	Border string `toml:"border"`
}

// Styles contains pre-computed lipgloss styles for a theme
type Styles struct {
	Title           lipgloss.Style
	Sidebar         lipgloss.Style
	SidebarItem     lipgloss.Style
	SidebarSelected lipgloss.Style

	MessageContent lipgloss.Style
	Timestamp      lipgloss.Style
	UsernameSelf   lipgloss.Style
	UsernameOther  lipgloss.Style
	Mention        lipgloss.Style
	Attachment     lipgloss.Style
	Reaction       lipgloss.Style
	Typing         lipgloss.Style

	InputField   lipgloss.Style
	InputFocused lipgloss.Style
	Candidate    lipgloss.Style
	CandidateSel lipgloss.Style

	StatusOnline  lipgloss.Style
	StatusOffline lipgloss.Style
	Error         lipgloss.Style
	Info          lipgloss.Style
	Hint          lipgloss.Style
}

// LoadTheme loads a theme from a TOML file
func LoadTheme(path string) (*Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme file: %w", err)
	}

	theme := DefaultTheme()
	if err := toml.Unmarshal(data, theme); err != nil {
		return nil, fmt.Errorf("failed to parse theme file: %w", err)
	}
	return theme, nil
}

// GetTheme loads <dir>/<name>.toml, falling back to the built-in theme for
// "dracula" or an empty name.
func GetTheme(dir, name string) (*Theme, error) {
	if name == "" {
		name = "dracula"
	}
	if dir != "" {
		path := filepath.Join(dir, name+".toml")
		if _, err := os.Stat(path); err == nil {
			return LoadTheme(path)
		}
	}
	if name == "dracula" {
		return DefaultTheme(), nil
	}
	return nil, fmt.Errorf("theme %q not found", name)
}

// ListThemes returns the built-in theme plus any in dir
func ListThemes(dir string) []string {
	names := []string{"dracula"}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		if name := strings.TrimSuffix(e.Name(), ".toml"); name != "dracula" {
			names = append(names, name)
		}
	}
	sort.Strings(names[1:])
	return names
}

// BuildStyles creates lipgloss styles from a theme
func (t *Theme) BuildStyles() *Styles {
	s := &Styles{}
	color := func(c string) lipgloss.Color { return lipgloss.Color(c) }

	s.Title = lipgloss.NewStyle().
		Foreground(color(t.Colors.Foreground)).
		Background(color(t.Colors.Purple)).
		Bold(true).
		Padding(0, 2)

	s.Sidebar = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color(t.Semantic.Border)).
		Padding(0, 1)

	s.SidebarItem = lipgloss.NewStyle().
		Foreground(color(t.Semantic.SidebarFg)).
		PaddingLeft(1)

	s.SidebarSelected = lipgloss.NewStyle().
		Background(color(t.Semantic.SidebarSelected)).
		Foreground(color(t.Semantic.SidebarFg)).
		PaddingLeft(1).
		Bold(true)

	s.MessageContent = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatFg))

	s.Timestamp = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatTimestamp)).
		Faint(true)

	s.UsernameSelf = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatUsernameSelf)).
		Bold(true)

	s.UsernameOther = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatUsernameOther)).
		Bold(true)

	s.Mention = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatMention)).
		Bold(true)

	s.Attachment = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatAttachment)).
		Underline(true)

	s.Reaction = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatReaction))

	s.Typing = lipgloss.NewStyle().
		Foreground(color(t.Colors.Comment)).
		Italic(true)

	s.InputField = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color(t.Semantic.InputBorder)).
		Padding(0, 1)

	s.InputFocused = s.InputField.
		BorderForeground(color(t.Semantic.InputBorderFocus))

	s.Candidate = lipgloss.NewStyle().
		Foreground(color(t.Colors.Comment)).
		PaddingLeft(1)

	s.CandidateSel = lipgloss.NewStyle().
		Foreground(color(t.Semantic.ChatMention)).
		Bold(true).
		PaddingLeft(1)

	s.StatusOnline = lipgloss.NewStyle().Foreground(color(t.Semantic.StatusOnline))
	s.StatusOffline = lipgloss.NewStyle().Foreground(color(t.Semantic.StatusOffline))
	s.Error = lipgloss.NewStyle().Foreground(color(t.Semantic.Error))
	s.Info = lipgloss.NewStyle().Foreground(color(t.Semantic.Info))
	s.Hint = lipgloss.NewStyle().Foreground(color(t.Colors.Comment))

	return s
}

// DefaultTheme returns the built-in Dracula theme
func DefaultTheme() *Theme {
	return &Theme{
		Meta: ThemeMeta{
			Name:    "Dracula",
			Author:  "Zeno Rocha",
			Variant: "dark",
		},
		Colors: ThemeColors{
			Background: "#282A36",
			Selection:  "#44475A",
			Foreground: "#F8F8F2",
			Comment:    "#6272A4",
			Red:        "#FF5555",
			Orange:     "#FFB86C",
			Green:      "#50FA7B",
			Cyan:       "#8BE9FD",
			Purple:     "#BD93F9",
			Pink:       "#FF79C6",
		},
		Semantic: SemanticColors{
			SidebarFg:         "#F8F8F2",
			SidebarSelected:   "#44475A",
			ChatFg:            "#F8F8F2",
			ChatTimestamp:     "#6272A4",
			ChatUsernameSelf:  "#BD93F9",
			ChatUsernameOther: "#8BE9FD",
			ChatMention:       "#FF79C6",
			ChatAttachment:    "#FFB86C",
			ChatReaction:      "#F1FA8C",
			InputBorder:       "#6272A4",
			InputBorderFocus:  "#BD93F9",
			StatusOnline:      "#50FA7B",
			StatusOffline:     "#6272A4",
			Error:             "#FF5555",
			Info:              "#8BE9FD",
			Border:            "#6272A4",
		},
	}
}
