package client

import (
	"strings"
	"unicode"

	"github.com/huddle-chat/huddle/internal/models"
)

// Mention is an "@query" being typed. Start is the rune offset of the '@'
// and End the cursor.
type Mention struct {
	Query string
	Start int
	End   int
}

// ActiveMention finds the mention under the cursor. The '@' must start the
// text or follow whitespace, and no whitespace may sit between it and the
// cursor.
func ActiveMention(text string, cursor int) (Mention, bool) {
	runes := []rune(text)
	if cursor > len(runes) {
		cursor = len(runes)
	}

	for i := cursor - 1; i >= 0; i-- {
		r := runes[i]
		if unicode.IsSpace(r) {
			return Mention{}, false
		}
		if r == '@' && (i == 0 || unicode.IsSpace(runes[i-1])) {
			return Mention{Query: string(runes[i+1 : cursor]), Start: i, End: cursor}, true
		}
	}
	return Mention{}, false
}

// MentionCandidates returns the active members whose display name contains
// query, case-insensitively, in roster order.
func MentionCandidates(members []models.Member, query string) []models.Member {
	query = strings.ToLower(query)
	out := []models.Member{}
	for _, m := range members {
		if m.IsActive() && strings.Contains(strings.ToLower(m.DisplayName), query) {
			out = append(out, m)
		}
	}
	return out
}

// ApplyMention replaces the mention with "@name " and returns the new text
// and cursor.
func ApplyMention(text string, m Mention, name string) (string, int) {
	runes := []rune(text)
	if m.Start < 0 || m.End > len(runes) || m.Start > m.End {
		return text, len(runes)
	}

	insert := []rune("@" + name + " ")
	out := make([]rune, 0, len(runes)+len(insert))
	out = append(out, runes[:m.Start]...)
	out = append(out, insert...)
	out = append(out, runes[m.End:]...)
	return string(out), m.Start + len(insert)
}
