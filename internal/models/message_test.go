package models

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKindFromMediaType(t *testing.T) {
	cases := map[string]MessageKind{
		"image/png":       KindImage,
		"IMAGE/JPEG":      KindImage,
		"video/mp4":       KindVideo,
		"application/pdf": KindFile,
		"":                KindFile,
	}
	for mediaType, want := range cases {
		assert.Equal(t, want, KindFromMediaType(mediaType), mediaType)
	}
}

func TestMessageValidate(t *testing.T) {
	team, sender := uuid.New(), uuid.New()

	msg := NewMessage(team, sender, "hello")
	assert.NoError(t, msg.Validate())

	empty := NewMessage(team, sender, "   ")
	assert.ErrorIs(t, empty.Validate(), ErrEmptyMessage)

	long := NewMessage(team, sender, strings.Repeat("x", MaxContentLength+1))
	assert.ErrorIs(t, long.Validate(), ErrContentTooLong)

	file := NewMessage(team, sender, "")
	file.AddAttachment(Attachment{Filename: "a.png", MediaType: "image/png"})
	assert.Equal(t, KindImage, file.Kind)
	assert.NoError(t, file.Validate())

	noFile := NewMessage(team, sender, "caption")
	noFile.Kind = KindVideo
	assert.ErrorIs(t, noFile.Validate(), ErrKindMismatch)
}

func TestAddAttachmentIndexes(t *testing.T) {
	msg := NewMessage(uuid.New(), uuid.New(), "")
	msg.AddAttachment(Attachment{Filename: "a.pdf", MediaType: "application/pdf"})
	msg.AddAttachment(Attachment{Filename: "b.png", MediaType: "image/png"})

	assert.Equal(t, KindFile, msg.Kind)
	a, ok := msg.Attachment(1)
	assert.True(t, ok)
	assert.Equal(t, 1, a.Index)
	assert.Equal(t, "b.png", a.Filename)

	_, ok = msg.Attachment(2)
	assert.False(t, ok)
}

func TestExtractMentions(t *testing.T) {
	alice := Member{UserID: uuid.New(), DisplayName: "Alice", Status: MemberActive}
	alBundy := Member{UserID: uuid.New(), DisplayName: "Al Bundy", Status: MemberActive}
	gone := Member{UserID: uuid.New(), DisplayName: "Gone", Status: MemberInactive}
	members := []Member{alice, alBundy, gone}

	assert.Equal(t, []uuid.UUID{alice.UserID}, ExtractMentions("hey @alice, look", members))
	assert.Equal(t, []uuid.UUID{alBundy.UserID}, ExtractMentions("@Al Bundy ping", members))
	assert.Empty(t, ExtractMentions("mail@alice.com", members))
	assert.Empty(t, ExtractMentions("@gone hello", members))
	assert.Empty(t, ExtractMentions("@alicex", members))
	assert.Len(t, ExtractMentions("@alice and @alice", members), 1)
}
