package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	srv  *Server
	http *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	config := DefaultConfig()
	config.DatabasePath = filepath.Join(dir, "huddle.db")
	config.UploadDir = filepath.Join(dir, "uploads")
	config.JWTSecret = "test-secret-0123456789"
	config.MaxUploadBytes = 1 << 20

	srv, err := New(config, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Close()
	})
	return &testEnv{srv: srv, http: ts}
}

type testUser struct {
	*models.User
	Token string
}

func (e *testEnv) register(t *testing.T, username string) testUser {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	resp, err := http.Post(e.http.URL+"/api/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return testUser{User: out.User, Token: out.Token}
}

func (e *testEnv) team(t *testing.T, members ...testUser) *models.Team {
	t.Helper()
	team := models.NewTeam("team-" + uuid.NewString()[:8])
	for _, m := range members {
		team.Members = append(team.Members, models.NewMember(m.User, models.RoleMember))
	}
	require.NoError(t, e.srv.DB().CreateTeam(team))
	return team
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event protocol.EventType, data interface{}) {
	t.Helper()
	env, err := protocol.NewEnvelope(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// readEvent returns the next event of the wanted type, skipping others
func readEvent(t *testing.T, conn *websocket.Conn, want protocol.EventType) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var env protocol.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", want)
		if env.Event == want {
			return &env
		}
	}
}

// expectNoEvent asserts that no event of the given type arrives within d
func expectNoEvent(t *testing.T, conn *websocket.Conn, unwanted protocol.EventType, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		assert.NotEqual(t, unwanted, env.Event)
	}
}

func joinTeam(t *testing.T, conn *websocket.Conn, teamID uuid.UUID) {
	t.Helper()
	sendEvent(t, conn, protocol.EventJoinTeam, protocol.TeamPayload{TeamID: teamID})
	var ack protocol.TeamPayload
	require.NoError(t, readEvent(t, conn, protocol.EventJoinedTeam).Decode(&ack))
	require.Equal(t, teamID, ack.TeamID)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	assert.NotEmpty(t, ana.Token)

	resp := env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "ana@example.com", "password": "password123"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "ana@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/register", "", map[string]string{"username": "ana", "email": "ana@example.com", "password": "password123"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/me", ana.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, ana.ID, me.ID)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/me", "", nil).StatusCode)
}

func TestTeamRoutesRequireMembership(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	eve := env.register(t, "eve")
	team := env.team(t, ana)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/teams/"+team.ID.String(), "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/teams/"+team.ID.String(), "garbage", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/teams/"+team.ID.String(), eve.Token, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/teams/"+uuid.NewString(), ana.Token, nil).StatusCode)

	resp := env.do(t, http.MethodGet, "/api/teams/"+team.ID.String(), ana.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Team
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, team.Name, got.Name)
	assert.Len(t, got.Members, 1)

	resp = env.do(t, http.MethodGet, "/api/teams", ana.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var teams []models.Team
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&teams))
	assert.Len(t, teams, 1)
}

func TestCreateMessageBroadcastsToRoomIncludingSender(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	ben := env.register(t, "ben")
	team := env.team(t, ana, ben)

	anaConn := env.dial(t, ana.Token)
	benConn := env.dial(t, ben.Token)
	joinTeam(t, anaConn, team.ID)
	joinTeam(t, benConn, team.ID)

	resp := env.do(t, http.MethodPost, "/api/teams/"+team.ID.String()+"/messages", ana.Token, map[string]string{"content": "hi @ben"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, []uuid.UUID{ben.ID}, created.Mentions)

	for _, conn := range []*websocket.Conn{anaConn, benConn} {
		var msg models.Message
		require.NoError(t, readEvent(t, conn, protocol.EventNewMessage).Decode(&msg))
		assert.Equal(t, created.ID, msg.ID)
		assert.Equal(t, "hi @ben", msg.Content)
		require.NotNil(t, msg.Sender)
		assert.Equal(t, "ana", msg.Sender.Username)
	}

	resp = env.do(t, http.MethodGet, "/api/teams/"+team.ID.String()+"/messages", ben.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ID)
}

func TestEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	team := env.team(t, ana)

	resp := env.do(t, http.MethodPost, "/api/teams/"+team.ID.String()+"/messages", ana.Token, map[string]string{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	eve := env.register(t, "eve")
	team := env.team(t, ana)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("content", "the report"))
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="report.pdf"`)
	header.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.http.URL+"/api/teams/"+team.ID.String()+"/messages", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+ana.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msg models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, models.KindFile, msg.Kind)
	require.Len(t, msg.Attachments, 1)
	url := msg.Attachments[0].URL
	assert.Equal(t, models.AttachmentPath(team.ID, msg.ID, 0), url)

	dl, err := http.Get(env.http.URL + url + "?token=" + ana.Token)
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, `attachment; filename=report.pdf`, dl.Header.Get("Content-Disposition"))
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	cases := []struct {
		path   string
		status int
	}{
		{url + "?token=" + eve.Token, http.StatusForbidden},
		{url + "?token=bogus", http.StatusUnauthorized},
		{url, http.StatusUnauthorized},
		{strings.TrimSuffix(url, "0") + "1?token=" + ana.Token, http.StatusNotFound},
	}
	for _, tc := range cases {
		r, err := http.Get(env.http.URL + tc.path)
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, tc.status, r.StatusCode, tc.path)
	}
}

func TestToggleReactionBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	ben := env.register(t, "ben")
	team := env.team(t, ana, ben)

	benConn := env.dial(t, ben.Token)
	joinTeam(t, benConn, team.ID)

	resp := env.do(t, http.MethodPost, "/api/teams/"+team.ID.String()+"/messages", ana.Token, map[string]string{"content": "ship it"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))

	path := "/api/teams/" + team.ID.String() + "/messages/" + msg.ID.String() + "/reactions"
	resp = env.do(t, http.MethodPost, path, ben.Token, map[string]string{"emoji": "🚀"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var toggled ReactionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&toggled))
	assert.True(t, toggled.Added)
	require.Len(t, toggled.Reactions, 1)

	var update protocol.ReactionUpdatedPayload
	require.NoError(t, readEvent(t, benConn, protocol.EventReactionUpdated).Decode(&update))
	assert.Equal(t, msg.ID, update.MessageID)
	assert.Len(t, update.Reactions, 1)

	resp = env.do(t, http.MethodPost, path, ben.Token, map[string]string{"emoji": "🚀"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&toggled))
	assert.False(t, toggled.Added)
	assert.Empty(t, toggled.Reactions)

	resp = env.do(t, http.MethodPost, "/api/teams/"+team.ID.String()+"/messages/"+uuid.NewString()+"/reactions", ben.Token, map[string]string{"emoji": "🚀"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJoinTeamRejectsNonMembers(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	eve := env.register(t, "eve")
	team := env.team(t, ana)

	conn := env.dial(t, eve.Token)
	sendEvent(t, conn, protocol.EventJoinTeam, protocol.TeamPayload{TeamID: team.ID})

	var payload protocol.ErrorPayload
	require.NoError(t, readEvent(t, conn, protocol.EventError).Decode(&payload))
	assert.Equal(t, protocol.ErrorCodeForbidden, payload.Code)
	require.NotNil(t, payload.TeamID)
	assert.Equal(t, team.ID, *payload.TeamID)
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTypingExcludesSenderAndStopsOnDisconnect(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	ben := env.register(t, "ben")
	team := env.team(t, ana, ben)

	anaConn := env.dial(t, ana.Token)
	benConn := env.dial(t, ben.Token)
	joinTeam(t, anaConn, team.ID)
	joinTeam(t, benConn, team.ID)

	sendEvent(t, anaConn, protocol.EventTyping, protocol.TeamPayload{TeamID: team.ID})

	var typing protocol.UserTypingPayload
	require.NoError(t, readEvent(t, benConn, protocol.EventUserTyping).Decode(&typing))
	assert.Equal(t, ana.ID, typing.UserID)
	assert.Equal(t, "ana", typing.UserName)
	expectNoEvent(t, anaConn, protocol.EventUserTyping, 200*time.Millisecond)

	// Vanishing mid-burst still clears the indicator for the room
	require.NoError(t, anaConn.Close())

	var stop protocol.UserStopTypingPayload
	require.NoError(t, readEvent(t, benConn, protocol.EventUserStopTyping).Decode(&stop))
	assert.Equal(t, ana.ID, stop.UserID)
	assert.Equal(t, team.ID, stop.TeamID)
}

func TestTypingRequiresJoinedRoom(t *testing.T) {
	env := newTestEnv(t)
	ana := env.register(t, "ana")
	team := env.team(t, ana)

	conn := env.dial(t, ana.Token)
	sendEvent(t, conn, protocol.EventTyping, protocol.TeamPayload{TeamID: team.ID})

	var payload protocol.ErrorPayload
	require.NoError(t, readEvent(t, conn, protocol.EventError).Decode(&payload))
	assert.Equal(t, protocol.ErrorCodeForbidden, payload.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "huddle_connected_clients")
}
