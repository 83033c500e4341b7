package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
)

// DefaultRequestTimeout bounds each REST call
const DefaultRequestTimeout = 15 * time.Second

// API is the REST client for the server
type API struct {
	baseURL string
	creds   *Credentials
	http    *http.Client

	// HistoryLimit is sent as ?limit= when positive
	HistoryLimit int
}

// NewAPI creates a REST client for serverAddr that authenticates with creds
func NewAPI(serverAddr string, creds *Credentials, timeout time.Duration) (*API, error) {
	base, err := baseURL(serverAddr)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &API{
		baseURL: base,
		creds:   creds,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Login exchanges email and password for a token and stores it
func (a *API) Login(ctx context.Context, email, password string) (*models.User, error) {
	var resp authResponse
	err := a.doJSON(ctx, http.MethodPost, "/api/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	a.creds.Set(resp.Token, resp.User)
	return resp.User, nil
}

// Register creates an account, then stores the returned token
func (a *API) Register(ctx context.Context, username, displayName, email, password string) (*models.User, error) {
	var resp authResponse
	err := a.doJSON(ctx, http.MethodPost, "/api/register", map[string]string{
		"username":     username,
		"display_name": displayName,
		"email":        email,
		"password":     password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	a.creds.Set(resp.Token, resp.User)
	return resp.User, nil
}

// Resume adopts a saved token, checking it with the server first. A
// rejected token leaves the credentials empty.
func (a *API) Resume(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNoCredential
	}
	a.creds.Set(token, nil)

	var user models.User
	if err := a.doJSON(ctx, http.MethodGet, "/api/me", nil, &user); err != nil {
		a.creds.Clear()
		return nil, err
	}
	a.creds.Set(token, &user)
	return &user, nil
}

// Teams lists the teams the signed-in user belongs to
func (a *API) Teams(ctx context.Context) ([]*models.Team, error) {
	var teams []*models.Team
	if err := a.doJSON(ctx, http.MethodGet, "/api/teams", nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// Team loads a team with its roster
func (a *API) Team(ctx context.Context, teamID uuid.UUID) (*models.Team, error) {
	var team models.Team
	if err := a.doJSON(ctx, http.MethodGet, "/api/teams/"+teamID.String(), nil, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// FetchHistory loads the team's recent messages in ascending order
func (a *API) FetchHistory(ctx context.Context, teamID uuid.UUID) ([]*models.Message, error) {
	path := "/api/teams/" + teamID.String() + "/messages"
	if a.HistoryLimit > 0 {
		path += "?limit=" + strconv.Itoa(a.HistoryLimit)
	}
	var messages []*models.Message
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendMessage posts a text message. The stored message arrives through the
// live channel; the returned copy is informational.
func (a *API) SendMessage(ctx context.Context, teamID uuid.UUID, content string) (*models.Message, error) {
	var msg models.Message
	err := a.doJSON(ctx, http.MethodPost, "/api/teams/"+teamID.String()+"/messages",
		map[string]string{"content": content}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendAttachment posts a message carrying one file
func (a *API) SendAttachment(ctx context.Context, teamID uuid.UUID, content, filename string, r io.Reader) (*models.Message, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("content", content); err != nil {
		return nil, err
	}

	mediaType := mime.TypeByExtension(filepath.Ext(filename))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": filepath.Base(filename),
	}))
	header.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg models.Message
	err = a.do(ctx, http.MethodPost, "/api/teams/"+teamID.String()+"/messages", mw.FormDataContentType(), &body, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ToggleReaction adds or removes the caller's emoji and returns the
// message's full reaction list
func (a *API) ToggleReaction(ctx context.Context, teamID, messageID uuid.UUID, emoji string) ([]models.Reaction, error) {
	var resp struct {
		Reactions []models.Reaction `json:"reactions"`
	}
	path := fmt.Sprintf("/api/teams/%s/messages/%s/reactions", teamID, messageID)
	if err := a.doJSON(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, &resp); err != nil {
		return nil, err
	}
	if resp.Reactions == nil {
		resp.Reactions = []models.Reaction{}
	}
	return resp.Reactions, nil
}

func (a *API) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return a.do(ctx, method, path, contentType, body, out)
}

func (a *API) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := a.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er errorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er) == nil {
			apiErr.Code = er.Error
			apiErr.Message = er.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
