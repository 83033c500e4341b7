package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/database"
	"github.com/huddle-chat/huddle/internal/models"
	"github.com/huddle-chat/huddle/internal/protocol"
	"github.com/huddle-chat/huddle/internal/storage"
	"github.com/huddle-chat/huddle/pkg/crypto"
	"go.uber.org/zap"
)

const (
	maxHistoryLimit = 500
	maxEmojiBytes   = 64
	multipartMemory = 8 << 20
)

// AuthResponse is returned by register and login
type AuthResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// ReactionsResponse is returned by a reaction toggle
type ReactionsResponse struct {
	MessageID uuid.UUID         `json:"message_id"`
	Reactions []models.Reaction `json:"reactions"`
	Added     bool              `json:"added"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// handleRegister handles user registration
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	// Validate input
	if n := utf8.RuneCountInString(req.Username); n < 2 || n > 32 || strings.ContainsAny(req.Username, " \t\n@") {
		writeError(w, http.StatusBadRequest, "invalid_username", "Username must be 2-32 characters without spaces or @")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_email", "Invalid email address")
		return
	}
	if len(req.Password) < crypto.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "invalid_password", "Password must be at least 8 characters")
		return
	}

	passwordHash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	user := models.NewUser(req.Username, req.Email)
	user.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := s.db.CreateUser(user, passwordHash); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			writeError(w, http.StatusConflict, "conflict", "Email or username already registered")
			return
		}
		s.logger.Error("create user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	s.respondWithToken(w, http.StatusCreated, user)
}

// handleLogin handles user login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	user, passwordHash, err := s.db.GetUserByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			s.logger.Error("load user", zap.Error(err))
		}
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}
	if !crypto.CheckPassword(req.Password, passwordHash) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	}

	s.respondWithToken(w, http.StatusOK, user)
}

func (s *Server) respondWithToken(w http.ResponseWriter, status int, user *models.User) {
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		s.logger.Error("issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	writeJSON(w, status, AuthResponse{User: user, Token: token})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC(),
	})
}

// handleMe returns the user the bearer token belongs to
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r.Context()))
}

// handleListTeams returns the caller's teams
func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.db.GetUserTeams(userFrom(r.Context()).ID)
	if err != nil {
		s.logger.Error("list teams", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	if teams == nil {
		teams = []*models.Team{}
	}
	writeJSON(w, http.StatusOK, teams)
}

// handleGetTeam returns a team with its roster
func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, teamFrom(r.Context()))
}

// handleListMessages returns the team's history in ascending creation order
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := s.config.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	messages, err := s.db.GetTeamMessages(teamFrom(r.Context()).ID, limit)
	if err != nil {
		s.logger.Error("list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleCreateMessage stores a message and broadcasts new-message to the room,
// the sender's own connections included. The body is either JSON {content}
// or a multipart form with a content field and an optional file.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	team := teamFrom(r.Context())
	msg := models.NewMessage(team.ID, user.ID, "")

	var keys []string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid multipart body")
			return
		}
		defer r.MultipartForm.RemoveAll()

		msg.Content = r.FormValue("content")
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			key, attachment, err := s.storeUpload(files[0].Filename, files[0].Header.Get("Content-Type"), func() (io.ReadCloser, error) {
				return files[0].Open()
			})
			if err != nil {
				if errors.Is(err, storage.ErrTooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Attachment exceeds the upload limit")
					return
				}
				s.logger.Error("store upload", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal", "Failed to store attachment")
				return
			}
			msg.AddAttachment(attachment)
			keys = append(keys, key)
		}
	} else {
		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
		msg.Content = req.Content
	}

	msg.Content = strings.TrimSpace(msg.Content)
	if err := msg.Validate(); err != nil {
		s.discardUploads(keys)
		writeError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}

	for i := range msg.Attachments {
		msg.Attachments[i].URL = models.AttachmentPath(team.ID, msg.ID, i)
	}
	msg.Mentions = models.ExtractMentions(msg.Content, team.Members)
	msg.Sender = user

	if err := s.db.CreateMessage(msg, keys); err != nil {
		s.discardUploads(keys)
		s.logger.Error("create message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Failed to save message")
		return
	}
	s.metrics.MessagesCreated.WithLabelValues(string(msg.Kind)).Inc()

	if err := s.hub.BroadcastToTeam(team.ID, protocol.EventNewMessage, &protocol.NewMessagePayload{Message: msg}, nil); err != nil {
		s.logger.Error("broadcast new-message", zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, msg)
}

// storeUpload writes an uploaded file to storage, sniffing the media type
// when the client did not declare a useful one.
func (s *Server) storeUpload(filename, declared string, open func() (io.ReadCloser, error)) (string, models.Attachment, error) {
	f, err := open()
	if err != nil {
		return "", models.Attachment{}, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 512)
	mediaType := declared
	if parsed, _, err := mime.ParseMediaType(declared); err != nil || parsed == "application/octet-stream" {
		head, _ := br.Peek(512)
		mediaType = http.DetectContentType(head)
	}

	key, size, err := s.disk.Save(br, s.config.MaxUploadBytes)
	if err != nil {
		return "", models.Attachment{}, err
	}

	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return key, models.Attachment{Filename: name, MediaType: mediaType, Size: size}, nil
}

func (s *Server) discardUploads(keys []string) {
	for _, key := range keys {
		if err := s.disk.Delete(key); err != nil {
			s.logger.Warn("discard upload", zap.String("key", key), zap.Error(err))
		}
	}
}

// handleToggleReaction adds or removes the caller's emoji reaction and
// broadcasts the resulting set to the room
func (s *Server) handleToggleReaction(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	team := teamFrom(r.Context())

	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	req.Emoji = strings.TrimSpace(req.Emoji)
	if req.Emoji == "" || len(req.Emoji) > maxEmojiBytes {
		writeError(w, http.StatusBadRequest, "invalid_emoji", "Invalid emoji")
		return
	}

	if _, err := s.db.GetMessage(team.ID, messageID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Message not found")
			return
		}
		s.logger.Error("load message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	reactions, added, err := s.db.ToggleReaction(messageID, user.ID, req.Emoji)
	if err != nil {
		s.logger.Error("toggle reaction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Failed to update reaction")
		return
	}
	s.metrics.ReactionToggles.Inc()

	payload := &protocol.ReactionUpdatedPayload{TeamID: team.ID, MessageID: messageID, Reactions: reactions}
	if err := s.hub.BroadcastToTeam(team.ID, protocol.EventReactionUpdated, payload, nil); err != nil {
		s.logger.Error("broadcast reaction-updated", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, ReactionsResponse{MessageID: messageID, Reactions: reactions, Added: added})
}

// handleDownload streams an attachment with a Content-Disposition filename
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	team := teamFrom(r.Context())

	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Attachment not found")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusNotFound, "not_found", "Attachment not found")
		return
	}

	attachment, err := s.db.GetAttachment(team.ID, messageID, index)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "Attachment not found")
			return
		}
		s.logger.Error("load attachment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}

	f, err := s.disk.Open(attachment.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("attachment bytes missing", zap.String("key", attachment.StorageKey))
			writeError(w, http.StatusNotFound, "not_found", "Attachment not found")
			return
		}
		s.logger.Error("open attachment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", attachment.MediaType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(w, r, attachment.Filename, modTime, f)
}

// handleWebSocket upgrades an authenticated request to the live channel
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, s.hub, s.handlers, user, s.logger)
	s.hub.Register(client)

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()
}
