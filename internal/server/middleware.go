package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/auth"
	"github.com/huddle-chat/huddle/internal/database"
	"github.com/huddle-chat/huddle/internal/models"
	"go.uber.org/zap"
)

type ctxKey int

const (
	userKey ctxKey = iota
	teamKey
)

func userFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey).(*models.User)
	return user
}

func teamFrom(ctx context.Context) *models.Team {
	team, _ := ctx.Value(teamKey).(*models.Team)
	return team
}

// bearerToken extracts the credential from the Authorization header, or from
// the token query parameter when allowQuery is set (websocket upgrades and
// attachment downloads cannot carry headers).
func bearerToken(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// requireAuth rejects requests without a valid bearer credential
func (s *Server) requireAuth(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r, allowQuery)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token")
				return
			}

			user, err := s.handlers.Authenticate(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					writeError(w, http.StatusUnauthorized, "token_expired", "Session expired")
					return
				}
				if errors.Is(err, auth.ErrInvalidToken) {
					writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
					return
				}
				s.logger.Error("authenticate request", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// requireMember loads {teamID} and rejects callers that are not active members
func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID, err := uuid.Parse(chi.URLParam(r, "teamID"))
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "Team not found")
			return
		}

		team, err := s.db.GetTeam(teamID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "Team not found")
				return
			}
			s.logger.Error("load team", zap.Error(err), zap.Stringer("team_id", teamID))
			writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
			return
		}

		if !team.IsActiveMember(userFrom(r.Context()).ID) {
			writeError(w, http.StatusForbidden, "forbidden", "Not a member of this team")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), teamKey, team)))
	})
}

// requestLogger logs each request through zap
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
