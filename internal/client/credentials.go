package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/huddle-chat/huddle/internal/models"
)

// Credentials holds the bearer token issued at login and the signed-in user
type Credentials struct {
	mu    sync.RWMutex
	token string
	user  *models.User
}

// Set stores a token and the user it belongs to
func (c *Credentials) Set(token string, user *models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.user = user
}

// Token returns the bearer token, or "" when signed out
func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// User returns the signed-in user, or nil
func (c *Credentials) User() *models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// UserID returns the signed-in user's ID, or uuid.Nil
func (c *Credentials) UserID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return uuid.Nil
	}
	return c.user.ID
}

// Clear forgets the token and user
func (c *Credentials) Clear() {
	c.Set("", nil)
}
