package models

import (
	"time"

	"github.com/google/uuid"
)

// TeamStatus is the lifecycle status of a team
type TeamStatus string

const (
	TeamStatusActive   TeamStatus = "active"
	TeamStatusArchived TeamStatus = "archived"
)

// MemberStatus marks whether a member takes part in room presence
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// MemberRole is a member's role within a team
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// Team is a project team. Each team has exactly one room.
type Team struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Status    TeamStatus `json:"status"`
	Members   []Member   `json:"members"`
	CreatedAt time.Time  `json:"created_at"`
}

// Member is a user's membership in a team
type Member struct {
	UserID      uuid.UUID    `json:"user_id"`
	DisplayName string       `json:"display_name"`
	Role        MemberRole   `json:"role"`
	Status      MemberStatus `json:"status"`
	JoinedAt    time.Time    `json:"joined_at"`
}

// NewTeam creates an active team with no members
func NewTeam(name string) *Team {
	return &Team{
		ID:        uuid.New(),
		Name:      name,
		Status:    TeamStatusActive,
		Members:   []Member{},
		CreatedAt: time.Now().UTC(),
	}
}

// NewMember creates an active membership
func NewMember(user *User, role MemberRole) Member {
	return Member{
		UserID:      user.ID,
		DisplayName: user.GetDisplayName(),
		Role:        role,
		Status:      MemberActive,
		JoinedAt:    time.Now().UTC(),
	}
}

// IsActive reports whether the member participates in presence and mentions
func (m Member) IsActive() bool {
	return m.Status == MemberActive
}

// ActiveMembers returns the members with status active, in roster order
func (t *Team) ActiveMembers() []Member {
	active := make([]Member, 0, len(t.Members))
	for _, m := range t.Members {
		if m.IsActive() {
			active = append(active, m)
		}
	}
	return active
}

// Member returns the membership for a user
func (t *Team) Member(userID uuid.UUID) (Member, bool) {
	for _, m := range t.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// IsActiveMember reports whether the user is an active member of the team
func (t *Team) IsActiveMember(userID uuid.UUID) bool {
	m, ok := t.Member(userID)
	return ok && m.IsActive()
}
