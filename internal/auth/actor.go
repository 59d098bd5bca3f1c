package auth

import "strings"

const (
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Actor is the authenticated principal performing an interaction.
type Actor struct {
	UserID string
	Roles  []string
}

// Authenticated reports whether the actor carries a user identity.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.UserID) != ""
}

// IsModerator reports whether the actor may act on content authored by others.
func (a Actor) IsModerator() bool {
	for _, role := range a.Roles {
		switch strings.ToLower(strings.TrimSpace(role)) {
		case RoleModerator, RoleAdmin:
			return true
		}
	}
	return false
}
