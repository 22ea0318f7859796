// --- models/models.go ---
package models

import "time"

// Role is the access level derived for a subject from the user directory.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents an application user in the directory. A record is
// created the first time a subject presents a valid token.
type User struct {
	SubjectID string    `json:"subjectId"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Role maps the stored admin flag onto a Role.
func (u *User) Role() Role {
	if u.IsAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Identity is the per-request view of the caller. It lives in the request
// context and is never persisted.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Authenticated reports whether the identity names a subject at all.
func (i Identity) Authenticated() bool {
	return i.SubjectID != ""
}
