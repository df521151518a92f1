package domain

import "strings"

// Role of an authenticated caller, as asserted by the auth provider.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleTradie Role = "tradie"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// SystemActor is recorded as ReleasedBy for sweeps and other unattended work.
const SystemActor = "system"

// Caller is the already-authenticated identity an operation runs on behalf of.
type Caller struct {
	UserID string
	Role   Role
}

// SystemCaller is used by scheduled jobs and provider callbacks.
func SystemCaller() Caller { return Caller{UserID: SystemActor, Role: RoleSystem} }

func (c Caller) Valid() bool { return strings.TrimSpace(c.UserID) != "" }

// Privileged callers may act on any record.
func (c Caller) Privileged() bool { return c.Role == RoleAdmin || c.Role == RoleSystem }

// User mirrors the identity provider's profile for the fields the core needs.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Role     Role   `json:"role"`
	ParentID string `json:"parent_id,omitempty"` // referring parent tradie, if any
}

func (u User) HasParent() bool { return strings.TrimSpace(u.ParentID) != "" }
