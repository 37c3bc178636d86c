package domain

import "strings"

// ID is used across domain entities.
type ID int64

// Role is the authorization role carried by an authenticated subject.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
)

// NormalizeRole lowercases and trims role labels coming from tokens.
func NormalizeRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// Elevated roles may update requests they do not own.
func (r Role) Elevated() bool {
	switch NormalizeRole(string(r)) {
	case RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Subject is an authenticated identity.
type Subject struct {
	UserID ID   `json:"userId"`
	Role   Role `json:"role"`
}
