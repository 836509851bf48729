package domain

import "slices"

const RoleAdmin = "admin"

// CallerMetadata identifies who is asking for an operation
type CallerMetadata struct {
	UserID    string   `json:"userId"`
	Roles     []string `json:"roles,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

func (c CallerMetadata) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// SystemCaller is used by background processes that act on behalf of no user
func SystemCaller() CallerMetadata {
	return CallerMetadata{UserID: "system", Roles: []string{RoleAdmin}}
}
