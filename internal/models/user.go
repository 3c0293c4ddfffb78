package models

// Role identifies the kind of account a user id refers to. Identity is
// owned by the auth service; this backend only ever sees the id and role.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// UserRef is the slice of user data the realtime core needs. It is a
// read-only projection of the auth service's user record.
type UserRef struct {
	ID          string `json:"id"`
	Role        Role   `json:"role,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}
