package model

import "time"

// Role is the closed set of account roles. Anything else sees nothing.
type Role string

const (
	RoleBusinessOwner Role = "business_owner"
	RoleCustomer      Role = "customer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBusinessOwner, RoleCustomer:
		return true
	}
	return false
}

type User struct {
	UserID       int64      `json:"userid"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never JSON-encode
	Role         Role       `json:"role"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}
