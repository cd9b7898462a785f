package entity

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// UserLoginData is what the Auth Guard extracts from a verified token.
type UserLoginData struct {
	ID    string
	Email string
	Role  Role
}

func (u UserLoginData) IsAdmin() bool {
	return u.Role == RoleAdmin
}
