package models

const (
	RoleUser     = "user"
	RoleOperator = "operator"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) IsOperator() bool {
	return a.Role == RoleOperator
}
