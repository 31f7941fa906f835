package auth

import "habitat/server/internal/models"

// Caller is the identity behind a request: either anonymous or an
// authenticated user. The zero value is anonymous.
type Caller struct {
	user *models.User
}

func Anonymous() Caller {
	return Caller{}
}

func Authenticated(user *models.User) Caller {
	return Caller{user: user}
}

// User returns the authenticated user, or false for an anonymous caller.
func (c Caller) User() (*models.User, bool) {
	return c.user, c.user != nil
}

func (c Caller) IsAnonymous() bool {
	return c.user == nil
}

func (c Caller) String() string {
	if c.user == nil {
		return "anonymous"
	}
	return c.user.Username
}
