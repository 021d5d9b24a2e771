package entity

// Designated identities. Anonymous and system actors may write
// entities but never trigger user-attributed background fan-out.
const (
	UserIDAnonymous = "anonymous"
	UserIDSystem    = "system"
)

// UserContext identifies the actor performing a save or delete
type UserContext struct {
	AccountID string
	UserID    string
}

// IsAnonymous reports whether the actor is the designated anonymous user
func (u UserContext) IsAnonymous() bool { return u.UserID == UserIDAnonymous }

// IsSystem reports whether the actor is the designated system user
func (u UserContext) IsSystem() bool { return u.UserID == UserIDSystem }

// HasIdentity reports whether the actor is a real user
func (u UserContext) HasIdentity() bool {
	return u.UserID != "" && !u.IsAnonymous() && !u.IsSystem()
}

// SystemUser returns the system actor for an account
func SystemUser(accountID string) UserContext {
	return UserContext{AccountID: accountID, UserID: UserIDSystem}
}
