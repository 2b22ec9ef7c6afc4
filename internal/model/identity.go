package model

// Identity is who the current request acts as: either Anonymous or
// Authenticated with a User. The zero value is Anonymous.
//
// Callers branch on User() instead of checking optional fields:
//
//	if u, ok := id.User(); ok {
//	    // signed in as u
//	}
type Identity struct {
	user *User
}

// Anonymous returns the identity of a request without a session.
func Anonymous() Identity {
	return Identity{}
}

// Authenticated returns the identity of a signed-in user.
// A nil user yields Anonymous.
func Authenticated(u *User) Identity {
	return Identity{user: u}
}

// User returns the signed-in user and true, or nil and false when anonymous.
func (i Identity) User() (*User, bool) {
	return i.user, i.user != nil
}

// IsAuthenticated reports whether a user is signed in.
func (i Identity) IsAuthenticated() bool {
	return i.user != nil
}

// IsAdmin reports whether the identity is a signed-in administrator.
func (i Identity) IsAdmin() bool {
	return i.user != nil && i.user.Admin
}

// Username returns the signed-in username, or "" when anonymous.
func (i Identity) Username() string {
	if i.user == nil {
		return ""
	}
	return i.user.Username
}
