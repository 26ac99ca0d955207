package shared

import (
	"fmt"
	"sort"
)

// Scope is a capability carried on a principal.
type Scope string

const (
	ScopeAuthenticated Scope = "authenticated"
	ScopeAdmin         Scope = "admin"
	ScopeModerator     Scope = "moderator"
	ScopeSuperuser     Scope = "superuser"
)

// User is the request principal. A user without the authenticated scope is
// the null user.
type User struct {
	Username          string
	Scopes            map[Scope]struct{}
	AdminProjects     map[string]struct{}
	ModeratorProjects map[string]struct{}
	// Token is the on-wire session token the user authenticated with.
	Token string
}

// NullUser returns an unauthenticated principal.
func NullUser() *User {
	return &User{}
}

// NewUser builds a principal from a session. The authenticated scope is always added.
func NewUser(token string, sess Session) *User {
	u := &User{
		Username:          sess.User,
		Scopes:            make(map[Scope]struct{}, len(sess.Data.Scopes)+1),
		AdminProjects:     toSet(sess.Data.Projects),
		ModeratorProjects: toSet(sess.Data.ModeratorProjects),
		Token:             token,
	}
	for _, s := range sess.Data.Scopes {
		u.Scopes[Scope(s)] = struct{}{}
	}
	u.Scopes[ScopeAuthenticated] = struct{}{}
	return u
}

// IsAuthenticated reports whether u carries the authenticated scope.
func (u *User) IsAuthenticated() bool {
	return u.HasScope(ScopeAuthenticated)
}

// Identity returns the username. It fails on the null user.
func (u *User) Identity() (string, error) {
	if !u.IsAuthenticated() {
		return "", fmt.Errorf("%w: null user has no identity", ErrInvalidState)
	}
	return u.Username, nil
}

// DisplayName returns the name shown to other users. It fails on the null user.
func (u *User) DisplayName() (string, error) {
	if !u.IsAuthenticated() {
		return "", fmt.Errorf("%w: null user has no display name", ErrInvalidState)
	}
	return u.Username, nil
}

// HasScope reports whether u carries scope.
func (u *User) HasScope(scope Scope) bool {
	if u == nil {
		return false
	}
	_, ok := u.Scopes[scope]
	return ok
}

// HasScopes reports whether u carries every scope.
func (u *User) HasScopes(scopes ...Scope) bool {
	for _, s := range scopes {
		if !u.HasScope(s) {
			return false
		}
	}
	return true
}

// IsSuperuser reports whether u is a superuser.
func (u *User) IsSuperuser() bool {
	return u.HasScope(ScopeSuperuser)
}

// IsAdminIn reports project admin rights. Superusers are admins everywhere.
// The check does not require authentication.
func (u *User) IsAdminIn(project string) bool {
	if u.IsSuperuser() {
		return true
	}
	if !u.HasScope(ScopeAdmin) {
		return false
	}
	_, ok := u.AdminProjects[project]
	return ok
}

// IsModeratorIn reports project moderator rights. Superusers moderate everywhere.
func (u *User) IsModeratorIn(project string) bool {
	if u.IsSuperuser() {
		return true
	}
	if !u.HasScope(ScopeModerator) {
		return false
	}
	_, ok := u.ModeratorProjects[project]
	return ok
}

// ScopeList returns the scopes sorted.
func (u *User) ScopeList() []string {
	out := make([]string, 0, len(u.Scopes))
	for s := range u.Scopes {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

// AdminProjectList returns the admin projects sorted.
func (u *User) AdminProjectList() []string {
	return fromSet(u.AdminProjects)
}

// ModeratorProjectList returns the moderator projects sorted.
func (u *User) ModeratorProjectList() []string {
	return fromSet(u.ModeratorProjects)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func fromSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
