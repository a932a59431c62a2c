// Package rbac gates HTTP routes by the caller's role.
package rbac

import (
	"context"
	"net/http"
	"strings"
)

// Checker answers permission questions for a role policy. A grant ending in
// "*" covers every permission with that prefix; "*" alone covers everything.
type Checker struct {
	exact  map[string]map[string]bool
	prefix map[string][]string
}

func NewChecker(policy map[string][]string) *Checker {
	if policy == nil {
		policy = RolePermissions
	}
	c := &Checker{exact: map[string]map[string]bool{}, prefix: map[string][]string{}}
	for role, grants := range policy {
		c.exact[role] = map[string]bool{}
		for _, g := range grants {
			if p, ok := strings.CutSuffix(g, "*"); ok {
				c.prefix[role] = append(c.prefix[role], p)
				continue
			}
			c.exact[role][g] = true
		}
	}
	return c
}

func (c *Checker) Has(role, perm string) bool {
	if c.exact[role][perm] {
		return true
	}
	for _, p := range c.prefix[role] {
		if strings.HasPrefix(perm, p) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}

var defaultChecker = NewChecker(nil)

// Allowed reports whether the role in ctx holds perm.
func Allowed(ctx context.Context, perm string) bool {
	return defaultChecker.Has(RoleFromContext(ctx), perm)
}

// Require rejects requests whose role lacks every one of perms.
func Require(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !defaultChecker.Any(RoleFromContext(r.Context()), perms...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
