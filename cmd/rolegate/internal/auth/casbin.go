package auth

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/casbin/casbin/v2/util"
)

//go:embed model.conf
var casbinModelContent string

// CasbinPermissionStore answers role→permission lookups from a casbin policy
// file instead of the role_permissions table. Policies look like:
//
//	p, org_admin, users:read
//	g, org_admin, id_gen_user
//
// Role inheritance (g lines) is honoured, so org_admin above also receives
// every permission granted to id_gen_user.
type CasbinPermissionStore struct {
	enforcer casbin.IEnforcer
}

// NewCasbinPermissionStore loads the embedded model and the policy file at path.
func NewCasbinPermissionStore(path string) (*CasbinPermissionStore, error) {
	m, err := model.NewModelFromString(casbinModelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(path))
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}

	return &CasbinPermissionStore{enforcer: enforcer}, nil
}

// PermissionsForRoles returns every permission granted to roles, including
// inherited ones. Duplicates are returned as-is; the resolver collapses them.
func (s *CasbinPermissionStore) PermissionsForRoles(ctx context.Context, roles []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var perms []string
	for _, role := range roles {
		rules, err := s.enforcer.GetImplicitPermissionsForUser(role)
		if err != nil {
			return nil, fmt.Errorf("implicit permissions for %s: %w", role, err)
		}
		for _, rule := range rules {
			if len(rule) >= 2 {
				perms = append(perms, rule[1])
			}
		}
	}
	return perms, nil
}

// MatchPath reports whether path matches a route pattern. A trailing "*"
// matches any suffix ("/admin*" matches "/admin" and "/admin/users").
func MatchPath(path, pattern string) bool {
	return util.KeyMatch(path, pattern)
}
