package auth

import (
	"fmt"
	"strings"

	"conventions/internal/domain"
)

// Account roles.
const (
	RoleSuperAdmin        = "super_admin"
	RoleAdmin             = "admin"
	RoleChefEtablissement = "chef_etablissement"
	RoleResponsableClasse = "responsable_classe"
	RoleMaitreStage       = "maitre_stage"
	RoleFamille           = "famille"
	RoleEleve             = "eleve"
)

var AllRoles = []string{
	RoleSuperAdmin,
	RoleAdmin,
	RoleChefEtablissement,
	RoleResponsableClasse,
	RoleMaitreStage,
	RoleFamille,
	RoleEleve,
}

// Permissions checked by the API.
const (
	PermConventionCreate  = "convention.create"
	PermConventionDelete  = "convention.delete"
	PermConventionReadAll = "convention.read_all"
	PermUserManage        = "user.manage"
	PermDashboardExport   = "dashboard.export"
	PermConfigManage      = "config.manage"
	PermSignAny           = "signature.any_role"
)

var rolePermissions = map[string][]string{
	RoleSuperAdmin:        {PermConventionCreate, PermConventionDelete, PermConventionReadAll, PermUserManage, PermDashboardExport, PermConfigManage, PermSignAny},
	RoleAdmin:             {PermConventionCreate, PermConventionDelete, PermConventionReadAll, PermUserManage, PermDashboardExport, PermSignAny},
	RoleChefEtablissement: {PermConventionCreate, PermConventionReadAll, PermDashboardExport},
	RoleResponsableClasse: {PermConventionCreate, PermConventionReadAll},
	RoleMaitreStage:       {},
	RoleFamille:           {},
	RoleEleve:             {PermConventionCreate},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// ForbiddenSignerError indicates the account cannot sign for the requested role.
type ForbiddenSignerError struct {
	Role       string
	SignerRole domain.SignerRole
}

func (e ForbiddenSignerError) Error() string {
	return fmt.Sprintf("account role %s cannot sign as %s", e.Role, e.SignerRole)
}

// ValidRole reports whether role is a known account role.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// Permissions expands account roles into their permission set.
func Permissions(roles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range roles {
		for _, p := range rolePermissions[strings.TrimSpace(r)] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// HasPermission checks roles and explicitly granted permissions.
func HasPermission(roles, granted []string, perm string) bool {
	for _, p := range granted {
		if p == perm {
			return true
		}
	}
	for _, p := range Permissions(roles) {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError when perm is missing.
func Require(roles, granted []string, perm string) error {
	if HasPermission(roles, granted, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// signerFor maps account roles to the signer role they sign as.
var signerFor = map[string]domain.SignerRole{
	RoleEleve:             domain.RoleStudent,
	RoleFamille:           domain.RoleParent,
	RoleMaitreStage:       domain.RoleMaitreStage,
	RoleResponsableClasse: domain.RoleResponsableClasse,
	RoleChefEtablissement: domain.RoleChefEtablissement,
}

// SignerRoleFor returns the signer role bound to an account role.
func SignerRoleFor(role string) (domain.SignerRole, bool) {
	r, ok := signerFor[role]
	return r, ok
}

// CanSignAs reports whether any of roles may record a signature for signer.
// Administrators sign on behalf of any party (paper signatures scanned at school).
func CanSignAs(roles, granted []string, signer domain.SignerRole) error {
	if HasPermission(roles, granted, PermSignAny) {
		return nil
	}
	for _, r := range roles {
		if s, ok := signerFor[r]; ok && s == signer {
			return nil
		}
	}
	role := ""
	if len(roles) > 0 {
		role = roles[0]
	}
	return ForbiddenSignerError{Role: role, SignerRole: signer}
}
