package models

// Identity is the verified caller handed to every mutating operation.
// Authentication happens before it is built; this type only carries the result.
type Identity struct {
	Actor string `json:"actor"`
	Role  Role   `json:"role"`
	Site  string `json:"site"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanActOnSite reports whether the identity may mutate ledgers of site.
// Admins act on any site; operators only on their own.
func (i Identity) CanActOnSite(site string) bool {
	if i.Actor == "" {
		return false
	}
	if i.IsAdmin() {
		return true
	}
	return i.Role == RoleOperator && i.Site != "" && i.Site == site
}

func (i Identity) RequireAdmin(action string) error {
	if i.Actor == "" || !i.IsAdmin() {
		return &ForbiddenError{Actor: i.Actor, Action: action}
	}
	return nil
}

func (i Identity) RequireSite(site, action string) error {
	if !i.CanActOnSite(site) {
		return &ForbiddenError{Actor: i.Actor, Action: action + " at " + site}
	}
	return nil
}
