package rbac

// Override hands a module to roles whose names do not map onto it. Roles
// are compared as stored, without normalisation.
type Override struct {
	Module string
	Roles  []string
}

// DefaultOverrides are the ownership exceptions of the standard menu.
//
//   - keuangan is shared by the treasurer and the finance administrator.
//   - wali_asuh kept its underscore when the module was renamed, so the
//     normalised role "wali-asuh" never matches it.
var DefaultOverrides = []Override{
	{Module: "keuangan", Roles: []string{"bendahara", "admin_keuangan"}},
	{Module: "wali_asuh", Roles: []string{"wali_asuh"}},
}

func (o Override) allows(role string) bool {
	for _, r := range o.Roles {
		if r == role {
			return true
		}
	}
	return false
}
