package ledger

import "fmt"

// Principal is an opaque, already-authenticated caller identifier
type Principal string

// Role is one of the fixed supply chain roles
type Role string

const (
	RoleFarmSupplier           Role = "FarmSupplier"
	RoleProcessingPlant        Role = "ProcessingPlant"
	RoleCertificationAuthority Role = "CertificationAuthority"
	RoleLogistics              Role = "Logistics"
	RoleRetailer               Role = "Retailer"
)

// AllRoles lists every role in declaration order
var AllRoles = []Role{
	RoleFarmSupplier,
	RoleProcessingPlant,
	RoleCertificationAuthority,
	RoleLogistics,
	RoleRetailer,
}

// adminRoles are pre-granted to the Administrator at initialization
var adminRoles = []Role{RoleFarmSupplier, RoleCertificationAuthority}

// ParseRole converts a role name into a Role
func ParseRole(name string) (Role, error) {
	for _, r := range AllRoles {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", name)
}

// Valid reports whether r is a member of the closed role set
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}
