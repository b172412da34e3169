package domain

import "time"

// TenantKind distinguishes the two workspace flavours.
type TenantKind string

const (
	TenantKindPersonal TenantKind = "personal"
	TenantKindOrg      TenantKind = "org"
)

// RoleKind captures the permission tier a role grants within a tenant.
type RoleKind string

const (
	RoleKindOwner  RoleKind = "owner"
	RoleKindMember RoleKind = "member"
)

// User is the top-level identity. It owns zero or more credential accounts; a user
// left with zero non-deleted accounts is itself soft-deleted.
type User struct {
	ID        string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted reports whether the user has been soft-deleted.
func (u User) IsDeleted() bool { return u.DeletedAt != nil }

// Account is one credential set (email/password or external sign-in) belonging to
// exactly one user at a time.
type Account struct {
	ID           string
	UserID       string
	Email        string
	PasswordHash string
	Provider     *string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (a Account) IsDeleted() bool { return a.DeletedAt != nil }

// Tenant is a workspace. Personal tenants are 1:1 with a user and never deletable;
// org tenants are shared.
type Tenant struct {
	ID        string
	Kind      TenantKind
	Name      string
	OwnerID   *string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted reports whether the tenant has been soft-deleted.
func (t Tenant) IsDeleted() bool { return t.DeletedAt != nil }

// IsPersonal reports whether the tenant is a personal workspace.
func (t Tenant) IsPersonal() bool { return t.Kind == TenantKindPersonal }

// Role carries a kind and a permission set. A role referenced by no remaining
// binding is orphaned and gets soft-deleted alongside its last binding.
type Role struct {
	ID        string
	TenantID  string
	Kind      RoleKind
	Allowed   []string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted reports whether the role has been soft-deleted.
func (r Role) IsDeleted() bool { return r.DeletedAt != nil }

// Allows reports whether the role grants the named permission.
func (r Role) Allows(permission string) bool {
	for _, p := range r.Allowed {
		if p == permission {
			return true
		}
	}
	return false
}

// AccountTenant is the join row granting an account access to a tenant under a
// role. It is the source of truth for "who can act as what, where".
type AccountTenant struct {
	ID        string
	UserID    string
	AccountID string
	TenantID  string
	RoleID    string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted reports whether the binding has been soft-deleted.
func (at AccountTenant) IsDeleted() bool { return at.DeletedAt != nil }

// AsBinding projects the join row into the session-facing triple.
func (at AccountTenant) AsBinding() Binding {
	return Binding{AccountID: at.AccountID, TenantID: at.TenantID, RoleID: at.RoleID}
}

// GroupMembership attaches a user to a group scoped to one tenant. Memberships are
// cascade-deleted with their tenant or user.
type GroupMembership struct {
	ID        string
	GroupID   string
	TenantID  string
	UserID    string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// IsDeleted reports whether the membership has been soft-deleted.
func (m GroupMembership) IsDeleted() bool { return m.DeletedAt != nil }
