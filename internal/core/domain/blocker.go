package domain

import "fmt"

// BlockerCode enumerates the deletion blocker conditions.
type BlockerCode string

const (
	// BlockerLastAccount blocks deleting the identity's only remaining account.
	BlockerLastAccount BlockerCode = "last_account"
	// BlockerSoleOwner blocks deleting an account that is the only owner-kind
	// binding on an org tenant.
	BlockerSoleOwner BlockerCode = "sole_owner"
	// BlockerPersonalTenant unconditionally blocks destroying a personal tenant.
	BlockerPersonalTenant BlockerCode = "personal_tenant"
	// BlockerHasMembers surfaces that a tenant still has other members. It is
	// informational; the caller may proceed after confirmation.
	BlockerHasMembers BlockerCode = "has_members"
)

// Blocker is a computed reason preventing (or cautioning against) a destructive
// operation.
type Blocker struct {
	Code          BlockerCode
	Message       string
	TenantID      string
	Informational bool
}

// Hard reports whether the blocker prevents the operation outright.
func (b Blocker) Hard() bool { return !b.Informational }

// NewLastAccountBlocker builds the blocker raised when an account is the only one
// left on its identity.
func NewLastAccountBlocker(accountID string) Blocker {
	return Blocker{
		Code:    BlockerLastAccount,
		Message: fmt.Sprintf("account %s is the only sign-in method for this identity", accountID),
	}
}

// NewSoleOwnerBlocker builds the blocker raised per org tenant on which the
// account holds the only owner-kind binding.
func NewSoleOwnerBlocker(tenantName, tenantID string) Blocker {
	return Blocker{
		Code:     BlockerSoleOwner,
		Message:  fmt.Sprintf("account is the only owner of workspace %q; transfer ownership first", tenantName),
		TenantID: tenantID,
	}
}

// NewPersonalTenantBlocker builds the unconditional blocker for personal tenants.
func NewPersonalTenantBlocker(tenantID string) Blocker {
	return Blocker{
		Code:     BlockerPersonalTenant,
		Message:  "personal workspaces cannot be deleted",
		TenantID: tenantID,
	}
}

// NewHasMembersBlocker builds the informational blocker for populated tenants.
func NewHasMembersBlocker(tenantID string, members int) Blocker {
	return Blocker{
		Code:          BlockerHasMembers,
		Message:       fmt.Sprintf("workspace still has %d members", members),
		TenantID:      tenantID,
		Informational: true,
	}
}

// HardBlockers filters the list down to blockers that abort the operation.
func HardBlockers(blockers []Blocker) []Blocker {
	hard := make([]Blocker, 0, len(blockers))
	for _, b := range blockers {
		if b.Hard() {
			hard = append(hard, b)
		}
	}
	return hard
}

// BlockerMessages flattens blockers into their user-facing messages.
func BlockerMessages(blockers []Blocker) []string {
	messages := make([]string, 0, len(blockers))
	for _, b := range blockers {
		messages = append(messages, b.Message)
	}
	return messages
}
