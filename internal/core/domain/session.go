package domain

import "time"

// Binding identifies one account/tenant/role combination a session may act as.
type Binding struct {
	AccountID string `json:"account_id"`
	TenantID  string `json:"tenant_id"`
	RoleID    string `json:"role_id"`
}

// SamePlacement reports whether two bindings target the same account and tenant,
// ignoring the role. Sessions de-duplicate bindings by placement.
func (b Binding) SamePlacement(other Binding) bool {
	return b.AccountID == other.AccountID && b.TenantID == other.TenantID
}

// Session represents one authenticated client context. The ID is derived from the
// opaque session token by one-way hash; the token itself is never stored.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	CurrentAccountID string     `json:"current_account_id"`
	CurrentTenantID  string     `json:"current_tenant_id"`
	CurrentRoleID    string     `json:"current_role_id"`
	Bindings         []Binding  `json:"bindings"`
	CreatedAt        time.Time  `json:"created_at"`
	LastActivity     time.Time  `json:"last_activity"`
	ExpiresAt        time.Time  `json:"expires_at"`
	IPAddress        *string    `json:"ip_address,omitempty"`
	UserAgent        *string    `json:"user_agent,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// Current returns the session's current binding triple.
func (s Session) Current() Binding {
	return Binding{AccountID: s.CurrentAccountID, TenantID: s.CurrentTenantID, RoleID: s.CurrentRoleID}
}

// IsActive reports whether the session is still valid (not revoked and not expired
// at the supplied moment).
func (s Session) IsActive(at time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt.After(at)
}

// HasBinding reports whether the session holds a binding for the given account and
// tenant pair.
func (s Session) HasBinding(accountID, tenantID string) (Binding, bool) {
	for _, b := range s.Bindings {
		if b.AccountID == accountID && b.TenantID == tenantID {
			return b, true
		}
	}
	return Binding{}, false
}

// FindTenantBinding returns the first binding granting access to the given tenant.
func (s Session) FindTenantBinding(tenantID string) (Binding, bool) {
	for _, b := range s.Bindings {
		if b.TenantID == tenantID {
			return b, true
		}
	}
	return Binding{}, false
}

// SetCurrent rewrites the current triple. The caller is responsible for verifying
// that the triple is held in Bindings or otherwise authorized.
func (s *Session) SetCurrent(b Binding) {
	s.CurrentAccountID = b.AccountID
	s.CurrentTenantID = b.TenantID
	s.CurrentRoleID = b.RoleID
}

// AddBinding appends the binding unless another binding with the same placement is
// already present.
func (s *Session) AddBinding(b Binding) bool {
	for _, existing := range s.Bindings {
		if existing.SamePlacement(b) {
			return false
		}
	}
	s.Bindings = append(s.Bindings, b)
	return true
}

// RemoveBindings drops every binding matching the predicate and returns how many
// were removed.
func (s *Session) RemoveBindings(dead func(Binding) bool) int {
	kept := s.Bindings[:0]
	removed := 0
	for _, b := range s.Bindings {
		if dead(b) {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	s.Bindings = kept
	return removed
}

// Touch updates activity metadata for the session.
func (s *Session) Touch(at time.Time, ip, userAgent *string) {
	s.LastActivity = at
	if ip != nil {
		ipCopy := *ip
		s.IPAddress = &ipCopy
	}
	if userAgent != nil {
		uaCopy := *userAgent
		s.UserAgent = &uaCopy
	}
}

// Revoke marks the session revoked. Revocation is permanent; returns true when the
// session changed state.
func (s *Session) Revoke(at time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	s.RevokedAt = &at
	return true
}
