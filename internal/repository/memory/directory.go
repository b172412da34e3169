// Package memory provides an in-memory Directory used by service tests. It
// mirrors the relational semantics: reads exclude soft-deleted rows, and InTx
// works on a clone of the state so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/repository"
)

// Directory is a threadsafe in-memory identity graph.
type Directory struct {
	mu       sync.Mutex
	state    *state
	failures map[string]error
}

var _ port.Directory = (*Directory)(nil)

type state struct {
	users       map[string]domain.User
	accounts    map[string]domain.Account
	tenants     map[string]domain.Tenant
	roles       map[string]domain.Role
	bindings    map[string]domain.AccountTenant
	memberships map[string]domain.GroupMembership
}

func newState() *state {
	return &state{
		users:       make(map[string]domain.User),
		accounts:    make(map[string]domain.Account),
		tenants:     make(map[string]domain.Tenant),
		roles:       make(map[string]domain.Role),
		bindings:    make(map[string]domain.AccountTenant),
		memberships: make(map[string]domain.GroupMembership),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.bindings {
		c.bindings[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	return c
}

// NewDirectory creates an empty in-memory directory.
func NewDirectory() *Directory {
	return &Directory{state: newState(), failures: make(map[string]error)}
}

// FailNext arms a one-shot failure for the named mutation, e.g. "SoftDeleteTenant".
// The next call to that mutation returns err and is consumed.
func (d *Directory) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = err
}

func (d *Directory) takeFailure(op string) error {
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

// Seed loads rows directly, outside any transaction. Use it to arrange test
// fixtures.
func (d *Directory) Seed(fn func(tx port.DirectoryTx)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&tx{dir: d, state: d.state})
}

// InTx runs fn against a clone of the state and commits only when fn succeeds.
func (d *Directory) InTx(ctx context.Context, fn func(tx port.DirectoryTx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	working := d.state.clone()
	if err := fn(&tx{dir: d, state: working}); err != nil {
		return err
	}
	d.state = working
	return nil
}

func (d *Directory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).GetUser(ctx, userID)
}

func (d *Directory) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).GetAccount(ctx, accountID)
}

func (d *Directory) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).GetAccountByEmail(ctx, email)
}

func (d *Directory) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).GetTenant(ctx, tenantID)
}

func (d *Directory) GetRole(ctx context.Context, roleID string) (*domain.Role, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).GetRole(ctx, roleID)
}

func (d *Directory) ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).ListAccountsByUser(ctx, userID)
}

func (d *Directory) ListBindingsByUser(ctx context.Context, userID string) ([]domain.AccountTenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).ListBindingsByUser(ctx, userID)
}

func (d *Directory) ListBindingsByAccount(ctx context.Context, accountID string) ([]domain.AccountTenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).ListBindingsByAccount(ctx, accountID)
}

func (d *Directory) ListBindingsByTenant(ctx context.Context, tenantID string) ([]domain.AccountTenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).ListBindingsByTenant(ctx, tenantID)
}

func (d *Directory) ListGroupMemberships(ctx context.Context, tenantID, userID string) ([]domain.GroupMembership, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).ListGroupMemberships(ctx, tenantID, userID)
}

func (d *Directory) PersonalTenant(ctx context.Context, userID string) (*domain.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return (&tx{dir: d, state: d.state}).PersonalTenant(ctx, userID)
}

// tx is a DirectoryTx over one state snapshot.
type tx struct {
	dir   *Directory
	state *state
}

var _ port.DirectoryTx = (*tx)(nil)

func (t *tx) GetUser(_ context.Context, userID string) (*domain.User, error) {
	u, ok := t.state.users[userID]
	if !ok || u.IsDeleted() {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (t *tx) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	a, ok := t.state.accounts[accountID]
	if !ok || a.IsDeleted() {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (t *tx) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	email = strings.ToLower(email)
	for _, a := range t.state.accounts {
		if !a.IsDeleted() && strings.ToLower(a.Email) == email {
			account := a
			return &account, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *tx) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	tn, ok := t.state.tenants[tenantID]
	if !ok || tn.IsDeleted() {
		return nil, repository.ErrNotFound
	}
	return &tn, nil
}

func (t *tx) GetRole(_ context.Context, roleID string) (*domain.Role, error) {
	r, ok := t.state.roles[roleID]
	if !ok || r.IsDeleted() {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (t *tx) ListAccountsByUser(_ context.Context, userID string) ([]domain.Account, error) {
	var out []domain.Account
	for _, a := range t.state.accounts {
		if !a.IsDeleted() && a.UserID == userID {
			out = append(out, a)
		}
	}
	sortByID(out, func(a domain.Account) string { return a.ID })
	return out, nil
}

func (t *tx) ListBindingsByUser(_ context.Context, userID string) ([]domain.AccountTenant, error) {
	return t.listBindings(func(b domain.AccountTenant) bool { return b.UserID == userID }), nil
}

func (t *tx) ListBindingsByAccount(_ context.Context, accountID string) ([]domain.AccountTenant, error) {
	return t.listBindings(func(b domain.AccountTenant) bool { return b.AccountID == accountID }), nil
}

func (t *tx) ListBindingsByTenant(_ context.Context, tenantID string) ([]domain.AccountTenant, error) {
	return t.listBindings(func(b domain.AccountTenant) bool { return b.TenantID == tenantID }), nil
}

func (t *tx) listBindings(match func(domain.AccountTenant) bool) []domain.AccountTenant {
	var out []domain.AccountTenant
	for _, b := range t.state.bindings {
		if !b.IsDeleted() && match(b) {
			out = append(out, b)
		}
	}
	sortByID(out, func(b domain.AccountTenant) string { return b.ID })
	return out
}

func (t *tx) ListGroupMemberships(_ context.Context, tenantID, userID string) ([]domain.GroupMembership, error) {
	var out []domain.GroupMembership
	for _, m := range t.state.memberships {
		if m.IsDeleted() {
			continue
		}
		if tenantID != "" && m.TenantID != tenantID {
			continue
		}
		if userID != "" && m.UserID != userID {
			continue
		}
		out = append(out, m)
	}
	sortByID(out, func(m domain.GroupMembership) string { return m.ID })
	return out, nil
}

func (t *tx) PersonalTenant(_ context.Context, userID string) (*domain.Tenant, error) {
	for _, tn := range t.state.tenants {
		if tn.IsDeleted() || !tn.IsPersonal() || tn.OwnerID == nil {
			continue
		}
		if *tn.OwnerID == userID {
			tenant := tn
			return &tenant, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (t *tx) CreateUser(_ context.Context, user domain.User) error {
	if err := t.dir.takeFailure("CreateUser"); err != nil {
		return err
	}
	t.state.users[user.ID] = user
	return nil
}

func (t *tx) CreateAccount(_ context.Context, account domain.Account) error {
	if err := t.dir.takeFailure("CreateAccount"); err != nil {
		return err
	}
	t.state.accounts[account.ID] = account
	return nil
}

func (t *tx) CreateTenant(_ context.Context, tenant domain.Tenant) error {
	if err := t.dir.takeFailure("CreateTenant"); err != nil {
		return err
	}
	t.state.tenants[tenant.ID] = tenant
	return nil
}

func (t *tx) CreateRole(_ context.Context, role domain.Role) error {
	if err := t.dir.takeFailure("CreateRole"); err != nil {
		return err
	}
	t.state.roles[role.ID] = role
	return nil
}

func (t *tx) CreateBinding(_ context.Context, binding domain.AccountTenant) error {
	if err := t.dir.takeFailure("CreateBinding"); err != nil {
		return err
	}
	t.state.bindings[binding.ID] = binding
	return nil
}

func (t *tx) CreateGroupMembership(_ context.Context, membership domain.GroupMembership) error {
	if err := t.dir.takeFailure("CreateGroupMembership"); err != nil {
		return err
	}
	t.state.memberships[membership.ID] = membership
	return nil
}

func (t *tx) ReassignAccount(_ context.Context, accountID, toUserID string) error {
	if err := t.dir.takeFailure("ReassignAccount"); err != nil {
		return err
	}
	a, ok := t.state.accounts[accountID]
	if !ok || a.IsDeleted() {
		return repository.ErrNotFound
	}
	a.UserID = toUserID
	t.state.accounts[accountID] = a
	return nil
}

func (t *tx) ReassignBindingsByUser(_ context.Context, fromUserID, toUserID string) (int, error) {
	if err := t.dir.takeFailure("ReassignBindingsByUser"); err != nil {
		return 0, err
	}
	moved := 0
	for id, b := range t.state.bindings {
		if !b.IsDeleted() && b.UserID == fromUserID {
			b.UserID = toUserID
			t.state.bindings[id] = b
			moved++
		}
	}
	return moved, nil
}

func (t *tx) SoftDeleteUser(_ context.Context, userID string, at time.Time) error {
	if err := t.dir.takeFailure("SoftDeleteUser"); err != nil {
		return err
	}
	u, ok := t.state.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.DeletedAt = &at
	t.state.users[userID] = u
	return nil
}

func (t *tx) SoftDeleteAccount(_ context.Context, accountID string, at time.Time) error {
	if err := t.dir.takeFailure("SoftDeleteAccount"); err != nil {
		return err
	}
	a, ok := t.state.accounts[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	a.DeletedAt = &at
	t.state.accounts[accountID] = a
	return nil
}

func (t *tx) SoftDeleteTenant(_ context.Context, tenantID string, at time.Time) error {
	if err := t.dir.takeFailure("SoftDeleteTenant"); err != nil {
		return err
	}
	tn, ok := t.state.tenants[tenantID]
	if !ok {
		return repository.ErrNotFound
	}
	tn.DeletedAt = &at
	t.state.tenants[tenantID] = tn
	return nil
}

func (t *tx) SoftDeleteBinding(_ context.Context, bindingID string, at time.Time) error {
	if err := t.dir.takeFailure("SoftDeleteBinding"); err != nil {
		return err
	}
	b, ok := t.state.bindings[bindingID]
	if !ok {
		return repository.ErrNotFound
	}
	b.DeletedAt = &at
	t.state.bindings[bindingID] = b
	return nil
}

func (t *tx) SoftDeleteRole(_ context.Context, roleID string, at time.Time) error {
	if err := t.dir.takeFailure("SoftDeleteRole"); err != nil {
		return err
	}
	r, ok := t.state.roles[roleID]
	if !ok {
		return repository.ErrNotFound
	}
	r.DeletedAt = &at
	t.state.roles[roleID] = r
	return nil
}

func (t *tx) SoftDeleteGroupMembership(_ context.Context, membershipID string, at time.Time) error {
	if err := t.dir.takeFailure("SoftDeleteGroupMembership"); err != nil {
		return err
	}
	m, ok := t.state.memberships[membershipID]
	if !ok {
		return repository.ErrNotFound
	}
	m.DeletedAt = &at
	t.state.memberships[membershipID] = m
	return nil
}

func sortByID[T any](items []T, id func(T) string) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}
