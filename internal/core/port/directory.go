package port

import (
	"context"
	"time"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
)

// DirectoryReader exposes read access to the durable identity graph. All lookups
// exclude soft-deleted rows and return repository.ErrNotFound for misses.
type DirectoryReader interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	GetRole(ctx context.Context, roleID string) (*domain.Role, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error)
	ListBindingsByUser(ctx context.Context, userID string) ([]domain.AccountTenant, error)
	ListBindingsByAccount(ctx context.Context, accountID string) ([]domain.AccountTenant, error)
	ListBindingsByTenant(ctx context.Context, tenantID string) ([]domain.AccountTenant, error)
	ListGroupMemberships(ctx context.Context, tenantID, userID string) ([]domain.GroupMembership, error)
	// PersonalTenant resolves the user's personal workspace.
	PersonalTenant(ctx context.Context, userID string) (*domain.Tenant, error)
}

// DirectoryTx extends the reader with mutations scoped to one transaction.
// Deletions are soft: rows receive a deleted timestamp and drop out of reads.
type DirectoryTx interface {
	DirectoryReader

	CreateUser(ctx context.Context, user domain.User) error
	CreateAccount(ctx context.Context, account domain.Account) error
	CreateTenant(ctx context.Context, tenant domain.Tenant) error
	CreateRole(ctx context.Context, role domain.Role) error
	CreateBinding(ctx context.Context, binding domain.AccountTenant) error
	CreateGroupMembership(ctx context.Context, membership domain.GroupMembership) error

	// ReassignAccount moves an account to another user.
	ReassignAccount(ctx context.Context, accountID, toUserID string) error
	// ReassignBindingsByUser repoints every non-deleted binding of fromUserID at
	// toUserID, returning how many rows changed.
	ReassignBindingsByUser(ctx context.Context, fromUserID, toUserID string) (int, error)

	SoftDeleteUser(ctx context.Context, userID string, at time.Time) error
	SoftDeleteAccount(ctx context.Context, accountID string, at time.Time) error
	SoftDeleteTenant(ctx context.Context, tenantID string, at time.Time) error
	SoftDeleteBinding(ctx context.Context, bindingID string, at time.Time) error
	SoftDeleteRole(ctx context.Context, roleID string, at time.Time) error
	SoftDeleteGroupMembership(ctx context.Context, membershipID string, at time.Time) error
}

// Directory is the durable relational collaborator. InTx runs fn inside one
// atomic transaction; any error rolls back every mutation made through tx.
type Directory interface {
	DirectoryReader
	InTx(ctx context.Context, fn func(tx DirectoryTx) error) error
}
