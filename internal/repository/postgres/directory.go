package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkalens/pipehub-identity/internal/core/domain"
	"github.com/mkalens/pipehub-identity/internal/core/port"
	"github.com/mkalens/pipehub-identity/internal/repository"
)

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory implements port.Directory on PostgreSQL. Reads always exclude
// soft-deleted rows; mutations run through InTx against one pgx transaction.
type Directory struct {
	pool *pgxpool.Pool
	reader
}

// NewDirectory wires a PostgreSQL-backed directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{
		pool: pool,
		reader: reader{
			exec:    pool,
			builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		},
	}
}

var _ port.Directory = (*Directory)(nil)

// InTx runs fn inside one transaction; any error rolls every mutation back.
func (d *Directory) InTx(ctx context.Context, fn func(tx port.DirectoryTx) error) error {
	pgTx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	wrapped := &directoryTx{reader: reader{exec: pgTx, builder: d.builder}}
	if err := fn(wrapped); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// reader holds the read side, shared by the pool-backed directory and the
// transaction wrapper.
type reader struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

const (
	usersTable       = "identity.users"
	accountsTable    = "identity.accounts"
	tenantsTable     = "identity.tenants"
	rolesTable       = "identity.roles"
	bindingsTable    = "identity.account_tenants"
	membershipsTable = "identity.group_memberships"
)

var notDeleted = squirrel.Eq{"deleted_at": nil}

func (r reader) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select("id", "created_at", "deleted_at").
		From(usersTable).
		Where(squirrel.Eq{"id": userID}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.User
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&user.ID, &user.CreatedAt, &user.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &user, nil
}

func (r reader) scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.Email,
		&account.PasswordHash,
		&account.Provider,
		&account.CreatedAt,
		&account.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &account, nil
}

func (r reader) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "email", "password_hash", "provider", "created_at", "deleted_at").
		From(accountsTable).
		Where(squirrel.Eq{"id": accountID}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}
	return r.scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

func (r reader) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "email", "password_hash", "provider", "created_at", "deleted_at").
		From(accountsTable).
		Where(squirrel.Expr("lower(email) = lower(?)", email)).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account by email sql: %w", err)
	}
	return r.scanAccount(r.exec.QueryRow(ctx, stmt, args...))
}

func (r reader) scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := row.Scan(
		&tenant.ID,
		&tenant.Kind,
		&tenant.Name,
		&tenant.OwnerID,
		&tenant.CreatedAt,
		&tenant.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return &tenant, nil
}

func (r reader) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	stmt, args, err := r.builder.
		Select("id", "kind", "name", "owner_id", "created_at", "deleted_at").
		From(tenantsTable).
		Where(squirrel.Eq{"id": tenantID}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select tenant sql: %w", err)
	}
	return r.scanTenant(r.exec.QueryRow(ctx, stmt, args...))
}

func (r reader) PersonalTenant(ctx context.Context, userID string) (*domain.Tenant, error) {
	stmt, args, err := r.builder.
		Select("id", "kind", "name", "owner_id", "created_at", "deleted_at").
		From(tenantsTable).
		Where(squirrel.Eq{"owner_id": userID, "kind": domain.TenantKindPersonal}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select personal tenant sql: %w", err)
	}
	return r.scanTenant(r.exec.QueryRow(ctx, stmt, args...))
}

func (r reader) GetRole(ctx context.Context, roleID string) (*domain.Role, error) {
	stmt, args, err := r.builder.
		Select("id", "tenant_id", "kind", "allowed", "created_at", "deleted_at").
		From(rolesTable).
		Where(squirrel.Eq{"id": roleID}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role sql: %w", err)
	}

	var role domain.Role
	err = r.exec.QueryRow(ctx, stmt, args...).Scan(
		&role.ID,
		&role.TenantID,
		&role.Kind,
		&role.Allowed,
		&role.CreatedAt,
		&role.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select role: %w", err)
	}
	return &role, nil
}

func (r reader) ListAccountsByUser(ctx context.Context, userID string) ([]domain.Account, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "email", "password_hash", "provider", "created_at", "deleted_at").
		From(accountsTable).
		Where(squirrel.Eq{"user_id": userID}).
		Where(notDeleted).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list accounts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.ID,
			&account.UserID,
			&account.Email,
			&account.PasswordHash,
			&account.Provider,
			&account.CreatedAt,
			&account.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r reader) listBindings(ctx context.Context, where squirrel.Eq) ([]domain.AccountTenant, error) {
	stmt, args, err := r.builder.
		Select("id", "user_id", "account_id", "tenant_id", "role_id", "created_at", "deleted_at").
		From(bindingsTable).
		Where(where).
		Where(notDeleted).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bindings sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []domain.AccountTenant
	for rows.Next() {
		var binding domain.AccountTenant
		if err := rows.Scan(
			&binding.ID,
			&binding.UserID,
			&binding.AccountID,
			&binding.TenantID,
			&binding.RoleID,
			&binding.CreatedAt,
			&binding.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan binding row: %w", err)
		}
		bindings = append(bindings, binding)
	}
	return bindings, rows.Err()
}

func (r reader) ListBindingsByUser(ctx context.Context, userID string) ([]domain.AccountTenant, error) {
	return r.listBindings(ctx, squirrel.Eq{"user_id": userID})
}

func (r reader) ListBindingsByAccount(ctx context.Context, accountID string) ([]domain.AccountTenant, error) {
	return r.listBindings(ctx, squirrel.Eq{"account_id": accountID})
}

func (r reader) ListBindingsByTenant(ctx context.Context, tenantID string) ([]domain.AccountTenant, error) {
	return r.listBindings(ctx, squirrel.Eq{"tenant_id": tenantID})
}

func (r reader) ListGroupMemberships(ctx context.Context, tenantID, userID string) ([]domain.GroupMembership, error) {
	query := r.builder.
		Select("id", "group_id", "tenant_id", "user_id", "created_at", "deleted_at").
		From(membershipsTable).
		Where(notDeleted).
		OrderBy("created_at", "id")
	if tenantID != "" {
		query = query.Where(squirrel.Eq{"tenant_id": tenantID})
	}
	if userID != "" {
		query = query.Where(squirrel.Eq{"user_id": userID})
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list memberships sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []domain.GroupMembership
	for rows.Next() {
		var membership domain.GroupMembership
		if err := rows.Scan(
			&membership.ID,
			&membership.GroupID,
			&membership.TenantID,
			&membership.UserID,
			&membership.CreatedAt,
			&membership.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		memberships = append(memberships, membership)
	}
	return memberships, rows.Err()
}

// directoryTx is the mutation surface bound to one pgx transaction.
type directoryTx struct {
	reader
}

var _ port.DirectoryTx = (*directoryTx)(nil)

func (t *directoryTx) CreateUser(ctx context.Context, user domain.User) error {
	stmt, args, err := t.builder.
		Insert(usersTable).
		Columns("id", "created_at").
		Values(user.ID, user.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}
	if _, err := t.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (t *directoryTx) CreateAccount(ctx context.Context, account domain.Account) error {
	stmt, args, err := t.builder.
		Insert(accountsTable).
		Columns("id", "user_id", "email", "password_hash", "provider", "created_at").
		Values(account.ID, account.UserID, account.Email, account.PasswordHash, account.Provider, account.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}
	if _, err := t.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (t *directoryTx) CreateTenant(ctx context.Context, tenant domain.Tenant) error {
	stmt, args, err := t.builder.
		Insert(tenantsTable).
		Columns("id", "kind", "name", "owner_id", "created_at").
		Values(tenant.ID, tenant.Kind, tenant.Name, tenant.OwnerID, tenant.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert tenant sql: %w", err)
	}
	if _, err := t.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (t *directoryTx) CreateRole(ctx context.Context, role domain.Role) error {
	stmt, args, err := t.builder.
		Insert(rolesTable).
		Columns("id", "tenant_id", "kind", "allowed", "created_at").
		Values(role.ID, role.TenantID, role.Kind, role.Allowed, role.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert role sql: %w", err)
	}
	if _, err := t.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (t *directoryTx) CreateBinding(ctx context.Context, binding domain.AccountTenant) error {
	stmt, args, err := t.builder.
		Insert(bindingsTable).
		Columns("id", "user_id", "account_id", "tenant_id", "role_id", "created_at").
		Values(binding.ID, binding.UserID, binding.AccountID, binding.TenantID, binding.RoleID, binding.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert binding sql: %w", err)
	}
	if _, err := t.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert binding: %w", err)
	}
	return nil
}

func (t *directoryTx) CreateGroupMembership(ctx context.Context, membership domain.GroupMembership) error {
	stmt, args, err := t.builder.
		Insert(membershipsTable).
		Columns("id", "group_id", "tenant_id", "user_id", "created_at").
		Values(membership.ID, membership.GroupID, membership.TenantID, membership.UserID, membership.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert membership sql: %w", err)
	}
	if _, err := t.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (t *directoryTx) ReassignAccount(ctx context.Context, accountID, toUserID string) error {
	stmt, args, err := t.builder.
		Update(accountsTable).
		Set("user_id", toUserID).
		Where(squirrel.Eq{"id": accountID}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reassign account sql: %w", err)
	}

	tag, err := t.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("reassign account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *directoryTx) ReassignBindingsByUser(ctx context.Context, fromUserID, toUserID string) (int, error) {
	stmt, args, err := t.builder.
		Update(bindingsTable).
		Set("user_id", toUserID).
		Where(squirrel.Eq{"user_id": fromUserID}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reassign bindings sql: %w", err)
	}

	tag, err := t.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("reassign bindings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *directoryTx) softDelete(ctx context.Context, table, id string, at time.Time) error {
	stmt, args, err := t.builder.
		Update(table).
		Set("deleted_at", at).
		Where(squirrel.Eq{"id": id}).
		Where(notDeleted).
		ToSql()
	if err != nil {
		return fmt.Errorf("build soft delete sql: %w", err)
	}

	tag, err := t.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *directoryTx) SoftDeleteUser(ctx context.Context, userID string, at time.Time) error {
	return t.softDelete(ctx, usersTable, userID, at)
}

func (t *directoryTx) SoftDeleteAccount(ctx context.Context, accountID string, at time.Time) error {
	return t.softDelete(ctx, accountsTable, accountID, at)
}

func (t *directoryTx) SoftDeleteTenant(ctx context.Context, tenantID string, at time.Time) error {
	return t.softDelete(ctx, tenantsTable, tenantID, at)
}

func (t *directoryTx) SoftDeleteBinding(ctx context.Context, bindingID string, at time.Time) error {
	return t.softDelete(ctx, bindingsTable, bindingID, at)
}

func (t *directoryTx) SoftDeleteRole(ctx context.Context, roleID string, at time.Time) error {
	return t.softDelete(ctx, rolesTable, roleID, at)
}

func (t *directoryTx) SoftDeleteGroupMembership(ctx context.Context, membershipID string, at time.Time) error {
	return t.softDelete(ctx, membershipsTable, membershipID, at)
}
