package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/permit-approvals/internal/application/port"
	"github.com/garyjia/permit-approvals/internal/domain/entity"
	"github.com/garyjia/permit-approvals/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// UserRepository implements port.UserRepository on users and user_roles
type UserRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlite.DB, logger *zap.Logger) port.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Save upserts the user and replaces its role set
func (r *UserRepository) Save(ctx context.Context, user *entity.User) error {
	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		now := time.Now()
		if user.CreatedAt.IsZero() {
			user.CreatedAt = now
		}
		user.UpdatedAt = now

		if err := r.upsertUser(txCtx, user.ID, user.DisplayName, user.CreatedAt, now); err != nil {
			return err
		}

		exec := sqlite.ExecutorFor(txCtx, r.db.DB)
		if _, err := exec.ExecContext(txCtx, `DELETE FROM user_roles WHERE user_id = ?`, user.ID); err != nil {
			return fmt.Errorf("failed to clear roles: %w", err)
		}
		for _, role := range user.Roles {
			if _, err := exec.ExecContext(txCtx,
				`INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)`, user.ID, role,
			); err != nil {
				return fmt.Errorf("failed to insert role: %w", err)
			}
		}
		return nil
	})
}

// AddRole creates the user if needed and grants the role
func (r *UserRepository) AddRole(ctx context.Context, userID, displayName, role string) error {
	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		now := time.Now()
		if err := r.upsertUser(txCtx, userID, displayName, now, now); err != nil {
			return err
		}
		_, err := sqlite.ExecutorFor(txCtx, r.db.DB).ExecContext(txCtx,
			`INSERT OR IGNORE INTO user_roles (user_id, role) VALUES (?, ?)`, userID, role,
		)
		if err != nil {
			r.logger.Error("Failed to add role",
				zap.String("user_id", userID),
				zap.String("role", role),
				zap.Error(err))
			return fmt.Errorf("failed to add role: %w", err)
		}
		return nil
	})
}

// RemoveRole revokes a role; revoking one the user lacks is not an error
func (r *UserRepository) RemoveRole(ctx context.Context, userID, role string) error {
	_, err := sqlite.ExecutorFor(ctx, r.db.DB).ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role = ?`, userID, role,
	)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// upsertUser keeps the stored display name when displayName is empty
func (r *UserRepository) upsertUser(ctx context.Context, id, displayName string, createdAt, updatedAt time.Time) error {
	query := `
		INSERT INTO users (id, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE users.display_name END,
			updated_at = excluded.updated_at
	`
	if _, err := sqlite.ExecutorFor(ctx, r.db.DB).ExecContext(ctx, query, id, displayName, createdAt, updatedAt); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the user does not exist
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := sqlite.ExecutorFor(ctx, r.db.DB).QueryRowContext(ctx,
		`SELECT id, display_name, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	roles, err := r.rolesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return &user, nil
}

// UsersWithRole implements port.UserDirectory
func (r *UserRepository) UsersWithRole(ctx context.Context, role string) ([]*entity.User, error) {
	query := `
		SELECT u.id, u.display_name, u.created_at, u.updated_at,
			(SELECT GROUP_CONCAT(role, ',') FROM user_roles WHERE user_id = u.id)
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role = ?
		ORDER BY u.id
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db.DB).QueryContext(ctx, query, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with role %s: %w", role, err)
	}
	defer rows.Close()

	var users []*entity.User
	for rows.Next() {
		var (
			user  entity.User
			roles sql.NullString
		)
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt, &roles); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		user.Roles = splitRoles(roles.String)
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (r *UserRepository) rolesOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db.DB).QueryContext(ctx,
		`SELECT role FROM user_roles WHERE user_id = ? ORDER BY role`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func splitRoles(s string) []string {
	if s == "" {
		return nil
	}
	roles := strings.Split(s, ",")
	sort.Strings(roles)
	return roles
}

// Verify interface compliance
var _ port.UserRepository = (*UserRepository)(nil)
