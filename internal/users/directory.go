// internal/users/directory.go
// User lookups backed by the users table

package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lektorhjelp/lektorhjelp-backend/internal/chat"
)

var ErrUserNotFound = errors.New("user not found")

// PostgresDirectory resolves user accounts for the chat orchestrator.
type PostgresDirectory struct {
	db *sqlx.DB
}

func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

type userRow struct {
	ID          int64          `db:"id"`
	Username    string         `db:"username"`
	DisplayName sql.NullString `db:"display_name"`
	Email       sql.NullString `db:"email"`
	IsActive    bool           `db:"is_active"`
	IsVerified  bool           `db:"is_verified"`
}

func (d *PostgresDirectory) GetUser(ctx context.Context, userID int64) (*chat.UserInfo, error) {
	var row userRow
	err := d.db.GetContext(ctx, &row, `
		SELECT id, username, display_name, email, is_active, is_verified
		FROM users WHERE id = $1`, userID)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	info := &chat.UserInfo{
		ID:       row.ID,
		Username: row.Username,
		Email:    row.Email.String,
	}
	info.DisplayName = row.DisplayName.String
	if info.DisplayName == "" {
		info.DisplayName = row.Username
	}
	return info, nil
}

func (d *PostgresDirectory) IsActiveAndVerified(ctx context.Context, userID int64) (bool, error) {
	var ok bool
	err := d.db.GetContext(ctx, &ok, `
		SELECT is_active AND is_verified FROM users WHERE id = $1`, userID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check user status: %w", err)
	}
	return ok, nil
}
