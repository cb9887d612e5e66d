// internal/listings/directory.go
// Listing lookups for chat contact rules and notifications

package listings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/lektorhjelp/lektorhjelp-backend/internal/chat"
)

var ErrListingNotFound = errors.New("listing not found")

// PostgresDirectory resolves tutoring listings and their owners.
type PostgresDirectory struct {
	db *sqlx.DB
}

func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

type listingRow struct {
	ID             int64  `db:"id"`
	OwnerID        int64  `db:"owner_id"`
	Title          string `db:"title"`
	IsActive       bool   `db:"is_active"`
	ContactPrivacy string `db:"contact_privacy"`
}

func (d *PostgresDirectory) GetListingOwner(ctx context.Context, listingID int64) (*chat.ListingOwner, error) {
	var row listingRow
	err := d.db.GetContext(ctx, &row, `
		SELECT id, owner_id, title, is_active, contact_privacy
		FROM listings WHERE id = $1`, listingID)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing owner: %w", err)
	}

	return &chat.ListingOwner{
		UserID:         row.OwnerID,
		IsActive:       row.IsActive,
		ContactPrivacy: row.ContactPrivacy,
	}, nil
}

func (d *PostgresDirectory) GetListing(ctx context.Context, listingID int64) (*chat.ListingInfo, error) {
	var row listingRow
	err := d.db.GetContext(ctx, &row, `
		SELECT id, owner_id, title, is_active, contact_privacy
		FROM listings WHERE id = $1`, listingID)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing: %w", err)
	}

	return &chat.ListingInfo{ID: row.ID, Title: row.Title}, nil
}
