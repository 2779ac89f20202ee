package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/clicklens/clicklens/internal/model"
)

// Common errors for link repository operations.
var (
	ErrLinkNotFound    = model.ErrLinkNotFound
	ErrShortCodeExists = model.ErrShortCodeExists
)

const linkColumns = `id, short_code, destination, redirect_type, enabled, created_at`

// CreateLink inserts a new link into the database.
func (r *Repository) CreateLink(ctx context.Context, link *model.Link) error {
	query := `
		INSERT INTO links (` + linkColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		link.ID,
		link.ShortCode,
		link.Destination,
		int16(link.RedirectType),
		link.Enabled,
		link.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrShortCodeExists
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

// GetLinkByShortCode retrieves a link by its short code.
// This is the hot path for redirects.
func (r *Repository) GetLinkByShortCode(ctx context.Context, shortCode string) (*model.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE short_code = $1`

	link, err := scanLink(r.pool.QueryRow(ctx, query, shortCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link by short code: %w", err)
	}

	return link, nil
}

// scanLink scans a single row into a Link model.
func scanLink(row pgx.Row) (*model.Link, error) {
	var link model.Link
	var redirectType int16
	err := row.Scan(
		&link.ID,
		&link.ShortCode,
		&link.Destination,
		&redirectType,
		&link.Enabled,
		&link.CreatedAt,
	)
	link.RedirectType = model.RedirectType(redirectType)
	link.CreatedAt = link.CreatedAt.UTC()
	return &link, err
}
