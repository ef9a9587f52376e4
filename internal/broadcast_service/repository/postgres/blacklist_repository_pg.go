package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

type PgBlacklistRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewPgBlacklistRepository(db DBTX, logger *slog.Logger) *PgBlacklistRepository {
	return &PgBlacklistRepository{db: db, logger: logger.With("component", "blacklist_repository_pg")}
}

var _ domain.BlacklistRepository = (*PgBlacklistRepository)(nil)

// IsBlacklisted reads the table on every call; there is no cache in front of it.
func (r *PgBlacklistRepository) IsBlacklisted(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blacklist_entries WHERE identifier = $1)`, identifier).Scan(&exists)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error checking blacklist", "identifier", identifier, "error", err)
		return false, fmt.Errorf("checking blacklist: %w", err)
	}
	return exists, nil
}

// Add keeps the first entry for an identifier; later adds return it untouched.
func (r *PgBlacklistRepository) Add(ctx context.Context, entry *domain.BlacklistEntry) (*domain.BlacklistEntry, bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO blacklist_entries (id, identifier, reason, added_by, blocked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identifier) DO NOTHING`,
		entry.ID, entry.Identifier, entry.Reason, entry.AddedBy, entry.BlockedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error adding blacklist entry", "identifier", entry.Identifier, "error", err)
		return nil, false, fmt.Errorf("adding blacklist entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return entry, true, nil
	}

	existing := &domain.BlacklistEntry{}
	err = r.db.QueryRow(ctx, `
		SELECT id, identifier, reason, added_by, blocked_at
		FROM blacklist_entries WHERE identifier = $1`, entry.Identifier).
		Scan(&existing.ID, &existing.Identifier, &existing.Reason, &existing.AddedBy, &existing.BlockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Removed between our insert and select; report it as not found rather than retrying.
			return nil, false, domain.ErrNotFound
		}
		return nil, false, fmt.Errorf("reading existing blacklist entry: %w", err)
	}
	return existing, false, nil
}

func (r *PgBlacklistRepository) Remove(ctx context.Context, identifier string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM blacklist_entries WHERE identifier = $1`, identifier)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error removing blacklist entry", "identifier", identifier, "error", err)
		return false, fmt.Errorf("removing blacklist entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List is ordered newest first.
func (r *PgBlacklistRepository) List(ctx context.Context, filter domain.BlacklistFilter) ([]*domain.BlacklistEntry, int, error) {
	var where strings.Builder
	where.WriteString(" WHERE 1=1")
	args := []any{}
	argID := 1

	if filter.Search != "" {
		// Literal substring match; LIKE would treat % and _ in the search as wildcards.
		where.WriteString(fmt.Sprintf(" AND strpos(identifier, $%d) > 0", argID))
		args = append(args, filter.Search)
		argID++
	}
	if filter.Reason != "" {
		where.WriteString(fmt.Sprintf(" AND reason = $%d", argID))
		args = append(args, filter.Reason)
		argID++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM blacklist_entries"+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting blacklist entries: %w", err)
	}
	if total == 0 {
		return []*domain.BlacklistEntry{}, 0, nil
	}

	query := "SELECT id, identifier, reason, added_by, blocked_at FROM blacklist_entries" + where.String() +
		fmt.Sprintf(" ORDER BY blocked_at DESC LIMIT $%d OFFSET $%d", argID, argID+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing blacklist entries: %w", err)
	}
	defer rows.Close()

	entries := []*domain.BlacklistEntry{}
	for rows.Next() {
		e := &domain.BlacklistEntry{}
		if err := rows.Scan(&e.ID, &e.Identifier, &e.Reason, &e.AddedBy, &e.BlockedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
