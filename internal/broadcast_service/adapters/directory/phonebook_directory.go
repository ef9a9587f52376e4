package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/repository/postgres"
)

// PhonebookDirectory exposes the phonebook tables as a read-only group directory.
// A phonebook is a group; its subscribed contacts are the members.
type PhonebookDirectory struct {
	db     postgres.DBTX
	logger *slog.Logger
}

func NewPhonebookDirectory(db postgres.DBTX, logger *slog.Logger) *PhonebookDirectory {
	return &PhonebookDirectory{db: db, logger: logger.With("component", "phonebook_directory")}
}

var _ domain.Directory = (*PhonebookDirectory)(nil)

// LookupGroup matches a phonebook id when nameOrID is a UUID, otherwise the
// exact phonebook name (oldest first if names repeat).
func (d *PhonebookDirectory) LookupGroup(ctx context.Context, nameOrID string) (*domain.Group, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return nil, domain.ErrGroupNotFound
	}

	var row pgx.Row
	if id, err := uuid.Parse(nameOrID); err == nil {
		row = d.db.QueryRow(ctx, `SELECT id::text, name FROM phonebooks WHERE id = $1`, id)
	} else {
		row = d.db.QueryRow(ctx, `SELECT id::text, name FROM phonebooks WHERE name = $1 ORDER BY created_at ASC LIMIT 1`, nameOrID)
	}

	group := &domain.Group{}
	if err := row.Scan(&group.ID, &group.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		d.logger.ErrorContext(ctx, "Error looking up phonebook", "error", err, "token", nameOrID)
		return nil, err
	}

	rows, err := d.db.Query(ctx, `
		SELECT number FROM contacts
		WHERE phonebook_id = $1 AND subscribed = TRUE
		ORDER BY number ASC`, group.ID)
	if err != nil {
		d.logger.ErrorContext(ctx, "Error listing phonebook members", "error", err, "phonebook_id", group.ID)
		return nil, err
	}
	defer rows.Close()

	group.Members = []string{}
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			d.logger.ErrorContext(ctx, "Error scanning phonebook member", "error", err, "phonebook_id", group.ID)
			return nil, err
		}
		group.Members = append(group.Members, number)
	}
	if err := rows.Err(); err != nil {
		d.logger.ErrorContext(ctx, "Error iterating phonebook members", "error", err, "phonebook_id", group.ID)
		return nil, err
	}
	return group, nil
}
