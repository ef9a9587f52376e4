package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

const broadcastColumns = `id, message, sender_label, recipients, scheduled_at, status,
	total_recipients, invalid_recipients, sent_count, failed_count, suppressed_count,
	error_details, created_by, created_at, updated_at, claimed_at, sent_at`

type PgBroadcastRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewPgBroadcastRepository(db DBTX, logger *slog.Logger) *PgBroadcastRepository {
	return &PgBroadcastRepository{db: db, logger: logger.With("component", "broadcast_repository_pg")}
}

var _ domain.BroadcastRepository = (*PgBroadcastRepository)(nil)

func scanBroadcast(row rowScanner) (*domain.Broadcast, error) {
	b := &domain.Broadcast{}
	var status string
	var recipientsJSON, errorsJSON []byte
	if err := row.Scan(
		&b.ID, &b.Message, &b.SenderLabel, &recipientsJSON, &b.ScheduledAt, &status,
		&b.TotalRecipients, &b.InvalidRecipients, &b.SentCount, &b.FailedCount, &b.SuppressedCount,
		&errorsJSON, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt, &b.ClaimedAt, &b.SentAt,
	); err != nil {
		return nil, err
	}
	b.Status = domain.BroadcastStatus(status)
	if err := json.Unmarshal(recipientsJSON, &b.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients of broadcast %s: %w", b.ID, err)
	}
	b.Errors = []domain.ErrorDetail{}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &b.Errors); err != nil {
			return nil, fmt.Errorf("decode error details of broadcast %s: %w", b.ID, err)
		}
	}
	return b, nil
}

func (r *PgBroadcastRepository) Create(ctx context.Context, b *domain.Broadcast) error {
	recipientsJSON, err := json.Marshal(b.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	query := `
		INSERT INTO broadcasts (id, message, sender_label, recipients, scheduled_at, status,
			total_recipients, invalid_recipients, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.Exec(ctx, query,
		b.ID, b.Message, b.SenderLabel, recipientsJSON, b.ScheduledAt, string(b.Status),
		b.TotalRecipients, b.InvalidRecipients, b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating broadcast", "error", err, "broadcast_id", b.ID)
		return fmt.Errorf("insert broadcast: %w", err)
	}
	return nil
}

func (r *PgBroadcastRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = $1`
	b, err := scanBroadcast(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error fetching broadcast", "error", err, "broadcast_id", id)
		return nil, err
	}
	return b, nil
}

// List returns one page of broadcasts, newest first, plus the total matching count.
func (r *PgBroadcastRepository) List(ctx context.Context, filter domain.BroadcastFilter) ([]*domain.Broadcast, int, error) {
	var where strings.Builder
	where.WriteString(" WHERE 1=1")
	args := []any{}
	argID := 1

	if filter.Status != "" {
		where.WriteString(fmt.Sprintf(" AND status = $%d", argID))
		args = append(args, string(filter.Status))
		argID++
	}
	if filter.From != nil {
		where.WriteString(fmt.Sprintf(" AND created_at >= $%d", argID))
		args = append(args, *filter.From)
		argID++
	}
	if filter.To != nil {
		where.WriteString(fmt.Sprintf(" AND created_at <= $%d", argID))
		args = append(args, *filter.To)
		argID++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM broadcasts"+where.String(), args...).Scan(&total); err != nil {
		r.logger.ErrorContext(ctx, "Error counting broadcasts", "error", err)
		return nil, 0, fmt.Errorf("count broadcasts: %w", err)
	}
	if total == 0 {
		return []*domain.Broadcast{}, 0, nil
	}

	query := "SELECT " + broadcastColumns + " FROM broadcasts" + where.String() +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argID, argID+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing broadcasts", "error", err)
		return nil, 0, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	list := []*domain.Broadcast{}
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// statusOf distinguishes a missing broadcast from a guard failure after a
// conditional update matched no row.
func (r *PgBroadcastRepository) statusOf(ctx context.Context, id uuid.UUID) (domain.BroadcastStatus, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT status FROM broadcasts WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return domain.BroadcastStatus(status), nil
}

func (r *PgBroadcastRepository) UpdatePending(ctx context.Context, id uuid.UUID, edit domain.BroadcastEdit, now time.Time) (*domain.Broadcast, error) {
	var recipientsJSON []byte
	if edit.Recipients != nil {
		var err error
		if recipientsJSON, err = json.Marshal(edit.Recipients); err != nil {
			return nil, fmt.Errorf("encode recipients: %w", err)
		}
	}
	query := `
		UPDATE broadcasts SET
			message = COALESCE($2, message),
			sender_label = COALESCE($3, sender_label),
			recipients = COALESCE($4::jsonb, recipients),
			total_recipients = COALESCE($5, total_recipients),
			invalid_recipients = COALESCE($6, invalid_recipients),
			scheduled_at = COALESCE($7, scheduled_at),
			updated_at = $8
		WHERE id = $1 AND status = 'pending' AND scheduled_at > $8
		RETURNING ` + broadcastColumns
	b, err := scanBroadcast(r.db.QueryRow(ctx, query,
		id, edit.Message, edit.SenderLabel, recipientsJSON,
		edit.TotalRecipients, edit.InvalidRecipients, edit.ScheduledAt, now,
	))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error updating pending broadcast", "error", err, "broadcast_id", id)
		return nil, fmt.Errorf("update broadcast: %w", err)
	}
	if _, err := r.statusOf(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrNotEditable
}

func (r *PgBroadcastRepository) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE broadcasts SET status = 'cancelled', updated_at = $2 WHERE id = $1 AND status = 'pending'`,
		id, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error cancelling broadcast", "error", err, "broadcast_id", id)
		return fmt.Errorf("cancel broadcast: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.statusOf(ctx, id); err != nil {
		return err
	}
	return domain.ErrNotCancellable
}

func (r *PgBroadcastRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Broadcast, error) {
	query := `
		UPDATE broadcasts SET status = 'processing', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + broadcastColumns
	b, err := scanBroadcast(r.db.QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClaimConflict
		}
		r.logger.ErrorContext(ctx, "Error claiming broadcast", "error", err, "broadcast_id", id)
		return nil, fmt.Errorf("claim broadcast: %w", err)
	}
	return b, nil
}

func (r *PgBroadcastRepository) SetTotals(ctx context.Context, id uuid.UUID, total, invalid int, now time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE broadcasts SET total_recipients = $2, invalid_recipients = $3, updated_at = $4
		WHERE id = $1 AND status = 'processing'`,
		id, total, invalid, now)
	if err != nil {
		return fmt.Errorf("set broadcast totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotProcessing
	}
	return nil
}

// RecordOutcome increments one counter in a single statement so concurrent
// workers never lose updates. The error list grows only while below maxErrors.
func (r *PgBroadcastRepository) RecordOutcome(ctx context.Context, id uuid.UUID, outcome domain.Outcome, maxErrors int, now time.Time) (domain.OutcomeCounts, error) {
	var sent, failed, suppressed int
	var detail *string
	switch outcome.Kind {
	case domain.OutcomeSent:
		sent = 1
	case domain.OutcomeSuppressed:
		suppressed = 1
	case domain.OutcomeFailed:
		failed = 1
		data, err := json.Marshal([]domain.ErrorDetail{{Identifier: outcome.Identifier, Reason: outcome.Reason}})
		if err != nil {
			return domain.OutcomeCounts{}, err
		}
		s := string(data)
		detail = &s
	default:
		return domain.OutcomeCounts{}, fmt.Errorf("unknown outcome kind %q", outcome.Kind)
	}

	query := `
		UPDATE broadcasts SET
			sent_count = sent_count + $2,
			failed_count = failed_count + $3,
			suppressed_count = suppressed_count + $4,
			error_details = CASE
				WHEN $5::jsonb IS NOT NULL AND jsonb_array_length(error_details) < $6 THEN error_details || $5::jsonb
				ELSE error_details
			END,
			updated_at = $7
		WHERE id = $1 AND status = 'processing'
		RETURNING total_recipients, sent_count, failed_count, suppressed_count`
	var c domain.OutcomeCounts
	err := r.db.QueryRow(ctx, query, id, sent, failed, suppressed, detail, maxErrors, now).
		Scan(&c.Total, &c.Sent, &c.Failed, &c.Suppressed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OutcomeCounts{}, domain.ErrNotProcessing
		}
		r.logger.ErrorContext(ctx, "Error recording outcome", "error", err, "broadcast_id", id, "outcome", outcome.Kind)
		return domain.OutcomeCounts{}, fmt.Errorf("record outcome: %w", err)
	}
	return c, nil
}

// Finalize only succeeds once all counters add up to the total.
func (r *PgBroadcastRepository) Finalize(ctx context.Context, id uuid.UUID, status domain.BroadcastStatus, sentAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE broadcasts SET status = $2, sent_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing'
			AND sent_count + failed_count + suppressed_count >= total_recipients`,
		id, string(status), sentAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finalizing broadcast", "error", err, "broadcast_id", id)
		return false, fmt.Errorf("finalize broadcast: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FailDispatch keeps the per-recipient errors already recorded and appends detail.
func (r *PgBroadcastRepository) FailDispatch(ctx context.Context, id uuid.UUID, detail domain.ErrorDetail, now time.Time) (bool, error) {
	data, err := json.Marshal([]domain.ErrorDetail{detail})
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE broadcasts SET status = 'failed', error_details = error_details || $2::jsonb,
			sent_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing'`,
		id, string(data), now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error failing broadcast", "error", err, "broadcast_id", id)
		return false, fmt.Errorf("fail broadcast: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindDue is a plain read; the claim that follows decides ownership.
func (r *PgBroadcastRepository) FindDue(ctx context.Context, now, orphanedBefore time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM broadcasts
		WHERE status = 'pending'
			AND ((scheduled_at IS NOT NULL AND scheduled_at <= $1)
				OR (scheduled_at IS NULL AND created_at <= $2))
		ORDER BY COALESCE(scheduled_at, created_at) ASC
		LIMIT $3`
	return r.queryIDs(ctx, "find due broadcasts", query, now, orphanedBefore, limit)
}

// FindStale relies on every claim and recorded outcome bumping updated_at.
func (r *PgBroadcastRepository) FindStale(ctx context.Context, idleSince time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM broadcasts
		WHERE status = 'processing' AND updated_at <= $1
		ORDER BY updated_at ASC
		LIMIT $2`
	return r.queryIDs(ctx, "find stale broadcasts", query, idleSince, limit)
}

func (r *PgBroadcastRepository) queryIDs(ctx context.Context, op, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Query failed", "op", op, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}
