package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tudorilade/events-scheduler/internal/domain/events"
)

type EventRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const eventColumns = `e.id, e.ulid, e.owner_id, e.title, e.description, e.starts_at, e.ends_at, e.capacity, e.created_at, e.updated_at`

const eventColumnsWithCount = eventColumns + `,
       (SELECT count(*) FROM participations p WHERE p.event_id = e.id) AS participants_count`

func (r *EventRepository) Create(ctx context.Context, params events.CreateParams) (*events.Event, error) {
	row := pick(r.pool, r.tx).QueryRow(ctx, `
INSERT INTO events AS e (ulid, owner_id, title, description, starts_at, ends_at, capacity)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+eventColumns,
		params.ULID, params.OwnerID, params.Title, params.Description,
		params.StartsAt, params.EndsAt, params.Capacity)

	event, err := scanEvent(row, false)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("create event: owner does not exist")
		}
		return nil, fmt.Errorf("create event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) GetByULID(ctx context.Context, ulid string) (*events.Event, error) {
	row := pick(r.pool, r.tx).QueryRow(ctx,
		`SELECT `+eventColumnsWithCount+` FROM events e WHERE e.ulid = $1`, ulid)

	event, err := scanEvent(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// GetByULIDForUpdate locks the event row for the rest of the transaction.
// The participant count is left at zero; callers inside the transaction use
// CountParticipants, which sees the locked state.
func (r *EventRepository) GetByULIDForUpdate(ctx context.Context, ulid string) (*events.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.ulid = $1`
	if r.tx != nil {
		query += ` FOR UPDATE`
	}

	event, err := scanEvent(pick(r.pool, r.tx).QueryRow(ctx, query, ulid), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get event for update: %w", err)
	}
	return event, nil
}

func (r *EventRepository) List(ctx context.Context, filters events.Filters, pagination events.Pagination) (events.ListResult, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filters.IncludePast {
		conditions = append(conditions, "e.ends_at >= now()")
	}
	if filters.OwnerID != "" {
		conditions = append(conditions, "e.owner_id = "+arg(filters.OwnerID))
	}
	if filters.Joined != "" {
		conditions = append(conditions,
			"EXISTS (SELECT 1 FROM participations p WHERE p.event_id = e.id AND p.user_id = "+arg(filters.Joined)+")")
	}
	if filters.From != nil {
		conditions = append(conditions, "e.starts_at >= "+arg(*filters.From))
	}
	if filters.Until != nil {
		conditions = append(conditions, "e.starts_at <= "+arg(*filters.Until))
	}
	if filters.Query != "" {
		pattern := "%" + filters.Query + "%"
		placeholder := arg(pattern)
		conditions = append(conditions, "(e.title ILIKE "+placeholder+" OR e.description ILIKE "+placeholder+")")
	}
	if pagination.After != "" {
		conditions = append(conditions, "e.ulid > "+arg(pagination.After))
	}

	query := `SELECT ` + eventColumnsWithCount + ` FROM events e`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	// ULID order is creation order, which keeps the cursor stable.
	query += " ORDER BY e.ulid LIMIT " + arg(pagination.Limit+1)

	rows, err := pick(r.pool, r.tx).Query(ctx, query, args...)
	if err != nil {
		return events.ListResult{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result events.ListResult
	for rows.Next() {
		event, err := scanEvent(rows, true)
		if err != nil {
			return events.ListResult{}, fmt.Errorf("scan event: %w", err)
		}
		result.Events = append(result.Events, *event)
	}
	if err := rows.Err(); err != nil {
		return events.ListResult{}, fmt.Errorf("iterate events: %w", err)
	}

	if len(result.Events) > pagination.Limit {
		result.Events = result.Events[:pagination.Limit]
		result.NextCursor = result.Events[len(result.Events)-1].ULID
	}
	return result, nil
}

func (r *EventRepository) Update(ctx context.Context, id string, params events.UpdateParams) (*events.Event, error) {
	row := pick(r.pool, r.tx).QueryRow(ctx, `
UPDATE events AS e
   SET title       = COALESCE($2, title),
       description = COALESCE($3, description),
       starts_at   = COALESCE($4, starts_at),
       ends_at     = COALESCE($5, ends_at),
       capacity    = CASE WHEN $7 THEN NULL ELSE COALESCE($6, capacity) END,
       updated_at  = now()
 WHERE id = $1
RETURNING `+eventColumnsWithCount,
		id, params.Title, params.Description, params.StartsAt, params.EndsAt,
		params.Capacity, params.ClearCap)

	event, err := scanEvent(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (r *EventRepository) CountParticipants(ctx context.Context, eventID string) (int, error) {
	var count int
	err := pick(r.pool, r.tx).QueryRow(ctx,
		`SELECT count(*) FROM participations WHERE event_id = $1`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

func (r *EventRepository) IsParticipant(ctx context.Context, eventID, userID string) (bool, error) {
	var joined bool
	err := pick(r.pool, r.tx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM participations WHERE event_id = $1 AND user_id = $2)`,
		eventID, userID).Scan(&joined)
	if err != nil {
		return false, fmt.Errorf("check participation: %w", err)
	}
	return joined, nil
}

func (r *EventRepository) InsertParticipation(ctx context.Context, eventID, userID string) error {
	_, err := pick(r.pool, r.tx).Exec(ctx,
		`INSERT INTO participations (event_id, user_id) VALUES ($1, $2)`, eventID, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return events.ErrAlreadyJoined
		}
		if isForeignKeyViolation(err) {
			return events.ErrNotFound
		}
		return fmt.Errorf("insert participation: %w", err)
	}
	return nil
}

func (r *EventRepository) DeleteParticipation(ctx context.Context, eventID, userID string) (bool, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx,
		`DELETE FROM participations WHERE event_id = $1 AND user_id = $2`, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("delete participation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *EventRepository) WithTx(ctx context.Context, fn func(context.Context, events.Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &EventRepository{pool: r.pool, tx: tx})
	})
}

func scanEvent(row pgx.Row, withCount bool) (*events.Event, error) {
	var e events.Event
	dest := []any{
		&e.ID,
		&e.ULID,
		&e.OwnerID,
		&e.Title,
		&e.Description,
		&e.StartsAt,
		&e.EndsAt,
		&e.Capacity,
		&e.CreatedAt,
		&e.UpdatedAt,
	}
	if withCount {
		dest = append(dest, &e.ParticipantsCount)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &e, nil
}
