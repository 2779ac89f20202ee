package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/clicklens/clicklens/internal/model"
)

// DefaultListLimit caps ListClicks when the filter sets no limit.
const DefaultListLimit = 100

const clickColumns = `id, link_id, occurred_at, source_ip, user_agent, referer,
	geo, device, referrer, video, temporal, session_key, is_first_click_in_session`

// ClickEventRepository provides database access for the click log.
type ClickEventRepository struct {
	repo *Repository
}

// NewClickEventRepository creates a new ClickEventRepository.
func NewClickEventRepository(repo *Repository) *ClickEventRepository {
	return &ClickEventRepository{repo: repo}
}

// Append inserts event. A transaction-scoped advisory lock on the session
// key serializes concurrent appends for the same visitor, so the
// first-click flag is decided exactly once per key. A repeated event ID
// returns model.ErrDuplicateClick and leaves the log unchanged.
func (r *ClickEventRepository) Append(ctx context.Context, event *model.ClickEvent) error {
	row, err := encodeClick(event)
	if err != nil {
		return err
	}

	err = r.repo.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.SessionKey); err != nil {
			return fmt.Errorf("lock session key: %w", err)
		}

		var seen bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM click_events WHERE session_key = $1)`,
			event.SessionKey,
		).Scan(&seen)
		if err != nil {
			return fmt.Errorf("check session key: %w", err)
		}
		row.isFirst = !seen

		query := `
			INSERT INTO click_events (` + clickColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, query,
			event.ID,
			event.LinkID,
			event.OccurredAt,
			event.SourceIP,
			event.UserAgent,
			event.Referer,
			row.geo,
			row.device,
			row.referrer,
			row.video,
			row.temporal,
			event.SessionKey,
			row.isFirst,
		)
		if err != nil {
			return fmt.Errorf("insert click event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return model.ErrDuplicateClick
		}
		return nil
	})
	if err != nil {
		return err
	}

	event.IsFirstClickInSession = row.isFirst
	return nil
}

// SessionSeen reports whether any click with key is in the log.
func (r *ClickEventRepository) SessionSeen(ctx context.Context, key string) (bool, error) {
	var seen bool
	err := r.repo.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM click_events WHERE session_key = $1)`,
		key,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check session key: %w", err)
	}
	return seen, nil
}

// ListClicks returns raw clicks for a link, newest first.
func (r *ClickEventRepository) ListClicks(ctx context.Context, filter model.ClickFilter) ([]*model.ClickEvent, error) {
	query, args := buildListClicksQuery(filter)

	rows, err := r.repo.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query click events: %w", err)
	}
	defer rows.Close()

	var events []*model.ClickEvent
	for rows.Next() {
		event, err := scanClick(rows)
		if err != nil {
			return nil, fmt.Errorf("scan click event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate click events: %w", err)
	}

	return events, nil
}

// ScanClicks calls fn for every click in a single repeatable-read snapshot,
// oldest first. Appends that commit during the scan are not visible.
func (r *ClickEventRepository) ScanClicks(ctx context.Context, fn func(*model.ClickEvent) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	return r.repo.inTx(ctx, opts, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+clickColumns+` FROM click_events ORDER BY id`)
		if err != nil {
			return fmt.Errorf("query click events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			event, err := scanClick(rows)
			if err != nil {
				return fmt.Errorf("scan click event: %w", err)
			}
			if err := fn(event); err != nil {
				return err
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate click events: %w", err)
		}
		return nil
	})
}

// buildListClicksQuery builds the filtered, newest-first click query.
func buildListClicksQuery(filter model.ClickFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + clickColumns + ` FROM click_events WHERE link_id = $1`)
	args := []any{filter.LinkID}
	argIndex := 2

	if !filter.From.IsZero() {
		fmt.Fprintf(&b, " AND occurred_at >= $%d", argIndex)
		args = append(args, filter.From)
		argIndex++
	}
	if !filter.To.IsZero() {
		fmt.Fprintf(&b, " AND occurred_at < $%d", argIndex)
		args = append(args, filter.To)
		argIndex++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	fmt.Fprintf(&b, " ORDER BY occurred_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	return b.String(), args
}

// clickRow holds the JSONB-encoded enrichment columns of a click.
type clickRow struct {
	geo      []byte
	device   []byte
	referrer []byte
	video    []byte
	temporal []byte
	isFirst  bool
}

func encodeClick(event *model.ClickEvent) (clickRow, error) {
	if event == nil {
		return clickRow{}, errors.New("click event is nil")
	}

	var row clickRow
	var err error
	if event.Geo != nil {
		if row.geo, err = json.Marshal(event.Geo); err != nil {
			return row, fmt.Errorf("encode geo: %w", err)
		}
	}
	if row.device, err = json.Marshal(event.Device); err != nil {
		return row, fmt.Errorf("encode device: %w", err)
	}
	if row.referrer, err = json.Marshal(event.Referrer); err != nil {
		return row, fmt.Errorf("encode referrer: %w", err)
	}
	if row.video, err = json.Marshal(event.Video); err != nil {
		return row, fmt.Errorf("encode video: %w", err)
	}
	if row.temporal, err = json.Marshal(event.Temporal); err != nil {
		return row, fmt.Errorf("encode temporal: %w", err)
	}
	row.isFirst = event.IsFirstClickInSession
	return row, nil
}

func decodeClick(event *model.ClickEvent, row clickRow) error {
	if len(row.geo) > 0 {
		var geo model.Geo
		if err := json.Unmarshal(row.geo, &geo); err != nil {
			return fmt.Errorf("decode geo: %w", err)
		}
		event.Geo = &geo
	}
	if err := json.Unmarshal(row.device, &event.Device); err != nil {
		return fmt.Errorf("decode device: %w", err)
	}
	if err := json.Unmarshal(row.referrer, &event.Referrer); err != nil {
		return fmt.Errorf("decode referrer: %w", err)
	}
	if err := json.Unmarshal(row.video, &event.Video); err != nil {
		return fmt.Errorf("decode video: %w", err)
	}
	if err := json.Unmarshal(row.temporal, &event.Temporal); err != nil {
		return fmt.Errorf("decode temporal: %w", err)
	}
	event.IsFirstClickInSession = row.isFirst
	return nil
}

func scanClick(rows pgx.Rows) (*model.ClickEvent, error) {
	var event model.ClickEvent
	var row clickRow
	var occurredAt time.Time

	err := rows.Scan(
		&event.ID,
		&event.LinkID,
		&occurredAt,
		&event.SourceIP,
		&event.UserAgent,
		&event.Referer,
		&row.geo,
		&row.device,
		&row.referrer,
		&row.video,
		&row.temporal,
		&event.SessionKey,
		&row.isFirst,
	)
	if err != nil {
		return nil, err
	}
	event.OccurredAt = occurredAt.UTC()

	if err := decodeClick(&event, row); err != nil {
		return nil, err
	}
	return &event, nil
}
