package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/clicklens/clicklens/internal/model"
)

// RollupRepository stores published rollups.
type RollupRepository struct {
	repo *Repository
}

// NewRollupRepository creates a new RollupRepository.
func NewRollupRepository(repo *Repository) *RollupRepository {
	return &RollupRepository{repo: repo}
}

// ReplaceRollup swaps the stored rows of rollup.Name for rollup.Rows in one
// transaction. Readers see either the previous rows or the new ones.
func (r *RollupRepository) ReplaceRollup(ctx context.Context, rollup model.Rollup) error {
	if !rollup.Name.IsValid() {
		return fmt.Errorf("%w: %q", model.ErrUnknownRollup, rollup.Name)
	}

	return r.repo.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM rollup_rows WHERE rollup = $1`, string(rollup.Name)); err != nil {
			return fmt.Errorf("clear rollup %s: %w", rollup.Name, err)
		}
		if len(rollup.Rows) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		query := `
			INSERT INTO rollup_rows (rollup, position, link_id, day, dims, clicks, sessions)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		for i, row := range rollup.Rows {
			batch.Queue(query,
				string(rollup.Name),
				i,
				row.LinkID,
				model.DayOf(row.Day),
				pq.Array(row.Values),
				row.Clicks,
				row.Sessions,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range rollup.Rows {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert rollup row %d: %w", i, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("insert rollup rows: %w", err)
		}
		return nil
	})
}

// GetRollup returns the published rows matching q in engine order. A rollup
// that was never published has no rows.
func (r *RollupRepository) GetRollup(ctx context.Context, q model.RollupQuery) (model.Rollup, error) {
	if !q.Name.IsValid() {
		return model.Rollup{}, fmt.Errorf("%w: %q", model.ErrUnknownRollup, q.Name)
	}

	query, args := buildRollupQuery(q)
	rows, err := r.repo.pool.Query(ctx, query, args...)
	if err != nil {
		return model.Rollup{}, fmt.Errorf("query rollup %s: %w", q.Name, err)
	}
	defer rows.Close()

	out := model.Rollup{
		Name:       q.Name,
		Dimensions: q.Name.Dimensions(),
		Rows:       []model.RollupRow{},
	}
	for rows.Next() {
		var row model.RollupRow
		var day time.Time
		if err := rows.Scan(&row.LinkID, &day, pq.Array(&row.Values), &row.Clicks, &row.Sessions); err != nil {
			return model.Rollup{}, fmt.Errorf("scan rollup row: %w", err)
		}
		row.Day = model.DayOf(day)
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return model.Rollup{}, fmt.Errorf("iterate rollup rows: %w", err)
	}

	return out, nil
}

func buildRollupQuery(q model.RollupQuery) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT link_id, day, dims, clicks, sessions FROM rollup_rows WHERE rollup = $1`)
	args := []any{string(q.Name)}
	argIndex := 2

	if q.LinkID != "" {
		fmt.Fprintf(&b, " AND link_id = $%d", argIndex)
		args = append(args, q.LinkID)
		argIndex++
	}
	if !q.From.IsZero() {
		fmt.Fprintf(&b, " AND day >= $%d", argIndex)
		args = append(args, model.DayOf(q.From))
		argIndex++
	}
	if !q.To.IsZero() {
		fmt.Fprintf(&b, " AND day <= $%d", argIndex)
		args = append(args, model.DayOf(q.To))
	}
	b.WriteString(" ORDER BY position")

	return b.String(), args
}
