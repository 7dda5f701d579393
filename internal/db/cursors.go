package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"encore/internal/schedule"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Cursors persists scheduler cursors in game.job_cursors.
type Cursors struct {
	db *pgxpool.Pool
}

func NewCursors(pool *pgxpool.Pool) *Cursors {
	return &Cursors{db: pool}
}

func (c *Cursors) SeedCursors(ctx context.Context, cursors []schedule.Cursor) error {
	batch := &pgx.Batch{}
	for _, cur := range cursors {
		if err := cur.Validate(); err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO game.job_cursors (name, last_applied, frequency, weekday, day_of_month)
			VALUES ($1, to_timestamp(0), $2, $3, $4)
			ON CONFLICT (name) DO UPDATE
			SET frequency = EXCLUDED.frequency,
			    weekday = EXCLUDED.weekday,
			    day_of_month = EXCLUDED.day_of_month
		`, cur.Name, string(cur.Frequency), weekdayArg(cur.Weekday), dayArg(cur.DayOfMonth))
	}
	br := c.db.SendBatch(ctx, batch)
	defer br.Close()
	for _, cur := range cursors {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("seed cursor %s: %w", cur.Name, err)
		}
	}
	return br.Close()
}

func (c *Cursors) Cursor(ctx context.Context, name string) (schedule.Cursor, error) {
	row := c.db.QueryRow(ctx, `
		SELECT name, last_applied, frequency, weekday, day_of_month
		FROM game.job_cursors
		WHERE name = $1
	`, name)
	cur, err := scanCursor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cur, fmt.Errorf("%w: %s", schedule.ErrUnknownJob, name)
	}
	return cur, err
}

func (c *Cursors) ListCursors(ctx context.Context) ([]schedule.Cursor, error) {
	rows, err := c.db.Query(ctx, `
		SELECT name, last_applied, frequency, weekday, day_of_month
		FROM game.job_cursors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Cursor
	for rows.Next() {
		cur, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cur)
	}
	return out, rows.Err()
}

// AdvanceCursor never moves last_applied backwards.
func (c *Cursors) AdvanceCursor(ctx context.Context, name string, at time.Time) error {
	cmd, err := c.db.Exec(ctx, `
		UPDATE game.job_cursors
		SET last_applied = GREATEST(last_applied, $2)
		WHERE name = $1
	`, name, at.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", schedule.ErrUnknownJob, name)
	}
	return nil
}

func scanCursor(row pgx.Row) (schedule.Cursor, error) {
	var (
		cur       schedule.Cursor
		frequency string
		weekday   *int16
		day       *int16
	)
	if err := row.Scan(&cur.Name, &cur.LastApplied, &frequency, &weekday, &day); err != nil {
		return cur, err
	}
	f, err := schedule.ParseFrequency(frequency)
	if err != nil {
		return cur, fmt.Errorf("cursor %s: %w", cur.Name, err)
	}
	cur.Frequency = f
	cur.LastApplied = cur.LastApplied.UTC()
	if weekday != nil {
		wd := time.Weekday(*weekday)
		cur.Weekday = &wd
	}
	if day != nil {
		cur.DayOfMonth = int(*day)
	}
	return cur, nil
}

func weekdayArg(wd *time.Weekday) any {
	if wd == nil {
		return nil
	}
	return int16(*wd)
}

func dayArg(day int) any {
	if day == 0 {
		return nil
	}
	return int16(day)
}
