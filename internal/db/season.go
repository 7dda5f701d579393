package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"encore/internal/game"
	"encore/internal/season"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Seasons implements season.Store over Postgres.
type Seasons struct {
	db *pgxpool.Pool
}

func NewSeasons(pool *pgxpool.Pool) *Seasons {
	return &Seasons{db: pool}
}

func (s *Seasons) InTx(ctx context.Context, fn func(season.Tx) error) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(seasonTx{tx: tx})
	})
}

type seasonTx struct {
	tx pgx.Tx
}

const instanceColumns = `id, event_type_id, sequence, start_time, end_time, status, song_id, card_set_id`

func scanInstance(row pgx.Row) (*game.EventInstance, error) {
	var (
		inst   game.EventInstance
		status string
	)
	err := row.Scan(&inst.ID, &inst.EventTypeID, &inst.Sequence, &inst.StartTime, &inst.EndTime, &status, &inst.SongID, &inst.CardSetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if inst.Status, err = game.ParseEventStatus(status); err != nil {
		return nil, fmt.Errorf("instance %d: %w", inst.ID, err)
	}
	inst.StartTime = inst.StartTime.UTC()
	inst.EndTime = inst.EndTime.UTC()
	return &inst, nil
}

func (t seasonTx) ActiveInstance(ctx context.Context) (*game.EventInstance, error) {
	return scanInstance(t.tx.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM game.event_instances
		WHERE status = 'active'
		ORDER BY start_time DESC
		LIMIT 1
		FOR UPDATE
	`))
}

func (t seasonTx) ScheduledInstance(ctx context.Context, start time.Time) (*game.EventInstance, error) {
	return scanInstance(t.tx.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM game.event_instances
		WHERE status = 'scheduled' AND start_time::date = $1::date
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, start.UTC()))
}

func (t seasonTx) SetInstanceStatus(ctx context.Context, id int64, from, to game.EventStatus) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE game.event_instances
		SET status = $3
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: instance %d is no longer %s", game.ErrInvalidTransition, id, from)
	}
	return nil
}

func (t seasonTx) InsertInstance(ctx context.Context, inst game.EventInstance) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO game.event_instances (event_type_id, sequence, start_time, end_time, status, song_id, card_set_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, inst.EventTypeID, inst.Sequence, inst.StartTime, inst.EndTime, string(inst.Status), inst.SongID, inst.CardSetID).Scan(&id)
	return id, err
}

func (t seasonTx) NextSequence(ctx context.Context, eventTypeID int64) (int64, error) {
	var next int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1
		FROM game.event_instances
		WHERE event_type_id = $1
	`, eventTypeID).Scan(&next)
	return next, err
}

func scanEventType(row pgx.Row) (game.EventType, error) {
	var (
		et       game.EventType
		category string
	)
	if err := row.Scan(&et.ID, &et.Name, &category, &et.Weight, &et.WantsSong, &et.WantsCardSet); err != nil {
		return et, err
	}
	c, err := game.ParseCategory(category)
	if err != nil {
		return et, fmt.Errorf("event type %d: %w", et.ID, err)
	}
	et.Category = c
	return et, nil
}

func (t seasonTx) EventType(ctx context.Context, id int64) (game.EventType, error) {
	return scanEventType(t.tx.QueryRow(ctx, `
		SELECT id, name, category, weight, wants_song, wants_card_set
		FROM game.event_types
		WHERE id = $1
	`, id))
}

func (t seasonTx) EventTypes(ctx context.Context) ([]game.EventType, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, category, weight, wants_song, wants_card_set
		FROM game.event_types
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.EventType
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

func (t seasonTx) RewardTiers(ctx context.Context, eventTypeID int64) ([]game.RewardTier, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT event_type_id, rank_min, rank_max, credits, pack_id, badge_id, popularity_boost
		FROM game.reward_tiers
		WHERE event_type_id = $1
		ORDER BY rank_min, rank_max, id
	`, eventTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.RewardTier
	for rows.Next() {
		var rt game.RewardTier
		if err := rows.Scan(&rt.EventTypeID, &rt.RankMin, &rt.RankMax, &rt.Credits, &rt.PackID, &rt.BadgeID, &rt.PopularityBoost); err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (t seasonTx) Songs(ctx context.Context) ([]game.Song, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, title, card_set_id FROM game.songs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Song
	for rows.Next() {
		var s game.Song
		if err := rows.Scan(&s.ID, &s.Title, &s.CardSetID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t seasonTx) CardSets(ctx context.Context) ([]game.CardSet, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name FROM game.card_sets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.CardSet
	for rows.Next() {
		var cs game.CardSet
		if err := rows.Scan(&cs.ID, &cs.Name); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Participations are read ordered by id; ranking ties keep this order.
func (t seasonTx) Participations(ctx context.Context, instanceID int64) ([]game.Participation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT p.id, p.instance_id, p.performance_id, p.owner_id, p.group_id, COALESCE(g.name, ''),
		       p.status, p.raw_score, p.baseline_score, p.payout, COALESCE(p.rank, 0), p.final_popularity
		FROM game.participations p
		LEFT JOIN game.groups g ON g.id = p.group_id
		WHERE p.instance_id = $1
		ORDER BY p.id
		FOR UPDATE OF p
	`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.Participation
	for rows.Next() {
		var (
			p      game.Participation
			status string
		)
		if err := rows.Scan(&p.ID, &p.InstanceID, &p.ParticipantID, &p.OwnerID, &p.GroupID, &p.GroupName,
			&status, &p.RawScore, &p.BaselineScore, &p.Payout, &p.Rank, &p.FinalPopularity); err != nil {
			return nil, err
		}
		if p.Status, err = game.ParseParticipationStatus(status); err != nil {
			return nil, fmt.Errorf("participation %d: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t seasonTx) CloseParticipation(ctx context.Context, p game.Participation) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE game.participations
		SET status = $2, payout = $3
		WHERE id = $1
	`, p.ID, string(p.Status), p.Payout)
	return err
}

func (t seasonTx) RecordPlacement(ctx context.Context, p game.Participation) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE game.participations
		SET rank = $2, final_popularity = $3
		WHERE id = $1
	`, p.ID, p.Rank, p.FinalPopularity)
	return err
}

func (t seasonTx) AddCredits(ctx context.Context, userID, amount int64) (bool, error) {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE game.users
		SET credits = credits + $2
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t seasonTx) GrantPack(ctx context.Context, userID, packID int64, code string) (bool, error) {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO game.user_packs (code, user_id, pack_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (code) DO NOTHING
	`, code, userID, packID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t seasonTx) GrantBadge(ctx context.Context, userID, badgeID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO game.user_badges (user_id, badge_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, userID, badgeID)
	return err
}

func (t seasonTx) AddGroupPopularity(ctx context.Context, groupID, delta int64) (int64, bool, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `
		UPDATE game.groups
		SET popularity = popularity + $2
		WHERE id = $1
		RETURNING popularity
	`, groupID, delta).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

func (t seasonTx) AddPermanentPopularity(ctx context.Context, groupID, amount int64) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE game.groups
		SET permanent_popularity = permanent_popularity + $2
		WHERE id = $1
	`, groupID, amount)
	return err
}

func (t seasonTx) SetLimitedPack(ctx context.Context, cardSetID *int64, price int64, available bool) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE game.limited_pack
		SET card_set_id = $1, price = $2, available = $3
	`, cardSetID, price, available)
	return err
}
